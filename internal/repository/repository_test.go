package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func velocityRule(principalID, name string, score int) *domain.Rule {
	return &domain.Rule{
		PrincipalID: principalID,
		Name:        name,
		Enabled:     true,
		Score:       score,
		Type:        domain.RuleVelocity,
		Config: domain.RuleConfig{
			Velocity: &domain.VelocityConfig{TimeWindowMinutes: 60, TransactionCount: 5},
		},
	}
}

func record(principalID, txID string, amount float64, score int, fraudulent bool) *domain.EvaluationRecord {
	status := domain.StatusLegitimate
	if fraudulent {
		status = domain.StatusFraudulent
	}
	return &domain.EvaluationRecord{
		TransactionID:  txID,
		PrincipalID:    principalID,
		Amount:         amount,
		Type:           "purchase",
		Location:       "US",
		DeviceID:       "device-001",
		FraudScore:     score,
		IsFraudulent:   fraudulent,
		RulesTriggered: []string{},
		Status:         status,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestRuleCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	principalID := "principal-001"

	t.Run("Create", func(t *testing.T) {
		rule := velocityRule(principalID, "rapid-fire", 40)
		if err := repo.CreateRule(ctx, rule); err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}
		if rule.ID == "" {
			t.Error("expected generated rule id")
		}
	})

	t.Run("Get", func(t *testing.T) {
		rule := velocityRule(principalID, "get-me", 35)
		if err := repo.CreateRule(ctx, rule); err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}

		got, err := repo.GetRule(ctx, principalID, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Name != "get-me" || got.Score != 35 {
			t.Errorf("unexpected rule: %+v", got)
		}
		if got.Config.Velocity == nil || got.Config.Velocity.TransactionCount != 5 {
			t.Errorf("config round-trip failed: %+v", got.Config)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.GetRule(ctx, principalID, "no-such-rule")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PrincipalIsolation", func(t *testing.T) {
		rule := velocityRule(principalID, "mine", 20)
		if err := repo.CreateRule(ctx, rule); err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}

		_, err := repo.GetRule(ctx, "principal-other", rule.ID)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("foreign principal lookup must behave like a miss, got %v", err)
		}

		err = repo.DeleteRule(ctx, "principal-other", rule.ID)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("foreign principal delete must behave like a miss, got %v", err)
		}
	})

	t.Run("ScoreClampedAtWrite", func(t *testing.T) {
		rule := velocityRule(principalID, "oversized", 100)
		rule.Score = 150
		err := repo.CreateRule(ctx, rule)
		if err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}

		got, err := repo.GetRule(ctx, principalID, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Score != 100 {
			t.Errorf("expected score clamped to 100, got %d", got.Score)
		}
	})

	t.Run("UnknownTypeRejected", func(t *testing.T) {
		rule := &domain.Rule{
			PrincipalID: principalID,
			Name:        "weird",
			Type:        domain.RuleType("astrology"),
			Score:       10,
		}
		if err := repo.CreateRule(ctx, rule); err == nil {
			t.Error("expected error for unknown rule type")
		}
	})

	t.Run("ConfigMismatchRejected", func(t *testing.T) {
		rule := &domain.Rule{
			PrincipalID: principalID,
			Name:        "mismatch",
			Type:        domain.RuleVelocity,
			Score:       10,
			Config:      domain.RuleConfig{Geo: &domain.GeoConfig{}},
		}
		if err := repo.CreateRule(ctx, rule); err == nil {
			t.Error("expected error for config variant mismatch")
		}
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		rule := velocityRule(principalID, "before", 30)
		if err := repo.CreateRule(ctx, rule); err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}

		newScore := 55
		updated, err := repo.UpdateRule(ctx, principalID, rule.ID, &domain.RulePatch{Score: &newScore})
		if err != nil {
			t.Fatalf("UpdateRule failed: %v", err)
		}
		if updated.Score != 55 {
			t.Errorf("expected updated score 55, got %d", updated.Score)
		}
		if updated.Name != "before" {
			t.Errorf("absent patch field must keep prior value, got %q", updated.Name)
		}
		if updated.Config.Velocity == nil {
			t.Error("absent config must keep prior variant")
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		name := "whatever"
		_, err := repo.UpdateRule(ctx, principalID, "no-such-rule", &domain.RulePatch{Name: &name})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rule := velocityRule(principalID, "doomed", 10)
		if err := repo.CreateRule(ctx, rule); err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}
		if err := repo.DeleteRule(ctx, principalID, rule.ID); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if _, err := repo.GetRule(ctx, principalID, rule.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("ListOrder", func(t *testing.T) {
		listPrincipal := "principal-list"
		for i := 0; i < 3; i++ {
			rule := velocityRule(listPrincipal, fmt.Sprintf("rule-%d", i), 10)
			if err := repo.CreateRule(ctx, rule); err != nil {
				t.Fatalf("CreateRule failed: %v", err)
			}
		}

		rules, err := repo.ListRules(ctx, listPrincipal)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 3 {
			t.Fatalf("expected 3 rules, got %d", len(rules))
		}
	})
}

func TestRecordStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	principalID := "principal-001"

	t.Run("SaveAndGet", func(t *testing.T) {
		rec := record(principalID, "tx-001", 250, 30, false)
		rec.RulesTriggered = []string{"geo-anomaly"}
		rec.RawData = map[string]any{"merchant": "acme"}

		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}

		got, err := repo.GetRecord(ctx, principalID, "tx-001")
		if err != nil {
			t.Fatalf("GetRecord failed: %v", err)
		}
		if got.FraudScore != 30 || got.Status != domain.StatusLegitimate {
			t.Errorf("unexpected record: %+v", got)
		}
		if len(got.RulesTriggered) != 1 || got.RulesTriggered[0] != "geo-anomaly" {
			t.Errorf("rules_triggered round-trip failed: %v", got.RulesTriggered)
		}
		if got.RawData["merchant"] != "acme" {
			t.Errorf("raw_data round-trip failed: %v", got.RawData)
		}
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		first := record(principalID, "tx-dup", 20, 20, false)
		if err := repo.SaveRecord(ctx, first); err != nil {
			t.Fatalf("first SaveRecord failed: %v", err)
		}

		second := record(principalID, "tx-dup", 999, 99, true)
		err := repo.SaveRecord(ctx, second)
		if !errors.Is(err, domain.ErrDuplicateTransaction) {
			t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
		}

		// First record must be untouched.
		got, err := repo.GetRecord(ctx, principalID, "tx-dup")
		if err != nil {
			t.Fatalf("GetRecord failed: %v", err)
		}
		if got.FraudScore != 20 {
			t.Errorf("first record must stay, got score %d", got.FraudScore)
		}
	})

	t.Run("SamePrincipalOtherIdOk", func(t *testing.T) {
		// The same transaction id under a different principal is no conflict.
		rec := record("principal-other", "tx-dup", 10, 10, false)
		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Errorf("cross-principal save failed: %v", err)
		}
	})

	t.Run("BulkSaveBestEffort", func(t *testing.T) {
		bulkPrincipal := "principal-bulk"
		if err := repo.SaveRecord(ctx, record(bulkPrincipal, "tx-existing", 10, 10, false)); err != nil {
			t.Fatalf("seed SaveRecord failed: %v", err)
		}

		recs := []*domain.EvaluationRecord{
			record(bulkPrincipal, "tx-b1", 100, 15, false),
			record(bulkPrincipal, "tx-existing", 100, 15, false), // duplicate
			record(bulkPrincipal, "tx-b2", 100, 15, false),
		}

		failures := repo.SaveRecords(ctx, recs)
		if len(failures) != 1 {
			t.Fatalf("expected 1 failure, got %d: %v", len(failures), failures)
		}
		if failures[0].TransactionID != "tx-existing" {
			t.Errorf("expected failure for tx-existing, got %s", failures[0].TransactionID)
		}

		// Items after the failed one must still be saved.
		if _, err := repo.GetRecord(ctx, bulkPrincipal, "tx-b2"); err != nil {
			t.Errorf("record after failed item not saved: %v", err)
		}
	})
}

func TestQueryRecords(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	principalID := "principal-query"

	seed := []*domain.EvaluationRecord{
		record(principalID, "tx-aaa", 100, 90, true),
		record(principalID, "tx-bbb", 200, 30, false),
		record(principalID, "tx-ccc", 300, 85, true),
		record(principalID, "tx-ddd", 400, 10, false),
	}
	seed[1].Location = "FR"
	for _, rec := range seed {
		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	t.Run("All", func(t *testing.T) {
		page, err := repo.QueryRecords(ctx, principalID, domain.RecordQuery{})
		if err != nil {
			t.Fatalf("QueryRecords failed: %v", err)
		}
		if page.Total != 4 {
			t.Errorf("expected total 4, got %d", page.Total)
		}
		if page.Page != 1 || page.Limit != 10 {
			t.Errorf("expected default pagination, got page=%d limit=%d", page.Page, page.Limit)
		}
	})

	t.Run("StatusFilter", func(t *testing.T) {
		page, err := repo.QueryRecords(ctx, principalID, domain.RecordQuery{Status: "fraudulent"})
		if err != nil {
			t.Fatalf("QueryRecords failed: %v", err)
		}
		if page.Total != 2 {
			t.Errorf("expected 2 fraudulent, got %d", page.Total)
		}
		for _, rec := range page.Records {
			if !rec.IsFraudulent {
				t.Errorf("record %s is not fraudulent", rec.TransactionID)
			}
		}
	})

	t.Run("Search", func(t *testing.T) {
		page, err := repo.QueryRecords(ctx, principalID, domain.RecordQuery{Search: "BBB"})
		if err != nil {
			t.Fatalf("QueryRecords failed: %v", err)
		}
		if page.Total != 1 || page.Records[0].TransactionID != "tx-bbb" {
			t.Errorf("case-insensitive search failed: total=%d", page.Total)
		}
	})

	t.Run("SearchByLocation", func(t *testing.T) {
		page, err := repo.QueryRecords(ctx, principalID, domain.RecordQuery{Search: "fr"})
		if err != nil {
			t.Fatalf("QueryRecords failed: %v", err)
		}
		if page.Total != 1 {
			t.Errorf("expected 1 match for location search, got %d", page.Total)
		}
	})

	t.Run("Pagination", func(t *testing.T) {
		page, err := repo.QueryRecords(ctx, principalID, domain.RecordQuery{Page: 2, Limit: 3})
		if err != nil {
			t.Fatalf("QueryRecords failed: %v", err)
		}
		if len(page.Records) != 1 {
			t.Errorf("expected 1 record on page 2 of 3-per-page, got %d", len(page.Records))
		}
		if page.Pages != 2 {
			t.Errorf("expected 2 pages, got %d", page.Pages)
		}
	})

	t.Run("EmptyPrincipal", func(t *testing.T) {
		page, err := repo.QueryRecords(ctx, "principal-empty", domain.RecordQuery{})
		if err != nil {
			t.Fatalf("QueryRecords failed: %v", err)
		}
		if page.Total != 0 || len(page.Records) != 0 {
			t.Errorf("expected empty page, got %+v", page)
		}
	})
}

func TestHistoryQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	principalID := "principal-history"

	for i := 0; i < 4; i++ {
		rec := record(principalID, fmt.Sprintf("tx-%d", i), 100, 10, false)
		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	t.Run("RecentRecords", func(t *testing.T) {
		recent, err := repo.RecentRecords(ctx, principalID, time.Now().UTC().Add(-time.Hour))
		if err != nil {
			t.Fatalf("RecentRecords failed: %v", err)
		}
		if len(recent) != 4 {
			t.Errorf("expected 4 recent records, got %d", len(recent))
		}

		old, err := repo.RecentRecords(ctx, principalID, time.Now().UTC().Add(time.Hour))
		if err != nil {
			t.Fatalf("RecentRecords failed: %v", err)
		}
		if len(old) != 0 {
			t.Errorf("expected no records in the future window, got %d", len(old))
		}
	})

	t.Run("AverageAmount", func(t *testing.T) {
		avg, count, err := repo.AverageAmount(ctx, principalID)
		if err != nil {
			t.Fatalf("AverageAmount failed: %v", err)
		}
		if count != 4 || avg != 100 {
			t.Errorf("expected avg 100 over 4 records, got avg=%v count=%d", avg, count)
		}
	})

	t.Run("AverageAmountEmpty", func(t *testing.T) {
		avg, count, err := repo.AverageAmount(ctx, "principal-empty")
		if err != nil {
			t.Fatalf("AverageAmount failed: %v", err)
		}
		if avg != 0 || count != 0 {
			t.Errorf("expected zero average for empty history, got avg=%v count=%d", avg, count)
		}
	})

	t.Run("SeenLookups", func(t *testing.T) {
		seen, err := repo.LocationSeen(ctx, principalID, "US")
		if err != nil || !seen {
			t.Errorf("expected US seen, got seen=%v err=%v", seen, err)
		}
		seen, err = repo.LocationSeen(ctx, principalID, "JP")
		if err != nil || seen {
			t.Errorf("expected JP unseen, got seen=%v err=%v", seen, err)
		}
		seen, err = repo.CategorySeen(ctx, principalID, "purchase")
		if err != nil || !seen {
			t.Errorf("expected purchase seen, got seen=%v err=%v", seen, err)
		}
		seen, err = repo.DeviceSeen(ctx, principalID, "device-001")
		if err != nil || !seen {
			t.Errorf("expected device-001 seen, got seen=%v err=%v", seen, err)
		}
		seen, err = repo.DeviceSeen(ctx, "principal-other", "device-001")
		if err != nil || seen {
			t.Errorf("seen lookups must be principal-scoped, got seen=%v err=%v", seen, err)
		}
	})
}

func TestStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		stats, err := repo.Stats(ctx, "principal-empty")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.TotalTransactions != 0 || stats.FraudRate != 0 || stats.AvgRiskScore != 0 {
			t.Errorf("expected zero stats, got %+v", stats)
		}
		if stats.DailyTrend == nil || len(stats.DailyTrend) != 0 {
			t.Errorf("expected empty (non-nil) trend, got %v", stats.DailyTrend)
		}
	})

	t.Run("Populated", func(t *testing.T) {
		principalID := "principal-stats"
		seed := []*domain.EvaluationRecord{
			record(principalID, "tx-1", 100, 90, true),
			record(principalID, "tx-2", 200, 30, false),
			record(principalID, "tx-3", 300, 60, false),
		}
		for _, rec := range seed {
			if err := repo.SaveRecord(ctx, rec); err != nil {
				t.Fatalf("seed failed: %v", err)
			}
		}

		stats, err := repo.Stats(ctx, principalID)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}

		if stats.TotalTransactions != 3 {
			t.Errorf("expected 3 total, got %d", stats.TotalTransactions)
		}
		if stats.FraudulentTransactions != 1 || stats.LegitimateTransactions != 2 {
			t.Errorf("expected 1 fraudulent / 2 legitimate, got %d/%d",
				stats.FraudulentTransactions, stats.LegitimateTransactions)
		}
		if stats.FraudRate != 33.33 {
			t.Errorf("expected fraud rate 33.33, got %v", stats.FraudRate)
		}
		if stats.TotalAmount != 600 {
			t.Errorf("expected total amount 600, got %v", stats.TotalAmount)
		}
		if stats.AvgRiskScore != 60 {
			t.Errorf("expected avg risk score 60, got %v", stats.AvgRiskScore)
		}

		// All records were written today, so the trend has exactly one
		// point carrying everything. Zero days are omitted.
		if len(stats.DailyTrend) != 1 {
			t.Fatalf("expected 1 trend point, got %d", len(stats.DailyTrend))
		}
		point := stats.DailyTrend[0]
		if point.Count != 3 || point.FraudCount != 1 {
			t.Errorf("unexpected trend point: %+v", point)
		}
		if point.Date != time.Now().UTC().Format("2006-01-02") {
			t.Errorf("expected today's date, got %s", point.Date)
		}
	})
}
