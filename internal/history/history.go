// Package history serves the predicate lookups over stored evaluation
// records, with a short-TTL read-through cache in front of the store.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// seenTTL bounds staleness of cached seen-flags and averages. Only
// positive results are cached: a "not seen" answer can flip the moment
// a record lands.
const seenTTL = 10 * time.Minute

// Service implements domain.History. cache may be nil; every miss or
// cache error falls through to the store.
type Service struct {
	store domain.RecordStore
	cache domain.Cache
}

// NewService creates a history service.
func NewService(store domain.RecordStore, cache domain.Cache) *Service {
	return &Service{store: store, cache: cache}
}

// RecentTransactions returns the principal's records since the given time.
func (s *Service) RecentTransactions(ctx context.Context, principalID string, since time.Time) ([]*domain.EvaluationRecord, error) {
	return s.store.RecentRecords(ctx, principalID, since)
}

type cachedAverage struct {
	Avg   float64 `json:"avg"`
	Count int64   `json:"count"`
}

// AverageAmount returns the principal's mean historical amount and count.
func (s *Service) AverageAmount(ctx context.Context, principalID string) (float64, int64, error) {
	const key = "history:avg-amount"

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, principalID, key); err == nil && data != nil {
			var c cachedAverage
			if json.Unmarshal(data, &c) == nil {
				return c.Avg, c.Count, nil
			}
		}
	}

	avg, count, err := s.store.AverageAmount(ctx, principalID)
	if err != nil {
		return 0, 0, err
	}

	if s.cache != nil && count > 0 {
		if data, err := json.Marshal(cachedAverage{Avg: avg, Count: count}); err == nil {
			// Averages move slowly; a short window is enough.
			_ = s.cache.Set(ctx, principalID, key, data, 30*time.Second)
		}
	}

	return avg, count, nil
}

// LocationSeen reports whether the principal has transacted at the location.
func (s *Service) LocationSeen(ctx context.Context, principalID string, location string) (bool, error) {
	return s.seen(ctx, principalID, "history:loc:"+location, func() (bool, error) {
		return s.store.LocationSeen(ctx, principalID, location)
	})
}

// CategorySeen reports whether the principal has transacted in the category.
func (s *Service) CategorySeen(ctx context.Context, principalID string, category string) (bool, error) {
	return s.seen(ctx, principalID, "history:cat:"+category, func() (bool, error) {
		return s.store.CategorySeen(ctx, principalID, category)
	})
}

// DeviceSeen reports whether the principal has transacted from the device.
func (s *Service) DeviceSeen(ctx context.Context, principalID string, deviceID string) (bool, error) {
	return s.seen(ctx, principalID, "history:dev:"+deviceID, func() (bool, error) {
		return s.store.DeviceSeen(ctx, principalID, deviceID)
	})
}

func (s *Service) seen(ctx context.Context, principalID, key string, lookup func() (bool, error)) (bool, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, principalID, key); err == nil && data != nil {
			return true, nil
		}
	}

	seen, err := lookup()
	if err != nil {
		return false, err
	}

	if seen && s.cache != nil {
		_ = s.cache.Set(ctx, principalID, key, []byte("1"), seenTTL)
	}

	return seen, nil
}
