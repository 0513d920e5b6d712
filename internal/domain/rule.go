package domain

import (
	"time"
)

// RuleType selects which evaluation predicate a rule applies.
type RuleType string

// The closed set of rule types. Unknown types are rejected at rule-write
// time, never silently ignored at evaluation time.
const (
	RuleVelocity RuleType = "velocity"
	RuleGeo      RuleType = "geo"
	RuleAmount   RuleType = "amount"
	RuleTime     RuleType = "time"
	RuleCategory RuleType = "category"
	RuleDevice   RuleType = "device"
	RuleCustom   RuleType = "custom"
)

// ValidRuleType reports whether t is a member of the closed type set.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleVelocity, RuleGeo, RuleAmount, RuleTime, RuleCategory, RuleDevice, RuleCustom:
		return true
	}
	return false
}

// Rule is a named, weighted, typed predicate scoped to one principal.
// When triggered it contributes Score points to the transaction total.
type Rule struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principalId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	Score       int        `json:"score"`
	Type        RuleType   `json:"type"`
	Config      RuleConfig `json:"config"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// RuleConfig is the per-type parameter payload, modeled as a tagged
// union keyed by Rule.Type: exactly the variant matching the type must
// be set. Validated at rule-write time so a typo in a parameter never
// silently misconfigures evaluation.
type RuleConfig struct {
	Velocity *VelocityConfig `json:"velocity,omitempty"`
	Geo      *GeoConfig      `json:"geo,omitempty"`
	Amount   *AmountConfig   `json:"amount,omitempty"`
	Time     *TimeConfig     `json:"time,omitempty"`
	Category *CategoryConfig `json:"category,omitempty"`
	Device   *DeviceConfig   `json:"device,omitempty"`
	Custom   *CustomConfig   `json:"custom,omitempty"`
}

// VelocityConfig triggers when the principal's transaction count within
// the trailing window meets or exceeds TransactionCount.
type VelocityConfig struct {
	TimeWindowMinutes int `json:"timeWindowMinutes"`
	TransactionCount  int `json:"transactionCount"`
}

// GeoConfig triggers on a first-occurrence location anomaly. No parameters.
type GeoConfig struct{}

// AmountConfig triggers when the amount exceeds ThresholdMultiplier times
// the principal's historical average, once MinHistory prior transactions exist.
type AmountConfig struct {
	ThresholdMultiplier float64 `json:"thresholdMultiplier"`
	MinHistory          int     `json:"minHistory"`
}

// TimeConfig triggers when the transaction's hour-of-day is high risk.
type TimeConfig struct {
	HighRiskHours []int  `json:"highRiskHours"`
	Timezone      string `json:"timezone,omitempty"` // IANA name, default UTC
}

// CategoryConfig triggers on the principal's first transaction in a
// high-risk category.
type CategoryConfig struct {
	HighRiskCategories []string `json:"highRiskCategories"`
}

// DeviceConfig triggers on a first-seen device outside the trusted list.
type DeviceConfig struct {
	TrustedDevices []string `json:"trustedDevices,omitempty"`
}

// CustomConfig holds a CEL expression evaluated against the transaction.
// The expression must compile and return bool; the engine validates it
// at rule-write time.
type CustomConfig struct {
	Expression string `json:"expression"`
}

// Validate checks that the config carries exactly the variant for t and
// that the variant's parameters are well formed.
func (c RuleConfig) Validate(t RuleType) error {
	if !ValidRuleType(t) {
		return NewValidationError("type", "unknown rule type %q", t)
	}

	set := 0
	for _, present := range []bool{
		c.Velocity != nil, c.Geo != nil, c.Amount != nil, c.Time != nil,
		c.Category != nil, c.Device != nil, c.Custom != nil,
	} {
		if present {
			set++
		}
	}
	if set > 1 {
		return NewValidationError("config", "exactly one config variant may be set")
	}

	switch t {
	case RuleVelocity:
		if c.Velocity == nil {
			return NewValidationError("config.velocity", "required for type velocity")
		}
		if c.Velocity.TimeWindowMinutes <= 0 {
			return NewValidationError("config.velocity.timeWindowMinutes", "must be positive")
		}
		if c.Velocity.TransactionCount <= 0 {
			return NewValidationError("config.velocity.transactionCount", "must be positive")
		}
	case RuleGeo:
		if c.Geo == nil {
			return NewValidationError("config.geo", "required for type geo")
		}
	case RuleAmount:
		if c.Amount == nil {
			return NewValidationError("config.amount", "required for type amount")
		}
		if c.Amount.ThresholdMultiplier <= 0 {
			return NewValidationError("config.amount.thresholdMultiplier", "must be positive")
		}
		if c.Amount.MinHistory < 1 {
			return NewValidationError("config.amount.minHistory", "must be at least 1")
		}
	case RuleTime:
		if c.Time == nil {
			return NewValidationError("config.time", "required for type time")
		}
		if len(c.Time.HighRiskHours) == 0 {
			return NewValidationError("config.time.highRiskHours", "must not be empty")
		}
		for _, h := range c.Time.HighRiskHours {
			if h < 0 || h > 23 {
				return NewValidationError("config.time.highRiskHours", "hour %d out of range [0,23]", h)
			}
		}
		if c.Time.Timezone != "" {
			if _, err := time.LoadLocation(c.Time.Timezone); err != nil {
				return NewValidationError("config.time.timezone", "unknown timezone %q", c.Time.Timezone)
			}
		}
	case RuleCategory:
		if c.Category == nil {
			return NewValidationError("config.category", "required for type category")
		}
		if len(c.Category.HighRiskCategories) == 0 {
			return NewValidationError("config.category.highRiskCategories", "must not be empty")
		}
	case RuleDevice:
		if c.Device == nil {
			return NewValidationError("config.device", "required for type device")
		}
	case RuleCustom:
		if c.Custom == nil {
			return NewValidationError("config.custom", "required for type custom")
		}
		if c.Custom.Expression == "" {
			return NewValidationError("config.custom.expression", "must not be empty")
		}
	}

	return nil
}

// ClampScore clamps a rule weight or aggregate score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Validate checks a complete rule for write-time correctness.
// Score is validated here and clamped by the store on write.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return NewValidationError("name", "is required")
	}
	return r.Config.Validate(r.Type)
}

// RulePatch carries a partial rule update. Nil fields keep prior values.
type RulePatch struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Enabled     *bool       `json:"enabled,omitempty"`
	Score       *int        `json:"score,omitempty"`
	Type        *RuleType   `json:"type,omitempty"`
	Config      *RuleConfig `json:"config,omitempty"`
}

// Apply merges the patch into r and re-validates the result.
func (p *RulePatch) Apply(r *Rule) error {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.Score != nil {
		r.Score = *p.Score
	}
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.Config != nil {
		r.Config = *p.Config
	}
	return r.Validate()
}
