package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frequency is how often a rule is checked
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Rule is a currency-pair watch rule
type Rule struct {
	ID               string    `json:"id"`
	CurrencyFrom     string    `json:"currency_from"`
	CurrencyTo       string    `json:"currency_to"`
	Frequency        Frequency `json:"frequency"`
	TimeOfDay        string    `json:"time_of_day"`           // "HH:MM", 24h
	DayOfWeek        *int      `json:"day_of_week,omitempty"` // 0 = Sunday, weekly rules only
	ThresholdPercent *float64  `json:"threshold_percent,omitempty"`
	NotifyIfBetter   bool      `json:"notify_if_better"`
	NotifyIfWorse    bool      `json:"notify_if_worse"`
	Enabled          bool      `json:"enabled"`
	LastExchangeRate *float64  `json:"last_exchange_rate,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UnmarshalJSON applies the defaults for flags missing from the document:
// notify_if_better, notify_if_worse and enabled are true unless set to false.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	decoded := plain{
		NotifyIfBetter: true,
		NotifyIfWorse:  true,
		Enabled:        true,
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*r = Rule(decoded)
	return nil
}

// Pair returns the display label of the rule's currency pair
func (r *Rule) Pair() string {
	return PairLabel(r.CurrencyFrom, r.CurrencyTo)
}

// PairLabel formats a currency pair for display
func PairLabel(from, to string) string {
	return fmt.Sprintf("%s → %s", from, to)
}

// Clone returns a deep copy of the rule
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	copied := *r
	if r.DayOfWeek != nil {
		day := *r.DayOfWeek
		copied.DayOfWeek = &day
	}
	if r.ThresholdPercent != nil {
		threshold := *r.ThresholdPercent
		copied.ThresholdPercent = &threshold
	}
	if r.LastExchangeRate != nil {
		last := *r.LastExchangeRate
		copied.LastExchangeRate = &last
	}
	return &copied
}

// Validate performs the structural checks every stored rule must pass
func (r *Rule) Validate() error {
	if r.ID == "" {
		return ErrInvalidRuleID
	}
	if r.CurrencyFrom == "" || r.CurrencyTo == "" {
		return ErrInvalidCurrency
	}
	switch r.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if r.DayOfWeek == nil {
			return ErrMissingDayOfWeek
		}
	default:
		return ErrInvalidFrequency
	}
	return nil
}

// CloneRules deep-copies a rule collection
func CloneRules(rules []*Rule) []*Rule {
	out := make([]*Rule, 0, len(rules))
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		out = append(out, rule.Clone())
	}
	return out
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 {
	return &v
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
