package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

// ValidateRule validates a rule with enhanced checks
func ValidateRule(rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}

	// Use base validation from models
	if err := rule.Validate(); err != nil {
		return err
	}

	if err := ValidateCurrencyCode(rule.CurrencyFrom); err != nil {
		return fmt.Errorf("currency_from: %w", err)
	}
	if err := ValidateCurrencyCode(rule.CurrencyTo); err != nil {
		return fmt.Errorf("currency_to: %w", err)
	}

	if _, _, err := ParseTimeOfDay(rule.TimeOfDay); err != nil {
		return err
	}

	if rule.DayOfWeek != nil && (*rule.DayOfWeek < 0 || *rule.DayOfWeek > 6) {
		return fmt.Errorf("%w, got %d", models.ErrInvalidDayOfWeek, *rule.DayOfWeek)
	}

	if rule.ThresholdPercent != nil {
		threshold := *rule.ThresholdPercent
		if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold < 0 {
			return models.ErrInvalidThreshold
		}
	}

	return nil
}

// ValidateCurrencyCode checks for a three-letter alphabetic code
func ValidateCurrencyCode(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: %q", models.ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return fmt.Errorf("%w: %q", models.ErrInvalidCurrency, code)
		}
	}
	return nil
}

// Normalize applies the defaults and canonical forms every stored rule uses:
// upper-case currency codes, a time of day, a weekday for weekly rules and no
// weekday for daily ones.
func Normalize(rule *models.Rule) {
	rule.CurrencyFrom = strings.ToUpper(strings.TrimSpace(rule.CurrencyFrom))
	rule.CurrencyTo = strings.ToUpper(strings.TrimSpace(rule.CurrencyTo))
	rule.TimeOfDay = strings.TrimSpace(rule.TimeOfDay)
	if rule.TimeOfDay == "" {
		rule.TimeOfDay = DefaultTimeOfDay
	}

	switch rule.Frequency {
	case models.FrequencyWeekly:
		if rule.DayOfWeek == nil {
			rule.DayOfWeek = models.IntPtr(DefaultWeeklyDay)
		}
	case models.FrequencyDaily:
		rule.DayOfWeek = nil
	}
}
