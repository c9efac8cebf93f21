package rules

import (
	"math"
	"testing"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/stretchr/testify/assert"
)

func validRule() *models.Rule {
	return &models.Rule{
		ID:             "rule-1",
		CurrencyFrom:   "EUR",
		CurrencyTo:     "USD",
		Frequency:      models.FrequencyDaily,
		TimeOfDay:      "09:00",
		NotifyIfBetter: true,
		NotifyIfWorse:  true,
		Enabled:        true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *models.Rule)
		wantErr error
	}{
		{name: "valid rule", mutate: func(r *models.Rule) {}},
		{name: "missing id", mutate: func(r *models.Rule) { r.ID = "" }, wantErr: models.ErrInvalidRuleID},
		{name: "empty currency", mutate: func(r *models.Rule) { r.CurrencyTo = "" }, wantErr: models.ErrInvalidCurrency},
		{name: "long currency", mutate: func(r *models.Rule) { r.CurrencyFrom = "EURO" }, wantErr: models.ErrInvalidCurrency},
		{name: "numeric currency", mutate: func(r *models.Rule) { r.CurrencyFrom = "E1R" }, wantErr: models.ErrInvalidCurrency},
		{name: "unknown frequency", mutate: func(r *models.Rule) { r.Frequency = "hourly" }, wantErr: models.ErrInvalidFrequency},
		{name: "weekly without day", mutate: func(r *models.Rule) { r.Frequency = models.FrequencyWeekly }, wantErr: models.ErrMissingDayOfWeek},
		{name: "weekly with day", mutate: func(r *models.Rule) {
			r.Frequency = models.FrequencyWeekly
			r.DayOfWeek = models.IntPtr(0)
		}},
		{name: "day out of range", mutate: func(r *models.Rule) {
			r.Frequency = models.FrequencyWeekly
			r.DayOfWeek = models.IntPtr(7)
		}, wantErr: models.ErrInvalidDayOfWeek},
		{name: "bad time", mutate: func(r *models.Rule) { r.TimeOfDay = "25:00" }, wantErr: models.ErrInvalidTimeOfDay},
		{name: "zero threshold", mutate: func(r *models.Rule) { r.ThresholdPercent = models.Float64Ptr(0) }},
		{name: "negative threshold", mutate: func(r *models.Rule) { r.ThresholdPercent = models.Float64Ptr(-1) }, wantErr: models.ErrInvalidThreshold},
		{name: "infinite threshold", mutate: func(r *models.Rule) { r.ThresholdPercent = models.Float64Ptr(math.Inf(1)) }, wantErr: models.ErrInvalidThreshold},
		{name: "NaN threshold", mutate: func(r *models.Rule) { r.ThresholdPercent = models.Float64Ptr(math.NaN()) }, wantErr: models.ErrInvalidThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			err := ValidateRule(rule)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Error(t, ValidateRule(nil))
}

func TestNormalize(t *testing.T) {
	rule := &models.Rule{
		CurrencyFrom: " eur",
		CurrencyTo:   "usd ",
		Frequency:    models.FrequencyWeekly,
	}
	Normalize(rule)

	assert.Equal(t, "EUR", rule.CurrencyFrom)
	assert.Equal(t, "USD", rule.CurrencyTo)
	assert.Equal(t, DefaultTimeOfDay, rule.TimeOfDay)
	if assert.NotNil(t, rule.DayOfWeek) {
		assert.Equal(t, DefaultWeeklyDay, *rule.DayOfWeek)
	}

	rule.Frequency = models.FrequencyDaily
	Normalize(rule)
	assert.Nil(t, rule.DayOfWeek)
}
