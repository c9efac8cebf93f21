package rules

import (
	"strings"
	"testing"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		wantErr  error
		validate func(*testing.T, *models.Rule)
	}{
		{
			name: "flags default to true",
			json: `{"id": "r1", "currency_from": "eur", "currency_to": "usd", "frequency": "daily"}`,
			validate: func(t *testing.T, r *models.Rule) {
				assert.Equal(t, "EUR", r.CurrencyFrom)
				assert.Equal(t, "USD", r.CurrencyTo)
				assert.Equal(t, DefaultTimeOfDay, r.TimeOfDay)
				assert.True(t, r.NotifyIfBetter)
				assert.True(t, r.NotifyIfWorse)
				assert.True(t, r.Enabled)
			},
		},
		{
			name: "weekly rule gets default day",
			json: `{"currency_from": "GBP", "currency_to": "JPY", "frequency": "weekly", "enabled": false}`,
			validate: func(t *testing.T, r *models.Rule) {
				require.NotNil(t, r.DayOfWeek)
				assert.Equal(t, DefaultWeeklyDay, *r.DayOfWeek)
				assert.False(t, r.Enabled)
				assert.Empty(t, r.ID, "ID is assigned on import")
			},
		},
		{
			name: "baseline kept",
			json: `{"currency_from": "EUR", "currency_to": "USD", "frequency": "daily", "last_exchange_rate": 1.08}`,
			validate: func(t *testing.T, r *models.Rule) {
				require.NotNil(t, r.LastExchangeRate)
				assert.Equal(t, 1.08, *r.LastExchangeRate)
			},
		},
		{
			name: "non-positive baseline dropped",
			json: `{"currency_from": "EUR", "currency_to": "USD", "frequency": "daily", "last_exchange_rate": 0}`,
			validate: func(t *testing.T, r *models.Rule) {
				assert.Nil(t, r.LastExchangeRate)
			},
		},
		{
			name:    "bad currency",
			json:    `{"currency_from": "EURO", "currency_to": "USD", "frequency": "daily"}`,
			wantErr: models.ErrInvalidCurrency,
		},
		{
			name:    "bad frequency",
			json:    `{"currency_from": "EUR", "currency_to": "USD", "frequency": "hourly"}`,
			wantErr: models.ErrInvalidFrequency,
		},
		{
			name:    "negative threshold",
			json:    `{"currency_from": "EUR", "currency_to": "USD", "frequency": "daily", "threshold_percent": -1}`,
			wantErr: models.ErrInvalidThreshold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := ParseRule([]byte(tt.json))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.validate(t, rule)
		})
	}
}

func TestParseRule_InvalidJSON(t *testing.T) {
	_, err := ParseRule([]byte(`{"currency_from":`))
	assert.Error(t, err)
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(`[
		{"id": "a", "currency_from": "EUR", "currency_to": "USD", "frequency": "daily"},
		{"currency_from": "USD", "currency_to": "CHF", "frequency": "weekly", "day_of_week": 5, "time_of_day": "17:30"}
	]`))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].ID)
	assert.Equal(t, "17:30", rules[1].TimeOfDay)
	assert.Equal(t, 5, *rules[1].DayOfWeek)
}

func TestParseRules_SingleObject(t *testing.T) {
	rules, err := ParseRules([]byte(`  {"currency_from": "EUR", "currency_to": "USD", "frequency": "daily"}`))
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestParseRules_Errors(t *testing.T) {
	_, err := ParseRules([]byte("   "))
	assert.Error(t, err)

	_, err = ParseRules([]byte(`[null]`))
	assert.Error(t, err)

	_, err = ParseRules([]byte(`[
		{"currency_from": "EUR", "currency_to": "USD", "frequency": "daily"},
		{"currency_from": "EUR", "currency_to": "USD", "frequency": "daily", "time_of_day": "25:00"}
	]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index 1")

	_, err = ParseRules([]byte(`[
		{"id": "dup", "currency_from": "EUR", "currency_to": "USD", "frequency": "daily"},
		{"id": "dup", "currency_from": "GBP", "currency_to": "USD", "frequency": "daily"}
	]`))
	assert.ErrorIs(t, err, models.ErrRuleExists)
}

func TestParseRules_EmptyArray(t *testing.T) {
	rules, err := ParseRules([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestParseRulesFromReader(t *testing.T) {
	rules, err := ParseRulesFromReader(strings.NewReader(`[{"currency_from": "EUR", "currency_to": "USD", "frequency": "daily"}]`))
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	oversized := strings.NewReader("[" + strings.Repeat(" ", MaxImportSize) + "]")
	_, err = ParseRulesFromReader(oversized)
	assert.Error(t, err)
}
