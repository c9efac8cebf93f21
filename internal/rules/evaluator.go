package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

// Evaluation is the outcome of evaluating a rule against an observed rate.
// Rate is always the observed rate; it becomes the rule's new baseline
// whether or not a notification fires.
type Evaluation struct {
	Rate      float64
	Delta     float64
	Percent   float64
	HasDelta  bool // false when the rule had no usable baseline
	Direction models.Direction
	Notify    bool
	Message   string
}

// Evaluate compares the observed rate with the rule's baseline and applies
// the direction flags and threshold gate. It has no side effects.
func Evaluate(rule *models.Rule, current float64) Evaluation {
	result := Evaluation{Rate: current}

	if rule == nil || rule.LastExchangeRate == nil || !isFinite(*rule.LastExchangeRate) {
		return result
	}
	last := *rule.LastExchangeRate

	result.HasDelta = true
	result.Delta = current - last
	if last != 0 {
		result.Percent = result.Delta / last * 100
	}

	switch {
	case result.Delta > 0:
		result.Direction = models.DirectionBetter
	case result.Delta < 0:
		result.Direction = models.DirectionWorse
	}

	if !passesThreshold(rule.ThresholdPercent, result.Percent) {
		return result
	}

	pair := rule.Pair()
	switch {
	case result.Direction == models.DirectionBetter && rule.NotifyIfBetter:
		result.Notify = true
		result.Message = fmt.Sprintf("%s is now %s (was %s). Good time to exchange 💱",
			pair, FormatRate(current), FormatRate(last))
	case result.Direction == models.DirectionWorse && rule.NotifyIfWorse:
		result.Notify = true
		result.Message = fmt.Sprintf("%s dropped to %s (last %s)",
			pair, FormatRate(current), FormatRate(last))
	}

	return result
}

// passesThreshold is inclusive: |percent| == threshold notifies
func passesThreshold(threshold *float64, percent float64) bool {
	if threshold == nil || !isFinite(*threshold) {
		return true
	}
	return math.Abs(percent) >= *threshold
}

// FormatRate renders a rate for messages: two fractional digits, switching to
// exponent notation for very large or very small magnitudes.
func FormatRate(v float64) string {
	if !isFinite(v) {
		return "—"
	}
	abs := math.Abs(v)
	if abs >= 1000 || (v != 0 && abs < 0.01) {
		return trimExponent(strconv.FormatFloat(v, 'e', 2, 64))
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// trimExponent turns "1.23e+04" into "1.23e+4"
func trimExponent(s string) string {
	idx := strings.IndexByte(s, 'e')
	if idx < 0 || idx+2 >= len(s) {
		return s
	}
	mantissa, sign, digits := s[:idx], s[idx+1:idx+2], strings.TrimLeft(s[idx+2:], "0")
	if digits == "" {
		digits = "0"
	}
	return mantissa + "e" + sign + digits
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
