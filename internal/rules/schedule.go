package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

const (
	// DefaultTimeOfDay is used when a rule carries no time
	DefaultTimeOfDay = "09:00"
	// DefaultWeeklyDay is used for weekly rules created without a day (Monday)
	DefaultWeeklyDay = 1
)

var weekdayNames = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// ParseTimeOfDay parses "HH:MM" (24h) into hour and minute
func ParseTimeOfDay(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", models.ErrInvalidTimeOfDay, value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: %q", models.ErrInvalidTimeOfDay, value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", models.ErrInvalidTimeOfDay, value)
	}
	return hour, minute, nil
}

// IsDue reports whether the rule is scheduled for the minute containing now.
// Matching is exact to the minute; a missed minute is not caught up.
// now must already be in the scheduler's time zone.
func IsDue(rule *models.Rule, now time.Time) bool {
	if rule == nil || !rule.Enabled {
		return false
	}

	timeOfDay := rule.TimeOfDay
	if timeOfDay == "" {
		timeOfDay = DefaultTimeOfDay
	}
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return false
	}
	if now.Hour() != hour || now.Minute() != minute {
		return false
	}

	if rule.Frequency == models.FrequencyWeekly {
		day := 0
		if rule.DayOfWeek != nil {
			day = *rule.DayOfWeek
		}
		if int(now.Weekday()) != day {
			return false
		}
	}

	return true
}

// NextRunPreview renders the rule's schedule for display, e.g. "Daily 09:00"
// or "Mon 09:00".
func NextRunPreview(rule *models.Rule) string {
	timeOfDay := rule.TimeOfDay
	if timeOfDay == "" {
		timeOfDay = DefaultTimeOfDay
	}
	if rule.Frequency == models.FrequencyWeekly && rule.DayOfWeek != nil {
		day := "?"
		if d := *rule.DayOfWeek; d >= 0 && d < len(weekdayNames) {
			day = weekdayNames[d]
		}
		return fmt.Sprintf("%s %s", day, timeOfDay)
	}
	return fmt.Sprintf("Daily %s", timeOfDay)
}
