package models

import "errors"

var (
	ErrInvalidRuleID     = errors.New("invalid rule ID")
	ErrInvalidCurrency   = errors.New("invalid currency code")
	ErrInvalidFrequency  = errors.New("invalid frequency")
	ErrInvalidTimeOfDay  = errors.New("invalid time of day")
	ErrMissingDayOfWeek  = errors.New("day of week is required for weekly rules")
	ErrInvalidDayOfWeek  = errors.New("day of week must be between 0 and 6")
	ErrInvalidThreshold  = errors.New("threshold percent must be a finite non-negative number")
	ErrRuleNotFound      = errors.New("rule not found")
	ErrRuleExists        = errors.New("rule already exists")
	ErrInvalidHistoryID  = errors.New("invalid history entry ID")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrRateUnavailable   = errors.New("rate unavailable")
	ErrPermissionDenied  = errors.New("notification permission not granted")
	ErrInvalidPermission = errors.New("invalid notification permission")
	ErrEmptyRateTable    = errors.New("rate table contains no usable entries")
)
