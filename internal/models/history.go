package models

import (
	"time"
)

// Direction is the way a rate moved relative to a rule's baseline
type Direction string

const (
	DirectionNone   Direction = ""
	DirectionBetter Direction = "better"
	DirectionWorse  Direction = "worse"
)

// HistoryEntry records a notification that was sent for a rule
type HistoryEntry struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	RuleID    string    `json:"rule_id,omitempty"`
	Pair      string    `json:"pair"`
	Direction Direction `json:"direction,omitempty"`
	Rate      float64   `json:"rate"`
	Delta     float64   `json:"delta"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message"`
}

// Validate validates a HistoryEntry
func (h *HistoryEntry) Validate() error {
	if h.ID == "" {
		return ErrInvalidHistoryID
	}
	if h.Date.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

// Notification is a message surfaced to the user
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tag       string    `json:"tag,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
