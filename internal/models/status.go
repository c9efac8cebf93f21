package models

import "time"

// Status holds the timestamps surfaced to the user between restarts
type Status struct {
	LastChecked      time.Time `json:"last_checked"`
	LastRatesRefresh time.Time `json:"last_rates_refresh"`
	ReferenceDate    string    `json:"reference_date,omitempty"`
}
