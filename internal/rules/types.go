package rules

import (
	"context"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

// RuleStore persists the rule collection as a whole.
//
// Load returns an empty collection (and no error) when the underlying data
// is missing or cannot be decoded. An error is returned only when the
// backend itself could not be reached, so callers never mistake an outage
// for an empty collection and overwrite it.
type RuleStore interface {
	// Load retrieves every stored rule in insertion order
	Load(ctx context.Context) ([]*models.Rule, error)

	// Save replaces the stored collection
	Save(ctx context.Context, rules []*models.Rule) error
}
