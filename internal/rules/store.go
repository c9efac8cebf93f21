package rules

import (
	"context"
	"sync"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

// InMemoryRuleStore is an in-memory implementation of RuleStore
type InMemoryRuleStore struct {
	mu    sync.RWMutex
	rules []*models.Rule
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore(initial ...*models.Rule) *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: models.CloneRules(initial),
	}
}

// Load returns a copy of the stored rules
func (s *InMemoryRuleStore) Load(ctx context.Context) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return copies to prevent external modifications
	return models.CloneRules(s.rules), nil
}

// Save replaces the stored rules
func (s *InMemoryRuleStore) Save(ctx context.Context, rules []*models.Rule) error {
	copied := models.CloneRules(rules)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = copied
	return nil
}
