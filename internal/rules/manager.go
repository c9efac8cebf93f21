package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// Manager owns every read-modify-write of the rule collection within the
// process. The HTTP API and the scheduler both go through it, so an edit and
// a baseline update never interleave between load and save.
type Manager struct {
	store RuleStore
	mu    sync.Mutex
	now   func() time.Time
}

// NewManager creates a rule manager on top of a store
func NewManager(store RuleStore) *Manager {
	if store == nil {
		panic("rule store cannot be nil")
	}
	return &Manager{
		store: store,
		now:   time.Now,
	}
}

// SetClock overrides the time source used for timestamps (used by tests)
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// List returns every rule in collection order
func (m *Manager) List(ctx context.Context) ([]*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return rules, nil
}

// Get returns a single rule
func (m *Manager) Get(ctx context.Context, id string) (*models.Rule, error) {
	rules, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if idx := indexOf(rules, id); idx >= 0 {
		return rules[idx], nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
}

// Create adds a new rule. An ID is generated when absent; the baseline rate
// always starts empty so the first evaluation only records it.
func (m *Manager) Create(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule cannot be nil")
	}

	created := rule.Clone()
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	created.LastExchangeRate = nil
	Normalize(created)

	now := m.now()
	created.CreatedAt = now
	created.UpdatedAt = now

	if err := ValidateRule(created); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}

	err := m.mutate(ctx, func(rules []*models.Rule) ([]*models.Rule, error) {
		if indexOf(rules, created.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrRuleExists, created.ID)
		}
		return append(rules, created.Clone()), nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Rule created",
		logger.String("rule_id", created.ID),
		logger.String("pair", created.Pair()),
		logger.String("frequency", string(created.Frequency)),
	)
	return created, nil
}

// Update replaces a rule's definition. The ID, creation time and baseline
// rate of the stored rule are kept.
func (m *Manager) Update(ctx context.Context, id string, rule *models.Rule) (*models.Rule, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule cannot be nil")
	}

	var updated *models.Rule
	err := m.mutate(ctx, func(rules []*models.Rule) ([]*models.Rule, error) {
		idx := indexOf(rules, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
		}
		existing := rules[idx]

		next := rule.Clone()
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		next.LastExchangeRate = existing.LastExchangeRate
		next.UpdatedAt = m.now()
		Normalize(next)

		if err := ValidateRule(next); err != nil {
			return nil, fmt.Errorf("invalid rule: %w", err)
		}

		rules[idx] = next
		updated = next.Clone()
		return rules, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Rule updated",
		logger.String("rule_id", updated.ID),
		logger.String("pair", updated.Pair()),
	)
	return updated, nil
}

// Delete removes a rule
func (m *Manager) Delete(ctx context.Context, id string) error {
	err := m.mutate(ctx, func(rules []*models.Rule) ([]*models.Rule, error) {
		idx := indexOf(rules, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
		}
		return append(rules[:idx], rules[idx+1:]...), nil
	})
	if err != nil {
		return err
	}

	logger.Info("Rule deleted", logger.String("rule_id", id))
	return nil
}

// SetEnabled enables or disables a rule
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Rule, error) {
	return m.setEnabled(ctx, id, func(bool) bool { return enabled })
}

// Toggle flips a rule's enabled flag
func (m *Manager) Toggle(ctx context.Context, id string) (*models.Rule, error) {
	return m.setEnabled(ctx, id, func(current bool) bool { return !current })
}

func (m *Manager) setEnabled(ctx context.Context, id string, next func(bool) bool) (*models.Rule, error) {
	var updated *models.Rule
	err := m.mutate(ctx, func(rules []*models.Rule) ([]*models.Rule, error) {
		idx := indexOf(rules, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
		}
		rules[idx].Enabled = next(rules[idx].Enabled)
		rules[idx].UpdatedAt = m.now()
		updated = rules[idx].Clone()
		return rules, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Updated rule enabled state",
		logger.String("rule_id", id),
		logger.Bool("enabled", updated.Enabled),
	)
	return updated, nil
}

// Import appends parsed rules to the collection in one save. Rules without
// an ID get one; a baseline carried by the document is kept. Nothing is
// written when any ID already exists.
func (m *Manager) Import(ctx context.Context, imported []*models.Rule) ([]*models.Rule, error) {
	if len(imported) == 0 {
		return []*models.Rule{}, nil
	}

	now := m.now()
	prepared := make([]*models.Rule, 0, len(imported))
	for i, rule := range imported {
		if rule == nil {
			return nil, fmt.Errorf("rule at index %d is nil", i)
		}
		created := rule.Clone()
		if created.ID == "" {
			created.ID = uuid.New().String()
		}
		Normalize(created)
		created.CreatedAt = now
		created.UpdatedAt = now

		if err := ValidateRule(created); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		prepared = append(prepared, created)
	}

	err := m.mutate(ctx, func(rules []*models.Rule) ([]*models.Rule, error) {
		for _, created := range prepared {
			if indexOf(rules, created.ID) >= 0 {
				return nil, fmt.Errorf("%w: %s", models.ErrRuleExists, created.ID)
			}
			rules = append(rules, created.Clone())
		}
		return rules, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Rules imported",
		logger.Int("count", len(prepared)),
	)
	return prepared, nil
}

// ApplyBaselines records newly observed rates as rule baselines in a single
// reload-update-save. Rules deleted since the rates were observed are
// ignored, and edits made to other fields in the meantime are kept. It
// returns the number of rules whose baseline changed; nothing is written
// when that number is zero.
func (m *Manager) ApplyBaselines(ctx context.Context, baselines map[string]float64) (int, error) {
	if len(baselines) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load rules: %w", err)
	}

	changed := 0
	for _, rule := range rules {
		rate, ok := baselines[rule.ID]
		if !ok {
			continue
		}
		if rule.LastExchangeRate != nil && *rule.LastExchangeRate == rate {
			continue
		}
		rule.LastExchangeRate = models.Float64Ptr(rate)
		changed++
	}

	if changed == 0 {
		return 0, nil
	}

	if err := m.store.Save(ctx, rules); err != nil {
		return 0, fmt.Errorf("failed to save rules: %w", err)
	}
	return changed, nil
}

// mutate runs fn against the freshly loaded collection and saves the result.
// The collection is never saved when it could not be loaded.
func (m *Manager) mutate(ctx context.Context, fn func([]*models.Rule) ([]*models.Rule, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	next, err := fn(rules)
	if err != nil {
		return err
	}

	if err := m.store.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save rules: %w", err)
	}
	return nil
}

func indexOf(rules []*models.Rule, id string) int {
	for i, rule := range rules {
		if rule.ID == id {
			return i
		}
	}
	return -1
}
