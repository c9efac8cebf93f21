package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

// MaxImportSize bounds the size of an imported rules document
const MaxImportSize = 1 << 20

// ParseRule parses a single JSON rule definition. Missing flags default to
// true and the rule is normalized before validation.
func ParseRule(data []byte) (*models.Rule, error) {
	var rule models.Rule

	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
	}

	if err := prepareImported(&rule); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}

	return &rule, nil
}

// ParseRules parses a JSON array of rules, or a single rule object. IDs may be
// left empty; non-empty IDs must be unique within the document.
func ParseRules(data []byte) ([]*models.Rule, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("rules document is empty")
	}

	if trimmed[0] == '{' {
		rule, err := ParseRule(trimmed)
		if err != nil {
			return nil, err
		}
		return []*models.Rule{rule}, nil
	}

	var rules []*models.Rule
	if err := json.Unmarshal(trimmed, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	seen := make(map[string]struct{}, len(rules))
	out := make([]*models.Rule, 0, len(rules))
	for i, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("rule at index %d is null", i)
		}
		if err := prepareImported(rule); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if rule.ID != "" {
			if _, dup := seen[rule.ID]; dup {
				return nil, fmt.Errorf("rule at index %d: %w: %s", i, models.ErrRuleExists, rule.ID)
			}
			seen[rule.ID] = struct{}{}
		}
		out = append(out, rule)
	}

	return out, nil
}

// ParseRulesFromReader reads at most MaxImportSize bytes and parses them with
// ParseRules
func ParseRulesFromReader(reader io.Reader) ([]*models.Rule, error) {
	data, err := io.ReadAll(io.LimitReader(reader, MaxImportSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read rules data: %w", err)
	}
	if len(data) > MaxImportSize {
		return nil, fmt.Errorf("rules document exceeds %d bytes", MaxImportSize)
	}

	return ParseRules(data)
}

// prepareImported normalizes a decoded rule and validates everything except
// the ID, which the manager assigns when empty. Unusable baselines are
// dropped.
func prepareImported(rule *models.Rule) error {
	Normalize(rule)

	if rule.LastExchangeRate != nil {
		last := *rule.LastExchangeRate
		if math.IsNaN(last) || math.IsInf(last, 0) || last <= 0 {
			rule.LastExchangeRate = nil
		}
	}

	probe := rule.Clone()
	if probe.ID == "" {
		probe.ID = "pending"
	}
	return ValidateRule(probe)
}
