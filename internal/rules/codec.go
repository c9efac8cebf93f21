package rules

import (
	"encoding/json"
	"fmt"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// decodeRules parses a serialized rule collection. A document that is not a
// JSON array yields an empty collection; individual entries that cannot be
// decoded or carry no ID are dropped.
func decodeRules(data []byte, source string) []*models.Rule {
	if len(data) == 0 {
		return []*models.Rule{}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("Stored rule collection is corrupt, starting empty",
			logger.String("source", source),
			logger.ErrorField(err),
		)
		return []*models.Rule{}
	}

	rules := make([]*models.Rule, 0, len(raw))
	for i, item := range raw {
		var rule models.Rule
		if err := json.Unmarshal(item, &rule); err != nil || rule.ID == "" {
			logger.Warn("Skipping unreadable stored rule",
				logger.String("source", source),
				logger.Int("index", i),
				logger.ErrorField(err),
			)
			continue
		}
		rules = append(rules, &rule)
	}

	return rules
}

func encodeRules(rules []*models.Rule) ([]byte, error) {
	if rules == nil {
		rules = []*models.Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rules: %w", err)
	}
	return data, nil
}
