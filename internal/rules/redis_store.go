package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

const (
	// DefaultRedisRulesKey is the default key holding the rule collection
	DefaultRedisRulesKey = "rate-notifier:rules"
)

// RedisRuleStoreConfig holds configuration for RedisRuleStore
type RedisRuleStoreConfig struct {
	Key string // Key holding the JSON rule array (default: "rate-notifier:rules")
}

// DefaultRedisRuleStoreConfig returns default configuration
func DefaultRedisRuleStoreConfig() RedisRuleStoreConfig {
	return RedisRuleStoreConfig{
		Key: DefaultRedisRulesKey,
	}
}

// RedisRuleStore is a Redis-backed implementation of RuleStore
// The collection is stored as one JSON array under a single key so that a
// save replaces it atomically. The key has no TTL.
type RedisRuleStore struct {
	redis  storage.RedisClient
	config RedisRuleStoreConfig
}

// NewRedisRuleStore creates a new Redis-backed rule store
func NewRedisRuleStore(redis storage.RedisClient, config RedisRuleStoreConfig) (*RedisRuleStore, error) {
	if redis == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	if config.Key == "" {
		config.Key = DefaultRedisRulesKey
	}

	return &RedisRuleStore{
		redis:  redis,
		config: config,
	}, nil
}

// Load retrieves the rule collection from Redis
func (s *RedisRuleStore) Load(ctx context.Context) ([]*models.Rule, error) {
	value, err := s.redis.Get(ctx, s.config.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to get rules from Redis: %w", err)
	}

	return decodeRules([]byte(value), "redis:"+s.config.Key), nil
}

// Save stores the rule collection in Redis
func (s *RedisRuleStore) Save(ctx context.Context, rules []*models.Rule) error {
	data, err := encodeRules(rules)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.config.Key, json.RawMessage(data), 0); err != nil {
		return fmt.Errorf("failed to store rules in Redis: %w", err)
	}

	logger.Debug("Saved rules to Redis",
		logger.String("key", s.config.Key),
		logger.Int("count", len(rules)),
	)

	return nil
}
