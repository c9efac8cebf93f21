package storage

import (
	"context"
	"fmt"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// DefaultRedisHistoryKey is the default list key for history entries
const DefaultRedisHistoryKey = "rate-notifier:history"

// RedisHistoryLog stores history entries as JSON elements of a Redis list.
// RPUSH keeps insertion order and LTRIM enforces the optional retention.
type RedisHistoryLog struct {
	redis      RedisClient
	key        string
	maxEntries int
}

// NewRedisHistoryLog creates a Redis-backed history log
func NewRedisHistoryLog(redis RedisClient, key string, maxEntries int) (*RedisHistoryLog, error) {
	if redis == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisHistoryKey
	}
	return &RedisHistoryLog{
		redis:      redis,
		key:        key,
		maxEntries: maxEntries,
	}, nil
}

// Append pushes an entry to the tail of the list
func (h *RedisHistoryLog) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	if err := h.redis.ListPush(ctx, h.key, entry); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	if h.maxEntries > 0 {
		if err := h.redis.ListTrim(ctx, h.key, int64(-h.maxEntries), -1); err != nil {
			// The entry is stored; retention catches up on the next append
			logger.Warn("Failed to trim history list",
				logger.String("key", h.key),
				logger.ErrorField(err),
			)
		}
	}

	return nil
}

// Load returns every entry in insertion order, skipping unreadable elements
func (h *RedisHistoryLog) Load(ctx context.Context) ([]*models.HistoryEntry, error) {
	items, err := h.redis.ListRange(ctx, h.key, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read history from Redis: %w", err)
	}

	entries := make([]*models.HistoryEntry, 0, len(items))
	skipped := 0
	for _, item := range items {
		entry, ok := decodeEntry([]byte(item))
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}

	if skipped > 0 {
		logger.Warn("Skipped unreadable history entries",
			logger.String("key", h.key),
			logger.Int("skipped", skipped),
		)
	}

	return entries, nil
}
