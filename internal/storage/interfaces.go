package storage

import (
	"context"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
)

// HistoryLog is the append-only record of sent notifications
type HistoryLog interface {
	// Append adds an entry at the end of the log
	Append(ctx context.Context, entry *models.HistoryEntry) error

	// Load returns every entry in insertion order. Missing or corrupt data
	// loads as an empty log.
	Load(ctx context.Context) ([]*models.HistoryEntry, error)
}

// StatusStore persists the scheduler's bookkeeping timestamps
type StatusStore interface {
	LoadStatus(ctx context.Context) (*models.Status, error)
	SaveStatus(ctx context.Context, status *models.Status) error
}

// RedisClient defines the interface for Redis operations
type RedisClient interface {
	// Key-value operations
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GetJSON(ctx context.Context, key string, dest interface{}) error

	// List operations
	ListPush(ctx context.Context, key string, values ...interface{}) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error

	// Pub/Sub operations
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan PubSubMessage, error)

	// Close closes the Redis connection
	Close() error
}

// PubSubMessage represents a message from Redis pub/sub
type PubSubMessage struct {
	Channel string
	Message string
}
