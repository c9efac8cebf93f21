package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// RedisNotifierConfig holds configuration for the Redis notifier
type RedisNotifierConfig struct {
	Channel        string        // Redis pub/sub channel
	PublishTimeout time.Duration // Timeout for a single publish
}

// DefaultRedisNotifierConfig returns default configuration
func DefaultRedisNotifierConfig() RedisNotifierConfig {
	return RedisNotifierConfig{
		Channel:        "rate-notifier:notifications",
		PublishTimeout: 2 * time.Second,
	}
}

// RedisNotifier publishes notifications to a Redis pub/sub channel
type RedisNotifier struct {
	config RedisNotifierConfig
	redis  storage.RedisClient
	stats  RedisNotifierStats
}

// RedisNotifierStats holds statistics about published notifications
type RedisNotifierStats struct {
	Published     int64
	Failed        int64
	LastPublished time.Time
	mu            sync.RWMutex
}

// NewRedisNotifier creates a new Redis notifier
func NewRedisNotifier(redis storage.RedisClient, config RedisNotifierConfig) *RedisNotifier {
	if redis == nil {
		panic("redis client cannot be nil")
	}
	if config.Channel == "" {
		config.Channel = DefaultRedisNotifierConfig().Channel
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultRedisNotifierConfig().PublishTimeout
	}

	return &RedisNotifier{
		config: config,
		redis:  redis,
	}
}

// Channel returns the channel notifications are published on
func (n *RedisNotifier) Channel() string {
	return n.config.Channel
}

// Notify publishes the notification as JSON
func (n *RedisNotifier) Notify(ctx context.Context, title, body string) error {
	notification := NewNotification(title, body)

	ctx, cancel := context.WithTimeout(ctx, n.config.PublishTimeout)
	defer cancel()

	if err := n.redis.Publish(ctx, n.config.Channel, notification); err != nil {
		n.incrementFailed()
		logger.Error("Failed to publish notification",
			logger.ErrorField(err),
			logger.String("channel", n.config.Channel),
			logger.String("notification_id", notification.ID),
		)
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.incrementPublished()
	logger.Debug("Published notification",
		logger.String("channel", n.config.Channel),
		logger.String("notification_id", notification.ID),
	)
	return nil
}

// GetStats returns a copy of the current statistics
func (n *RedisNotifier) GetStats() RedisNotifierStats {
	n.stats.mu.RLock()
	defer n.stats.mu.RUnlock()

	return RedisNotifierStats{
		Published:     n.stats.Published,
		Failed:        n.stats.Failed,
		LastPublished: n.stats.LastPublished,
	}
}

func (n *RedisNotifier) incrementPublished() {
	n.stats.mu.Lock()
	defer n.stats.mu.Unlock()
	n.stats.Published++
	n.stats.LastPublished = time.Now()
}

func (n *RedisNotifier) incrementFailed() {
	n.stats.mu.Lock()
	defer n.stats.mu.Unlock()
	n.stats.Failed++
}
