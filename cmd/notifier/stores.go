package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/config"
	"github.com/mohamedkhairy/rate-notifier/internal/rules"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
)

// stores holds the persistence layer for the configured backend
type stores struct {
	rules   rules.RuleStore
	history storage.HistoryLog
	status  storage.StatusStore
	db      *sql.DB // set for the postgres backend
}

// Close releases the database pool, if any
func (s *stores) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// needsRedis reports whether any configured component talks to Redis
func needsRedis(cfg *config.Config) bool {
	return cfg.Storage.Backend == config.BackendRedis || cfg.Notifier.RedisChannel != ""
}

// openStores builds the rule store, history log and status store for
// cfg.Storage.Backend. redisClient must be set for the redis backend.
func openStores(cfg *config.Config, redisClient storage.RedisClient) (*stores, error) {
	maxEntries := cfg.Storage.HistoryMaxEntries

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return &stores{
			rules:   rules.NewInMemoryRuleStore(),
			history: storage.NewMemoryHistoryLog(maxEntries),
			status:  storage.NewMemoryStatusStore(),
		}, nil

	case config.BackendFile:
		ruleStore, err := rules.NewFileRuleStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rule store: %w", err)
		}
		history, err := storage.NewFileHistoryLog(cfg.Storage.DataDir, maxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create file history log: %w", err)
		}
		status, err := storage.NewFileStatusStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create file status store: %w", err)
		}
		return &stores{rules: ruleStore, history: history, status: status}, nil

	case config.BackendRedis:
		ruleStore, err := rules.NewRedisRuleStore(redisClient, rules.RedisRuleStoreConfig{Key: cfg.Storage.RulesKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rule store: %w", err)
		}
		history, err := storage.NewRedisHistoryLog(redisClient, cfg.Storage.HistoryKey, maxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis history log: %w", err)
		}
		status, err := storage.NewRedisStatusStore(redisClient, storage.DefaultRedisStatusKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis status store: %w", err)
		}
		return &stores{rules: ruleStore, history: history, status: status}, nil

	case config.BackendPostgres:
		db, err := storage.OpenPostgres(cfg.Database)
		if err != nil {
			return nil, err
		}

		ruleStore := rules.NewDatabaseRuleStore(db)
		history := storage.NewDatabaseHistoryLog(db, maxEntries)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := ruleStore.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		if err := history.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}

		return &stores{
			rules:   ruleStore,
			history: history,
			status:  storage.NewDatabaseStatusStore(db),
			db:      db,
		}, nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
