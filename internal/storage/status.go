package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

const (
	// DefaultStatusFileName is the file used inside the data directory
	DefaultStatusFileName = "status.json"
	// DefaultRedisStatusKey is the default key for the status document
	DefaultRedisStatusKey = "rate-notifier:status"
)

// MemoryStatusStore keeps the status in process memory
type MemoryStatusStore struct {
	mu     sync.RWMutex
	status models.Status
}

// NewMemoryStatusStore creates an in-memory status store
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{}
}

func (s *MemoryStatusStore) LoadStatus(ctx context.Context) (*models.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := s.status
	return &status, nil
}

func (s *MemoryStatusStore) SaveStatus(ctx context.Context, status *models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = *status
	return nil
}

// FileStatusStore keeps the status as a JSON document on disk
type FileStatusStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStatusStore creates a file-backed status store under dataDir
func NewFileStatusStore(dataDir string) (*FileStatusStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	return &FileStatusStore{path: filepath.Join(dataDir, DefaultStatusFileName)}, nil
}

func (s *FileStatusStore) LoadStatus(ctx context.Context) (*models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	status := &models.Status{}
	if len(data) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(data, status); err != nil {
		logger.Warn("Stored status is corrupt, ignoring",
			logger.String("path", s.path),
			logger.ErrorField(err),
		)
		return &models.Status{}, nil
	}
	return status, nil
}

func (s *FileStatusStore) SaveStatus(ctx context.Context, status *models.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteFileAtomic(s.path, data)
}

// RedisStatusStore keeps the status as a JSON value under one key
type RedisStatusStore struct {
	redis RedisClient
	key   string
}

// NewRedisStatusStore creates a Redis-backed status store
func NewRedisStatusStore(redis RedisClient, key string) (*RedisStatusStore, error) {
	if redis == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisStatusKey
	}
	return &RedisStatusStore{redis: redis, key: key}, nil
}

func (s *RedisStatusStore) LoadStatus(ctx context.Context) (*models.Status, error) {
	status := &models.Status{}
	if err := s.redis.GetJSON(ctx, s.key, status); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return &models.Status{}, nil
		}
		return nil, fmt.Errorf("failed to get status from Redis: %w", err)
	}
	return status, nil
}

func (s *RedisStatusStore) SaveStatus(ctx context.Context, status *models.Status) error {
	if err := s.redis.Set(ctx, s.key, status, 0); err != nil {
		return fmt.Errorf("failed to store status in Redis: %w", err)
	}
	return nil
}

// DatabaseStatusStore keeps the status in a single-row PostgreSQL table.
// The table is created by DatabaseHistoryLog.Migrate.
type DatabaseStatusStore struct {
	db *sql.DB
}

// NewDatabaseStatusStore wraps a connection pool
func NewDatabaseStatusStore(db *sql.DB) *DatabaseStatusStore {
	return &DatabaseStatusStore{db: db}
}

func (s *DatabaseStatusStore) LoadStatus(ctx context.Context) (*models.Status, error) {
	query := `SELECT last_checked, last_rates_refresh, reference_date FROM notifier_status WHERE id = 1`

	var lastChecked, lastRefresh sql.NullTime
	status := &models.Status{}
	err := s.db.QueryRowContext(ctx, query).Scan(&lastChecked, &lastRefresh, &status.ReferenceDate)
	if err == sql.ErrNoRows {
		return status, nil
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
			return status, nil
		}
		return nil, fmt.Errorf("failed to query status: %w", err)
	}

	if lastChecked.Valid {
		status.LastChecked = lastChecked.Time
	}
	if lastRefresh.Valid {
		status.LastRatesRefresh = lastRefresh.Time
	}
	return status, nil
}

func (s *DatabaseStatusStore) SaveStatus(ctx context.Context, status *models.Status) error {
	query := `
		INSERT INTO notifier_status (id, last_checked, last_rates_refresh, reference_date)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET last_checked = EXCLUDED.last_checked,
		    last_rates_refresh = EXCLUDED.last_rates_refresh,
		    reference_date = EXCLUDED.reference_date
	`

	_, err := s.db.ExecContext(ctx, query,
		nullTime(status.LastChecked),
		nullTime(status.LastRatesRefresh),
		status.ReferenceDate,
	)
	if err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
