package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"github.com/mohamedkhairy/rate-notifier/internal/config"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// undefinedTable is the PostgreSQL error code for a missing relation
const undefinedTable = "42P01"

const historySchema = `
	CREATE TABLE IF NOT EXISTS notification_history (
		seq        BIGSERIAL PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		date       TIMESTAMPTZ NOT NULL,
		rule_id    TEXT NOT NULL DEFAULT '',
		pair       TEXT NOT NULL,
		direction  TEXT NOT NULL DEFAULT '',
		rate       DOUBLE PRECISION NOT NULL,
		delta      DOUBLE PRECISION NOT NULL,
		percent    DOUBLE PRECISION NOT NULL,
		message    TEXT NOT NULL
	)
`

const statusSchema = `
	CREATE TABLE IF NOT EXISTS notifier_status (
		id                 SMALLINT PRIMARY KEY,
		last_checked       TIMESTAMPTZ,
		last_rates_refresh TIMESTAMPTZ,
		reference_date     TEXT NOT NULL DEFAULT ''
	)
`

// OpenPostgres opens and verifies a PostgreSQL connection pool
func OpenPostgres(dbConfig config.DatabaseConfig) (*sql.DB, error) {
	// Open database connection
	db, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return db, nil
}

// DatabaseHistoryLog implements HistoryLog on PostgreSQL
type DatabaseHistoryLog struct {
	db         *sql.DB
	maxEntries int
}

// NewDatabaseHistoryLog wraps a connection pool. maxEntries <= 0 keeps everything.
func NewDatabaseHistoryLog(db *sql.DB, maxEntries int) *DatabaseHistoryLog {
	return &DatabaseHistoryLog{db: db, maxEntries: maxEntries}
}

// Migrate creates the history and status tables if they do not exist
func (s *DatabaseHistoryLog) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, historySchema); err != nil {
		return fmt.Errorf("failed to create history table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, statusSchema); err != nil {
		return fmt.Errorf("failed to create status table: %w", err)
	}
	return nil
}

// Append inserts an entry and applies retention
func (s *DatabaseHistoryLog) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	query := `
		INSERT INTO notification_history (id, date, rule_id, pair, direction, rate, delta, percent, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Date,
		entry.RuleID,
		entry.Pair,
		string(entry.Direction),
		entry.Rate,
		entry.Delta,
		entry.Percent,
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	if s.maxEntries > 0 {
		trim := `
			DELETE FROM notification_history
			WHERE seq <= (SELECT MAX(seq) FROM notification_history) - $1
		`
		if _, err := s.db.ExecContext(ctx, trim, s.maxEntries); err != nil {
			logger.Warn("Failed to trim history table",
				logger.ErrorField(err),
			)
		}
	}

	return nil
}

// Load retrieves all entries in insertion order
func (s *DatabaseHistoryLog) Load(ctx context.Context) ([]*models.HistoryEntry, error) {
	query := `
		SELECT id, date, rule_id, pair, direction, rate, delta, percent, message
		FROM notification_history
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
			return []*models.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.HistoryEntry, 0)
	for rows.Next() {
		var entry models.HistoryEntry
		var direction string
		if err := rows.Scan(
			&entry.ID,
			&entry.Date,
			&entry.RuleID,
			&entry.Pair,
			&direction,
			&entry.Rate,
			&entry.Delta,
			&entry.Percent,
			&entry.Message,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.Direction = models.Direction(direction)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}
