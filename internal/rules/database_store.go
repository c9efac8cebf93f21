package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// undefinedTable is the PostgreSQL error code for a missing relation
const undefinedTable = "42P01"

const rulesSchema = `
	CREATE TABLE IF NOT EXISTS watch_rules (
		id                 TEXT PRIMARY KEY,
		position           INTEGER NOT NULL,
		currency_from      TEXT NOT NULL,
		currency_to        TEXT NOT NULL,
		frequency          TEXT NOT NULL,
		time_of_day        TEXT NOT NULL,
		day_of_week        INTEGER,
		threshold_percent  DOUBLE PRECISION,
		notify_if_better   BOOLEAN NOT NULL DEFAULT TRUE,
		notify_if_worse    BOOLEAN NOT NULL DEFAULT TRUE,
		enabled            BOOLEAN NOT NULL DEFAULT TRUE,
		last_exchange_rate DOUBLE PRECISION,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)
`

// DatabaseRuleStore is a PostgreSQL-backed implementation of RuleStore
type DatabaseRuleStore struct {
	db *sql.DB
}

// NewDatabaseRuleStore creates a rule store on an open connection pool
func NewDatabaseRuleStore(db *sql.DB) *DatabaseRuleStore {
	return &DatabaseRuleStore{db: db}
}

// Migrate creates the rules table if it does not exist
func (s *DatabaseRuleStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, rulesSchema); err != nil {
		return fmt.Errorf("failed to create rules table: %w", err)
	}
	return nil
}

// Load retrieves all rules ordered by their position in the collection
func (s *DatabaseRuleStore) Load(ctx context.Context) ([]*models.Rule, error) {
	query := `
		SELECT id, currency_from, currency_to, frequency, time_of_day, day_of_week,
		       threshold_percent, notify_if_better, notify_if_worse, enabled,
		       last_exchange_rate, created_at, updated_at
		FROM watch_rules
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
			logger.Warn("Rules table does not exist, starting empty")
			return []*models.Rule{}, nil
		}
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*models.Rule, 0)
	for rows.Next() {
		var rule models.Rule
		var frequency string
		var dayOfWeek sql.NullInt64
		var threshold, lastRate sql.NullFloat64

		if err := rows.Scan(
			&rule.ID,
			&rule.CurrencyFrom,
			&rule.CurrencyTo,
			&frequency,
			&rule.TimeOfDay,
			&dayOfWeek,
			&threshold,
			&rule.NotifyIfBetter,
			&rule.NotifyIfWorse,
			&rule.Enabled,
			&lastRate,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rule.Frequency = models.Frequency(frequency)
		if dayOfWeek.Valid {
			rule.DayOfWeek = models.IntPtr(int(dayOfWeek.Int64))
		}
		if threshold.Valid {
			rule.ThresholdPercent = models.Float64Ptr(threshold.Float64)
		}
		if lastRate.Valid {
			rule.LastExchangeRate = models.Float64Ptr(lastRate.Float64)
		}

		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return rules, nil
}

// Save replaces the stored collection inside one transaction
func (s *DatabaseRuleStore) Save(ctx context.Context, rules []*models.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watch_rules`); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}

	query := `
		INSERT INTO watch_rules (
			id, position, currency_from, currency_to, frequency, time_of_day, day_of_week,
			threshold_percent, notify_if_better, notify_if_worse, enabled,
			last_exchange_rate, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	for i, rule := range rules {
		if rule == nil {
			continue
		}
		_, err := tx.ExecContext(ctx, query,
			rule.ID,
			i,
			rule.CurrencyFrom,
			rule.CurrencyTo,
			string(rule.Frequency),
			rule.TimeOfDay,
			nullInt(rule.DayOfWeek),
			nullFloat(rule.ThresholdPercent),
			rule.NotifyIfBetter,
			rule.NotifyIfWorse,
			rule.Enabled,
			nullFloat(rule.LastExchangeRate),
			rule.CreatedAt,
			rule.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rules: %w", err)
	}

	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
