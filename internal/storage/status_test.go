package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStatus() *models.Status {
	return &models.Status{
		LastChecked:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		LastRatesRefresh: time.Date(2024, 5, 1, 8, 59, 58, 0, time.UTC),
		ReferenceDate:    "2024-04-30",
	}
}

func assertStatusEqual(t *testing.T, want, got *models.Status) {
	t.Helper()
	assert.True(t, want.LastChecked.Equal(got.LastChecked))
	assert.True(t, want.LastRatesRefresh.Equal(got.LastRatesRefresh))
	assert.Equal(t, want.ReferenceDate, got.ReferenceDate)
}

func TestMemoryStatusStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStatusStore()

	status, err := store.LoadStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.LastChecked.IsZero())

	require.NoError(t, store.SaveStatus(ctx, sampleStatus()))
	status, err = store.LoadStatus(ctx)
	require.NoError(t, err)
	assertStatusEqual(t, sampleStatus(), status)
}

func TestFileStatusStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStatusStore(dir)
	require.NoError(t, err)

	status, err := store.LoadStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.LastChecked.IsZero())

	require.NoError(t, store.SaveStatus(ctx, sampleStatus()))

	status, err = store.LoadStatus(ctx)
	require.NoError(t, err)
	assertStatusEqual(t, sampleStatus(), status)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultStatusFileName), []byte("[]"), 0o644))
	status, err = store.LoadStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.ReferenceDate)
}

func TestRedisStatusStore(t *testing.T) {
	ctx := context.Background()
	mockRedis := NewMockRedisClient()

	store, err := NewRedisStatusStore(mockRedis, "")
	require.NoError(t, err)

	status, err := store.LoadStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.LastChecked.IsZero())

	require.NoError(t, store.SaveStatus(ctx, sampleStatus()))
	assert.Contains(t, mockRedis.Data, DefaultRedisStatusKey)

	status, err = store.LoadStatus(ctx)
	require.NoError(t, err)
	assertStatusEqual(t, sampleStatus(), status)

	mockRedis.Data[DefaultRedisStatusKey] = "{broken"
	status, err = store.LoadStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.ReferenceDate)

	mockRedis.GetErr = errors.New("connection refused")
	_, err = store.LoadStatus(ctx)
	assert.Error(t, err)
}

func TestDatabaseStatusStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewDatabaseStatusStore(db)
	ctx := context.Background()
	want := sampleStatus()

	mock.ExpectExec("INSERT INTO notifier_status").
		WithArgs(want.LastChecked, want.LastRatesRefresh, want.ReferenceDate).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.SaveStatus(ctx, want))

	rows := sqlmock.NewRows([]string{"last_checked", "last_rates_refresh", "reference_date"}).
		AddRow(want.LastChecked, nil, want.ReferenceDate)
	mock.ExpectQuery("SELECT (.+) FROM notifier_status").WillReturnRows(rows)

	status, err := store.LoadStatus(ctx)
	require.NoError(t, err)
	assert.True(t, want.LastChecked.Equal(status.LastChecked))
	assert.True(t, status.LastRatesRefresh.IsZero())
	assert.Equal(t, "2024-04-30", status.ReferenceDate)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseStatusStore_EmptyAndMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewDatabaseStatusStore(db)

	mock.ExpectQuery("SELECT (.+) FROM notifier_status").WillReturnError(sql.ErrNoRows)
	status, err := store.LoadStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.LastChecked.IsZero())

	mock.ExpectQuery("SELECT (.+) FROM notifier_status").WillReturnError(&pq.Error{Code: "42P01"})
	_, err = store.LoadStatus(context.Background())
	assert.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM notifier_status").WillReturnError(errors.New("boom"))
	_, err = store.LoadStatus(context.Background())
	assert.Error(t, err)
}
