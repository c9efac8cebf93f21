package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/internal/notify"
	"github.com/mohamedkhairy/rate-notifier/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateHandler_ListCurrencies(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/api/v1/currencies", nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, []interface{}{"EUR", "JPY", "USD"}, out["currencies"])
	assert.Equal(t, "2024-06-03", out["reference_date"])
}

func TestRateHandler_ListCurrencies_RefreshFailure(t *testing.T) {
	s := newTestServer(t)
	s.rates.ensureErr = errors.New("upstream down")

	w := s.do(t, "GET", "/api/v1/currencies", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code, "nothing cached yet")

	s.rates.refreshed = time.Date(2024, 6, 2, 16, 0, 0, 0, time.UTC)
	w = s.do(t, "GET", "/api/v1/currencies", nil)
	assert.Equal(t, http.StatusOK, w.Code, "stale table is served")
}

func TestRateHandler_GetRate(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/api/v1/rates/eur/usd", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "EUR", out["from"])
	assert.Equal(t, 1.0867, out["rate"])

	w = s.do(t, "GET", "/api/v1/rates/EUR/XYZ", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "GET", "/api/v1/rates/EURO/USD", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateHandler_SameCodeNeedsNoRates(t *testing.T) {
	s := newTestServer(t)
	s.rates.ensureErr = errors.New("upstream down")

	w := s.do(t, "GET", "/api/v1/rates/XYZ/xyz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["rate"])
}

func TestStatusHandler_GetStatus(t *testing.T) {
	s := newTestServer(t)
	checked := time.Date(2024, 6, 3, 9, 0, 30, 0, time.UTC)
	s.scheduler.lastChecked = checked
	s.scheduler.running = true

	w := s.do(t, "GET", "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, checked.Format(time.RFC3339), out["last_checked"])
	assert.Nil(t, out["last_rates_refresh"])
	assert.Equal(t, true, out["scheduler_running"])
	assert.Equal(t, "default", out["notification_permission"])
}

func TestStatusHandler_FallsBackToStoredStatus(t *testing.T) {
	s := newTestServer(t)
	stored := &models.Status{
		LastChecked:      time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC),
		LastRatesRefresh: time.Date(2024, 6, 2, 8, 59, 0, 0, time.UTC),
		ReferenceDate:    "2024-05-31",
	}
	require.NoError(t, s.status.SaveStatus(context.Background(), stored))

	w := s.do(t, "GET", "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, "2024-06-02T09:00:00Z", out["last_checked"])
	assert.Equal(t, "2024-06-02T08:59:00Z", out["last_rates_refresh"])
	assert.Equal(t, "2024-05-31", out["reference_date"])
}

func TestStatusHandler_RunCheck(t *testing.T) {
	s := newTestServer(t)
	s.scheduler.result = &scheduler.TickResult{TraceID: "trace-1", Due: 2, Evaluated: 2, Notified: 1}

	w := s.do(t, "POST", "/api/v1/scheduler/check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "trace-1", out["trace_id"])
	assert.Equal(t, float64(1), out["notified"])

	s.scheduler.result, s.scheduler.err = nil, scheduler.ErrTickInProgress
	w = s.do(t, "POST", "/api/v1/scheduler/check", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	s.scheduler.err = errors.New("scheduler tick panicked: boom")
	w = s.do(t, "POST", "/api/v1/scheduler/check", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNotificationHandler_Permission(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/api/v1/notifications/permission", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "default", decode(t, w)["permission"])

	w = s.do(t, "POST", "/api/v1/notifications/permission", map[string]string{"permission": "granted"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, notify.PermissionGranted, s.gate.Permission())

	w = s.do(t, "POST", "/api/v1/notifications/permission", map[string]string{"permission": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Permission")

	w = s.do(t, "POST", "/api/v1/notifications/permission", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, notify.PermissionGranted, s.gate.Permission())
}

func TestNotificationHandler_SendTest(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/api/v1/notifications/test", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, s.sink.titles)

	require.NoError(t, s.gate.SetPermission(notify.PermissionGranted))
	w = s.do(t, "POST", "/api/v1/notifications/test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{notify.TestTitle}, s.sink.titles)

	s.sink.err = errors.New("redis unavailable")
	w = s.do(t, "POST", "/api/v1/notifications/test", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestNewStatusHandler_PanicsOnNil(t *testing.T) {
	rates := &fakeRates{}
	gate := notify.NewGate(&recordingSink{}, notify.PermissionDenied)

	assert.Panics(t, func() { NewStatusHandler(nil, rates, gate, nil) })
	assert.Panics(t, func() { NewStatusHandler(&fakeScheduler{}, nil, gate, nil) })
	assert.Panics(t, func() { NewStatusHandler(&fakeScheduler{}, rates, nil, nil) })
	assert.NotPanics(t, func() { NewStatusHandler(&fakeScheduler{}, rates, gate, nil) })
}
