package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/internal/notify"
	"github.com/mohamedkhairy/rate-notifier/internal/rules"
	"github.com/mohamedkhairy/rate-notifier/internal/scheduler"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// RateService is the part of rates.Provider the API needs
type RateService interface {
	EnsureFresh(ctx context.Context, maxAge time.Duration) error
	GetRate(from, to string) (float64, bool)
	ListCodes() []string
	LastRefreshed() time.Time
	ReferenceDate() string
}

// SchedulerService is the part of scheduler.Scheduler the API needs
type SchedulerService interface {
	Tick(ctx context.Context) (*scheduler.TickResult, error)
	IsRunning() bool
	LastChecked() time.Time
}

// PermissionGate is the part of notify.Gate the API needs
type PermissionGate interface {
	Permission() notify.Permission
	SetPermission(permission notify.Permission) error
	SendTest(ctx context.Context) error
}

// RateHandler handles currency and rate lookups
type RateHandler struct {
	rates  RateService
	maxAge time.Duration
}

// NewRateHandler creates a new rate handler
func NewRateHandler(rates RateService, maxAge time.Duration) *RateHandler {
	if rates == nil {
		panic("rate service cannot be nil")
	}
	return &RateHandler{rates: rates, maxAge: maxAge}
}

// ListCurrencies handles GET /api/v1/currencies. A failed refresh still
// answers from the cached table when there is one.
func (h *RateHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	if !h.ensureFresh(w, r) {
		return
	}

	codes := h.rates.ListCodes()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"currencies":     codes,
		"count":          len(codes),
		"reference_date": h.rates.ReferenceDate(),
	})
}

// GetRate handles GET /api/v1/rates/{from}/{to}
func (h *RateHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	from := strings.ToUpper(vars["from"])
	to := strings.ToUpper(vars["to"])

	for _, code := range []string{from, to} {
		if err := rules.ValidateCurrencyCode(code); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if from != to && !h.ensureFresh(w, r) {
		return
	}

	rate, ok := h.rates.GetRate(from, to)
	if !ok {
		respondWithError(w, http.StatusNotFound, models.ErrRateUnavailable.Error()+": "+models.PairLabel(from, to))
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"from":           from,
		"to":             to,
		"rate":           rate,
		"reference_date": h.rates.ReferenceDate(),
		"refreshed_at":   h.rates.LastRefreshed(),
	})
}

func (h *RateHandler) ensureFresh(w http.ResponseWriter, r *http.Request) bool {
	err := h.rates.EnsureFresh(r.Context(), h.maxAge)
	if err == nil {
		return true
	}

	if h.rates.LastRefreshed().IsZero() {
		logger.Error("Failed to fetch exchange rates", logger.ErrorField(err))
		respondWithError(w, http.StatusBadGateway, "Exchange rates unavailable")
		return false
	}

	logger.Warn("Failed to refresh exchange rates, serving cached table",
		logger.ErrorField(err),
		logger.Time("last_refreshed", h.rates.LastRefreshed()),
	)
	return true
}

// StatusHandler reports scheduler state and runs on-demand checks
type StatusHandler struct {
	scheduler SchedulerService
	rates     RateService
	gate      PermissionGate
	status    storage.StatusStore
}

// NewStatusHandler creates a new status handler. status may be nil; when
// set it fills in timestamps this process has not produced yet.
func NewStatusHandler(sched SchedulerService, rates RateService, gate PermissionGate, status storage.StatusStore) *StatusHandler {
	if sched == nil {
		panic("scheduler cannot be nil")
	}
	if rates == nil {
		panic("rate service cannot be nil")
	}
	if gate == nil {
		panic("permission gate cannot be nil")
	}
	return &StatusHandler{scheduler: sched, rates: rates, gate: gate, status: status}
}

type statusResponse struct {
	LastChecked            *time.Time `json:"last_checked"`
	LastRatesRefresh       *time.Time `json:"last_rates_refresh"`
	ReferenceDate          string     `json:"reference_date,omitempty"`
	SchedulerRunning       bool       `json:"scheduler_running"`
	NotificationPermission string     `json:"notification_permission"`
}

// GetStatus handles GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	lastChecked := h.scheduler.LastChecked()
	lastRefresh := h.rates.LastRefreshed()
	referenceDate := h.rates.ReferenceDate()

	if h.status != nil && (lastChecked.IsZero() || lastRefresh.IsZero()) {
		stored, err := h.status.LoadStatus(r.Context())
		if err != nil {
			logger.Warn("Failed to load stored status", logger.ErrorField(err))
		} else {
			if lastChecked.IsZero() {
				lastChecked = stored.LastChecked
			}
			if lastRefresh.IsZero() {
				lastRefresh = stored.LastRatesRefresh
				referenceDate = stored.ReferenceDate
			}
		}
	}

	respondWithJSON(w, http.StatusOK, statusResponse{
		LastChecked:            optionalTime(lastChecked),
		LastRatesRefresh:       optionalTime(lastRefresh),
		ReferenceDate:          referenceDate,
		SchedulerRunning:       h.scheduler.IsRunning(),
		NotificationPermission: string(h.gate.Permission()),
	})
}

// RunCheck handles POST /api/v1/scheduler/check
func (h *StatusHandler) RunCheck(w http.ResponseWriter, r *http.Request) {
	// The tick outlives a client that disconnects mid-request
	result, err := h.scheduler.Tick(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, scheduler.ErrTickInProgress) {
			respondWithError(w, http.StatusConflict, "A check is already in progress")
			return
		}
		logger.Error("On-demand check failed", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Check failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"trace_id":          result.TraceID,
		"checked_at":        result.CheckedAt,
		"due":               result.Due,
		"evaluated":         result.Evaluated,
		"notified":          result.Notified,
		"unavailable":       result.Unavailable,
		"baselines_updated": result.BaselinesUpdated,
		"refresh_failed":    result.RefreshFailed,
	})
}

// NotificationHandler manages the notification permission
type NotificationHandler struct {
	gate PermissionGate
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(gate PermissionGate) *NotificationHandler {
	if gate == nil {
		panic("permission gate cannot be nil")
	}
	return &NotificationHandler{gate: gate}
}

// PermissionRequest is the body of POST /api/v1/notifications/permission
type PermissionRequest struct {
	Permission string `json:"permission" validate:"required,oneof=granted denied default"`
}

// GetPermission handles GET /api/v1/notifications/permission
func (h *NotificationHandler) GetPermission(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"permission": string(h.gate.Permission()),
	})
}

// SetPermission handles POST /api/v1/notifications/permission
func (h *NotificationHandler) SetPermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	if err := h.gate.SetPermission(notify.Permission(req.Permission)); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"permission": string(h.gate.Permission()),
	})
}

// SendTest handles POST /api/v1/notifications/test
func (h *NotificationHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.SendTest(r.Context()); err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			respondWithError(w, http.StatusForbidden, "Notification permission not granted")
			return
		}
		logger.Error("Failed to send test notification", logger.ErrorField(err))
		respondWithError(w, http.StatusBadGateway, "Failed to deliver test notification")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Test notification sent"})
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
