package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/rate-notifier/internal/export"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/internal/rules"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// Defaults applied to fields a client leaves out of a rule request
const (
	DefaultCurrencyFrom = "EUR"
	DefaultCurrencyTo   = "USD"
)

var validate = validator.New()

// RuleManager is the rule CRUD surface the API needs
type RuleManager interface {
	List(ctx context.Context) ([]*models.Rule, error)
	Get(ctx context.Context, id string) (*models.Rule, error)
	Create(ctx context.Context, rule *models.Rule) (*models.Rule, error)
	Update(ctx context.Context, id string, rule *models.Rule) (*models.Rule, error)
	Delete(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string) (*models.Rule, error)
	Import(ctx context.Context, imported []*models.Rule) ([]*models.Rule, error)
}

// RuleRequest is the body of POST and PUT /api/v1/rules
type RuleRequest struct {
	CurrencyFrom     string   `json:"currency_from" validate:"omitempty,len=3,alpha"`
	CurrencyTo       string   `json:"currency_to" validate:"omitempty,len=3,alpha"`
	Frequency        string   `json:"frequency" validate:"omitempty,oneof=daily weekly"`
	TimeOfDay        string   `json:"time_of_day" validate:"omitempty,max=5"`
	DayOfWeek        *int     `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	ThresholdPercent *float64 `json:"threshold_percent" validate:"omitempty,gte=0"`
	NotifyIfBetter   *bool    `json:"notify_if_better"`
	NotifyIfWorse    *bool    `json:"notify_if_worse"`
	Enabled          *bool    `json:"enabled"`
}

// toRule applies the request defaults: EUR → USD, daily, flags on
func (req *RuleRequest) toRule() *models.Rule {
	rule := &models.Rule{
		CurrencyFrom:     req.CurrencyFrom,
		CurrencyTo:       req.CurrencyTo,
		Frequency:        models.Frequency(req.Frequency),
		TimeOfDay:        req.TimeOfDay,
		DayOfWeek:        req.DayOfWeek,
		ThresholdPercent: req.ThresholdPercent,
		NotifyIfBetter:   boolOrTrue(req.NotifyIfBetter),
		NotifyIfWorse:    boolOrTrue(req.NotifyIfWorse),
		Enabled:          boolOrTrue(req.Enabled),
	}
	if rule.CurrencyFrom == "" {
		rule.CurrencyFrom = DefaultCurrencyFrom
	}
	if rule.CurrencyTo == "" {
		rule.CurrencyTo = DefaultCurrencyTo
	}
	if rule.Frequency == "" {
		rule.Frequency = models.FrequencyDaily
	}
	return rule
}

func boolOrTrue(v *bool) bool {
	return v == nil || *v
}

// ruleResponse adds the schedule preview to a rule
type ruleResponse struct {
	*models.Rule
	NextRun string `json:"next_run"`
}

func newRuleResponse(rule *models.Rule) ruleResponse {
	return ruleResponse{Rule: rule, NextRun: rules.NextRunPreview(rule)}
}

// RuleHandler handles rule management endpoints
type RuleHandler struct {
	manager RuleManager
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(manager RuleManager) *RuleHandler {
	if manager == nil {
		panic("rule manager cannot be nil")
	}
	return &RuleHandler{manager: manager}
}

// ListRules handles GET /api/v1/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	allRules, err := h.manager.List(r.Context())
	if err != nil {
		logger.Error("Failed to list rules", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve rules")
		return
	}

	response := make([]ruleResponse, 0, len(allRules))
	for _, rule := range allRules {
		response = append(response, newRuleResponse(rule))
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"rules": response,
		"count": len(response),
	})
}

// GetRule handles GET /api/v1/rules/{id}
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.manager.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithRuleError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newRuleResponse(rule))
}

// CreateRule handles POST /api/v1/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	req, ok := bindRuleRequest(w, r)
	if !ok {
		return
	}

	rule, err := h.manager.Create(r.Context(), req.toRule())
	if err != nil {
		respondWithRuleError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newRuleResponse(rule))
}

// UpdateRule handles PUT /api/v1/rules/{id}. The rule keeps its id and
// baseline rate.
func (h *RuleHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	req, ok := bindRuleRequest(w, r)
	if !ok {
		return
	}

	rule, err := h.manager.Update(r.Context(), mux.Vars(r)["id"], req.toRule())
	if err != nil {
		respondWithRuleError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newRuleResponse(rule))
}

// DeleteRule handles DELETE /api/v1/rules/{id}
func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]
	if err := h.manager.Delete(r.Context(), ruleID); err != nil {
		respondWithRuleError(w, err)
		return
	}

	logger.Info("Rule deleted",
		logger.String("rule_id", ruleID),
	)
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Rule deleted"})
}

// ToggleRule handles POST /api/v1/rules/{id}/toggle
func (h *RuleHandler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.manager.Toggle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithRuleError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newRuleResponse(rule))
}

// ExportRules handles GET /api/v1/rules/export.csv
func (h *RuleHandler) ExportRules(w http.ResponseWriter, r *http.Request) {
	allRules, err := h.manager.List(r.Context())
	if err != nil {
		logger.Error("Failed to list rules for export", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve rules")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteRulesCSV(&buf, allRules); err != nil {
		logger.Error("Failed to export rules", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to export rules")
		return
	}
	respondWithFile(w, export.ContentTypeCSV, "rules.csv", buf.Bytes())
}

// ImportRules handles POST /api/v1/rules/import. The body is a JSON array of
// rules (or a single rule) in the stored format; the import is all or nothing.
func (h *RuleHandler) ImportRules(w http.ResponseWriter, r *http.Request) {
	parsed, err := rules.ParseRulesFromReader(r.Body)
	if err != nil {
		if errors.Is(err, models.ErrRuleExists) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	imported, err := h.manager.Import(r.Context(), parsed)
	if err != nil {
		respondWithRuleError(w, err)
		return
	}

	response := make([]ruleResponse, 0, len(imported))
	for _, rule := range imported {
		response = append(response, newRuleResponse(rule))
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"rules": response,
		"count": len(response),
	})
}

// HistoryHandler handles notification history endpoints
type HistoryHandler struct {
	history  storage.HistoryLog
	location *time.Location
}

// NewHistoryHandler creates a new history handler. loc is the zone Markdown
// dates are rendered in.
func NewHistoryHandler(history storage.HistoryLog, loc *time.Location) *HistoryHandler {
	if history == nil {
		panic("history log cannot be nil")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &HistoryHandler{history: history, location: loc}
}

// ListHistory handles GET /api/v1/history. ?limit=N returns the N most
// recent entries, still in insertion order.
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.load(w, r)
	if !ok {
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// ExportHistoryCSV handles GET /api/v1/history/export.csv
func (h *HistoryHandler) ExportHistoryCSV(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.load(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.WriteHistoryCSV(&buf, entries); err != nil {
		logger.Error("Failed to export history", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to export history")
		return
	}
	respondWithFile(w, export.ContentTypeCSV, "history.csv", buf.Bytes())
}

// ExportHistoryMarkdown handles GET /api/v1/history/export.md
func (h *HistoryHandler) ExportHistoryMarkdown(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.load(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.WriteHistoryMarkdown(&buf, entries, h.location); err != nil {
		logger.Error("Failed to export history", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to export history")
		return
	}
	respondWithFile(w, export.ContentTypeMarkdown, "history.md", buf.Bytes())
}

func (h *HistoryHandler) load(w http.ResponseWriter, r *http.Request) ([]*models.HistoryEntry, bool) {
	entries, err := h.history.Load(r.Context())
	if err != nil {
		logger.Error("Failed to load history", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return nil, false
	}
	return entries, true
}

// Helper functions

func bindRuleRequest(w http.ResponseWriter, r *http.Request) (*RuleRequest, bool) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if err := validate.Struct(&req); err != nil {
		respondWithValidationError(w, err)
		return nil, false
	}
	return &req, true
}

func respondWithValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	fields := make(map[string]string, len(validationErrors))
	names := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields[fieldErr.Field()] = fieldErr.Tag()
		names = append(names, fieldErr.Field())
	}

	respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "Validation failed: " + strings.Join(names, ", "),
		"code":   http.StatusBadRequest,
		"fields": fields,
	})
}

// respondWithRuleError maps rule errors to HTTP status codes
func respondWithRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrRuleNotFound):
		respondWithError(w, http.StatusNotFound, "Rule not found")
	case errors.Is(err, models.ErrRuleExists):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidRuleID),
		errors.Is(err, models.ErrInvalidCurrency),
		errors.Is(err, models.ErrInvalidFrequency),
		errors.Is(err, models.ErrInvalidTimeOfDay),
		errors.Is(err, models.ErrMissingDayOfWeek),
		errors.Is(err, models.ErrInvalidDayOfWeek),
		errors.Is(err, models.ErrInvalidThreshold):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("Rule operation failed", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to access rules")
	}
}

func respondWithFile(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
