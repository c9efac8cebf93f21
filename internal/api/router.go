package api

import (
	"github.com/gorilla/mux"
)

// Handlers groups the handlers mounted under /api/v1
type Handlers struct {
	Rules         *RuleHandler
	History       *HistoryHandler
	Rates         *RateHandler
	Status        *StatusHandler
	Notifications *NotificationHandler
}

// NewRouter registers the v1 API routes. Request logging and metrics run as
// router middleware so they can label requests by route template.
func NewRouter(h Handlers) *mux.Router {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(LoggingMiddleware()))

	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Rule management endpoints; fixed paths before {id} so they are not taken as an id
	v1.HandleFunc("/rules", h.Rules.ListRules).Methods("GET")
	v1.HandleFunc("/rules", h.Rules.CreateRule).Methods("POST")
	v1.HandleFunc("/rules/export.csv", h.Rules.ExportRules).Methods("GET")
	v1.HandleFunc("/rules/import", h.Rules.ImportRules).Methods("POST")
	v1.HandleFunc("/rules/{id}", h.Rules.GetRule).Methods("GET")
	v1.HandleFunc("/rules/{id}", h.Rules.UpdateRule).Methods("PUT")
	v1.HandleFunc("/rules/{id}", h.Rules.DeleteRule).Methods("DELETE")
	v1.HandleFunc("/rules/{id}/toggle", h.Rules.ToggleRule).Methods("POST")

	// History endpoints
	v1.HandleFunc("/history", h.History.ListHistory).Methods("GET")
	v1.HandleFunc("/history/export.csv", h.History.ExportHistoryCSV).Methods("GET")
	v1.HandleFunc("/history/export.md", h.History.ExportHistoryMarkdown).Methods("GET")

	// Rate endpoints
	v1.HandleFunc("/currencies", h.Rates.ListCurrencies).Methods("GET")
	v1.HandleFunc("/rates/{from}/{to}", h.Rates.GetRate).Methods("GET")

	// Scheduler endpoints
	v1.HandleFunc("/status", h.Status.GetStatus).Methods("GET")
	v1.HandleFunc("/scheduler/check", h.Status.RunCheck).Methods("POST")

	// Notification endpoints
	v1.HandleFunc("/notifications/permission", h.Notifications.GetPermission).Methods("GET")
	v1.HandleFunc("/notifications/permission", h.Notifications.SetPermission).Methods("POST")
	v1.HandleFunc("/notifications/test", h.Notifications.SendTest).Methods("POST")

	return router
}
