package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/api"
	"github.com/mohamedkhairy/rate-notifier/internal/config"
	"github.com/mohamedkhairy/rate-notifier/internal/notify"
	"github.com/mohamedkhairy/rate-notifier/internal/pubsub"
	"github.com/mohamedkhairy/rate-notifier/internal/rates"
	"github.com/mohamedkhairy/rate-notifier/internal/rules"
	"github.com/mohamedkhairy/rate-notifier/internal/scheduler"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/mohamedkhairy/rate-notifier/internal/wsgateway"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	location, _ := cfg.Scheduler.Location() // validated by config.Load

	logger.Info("Starting rate notifier",
		logger.Int("port", cfg.API.Port),
		logger.String("storage_backend", cfg.Storage.Backend),
		logger.String("timezone", location.String()),
		logger.Duration("tick_interval", cfg.Scheduler.TickInterval),
	)

	// Initialize Redis client when a component needs it
	var redisClient storage.RedisClient
	if needsRedis(cfg) {
		redisClient, err = pubsub.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to initialize Redis client",
				logger.ErrorField(err),
			)
		}
		defer redisClient.Close()
	}

	// Initialize persistence
	backend, err := openStores(cfg, redisClient)
	if err != nil {
		logger.Fatal("Failed to initialize storage",
			logger.ErrorField(err),
			logger.String("backend", cfg.Storage.Backend),
		)
	}
	defer backend.Close()

	manager := rules.NewManager(backend.rules)

	// Initialize rate provider
	provider := rates.NewProvider(rates.ProviderConfig{
		SourceURL:    cfg.Rates.SourceURL,
		BaseCurrency: cfg.Rates.BaseCurrency,
		HTTPTimeout:  cfg.Rates.HTTPTimeout,
		MaxRetries:   cfg.Rates.MaxRetries,
		RetryDelay:   cfg.Rates.RetryDelay,
	}, nil)

	// Initialize notification delivery. With a Redis channel every
	// notification goes through pub/sub and the hub relays it; otherwise the
	// hub is fed directly.
	sinks := []notify.Notifier{notify.LogNotifier{}}
	var hub *wsgateway.Hub
	if cfg.Notifier.RedisChannel != "" {
		sinks = append(sinks, notify.NewRedisNotifier(redisClient, notify.RedisNotifierConfig{
			Channel: cfg.Notifier.RedisChannel,
		}))
		if cfg.WSGateway.Enabled {
			hub = wsgateway.NewHub(cfg.WSGateway, redisClient, cfg.Notifier.RedisChannel)
		}
	} else if cfg.WSGateway.Enabled {
		hub = wsgateway.NewHub(cfg.WSGateway, nil, "")
		sinks = append(sinks, hub)
	}

	permission, _ := notify.ParsePermission(cfg.Notifier.Permission) // validated by config.Load
	gate := notify.NewGate(notify.NewMulti(sinks...), permission)

	if hub != nil {
		if err := hub.Start(); err != nil {
			logger.Fatal("Failed to start WebSocket hub",
				logger.ErrorField(err),
			)
		}
		defer hub.Stop()
	}

	// Initialize scheduler
	sched := scheduler.NewScheduler(scheduler.Config{
		TickInterval:      cfg.Scheduler.TickInterval,
		Location:          location,
		MaxRateAge:        cfg.Rates.MaxAge,
		NotificationTitle: cfg.Notifier.Title,
	}, manager, provider, gate, backend.history, backend.status)

	if err := sched.Start(); err != nil {
		logger.Fatal("Failed to start scheduler",
			logger.ErrorField(err),
		)
	}

	// Set up router
	router := api.NewRouter(api.Handlers{
		Rules:         api.NewRuleHandler(manager),
		History:       api.NewHistoryHandler(backend.history, location),
		Rates:         api.NewRateHandler(provider, cfg.Rates.MaxAge),
		Status:        api.NewStatusHandler(sched, provider, gate, backend.status),
		Notifications: api.NewNotificationHandler(gate),
	})

	if hub != nil {
		router.HandleFunc("/ws", hub.ServeWS)
	}

	// Health check endpoints
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		// The rule store must be reachable and the scheduler running
		if _, err := manager.List(r.Context()); err != nil || !sched.IsRunning() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Apply middleware
	middlewares := api.ChainMiddleware(
		api.CORSMiddleware(),
		api.ErrorHandlingMiddleware(),
		api.RateLimitMiddleware(cfg.API.RateLimitRPS),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           middlewares(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server",
			logger.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server",
				logger.ErrorField(err),
			)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down rate notifier")

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}

	// Let an in-flight tick finish before the stores close
	sched.Stop()

	logger.Info("Rate notifier stopped")
}
