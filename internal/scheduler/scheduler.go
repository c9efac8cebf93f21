package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/internal/notify"
	"github.com/mohamedkhairy/rate-notifier/internal/rules"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
	"go.uber.org/zap"
)

// ErrTickInProgress is returned by Tick when another tick is still running
var ErrTickInProgress = errors.New("scheduler tick already in progress")

// minuteLayout identifies a wall-clock minute in the scheduler's time zone
const minuteLayout = "2006-01-02T15:04"

// RuleSource is the part of rules.Manager the scheduler needs
type RuleSource interface {
	List(ctx context.Context) ([]*models.Rule, error)
	ApplyBaselines(ctx context.Context, baselines map[string]float64) (int, error)
}

// RateSource is the part of rates.Provider the scheduler needs
type RateSource interface {
	EnsureFresh(ctx context.Context, maxAge time.Duration) error
	GetRate(from, to string) (float64, bool)
	LastRefreshed() time.Time
	ReferenceDate() string
}

// Config holds configuration for the scheduler
type Config struct {
	TickInterval      time.Duration  // How often to look for due rules (default: 30s, at most 1m)
	Location          *time.Location // Time zone rule times are matched in (default: time.Local)
	MaxRateAge        time.Duration  // Staleness window for the rate table (default: 24h)
	NotificationTitle string         // Title of rate notifications
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		TickInterval:      30 * time.Second,
		Location:          time.Local,
		MaxRateAge:        24 * time.Hour,
		NotificationTitle: "Exchange rate alert",
	}
}

// TickResult summarizes one tick
type TickResult struct {
	TraceID          string
	CheckedAt        time.Time
	Due              int
	Evaluated        int
	Notified         int
	Unavailable      int
	BaselinesUpdated int
	RefreshFailed    bool
}

// Stats holds cumulative scheduler statistics
type Stats struct {
	Ticks            int64
	RulesDue         int64
	Evaluations      int64
	Notifications    int64
	RefreshFailures  int64
	LastTickDuration time.Duration
	mu               sync.RWMutex
}

// Scheduler periodically evaluates due rules against current exchange rates
type Scheduler struct {
	config   Config
	rules    RuleSource
	rates    RateSource
	notifier notify.Notifier
	history  storage.HistoryLog
	status   storage.StatusStore
	now      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	ticking   atomic.Bool
	fired     map[string]string // rule id -> minute it last fired in; owned by the running tick
	lastCheck atomic.Pointer[time.Time]
	stats     Stats
}

// NewScheduler creates a new scheduler. status may be nil.
func NewScheduler(
	config Config,
	ruleSource RuleSource,
	rateSource RateSource,
	notifier notify.Notifier,
	history storage.HistoryLog,
	status storage.StatusStore,
) *Scheduler {
	if ruleSource == nil {
		panic("rule source cannot be nil")
	}
	if rateSource == nil {
		panic("rate source cannot be nil")
	}
	if notifier == nil {
		panic("notifier cannot be nil")
	}
	if history == nil {
		panic("history log cannot be nil")
	}

	defaults := DefaultConfig()
	if config.TickInterval <= 0 || config.TickInterval > time.Minute {
		config.TickInterval = defaults.TickInterval
	}
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.MaxRateAge <= 0 {
		config.MaxRateAge = defaults.MaxRateAge
	}
	if config.NotificationTitle == "" {
		config.NotificationTitle = defaults.NotificationTitle
	}

	return &Scheduler{
		config:   config,
		rules:    ruleSource,
		rates:    rateSource,
		notifier: notifier,
		history:  history,
		status:   status,
		now:      time.Now,
		fired:    make(map[string]string),
	}
}

// SetClock overrides the time source (used by tests)
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Start starts the tick loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.restoreStatus()

	logger.Info("Starting scheduler",
		logger.Duration("tick_interval", s.config.TickInterval),
		logger.String("timezone", s.config.Location.String()),
		logger.Duration("max_rate_age", s.config.MaxRateAge),
	)

	s.wg.Add(1)
	go s.run(s.ctx)

	return nil
}

// Stop stops the tick loop and waits for an in-flight tick to complete.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	logger.Info("Stopping scheduler")
	cancel()
	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

// IsRunning returns whether the tick loop is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastChecked returns when the scheduler last looked for due rules
func (s *Scheduler) LastChecked() time.Time {
	if t := s.lastCheck.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	return Stats{
		Ticks:            s.stats.Ticks,
		RulesDue:         s.stats.RulesDue,
		Evaluations:      s.stats.Evaluations,
		Notifications:    s.stats.Notifications,
		RefreshFailures:  s.stats.RefreshFailures,
		LastTickDuration: s.stats.LastTickDuration,
	}
}

// run is the main tick loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	// A tick that has started finishes even when Stop is called
	tickCtx := context.WithoutCancel(ctx)

	// Run initial tick immediately
	s.runTick(tickCtx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(tickCtx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		logger.Error("Scheduler tick failed", logger.ErrorField(err))
	}
}

// Tick performs a single check of every rule (exported for testing and for
// on-demand checks). It returns ErrTickInProgress without doing anything if
// another tick is running.
func (s *Scheduler) Tick(ctx context.Context) (result *TickResult, err error) {
	if !s.ticking.CompareAndSwap(false, true) {
		ticksTotal.WithLabelValues("overlapped").Inc()
		return nil, ErrTickInProgress
	}
	defer s.ticking.Store(false)

	start := time.Now()
	traceID := logger.NewTraceID()
	ctx = logger.WithTraceID(ctx, traceID)
	log := logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			ticksTotal.WithLabelValues("panicked").Inc()
			logger.ErrorsTotal.WithLabelValues("scheduler", "panic").Inc()
			log.Error("Recovered from panic in scheduler tick", logger.Any("panic", r), zap.Stack("stack"))
			result = nil
			err = fmt.Errorf("scheduler tick panicked: %v", r)
		}
	}()

	result = &TickResult{TraceID: traceID}
	s.tick(ctx, log, result)

	elapsed := time.Since(start)
	tickDuration.Observe(elapsed.Seconds())
	s.recordStats(result, elapsed)

	return result, nil
}

func (s *Scheduler) tick(ctx context.Context, log *zap.Logger, result *TickResult) {
	now := s.now().In(s.config.Location)
	minute := now.Format(minuteLayout)
	result.CheckedAt = now

	ruleList, err := s.rules.List(ctx)
	if err != nil {
		log.Warn("Failed to load rules, treating as empty", logger.ErrorField(err))
		ruleList = nil
	}

	due := s.dueRules(ruleList, now, minute)
	result.Due = len(due)

	if len(due) == 0 {
		ticksTotal.WithLabelValues("idle").Inc()
		s.recordCheck(ctx, now)
		return
	}

	rulesDueTotal.Add(float64(len(due)))
	log.Info("Rules due",
		logger.Int("due", len(due)),
		logger.String("minute", minute),
	)

	if err := s.rates.EnsureFresh(ctx, s.config.MaxRateAge); err != nil {
		// Rules stay unfired so a later tick within the same minute can retry
		ticksTotal.WithLabelValues("refresh_failed").Inc()
		logger.ErrorsTotal.WithLabelValues("scheduler", "rate_refresh").Inc()
		log.Warn("Failed to refresh rates, skipping due rules",
			logger.ErrorField(err),
			logger.Int("skipped", len(due)),
		)
		result.RefreshFailed = true
		s.recordCheck(ctx, now)
		return
	}

	baselines := make(map[string]float64, len(due))
	for _, rule := range due {
		s.fired[rule.ID] = minute
		s.evaluate(ctx, log, rule, now, baselines, result)
	}

	if len(baselines) > 0 {
		changed, err := s.rules.ApplyBaselines(ctx, baselines)
		if err != nil {
			log.Warn("Failed to save rule baselines", logger.ErrorField(err))
		}
		result.BaselinesUpdated = changed
	}

	ticksTotal.WithLabelValues("evaluated").Inc()
	s.recordCheck(ctx, now)

	log.Info("Scheduler tick completed",
		logger.Int("due", result.Due),
		logger.Int("evaluated", result.Evaluated),
		logger.Int("notified", result.Notified),
		logger.Int("unavailable", result.Unavailable),
		logger.Int("baselines_updated", result.BaselinesUpdated),
	)
}

// dueRules selects the rules due in this minute that have not fired in it yet
func (s *Scheduler) dueRules(ruleList []*models.Rule, now time.Time, minute string) []*models.Rule {
	for id, firedIn := range s.fired {
		if firedIn != minute {
			delete(s.fired, id)
		}
	}

	due := make([]*models.Rule, 0)
	for _, rule := range ruleList {
		if !rules.IsDue(rule, now) {
			continue
		}
		if s.fired[rule.ID] == minute {
			continue
		}
		due = append(due, rule)
	}
	return due
}

func (s *Scheduler) evaluate(
	ctx context.Context,
	log *zap.Logger,
	rule *models.Rule,
	now time.Time,
	baselines map[string]float64,
	result *TickResult,
) {
	rate, ok := s.rates.GetRate(rule.CurrencyFrom, rule.CurrencyTo)
	if !ok {
		evaluationsTotal.WithLabelValues("unavailable").Inc()
		result.Unavailable++
		log.Warn("Rate unavailable, skipping rule",
			logger.String("rule_id", rule.ID),
			logger.String("pair", rule.Pair()),
		)
		return
	}

	evaluation := rules.Evaluate(rule, rate)
	result.Evaluated++
	baselines[rule.ID] = evaluation.Rate

	if !evaluation.Notify {
		evaluationsTotal.WithLabelValues("baseline").Inc()
		log.Debug("Rule evaluated without notification",
			logger.String("rule_id", rule.ID),
			logger.Float64("rate", evaluation.Rate),
			logger.Float64("percent", evaluation.Percent),
			logger.Bool("has_delta", evaluation.HasDelta),
		)
		return
	}

	evaluationsTotal.WithLabelValues("notified").Inc()
	notificationsTotal.WithLabelValues(string(evaluation.Direction)).Inc()
	result.Notified++

	if err := s.notifier.Notify(ctx, s.config.NotificationTitle, evaluation.Message); err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			log.Debug("Notification suppressed, permission not granted",
				logger.String("rule_id", rule.ID),
			)
		} else {
			logger.ErrorsTotal.WithLabelValues("scheduler", "notify").Inc()
			log.Warn("Failed to deliver notification",
				logger.ErrorField(err),
				logger.String("rule_id", rule.ID),
			)
		}
	}

	entry := &models.HistoryEntry{
		ID:        uuid.New().String(),
		Date:      now.UTC(),
		RuleID:    rule.ID,
		Pair:      rule.Pair(),
		Direction: evaluation.Direction,
		Rate:      evaluation.Rate,
		Delta:     evaluation.Delta,
		Percent:   evaluation.Percent,
		Message:   evaluation.Message,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		log.Warn("Failed to append history entry",
			logger.ErrorField(err),
			logger.String("rule_id", rule.ID),
		)
	}
}

// recordCheck stores the "last checked" time and the rate bookkeeping
func (s *Scheduler) recordCheck(ctx context.Context, now time.Time) {
	s.lastCheck.Store(&now)

	if s.status == nil {
		return
	}

	status := &models.Status{
		LastChecked:      now.UTC(),
		LastRatesRefresh: s.rates.LastRefreshed(),
		ReferenceDate:    s.rates.ReferenceDate(),
	}
	if err := s.status.SaveStatus(ctx, status); err != nil {
		logger.WithContext(ctx).Warn("Failed to save scheduler status", logger.ErrorField(err))
	}
}

// restoreStatus seeds LastChecked from the persisted status
func (s *Scheduler) restoreStatus() {
	if s.status == nil || !s.LastChecked().IsZero() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := s.status.LoadStatus(ctx)
	if err != nil {
		logger.Warn("Failed to load scheduler status", logger.ErrorField(err))
		return
	}
	if !status.LastChecked.IsZero() {
		lastChecked := status.LastChecked
		s.lastCheck.Store(&lastChecked)
	}
}

func (s *Scheduler) recordStats(result *TickResult, elapsed time.Duration) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.Ticks++
	s.stats.RulesDue += int64(result.Due)
	s.stats.Evaluations += int64(result.Evaluated)
	s.stats.Notifications += int64(result.Notified)
	if result.RefreshFailed {
		s.stats.RefreshFailures++
	}
	s.stats.LastTickDuration = elapsed
}
