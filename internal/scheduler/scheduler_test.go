package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/internal/notify"
	"github.com/mohamedkhairy/rate-notifier/internal/rates"
	"github.com/mohamedkhairy/rate-notifier/internal/rules"
	"github.com/mohamedkhairy/rate-notifier/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRates is a controllable RateSource
type fakeRates struct {
	mu          sync.Mutex
	rates       map[string]float64 // "FROM/TO" -> rate
	ensureErr   error
	ensureCalls int
	refreshed   time.Time
	onEnsure    func()
}

func newFakeRates() *fakeRates {
	return &fakeRates{rates: make(map[string]float64)}
}

func (f *fakeRates) set(from, to string, rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[from+"/"+to] = rate
}

func (f *fakeRates) EnsureFresh(ctx context.Context, maxAge time.Duration) error {
	f.mu.Lock()
	f.ensureCalls++
	hook := f.onEnsure
	err := f.ensureErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeRates) GetRate(from, to string) (float64, bool) {
	if from == to {
		return 1, true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rate, ok := f.rates[from+"/"+to]
	return rate, ok
}

func (f *fakeRates) LastRefreshed() time.Time { return f.refreshed }
func (f *fakeRates) ReferenceDate() string    { return "2024-06-03" }

func (f *fakeRates) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureCalls
}

// recordingNotifier captures delivered notifications
type recordingNotifier struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

// Monday 3 June 2024, 09:00:15 UTC
var monday0900 = time.Date(2024, 6, 3, 9, 0, 15, 0, time.UTC)

type fixture struct {
	scheduler *Scheduler
	manager   *rules.Manager
	rates     *fakeRates
	notifier  *recordingNotifier
	history   *storage.MockHistoryLog
	status    *storage.MemoryStatusStore
	now       *atomic.Pointer[time.Time]
}

func newFixture(t *testing.T, initial ...*models.Rule) *fixture {
	t.Helper()

	manager := rules.NewManager(rules.NewInMemoryRuleStore(initial...))
	f := &fixture{
		manager:  manager,
		rates:    newFakeRates(),
		notifier: &recordingNotifier{},
		history:  &storage.MockHistoryLog{},
		status:   storage.NewMemoryStatusStore(),
		now:      &atomic.Pointer[time.Time]{},
	}

	config := DefaultConfig()
	config.Location = time.UTC
	f.scheduler = NewScheduler(config, manager, f.rates, f.notifier, f.history, f.status)
	f.setNow(monday0900)
	f.scheduler.SetClock(func() time.Time { return *f.now.Load() })
	return f
}

func (f *fixture) setNow(t time.Time) {
	f.now.Store(&t)
}

func (f *fixture) baseline(t *testing.T, id string) *float64 {
	t.Helper()
	rule, err := f.manager.Get(context.Background(), id)
	require.NoError(t, err)
	return rule.LastExchangeRate
}

func dailyRule(id, from, to string) *models.Rule {
	return &models.Rule{
		ID:             id,
		CurrencyFrom:   from,
		CurrencyTo:     to,
		Frequency:      models.FrequencyDaily,
		TimeOfDay:      "09:00",
		NotifyIfBetter: true,
		NotifyIfWorse:  true,
		Enabled:        true,
	}
}

func TestScheduler_NoEnabledRules(t *testing.T) {
	disabled := dailyRule("r1", "EUR", "USD")
	disabled.Enabled = false
	f := newFixture(t, disabled)

	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Due)
	assert.Equal(t, 0, f.rates.calls(), "no refresh without due rules")
	assert.True(t, f.scheduler.LastChecked().Equal(monday0900))

	status, err := f.status.LoadStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.LastChecked.Equal(monday0900))
}

func TestScheduler_FirstSampleRecordsBaseline(t *testing.T) {
	f := newFixture(t, dailyRule("r1", "EUR", "USD"))
	f.rates.set("EUR", "USD", 1.10)

	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Due)
	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 0, result.Notified)
	assert.Equal(t, 1, result.BaselinesUpdated)
	assert.Equal(t, 1, f.rates.calls())

	assert.Equal(t, 0, f.notifier.count())
	assert.Equal(t, 0, f.history.Len())
	require.NotNil(t, f.baseline(t, "r1"))
	assert.Equal(t, 1.10, *f.baseline(t, "r1"))
}

func TestScheduler_BetterRateNotifies(t *testing.T) {
	rule := dailyRule("r1", "EUR", "USD")
	rule.LastExchangeRate = models.Float64Ptr(1.10)
	f := newFixture(t, rule)
	f.rates.set("EUR", "USD", 1.12)

	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Notified)

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "EUR → USD is now 1.12 (was 1.10). Good time to exchange 💱", f.notifier.bodies[0])

	require.Equal(t, 1, f.history.Len())
	entry := f.history.Entries[0]
	assert.Equal(t, "r1", entry.RuleID)
	assert.Equal(t, "EUR → USD", entry.Pair)
	assert.Equal(t, models.DirectionBetter, entry.Direction)
	assert.InDelta(t, 0.02, entry.Delta, 1e-9)
	assert.InDelta(t, 1.818, entry.Percent, 0.001)
	assert.NotEmpty(t, entry.ID)

	assert.Equal(t, 1.12, *f.baseline(t, "r1"))
}

func TestScheduler_ThresholdSuppressesButUpdatesBaseline(t *testing.T) {
	rule := dailyRule("r1", "EUR", "USD")
	rule.LastExchangeRate = models.Float64Ptr(1.10)
	rule.ThresholdPercent = models.Float64Ptr(5)
	f := newFixture(t, rule)
	f.rates.set("EUR", "USD", 1.12)

	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Notified)
	assert.Equal(t, 0, f.notifier.count())
	assert.Equal(t, 0, f.history.Len())
	assert.Equal(t, 1.12, *f.baseline(t, "r1"))
}

func TestScheduler_NotificationFailureStillRecordsHistory(t *testing.T) {
	rule := dailyRule("r1", "EUR", "USD")
	rule.LastExchangeRate = models.Float64Ptr(1.10)
	f := newFixture(t, rule)
	f.rates.set("EUR", "USD", 1.05)
	f.notifier.err = models.ErrPermissionDenied

	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Notified)
	require.Equal(t, 1, f.history.Len())
	assert.Equal(t, models.DirectionWorse, f.history.Entries[0].Direction)
	assert.Equal(t, "EUR → USD dropped to 1.05 (last 1.10)", f.history.Entries[0].Message)
}

func TestScheduler_UnavailableRateSkipsRule(t *testing.T) {
	rule := dailyRule("r1", "EUR", "XYZ")
	rule.LastExchangeRate = models.Float64Ptr(2)
	f := newFixture(t, rule, dailyRule("r2", "EUR", "USD"))
	f.rates.set("EUR", "USD", 1.1)

	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Due)
	assert.Equal(t, 1, result.Unavailable)
	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 2.0, *f.baseline(t, "r1"), "baseline untouched")
	assert.Equal(t, 1.1, *f.baseline(t, "r2"))
	assert.Equal(t, 0, f.history.Len())
}

func TestScheduler_RefreshFailureSkipsDueRules(t *testing.T) {
	f := newFixture(t, dailyRule("r1", "EUR", "USD"))
	f.rates.set("EUR", "USD", 1.1)
	f.rates.ensureErr = errors.New("upstream down")

	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.RefreshFailed)
	assert.Equal(t, 0, result.Evaluated)
	assert.Nil(t, f.baseline(t, "r1"))
	assert.False(t, f.scheduler.LastChecked().IsZero())

	// A later tick in the same minute retries
	f.rates.ensureErr = nil
	f.setNow(monday0900.Add(30 * time.Second))
	result, err = f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, int64(1), f.scheduler.GetStats().RefreshFailures)
}

func TestScheduler_RefreshesOncePerBatch(t *testing.T) {
	f := newFixture(t,
		dailyRule("r1", "EUR", "USD"),
		dailyRule("r2", "EUR", "GBP"),
		dailyRule("r3", "USD", "JPY"),
	)
	f.rates.set("EUR", "USD", 1.1)
	f.rates.set("EUR", "GBP", 0.85)
	f.rates.set("USD", "JPY", 150)

	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Evaluated)
	assert.Equal(t, 1, f.rates.calls())
}

func TestScheduler_FiresOncePerMinute(t *testing.T) {
	rule := dailyRule("r1", "EUR", "USD")
	rule.LastExchangeRate = models.Float64Ptr(1.0)
	f := newFixture(t, rule)
	f.rates.set("EUR", "USD", 1.2)

	_, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)

	f.setNow(monday0900.Add(30 * time.Second))
	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Due)
	assert.Equal(t, 1, f.notifier.count())

	// Next day at the same time fires again
	f.rates.set("EUR", "USD", 1.3)
	f.setNow(monday0900.Add(24 * time.Hour))
	result, err = f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Due)
	assert.Equal(t, 2, f.notifier.count())
}

func TestScheduler_WeeklyRuleDueOnlyOnItsMinute(t *testing.T) {
	weekly := dailyRule("r1", "EUR", "USD")
	weekly.Frequency = models.FrequencyWeekly
	weekly.DayOfWeek = models.IntPtr(1)
	f := newFixture(t, weekly)
	f.rates.set("EUR", "USD", 1.1)

	cases := []struct {
		at  time.Time
		due int
	}{
		{monday0900.Add(-time.Minute), 0},
		{monday0900.Add(time.Minute), 0},
		{monday0900.Add(24 * time.Hour), 0},
		{monday0900, 1},
	}

	for _, c := range cases {
		f.setNow(c.at)
		result, err := f.scheduler.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, c.due, result.Due, "at %s", c.at)
	}
}

func TestScheduler_UsesConfiguredTimeZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	f := newFixture(t, dailyRule("r1", "EUR", "JPY"))
	f.rates.set("EUR", "JPY", 160)
	f.scheduler.config.Location = tokyo

	// 09:00 in Tokyo is 00:00 UTC
	f.setNow(time.Date(2024, 6, 3, 0, 0, 5, 0, time.UTC))
	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Due)
}

func TestScheduler_BaselineUpdateKeepsConcurrentEdits(t *testing.T) {
	f := newFixture(t, dailyRule("r1", "EUR", "USD"), dailyRule("r2", "EUR", "GBP"))
	f.rates.set("EUR", "USD", 1.1)
	f.rates.set("EUR", "GBP", 0.85)

	// Edit a rule and delete another while the tick is fetching rates
	f.rates.onEnsure = func() {
		rule := dailyRule("r1", "EUR", "USD")
		rule.ThresholdPercent = models.Float64Ptr(2)
		_, err := f.manager.Update(context.Background(), "r1", rule)
		require.NoError(t, err)
		require.NoError(t, f.manager.Delete(context.Background(), "r2"))
	}

	_, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)

	list, err := f.manager.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2.0, *list[0].ThresholdPercent)
	assert.Equal(t, 1.1, *list[0].LastExchangeRate)
}

func TestScheduler_OverlappingTickIsRejected(t *testing.T) {
	f := newFixture(t, dailyRule("r1", "EUR", "USD"))
	f.rates.set("EUR", "USD", 1.1)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.rates.onEnsure = func() {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.scheduler.Tick(context.Background())
		done <- err
	}()

	<-entered
	_, err := f.scheduler.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	f := newFixture(t, dailyRule("r1", "EUR", "USD"))
	f.rates.onEnsure = func() { panic("boom") }

	_, err := f.scheduler.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// The guard is released and later ticks work
	f.rates.onEnsure = nil
	f.rates.set("EUR", "USD", 1.1)
	f.setNow(monday0900.Add(10 * time.Second))
	result, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evaluated)
}

// failingRuleSource simulates an unreadable rule store
type failingRuleSource struct{}

func (failingRuleSource) List(ctx context.Context) ([]*models.Rule, error) {
	return nil, errors.New("store unavailable")
}

func (failingRuleSource) ApplyBaselines(ctx context.Context, baselines map[string]float64) (int, error) {
	return 0, errors.New("store unavailable")
}

func TestScheduler_StoreReadFailureTreatedAsEmpty(t *testing.T) {
	fake := newFakeRates()
	s := NewScheduler(DefaultConfig(), failingRuleSource{}, fake, &recordingNotifier{}, &storage.MockHistoryLog{}, nil)

	result, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Due)
	assert.Equal(t, 0, fake.calls())
	assert.False(t, s.LastChecked().IsZero())
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	f := newFixture(t)
	f.scheduler.config.TickInterval = time.Hour

	require.NoError(t, f.scheduler.Start())
	require.NoError(t, f.scheduler.Start())
	assert.True(t, f.scheduler.IsRunning())

	// The initial tick runs exactly once even though Start was called twice
	require.Eventually(t, func() bool { return f.scheduler.GetStats().Ticks == 1 }, 2*time.Second, 10*time.Millisecond)

	f.scheduler.Stop()
	f.scheduler.Stop()
	assert.False(t, f.scheduler.IsRunning())
	assert.Equal(t, int64(1), f.scheduler.GetStats().Ticks)
}

func TestScheduler_StopWaitsForInFlightTick(t *testing.T) {
	f := newFixture(t, dailyRule("r1", "EUR", "USD"))
	f.rates.set("EUR", "USD", 1.1)
	f.scheduler.config.TickInterval = time.Hour

	entered := make(chan struct{})
	f.rates.onEnsure = func() {
		close(entered)
		time.Sleep(50 * time.Millisecond)
	}

	require.NoError(t, f.scheduler.Start())
	<-entered
	f.scheduler.Stop()

	// The tick finished and persisted its baseline
	assert.Equal(t, 1.1, *f.baseline(t, "r1"))
}

func TestScheduler_RestoresLastCheckedOnStart(t *testing.T) {
	f := newFixture(t)
	f.scheduler.config.TickInterval = time.Hour
	previous := time.Date(2024, 6, 2, 18, 0, 0, 0, time.UTC)
	require.NoError(t, f.status.SaveStatus(context.Background(), &models.Status{LastChecked: previous}))

	f.scheduler.restoreStatus()
	assert.True(t, f.scheduler.LastChecked().Equal(previous))
}

func TestNewScheduler_PanicsOnNilDependencies(t *testing.T) {
	manager := rules.NewManager(rules.NewInMemoryRuleStore())
	fake := newFakeRates()
	history := &storage.MockHistoryLog{}
	sink := &recordingNotifier{}

	assert.Panics(t, func() { NewScheduler(DefaultConfig(), nil, fake, sink, history, nil) })
	assert.Panics(t, func() { NewScheduler(DefaultConfig(), manager, nil, sink, history, nil) })
	assert.Panics(t, func() { NewScheduler(DefaultConfig(), manager, fake, nil, history, nil) })
	assert.Panics(t, func() { NewScheduler(DefaultConfig(), manager, fake, sink, nil, nil) })
}

func TestNewScheduler_ClampsTickInterval(t *testing.T) {
	s := NewScheduler(Config{TickInterval: 5 * time.Minute}, rules.NewManager(rules.NewInMemoryRuleStore()),
		newFakeRates(), &recordingNotifier{}, &storage.MockHistoryLog{}, nil)
	assert.Equal(t, 30*time.Second, s.config.TickInterval)
	assert.Equal(t, time.Local, s.config.Location)
}

// End to end with the real rate provider against a stub ECB feed
func TestScheduler_WithRateProvider(t *testing.T) {
	usd := 1.10
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<gesmes:Envelope xmlns:gesmes="http://www.gesmes.org/xml/2002-08-01" xmlns="http://www.ecb.int/vocabulary/2002-08-01/eurofxref">
<Cube><Cube time="2024-06-03"><Cube currency="USD" rate="%.4f"/><Cube currency="GBP" rate="0.85"/></Cube></Cube>
</gesmes:Envelope>`, usd)
	}))
	defer server.Close()

	clock := monday0900
	provider := rates.NewProvider(rates.ProviderConfig{SourceURL: server.URL, MaxRetries: 1}, server.Client())
	provider.SetClock(func() time.Time { return clock })

	manager := rules.NewManager(rules.NewInMemoryRuleStore(dailyRule("r1", "EUR", "USD")))
	sink := &recordingNotifier{}
	gate := notify.NewGate(sink, notify.PermissionGranted)
	history := storage.NewMemoryHistoryLog(0)
	status := storage.NewMemoryStatusStore()

	config := DefaultConfig()
	config.Location = time.UTC
	config.MaxRateAge = time.Minute
	s := NewScheduler(config, manager, provider, gate, history, status)
	s.SetClock(func() time.Time { return clock })

	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sink.count())

	mu.Lock()
	usd = 1.12
	mu.Unlock()
	clock = monday0900.Add(24 * time.Hour)

	result, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Notified)
	require.Equal(t, 1, sink.count())
	assert.Contains(t, sink.bodies[0], "is now 1.12 (was 1.10)")

	entries, err := history.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 1.818, entries[0].Percent, 0.001)

	saved, err := status.LoadStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-06-03", saved.ReferenceDate)
	assert.False(t, saved.LastRatesRefresh.IsZero())
}
