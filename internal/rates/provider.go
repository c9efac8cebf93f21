package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohamedkhairy/rate-notifier/internal/models"
	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

const (
	// DefaultSourceURL is the ECB daily reference rate document
	DefaultSourceURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"
	// DefaultBaseCurrency is the pivot currency of the ECB table
	DefaultBaseCurrency = "EUR"
	// DefaultMaxAge is the staleness window used by the scheduler
	DefaultMaxAge = 24 * time.Hour

	maxDocumentSize = 1 << 20
)

// ProviderConfig holds configuration for the rate provider
type ProviderConfig struct {
	SourceURL    string
	BaseCurrency string
	HTTPTimeout  time.Duration // per attempt
	MaxRetries   int           // total attempts per refresh
	RetryDelay   time.Duration // multiplied by the attempt number
}

// DefaultProviderConfig returns default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		SourceURL:    DefaultSourceURL,
		BaseCurrency: DefaultBaseCurrency,
		HTTPTimeout:  10 * time.Second,
		MaxRetries:   3,
		RetryDelay:   2 * time.Second,
	}
}

// Snapshot is an immutable rate table. Rates are expressed as units of the
// currency per one unit of Base, and Rates[Base] is always 1.
type Snapshot struct {
	Base          string
	Rates         map[string]float64
	ReferenceDate string
	RefreshedAt   time.Time
}

// Provider serves exchange rates from a cached snapshot of the upstream table.
// Readers never block on a refresh; the snapshot is replaced wholesale.
type Provider struct {
	config   ProviderConfig
	client   *http.Client
	snapshot atomic.Pointer[Snapshot]
	now      func() time.Time

	// serialises refreshes so concurrent EnsureFresh callers fetch once
	refreshMu sync.Mutex
}

// NewProvider creates a new rate provider
func NewProvider(config ProviderConfig, client *http.Client) *Provider {
	if config.SourceURL == "" {
		config.SourceURL = DefaultSourceURL
	}
	config.BaseCurrency = normalizeCode(config.BaseCurrency)
	if config.BaseCurrency == "" {
		config.BaseCurrency = DefaultBaseCurrency
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if client == nil {
		client = &http.Client{Timeout: config.HTTPTimeout}
	}

	return &Provider{
		config: config,
		client: client,
		now:    time.Now,
	}
}

// SetClock overrides the provider's time source (used by tests)
func (p *Provider) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Base returns the pivot currency code
func (p *Provider) Base() string {
	return p.config.BaseCurrency
}

// Snapshot returns the current snapshot, or nil if rates were never loaded
func (p *Provider) Snapshot() *Snapshot {
	return p.snapshot.Load()
}

// Refresh fetches the full rate table and replaces the cache.
// On failure the existing cache is left untouched and the error is returned.
func (p *Provider) Refresh(ctx context.Context) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	return p.refreshLocked(ctx)
}

// EnsureFresh refreshes the cache if it is empty or older than maxAge.
// A non-positive maxAge uses DefaultMaxAge.
func (p *Provider) EnsureFresh(ctx context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if !p.isStale(maxAge) {
		return nil
	}

	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	// Another caller may have refreshed while we waited
	if !p.isStale(maxAge) {
		return nil
	}
	return p.refreshLocked(ctx)
}

// GetRate returns the number of units of `to` per one unit of `from`.
// ok is false when either code is missing from the cache. Identical codes
// always yield 1, even before the first refresh.
func (p *Provider) GetRate(from, to string) (float64, bool) {
	from = normalizeCode(from)
	to = normalizeCode(to)
	if from == to {
		return 1, true
	}

	snap := p.snapshot.Load()
	if snap == nil {
		return 0, false
	}
	return snap.Rate(from, to)
}

// ListCodes returns the sorted cached currency codes, always including the base
func (p *Provider) ListCodes() []string {
	snap := p.snapshot.Load()
	if snap == nil {
		return []string{p.config.BaseCurrency}
	}
	return snap.Codes()
}

// LastRefreshed returns the time of the last successful refresh (zero if none)
func (p *Provider) LastRefreshed() time.Time {
	if snap := p.snapshot.Load(); snap != nil {
		return snap.RefreshedAt
	}
	return time.Time{}
}

// ReferenceDate returns the source's reference date of the cached table
func (p *Provider) ReferenceDate() string {
	if snap := p.snapshot.Load(); snap != nil {
		return snap.ReferenceDate
	}
	return ""
}

// Rate computes the cross-rate from -> to. Codes must already be normalized.
func (s *Snapshot) Rate(from, to string) (float64, bool) {
	if from == to {
		return 1, true
	}
	rateFrom, okFrom := s.Rates[from]
	rateTo, okTo := s.Rates[to]
	if !okFrom || !okTo {
		return 0, false
	}
	switch {
	case from == s.Base:
		return rateTo, true
	case to == s.Base:
		return 1 / rateFrom, true
	default:
		return rateTo / rateFrom, true
	}
}

// Codes returns the sorted currency codes of the snapshot
func (s *Snapshot) Codes() []string {
	codes := make([]string, 0, len(s.Rates))
	for code := range s.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (p *Provider) isStale(maxAge time.Duration) bool {
	snap := p.snapshot.Load()
	if snap == nil || len(snap.Rates) == 0 {
		return true
	}
	return p.now().Sub(snap.RefreshedAt) > maxAge
}

// refreshLocked performs the fetch with bounded retry. Caller holds refreshMu.
func (p *Provider) refreshLocked(ctx context.Context) error {
	startTime := time.Now()
	defer func() {
		refreshLatency.Observe(time.Since(startTime).Seconds())
	}()

	var (
		table *ecbTable
		err   error
	)
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		refreshAttempts.Inc()
		table, err = p.fetch(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if attempt < p.config.MaxRetries-1 {
			delay := p.config.RetryDelay * time.Duration(attempt+1)
			logger.Warn("Failed to fetch exchange rates, retrying",
				logger.ErrorField(err),
				logger.String("url", p.config.SourceURL),
				logger.Int("attempt", attempt+1),
				logger.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	if err != nil {
		refreshTotal.WithLabelValues("failure").Inc()
		logger.Warn("Exchange rate refresh failed, keeping cached rates",
			logger.ErrorField(err),
			logger.String("url", p.config.SourceURL),
			logger.Time("last_refreshed", p.LastRefreshed()),
		)
		return fmt.Errorf("failed to refresh exchange rates: %w", err)
	}

	rates := make(map[string]float64, len(table.rates)+1)
	for code, value := range table.rates {
		rates[code] = value
	}
	rates[p.config.BaseCurrency] = 1

	snap := &Snapshot{
		Base:          p.config.BaseCurrency,
		Rates:         rates,
		ReferenceDate: table.referenceDate,
		RefreshedAt:   p.now(),
	}
	p.snapshot.Store(snap)

	refreshTotal.WithLabelValues("success").Inc()
	snapshotSize.Set(float64(len(rates)))

	logger.Info("Exchange rates refreshed",
		logger.Int("currencies", len(rates)),
		logger.Int("skipped", table.skipped),
		logger.String("reference_date", table.referenceDate),
	)

	return nil
}

// fetch performs a single HTTP attempt
func (p *Provider) fetch(ctx context.Context) (*ecbTable, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.config.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	table, err := parseECB(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, err
	}

	if len(table.rates) == 0 {
		return nil, models.ErrEmptyRateTable
	}

	return table, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
