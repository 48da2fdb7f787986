// Package rate supplies the USD/TRY conversion rate used when comparing
// TL-denominated capital against USD-denominated market data. It is
// cache-first with a short TTL: the cache-hit path is safe for the hot tier,
// while cache misses fetch from live sources and must only be taken from
// latency-tolerant contexts. A background refresh loop keeps the cache warm.
package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ekinsoy/arbcore/internal/domain"
)

const (
	defaultTTL   = 30 * time.Second
	fetchTimeout = 5 * time.Second

	// builtinFallbackRate is served when every live source fails and no
	// fallback is configured. Reviewed periodically against spot USD/TRY.
	builtinFallbackRate = 41.5
)

// Config holds the rate source endpoints and cache parameters.
type Config struct {
	// PrimaryURL points at a rates API returning {"rates": {"TRY": <num>}}.
	PrimaryURL string
	// SecondaryURL points at a ticker API returning {"price": "<num>"}.
	SecondaryURL string
	// TTL bounds how long a cached quote is considered fresh.
	TTL time.Duration
	// FallbackRate overrides the built-in fallback constant when positive.
	FallbackRate float64
}

// Notifier is the subset of the notification system the provider uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Provider serves cached rate quotes with live-fetch refresh and fallback.
type Provider struct {
	cfg    Config
	client *http.Client
	cache  domain.RateCache

	quote atomic.Pointer[domain.RateQuote]

	// fetchMu serializes live fetches so concurrent cache misses do not fan
	// out into duplicate network calls.
	fetchMu sync.Mutex

	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewProvider creates a Provider. cache may be nil; when present the last
// known good quote is persisted across restarts.
func NewProvider(cfg Config, cache domain.RateCache, logger *slog.Logger) *Provider {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: fetchTimeout},
		cache:  cache,
		logger: logger.With(slog.String("component", "rate_provider")),
		now:    time.Now,
	}
}

// SetNotifier registers the alert channel fired when the provider degrades to
// the fallback constant. May stay unset.
func (p *Provider) SetNotifier(n Notifier) {
	p.notifier = n
}

// Warm seeds the in-memory quote from the persisted last known good value.
// Missing persisted state is not an error.
func (p *Provider) Warm(ctx context.Context) {
	if p.cache == nil {
		return
	}
	q, err := p.cache.LoadQuote(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("rate cache load failed", slog.String("error", err.Error()))
		}
		return
	}
	p.quote.Store(&q)
	p.logger.Info("rate cache warmed",
		slog.Float64("rate", q.Rate),
		slog.String("source", string(q.Source)),
	)
}

// GetRate returns the current USD/TRY rate. With useCache true a quote
// younger than the TTL is returned directly; otherwise live sources are
// tried in order and, on total exhaustion, the stale cache or the fallback
// constant is served. GetRate never fails: it always returns a usable rate.
func (p *Provider) GetRate(ctx context.Context, useCache bool) float64 {
	if useCache {
		if q := p.quote.Load(); q != nil && p.now().Sub(q.FetchedAt) < p.cfg.TTL {
			return q.Rate
		}
	}

	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	if useCache {
		if q := p.quote.Load(); q != nil && p.now().Sub(q.FetchedAt) < p.cfg.TTL {
			return q.Rate
		}
	}

	if r, err := p.fetchLive(ctx); err == nil {
		q := domain.RateQuote{Rate: r, Source: domain.RateSourceLive, FetchedAt: p.now()}
		p.quote.Store(&q)
		p.persist(ctx, q)
		return r
	}

	// All live sources failed. Prefer serving the stale last known live
	// quote over the static fallback; RateInfo labels it as stale.
	if q := p.quote.Load(); q != nil && q.Source == domain.RateSourceLive {
		p.logger.Warn("live rate fetch failed, serving stale quote",
			slog.Float64("rate", q.Rate),
			slog.Float64("age_seconds", p.now().Sub(q.FetchedAt).Seconds()),
		)
		return q.Rate
	}

	fallback := p.fallbackRate()
	prev := p.quote.Load()
	q := domain.RateQuote{Rate: fallback, Source: domain.RateSourceFallback, FetchedAt: p.now()}
	p.quote.Store(&q)
	p.logger.Warn("live rate fetch failed, serving fallback", slog.Float64("rate", fallback))

	// Alert once per degradation, on the transition into fallback.
	if p.notifier != nil && (prev == nil || prev.Source != domain.RateSourceFallback) {
		msg := fmt.Sprintf("rate=%.2f", fallback)
		_ = p.notifier.Notify(ctx, "rate_fallback", "USD/TRY rate fell back to constant", msg)
	}
	return fallback
}

// Info exposes the current quote with its age and staleness so callers can
// distinguish a slightly old cache from an emergency fallback.
func (p *Provider) Info() domain.RateInfo {
	q := p.quote.Load()
	if q == nil {
		return domain.RateInfo{
			Rate:    p.fallbackRate(),
			Source:  domain.RateSourceDefault,
			IsStale: true,
		}
	}
	age := p.now().Sub(q.FetchedAt).Seconds()
	return domain.RateInfo{
		Rate:       q.Rate,
		Source:     q.Source,
		AgeSeconds: age,
		IsStale:    age > p.cfg.TTL.Seconds(),
	}
}

// Run refreshes the cache at the given interval until ctx is cancelled. With
// the loop running, hot-tier callers are guaranteed a cache hit.
func (p *Provider) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = p.cfg.TTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.GetRate(ctx, false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.GetRate(ctx, false)
		}
	}
}

func (p *Provider) fallbackRate() float64 {
	if p.cfg.FallbackRate > 0 {
		return p.cfg.FallbackRate
	}
	return builtinFallbackRate
}

func (p *Provider) persist(ctx context.Context, q domain.RateQuote) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SaveQuote(ctx, q); err != nil {
		p.logger.Warn("rate cache save failed", slog.String("error", err.Error()))
	}
}

// fetchLive tries the primary then the secondary source. A timed-out or
// malformed source degrades to trying the next one.
func (p *Provider) fetchLive(ctx context.Context) (float64, error) {
	var errs []error

	if p.cfg.PrimaryURL != "" {
		r, err := p.fetchPrimary(ctx)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
		p.logger.Debug("primary rate source failed", slog.String("error", err.Error()))
	}
	if p.cfg.SecondaryURL != "" {
		r, err := p.fetchSecondary(ctx)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
		p.logger.Debug("secondary rate source failed", slog.String("error", err.Error()))
	}

	if len(errs) == 0 {
		return 0, domain.ErrRateUnavailable
	}
	return 0, fmt.Errorf("%w: %w", domain.ErrRateUnavailable, errors.Join(errs...))
}

// fetchPrimary queries a rates API of the form {"rates": {"TRY": 41.23}}.
func (p *Provider) fetchPrimary(ctx context.Context) (float64, error) {
	body, err := p.get(ctx, p.cfg.PrimaryURL)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("rate: decode primary response: %w", err)
	}
	r, ok := resp.Rates["TRY"]
	if !ok || r <= 0 {
		return 0, fmt.Errorf("rate: primary response has no usable TRY rate")
	}
	return r, nil
}

// fetchSecondary queries a ticker API of the form {"price": "41.23"}.
func (p *Provider) fetchSecondary(ctx context.Context) (float64, error) {
	body, err := p.get(ctx, p.cfg.SecondaryURL)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("rate: decode secondary response: %w", err)
	}
	r, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || r <= 0 {
		return 0, fmt.Errorf("rate: secondary response has no usable price")
	}
	return r, nil
}

func (p *Provider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rate: create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate: fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("rate: read response: %w", err)
	}
	return body, nil
}
