// Package probe measures per-endpoint round-trip latency for every
// configured exchange and publishes the result as an immutable heatmap
// snapshot. It runs on the slow cadence tier and is the only latency path
// allowed to block on network I/O.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ekinsoy/arbcore/internal/domain"
	"github.com/ekinsoy/arbcore/internal/latency"
)

// ExchangeEndpoints describes one exchange's probe targets: a URL per
// endpoint kind. Kinds without a URL are skipped.
type ExchangeEndpoints struct {
	ID        domain.ExchangeID
	Endpoints map[domain.EndpointKind]string
}

// Config holds the probe parameters.
type Config struct {
	// SamplesPerEndpoint is how many sequential GETs each endpoint receives
	// per run.
	SamplesPerEndpoint int
	// Timeout bounds each individual call. A timed-out or failed call is
	// recorded as a sample equal to this timeout, so failing endpoints are
	// statistically penalized instead of silently ignored.
	Timeout time.Duration
	// InterCallDelay spaces sequential calls to avoid self-induced rate
	// limiting.
	InterCallDelay time.Duration
}

// Prober measures endpoint latency and builds heatmap snapshots.
type Prober struct {
	cfg       Config
	exchanges []ExchangeEndpoints
	client    *http.Client
	recorder  *latency.Recorder
	store     domain.HeatmapStore
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Prober. store may be nil, in which case snapshots are not
// persisted.
func New(cfg Config, exchanges []ExchangeEndpoints, store domain.HeatmapStore, logger *slog.Logger) *Prober {
	if cfg.SamplesPerEndpoint <= 0 {
		cfg.SamplesPerEndpoint = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.InterCallDelay < 0 {
		cfg.InterCallDelay = 0
	}
	return &Prober{
		cfg:       cfg,
		exchanges: exchanges,
		client:    &http.Client{Timeout: cfg.Timeout},
		recorder:  latency.NewRecorder(cfg.SamplesPerEndpoint),
		store:     store,
		logger:    logger.With(slog.String("component", "endpoint_probe")),
		now:       time.Now,
	}
}

// ProbeAll measures every configured (exchange, endpoint) pair and returns
// the resulting heatmap snapshot. Individual endpoint failures are recorded
// as worst-case samples, never raised; the run only stops early when the
// context is cancelled. The snapshot is persisted as a side effect; a
// persistence failure is returned alongside the still-usable heatmap.
func (p *Prober) ProbeAll(ctx context.Context) (domain.Heatmap, error) {
	started := p.now()
	p.recorder.Reset()

	for _, ex := range p.exchanges {
		for _, kind := range domain.EndpointKinds {
			url, ok := ex.Endpoints[kind]
			if !ok || url == "" {
				continue
			}
			if err := p.probeEndpoint(ctx, ex.ID, kind, url); err != nil {
				return domain.Heatmap{}, err
			}
		}
	}

	hm := domain.Heatmap{
		ID:        uuid.NewString(),
		TakenAt:   p.now(),
		Exchanges: make(map[domain.ExchangeID]map[domain.EndpointKind]domain.LatencyStat),
	}
	for _, ex := range p.exchanges {
		for _, kind := range domain.EndpointKinds {
			if _, ok := ex.Endpoints[kind]; !ok {
				continue
			}
			st := p.recorder.Stat(ex.ID, kind)
			if st.Samples == 0 {
				continue
			}
			if hm.Exchanges[ex.ID] == nil {
				hm.Exchanges[ex.ID] = make(map[domain.EndpointKind]domain.LatencyStat)
			}
			hm.Exchanges[ex.ID][kind] = st
		}
	}

	p.logger.Info("probe run complete",
		slog.String("heatmap_id", hm.ID),
		slog.Int("exchanges", len(hm.Exchanges)),
		slog.Duration("elapsed", p.now().Sub(started)),
	)

	if p.store != nil {
		if err := p.store.Save(ctx, hm); err != nil {
			return hm, fmt.Errorf("probe: persist heatmap: %w", err)
		}
	}
	return hm, nil
}

// probeEndpoint issues the configured number of sequential GETs against one
// URL. It returns an error only on context cancellation.
func (p *Prober) probeEndpoint(ctx context.Context, ex domain.ExchangeID, kind domain.EndpointKind, url string) error {
	timeoutMs := float64(p.cfg.Timeout.Milliseconds())

	for i := 0; i < p.cfg.SamplesPerEndpoint; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("probe: cancelled: %w", err)
		}

		ms, err := p.measure(ctx, url)
		if err != nil {
			// Worst-case sample: the endpoint pays for its failure in the
			// percentiles rather than vanishing from them.
			p.recorder.Record(ex, kind, timeoutMs)
			p.logger.Debug("probe call failed",
				slog.String("exchange", string(ex)),
				slog.String("endpoint", string(kind)),
				slog.String("error", err.Error()),
			)
		} else {
			p.recorder.Record(ex, kind, ms)
		}

		if p.cfg.InterCallDelay > 0 && i < p.cfg.SamplesPerEndpoint-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("probe: cancelled: %w", ctx.Err())
			case <-time.After(p.cfg.InterCallDelay):
			}
		}
	}
	return nil
}

// measure issues one GET and returns the full round-trip time in
// milliseconds, including reading the response body.
func (p *Prober) measure(ctx context.Context, url string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("probe: create request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe: get %s: %w", url, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("probe: get %s: server status %d", url, resp.StatusCode)
	}
	return float64(time.Since(start).Microseconds()) / 1000, nil
}

// Run probes on the given interval until ctx is cancelled, invoking
// onSnapshot with each completed heatmap. A failed persistence does not stop
// the loop; the in-memory snapshot is still published.
func (p *Prober) Run(ctx context.Context, interval time.Duration, onSnapshot func(domain.Heatmap)) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	run := func() {
		hm, err := p.ProbeAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("probe run degraded", slog.String("error", err.Error()))
		}
		if len(hm.Exchanges) > 0 && onSnapshot != nil {
			onSnapshot(hm)
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}
