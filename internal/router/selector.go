// Package router selects, per exchange, the endpoint that exchange requests
// should be sent to right now. It combines the latest probe heatmap with
// live error/latency observations into a health score, caches its decision
// with a TTL, and degrades to the configured default endpoint whenever data
// is missing or unhealthy. Everything on this path is in-memory and safe to
// call from the hot tier.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ekinsoy/arbcore/internal/domain"
)

const (
	// fallbackHealthScore and fallbackP50Ms are the sentinel values served
	// when no endpoint clears the health gate. They are fixed constants
	// rather than derived values; flagged for review.
	fallbackHealthScore = 0.5
	fallbackP50Ms       = 100.0

	// Live circuit-breaker thresholds, independent of the probe cadence.
	fallbackErrorCount = 3
	fallbackLatencyMs  = 1000.0
	liveLookback       = 5 * time.Minute

	defaultErrorWindowSize   = 20
	defaultLatencyWindowSize = 50
)

// Config holds the route selection parameters.
type Config struct {
	// PreferFastest enables heatmap-driven selection. When false every
	// exchange is routed to its configured default endpoint.
	PreferFastest bool
	// MinHealthScore gates endpoint eligibility during fastest selection.
	MinHealthScore float64
	// CacheTTL bounds how long a computed decision is served before being
	// recomputed.
	CacheTTL time.Duration
	// ErrorWindowSize and LatencyWindowSize bound the live observation rings
	// per (exchange, endpoint) pair.
	ErrorWindowSize   int
	LatencyWindowSize int
}

// Notifier is the subset of the notification system the selector uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

type pairKey struct {
	ex   domain.ExchangeID
	kind domain.EndpointKind
}

// Selector implements TTL-cached per-exchange route selection.
type Selector struct {
	cfg      Config
	defaults map[domain.ExchangeID]domain.EndpointKind

	heatmap atomic.Pointer[domain.Heatmap]

	mu        sync.Mutex
	decisions map[domain.ExchangeID]domain.RouteDecision
	errors    map[pairKey]*timedWindow
	latencies map[pairKey]*timedWindow

	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewSelector creates a Selector. defaults maps each exchange to its
// configured default endpoint kind; exchanges missing from the map fall back
// to the ping endpoint.
func NewSelector(cfg Config, defaults map[domain.ExchangeID]domain.EndpointKind, logger *slog.Logger) *Selector {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.MinHealthScore <= 0 {
		cfg.MinHealthScore = 0.7
	}
	if cfg.ErrorWindowSize <= 0 {
		cfg.ErrorWindowSize = defaultErrorWindowSize
	}
	if cfg.LatencyWindowSize <= 0 {
		cfg.LatencyWindowSize = defaultLatencyWindowSize
	}
	return &Selector{
		cfg:       cfg,
		defaults:  defaults,
		decisions: make(map[domain.ExchangeID]domain.RouteDecision),
		errors:    make(map[pairKey]*timedWindow),
		latencies: make(map[pairKey]*timedWindow),
		logger:    logger.With(slog.String("component", "route_selector")),
		now:       time.Now,
	}
}

// SetNotifier registers the alert channel fired when an exchange degrades to
// fallback routing. May stay unset.
func (s *Selector) SetNotifier(n Notifier) {
	s.notifier = n
}

// PublishHeatmap replaces the heatmap snapshot the selector reads from. The
// swap is atomic so concurrent readers never see a partial snapshot.
func (s *Selector) PublishHeatmap(hm domain.Heatmap) {
	s.heatmap.Store(&hm)
}

// Heatmap returns the currently published snapshot, or nil if none exists.
func (s *Selector) Heatmap() *domain.Heatmap {
	return s.heatmap.Load()
}

// GetEndpoint returns the endpoint to use for the given exchange right now.
// A cached decision younger than the TTL is returned as-is; otherwise the
// decision is recomputed from the latest heatmap and live error windows and
// re-cached. It always returns a usable decision.
func (s *Selector) GetEndpoint(ex domain.ExchangeID) domain.RouteDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	prev, hadPrev := s.decisions[ex]
	if hadPrev && now.Sub(prev.SelectedAt) < s.cfg.CacheTTL {
		return prev
	}

	d := s.computeLocked(ex, now)
	s.decisions[ex] = d

	// Alert once per degradation, on the transition into fallback.
	if d.Reason == domain.RouteFallback && (!hadPrev || prev.Reason != domain.RouteFallback) {
		s.notifyFallback(ex, d)
	}

	s.logger.Debug("route decision recomputed",
		slog.String("exchange", string(ex)),
		slog.String("endpoint", string(d.Endpoint)),
		slog.String("reason", string(d.Reason)),
		slog.Float64("health_score", d.HealthScore),
		slog.Float64("p50_ms", d.P50Ms),
	)
	return d
}

func (s *Selector) computeLocked(ex domain.ExchangeID, now time.Time) domain.RouteDecision {
	def := s.defaultEndpoint(ex)
	hm := s.heatmap.Load()

	if !s.cfg.PreferFastest {
		d := domain.RouteDecision{
			Exchange:    ex,
			Endpoint:    def,
			Reason:      domain.RouteDefault,
			HealthScore: 1.0,
			SelectedAt:  now,
		}
		if st, ok := hm.Stat(ex, def); ok {
			d.P50Ms = st.P50Ms
		}
		return d
	}

	var (
		best      domain.EndpointKind
		bestScore float64
		bestP50   float64
		foundAny  bool
	)
	if hm != nil {
		for _, kind := range domain.EndpointKinds {
			st, ok := hm.Stat(ex, kind)
			if !ok || st.Samples == 0 {
				continue
			}
			score := HealthScore(st, s.errorRateLocked(ex, kind, now))
			if score < s.cfg.MinHealthScore {
				continue
			}
			// Lowest p50 wins; strict comparison keeps the first
			// encountered endpoint on ties.
			if !foundAny || st.P50Ms < bestP50 {
				best = kind
				bestScore = score
				bestP50 = st.P50Ms
				foundAny = true
			}
		}
	}

	if !foundAny {
		return domain.RouteDecision{
			Exchange:    ex,
			Endpoint:    def,
			Reason:      domain.RouteFallback,
			HealthScore: fallbackHealthScore,
			P50Ms:       fallbackP50Ms,
			SelectedAt:  now,
		}
	}

	return domain.RouteDecision{
		Exchange:    ex,
		Endpoint:    best,
		Reason:      domain.RouteOptimized,
		HealthScore: bestScore,
		P50Ms:       bestP50,
		SelectedAt:  now,
	}
}

// notifyFallback fires the route_fallback alert without blocking the caller:
// GetEndpoint sits on the hot tier and must not wait on notification HTTP.
func (s *Selector) notifyFallback(ex domain.ExchangeID, d domain.RouteDecision) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("exchange=%s endpoint=%s health_score=%.2f", ex, d.Endpoint, d.HealthScore)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.notifier.Notify(ctx, "route_fallback", "Route fell back to default endpoint", msg)
	}()
}

func (s *Selector) defaultEndpoint(ex domain.ExchangeID) domain.EndpointKind {
	if def, ok := s.defaults[ex]; ok && def != "" {
		return def
	}
	return domain.EndpointPing
}

// RecordLatency appends a live round-trip observation for the pair. These
// observations feed ShouldFallback, not the probe heatmap.
func (s *Selector) RecordLatency(ex domain.ExchangeID, kind domain.EndpointKind, ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowLocked(s.latencies, ex, kind, s.cfg.LatencyWindowSize).add(s.now(), ms)
}

// RecordError appends a live error observation for the pair.
func (s *Selector) RecordError(ex domain.ExchangeID, kind domain.EndpointKind, reason string) {
	s.mu.Lock()
	s.windowLocked(s.errors, ex, kind, s.cfg.ErrorWindowSize).add(s.now(), 1)
	s.mu.Unlock()

	s.logger.Warn("endpoint error recorded",
		slog.String("exchange", string(ex)),
		slog.String("endpoint", string(kind)),
		slog.String("reason", reason),
	)
}

// ShouldFallback reports whether the pair should be avoided immediately:
// at least 3 errors in the last 5 minutes, or a mean of the recent
// (5-minute-old or younger) latency samples above 1000ms. It reacts faster
// than the next probe cycle.
func (s *Selector) ShouldFallback(ex domain.ExchangeID, kind domain.EndpointKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-liveLookback)
	if w, ok := s.errors[pairKey{ex: ex, kind: kind}]; ok {
		if w.countSince(cutoff) >= fallbackErrorCount {
			return true
		}
	}
	if w, ok := s.latencies[pairKey{ex: ex, kind: kind}]; ok {
		if mean, ok := w.meanSince(cutoff); ok && mean > fallbackLatencyMs {
			return true
		}
	}
	return false
}

func (s *Selector) windowLocked(m map[pairKey]*timedWindow, ex domain.ExchangeID, kind domain.EndpointKind, capacity int) *timedWindow {
	k := pairKey{ex: ex, kind: kind}
	w, ok := m[k]
	if !ok {
		w = newTimedWindow(capacity)
		m[k] = w
	}
	return w
}

// errorRateLocked computes errors-in-window / window-size for the pair,
// counting only errors within the live lookback.
func (s *Selector) errorRateLocked(ex domain.ExchangeID, kind domain.EndpointKind, now time.Time) float64 {
	w, ok := s.errors[pairKey{ex: ex, kind: kind}]
	if !ok {
		return 0
	}
	return float64(w.countSince(now.Add(-liveLookback))) / float64(w.capacity())
}

// HealthScore derives a [0,1] composite from latency percentiles and the
// recent error rate. Starting at 1.0: penalize p50 above 100ms and p95 above
// 500ms proportionally, apply a 0.8 variance penalty when p95 exceeds twice
// the p50, and scale by (1 - error rate).
func HealthScore(st domain.LatencyStat, errorRate float64) float64 {
	score := 1.0
	if st.P50Ms > 100 {
		score *= 100 / st.P50Ms
	}
	if st.P95Ms > 500 {
		score *= 500 / st.P95Ms
	}
	if st.P95Ms > 2*st.P50Ms {
		score *= 0.8
	}
	score *= 1 - errorRate

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
