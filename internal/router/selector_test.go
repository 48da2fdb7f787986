package router

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekinsoy/arbcore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSelector(cfg Config) *Selector {
	return NewSelector(cfg, map[domain.ExchangeID]domain.EndpointKind{
		"btcturk": domain.EndpointPing,
	}, testLogger())
}

func heatmapWith(stats map[domain.EndpointKind]domain.LatencyStat) domain.Heatmap {
	return domain.Heatmap{
		ID:      "hm-test",
		TakenAt: time.Now(),
		Exchanges: map[domain.ExchangeID]map[domain.EndpointKind]domain.LatencyStat{
			"btcturk": stats,
		},
	}
}

func TestGetEndpointNoHeatmapServesFallbackSentinels(t *testing.T) {
	s := newTestSelector(Config{PreferFastest: true, MinHealthScore: 0.3, CacheTTL: time.Minute})

	d := s.GetEndpoint("btcturk")
	assert.Equal(t, domain.RouteFallback, d.Reason)
	assert.Equal(t, domain.EndpointPing, d.Endpoint)
	assert.Equal(t, 0.5, d.HealthScore)
	assert.Equal(t, 100.0, d.P50Ms)
}

func TestGetEndpointPicksLowestP50(t *testing.T) {
	s := newTestSelector(Config{PreferFastest: true, MinHealthScore: 0.3, CacheTTL: time.Minute})
	s.PublishHeatmap(heatmapWith(map[domain.EndpointKind]domain.LatencyStat{
		domain.EndpointPing:      {P50Ms: 80, P95Ms: 120, Samples: 20},
		domain.EndpointPingAlt:   {P50Ms: 40, P95Ms: 60, Samples: 20},
		domain.EndpointOrderbook: {P50Ms: 200, P95Ms: 300, Samples: 20},
	}))

	d := s.GetEndpoint("btcturk")
	assert.Equal(t, domain.RouteOptimized, d.Reason)
	assert.Equal(t, domain.EndpointPingAlt, d.Endpoint)
	assert.Equal(t, 40.0, d.P50Ms)
	assert.Greater(t, d.HealthScore, 0.3)
}

func TestGetEndpointSkipsUnhealthyEndpoints(t *testing.T) {
	s := newTestSelector(Config{PreferFastest: true, MinHealthScore: 0.5, CacheTTL: time.Minute})
	s.PublishHeatmap(heatmapWith(map[domain.EndpointKind]domain.LatencyStat{
		// Fast but terrible tail: fails the health gate.
		domain.EndpointPing:    {P50Ms: 50, P95Ms: 4000, Samples: 20},
		domain.EndpointPingAlt: {P50Ms: 90, P95Ms: 110, Samples: 20},
	}))

	d := s.GetEndpoint("btcturk")
	assert.Equal(t, domain.RouteOptimized, d.Reason)
	assert.Equal(t, domain.EndpointPingAlt, d.Endpoint)
}

func TestGetEndpointCachesDecisionUntilTTL(t *testing.T) {
	s := newTestSelector(Config{PreferFastest: true, MinHealthScore: 0.3, CacheTTL: time.Minute})

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.PublishHeatmap(heatmapWith(map[domain.EndpointKind]domain.LatencyStat{
		domain.EndpointPing: {P50Ms: 80, P95Ms: 120, Samples: 20},
	}))
	first := s.GetEndpoint("btcturk")
	require.Equal(t, domain.EndpointPing, first.Endpoint)

	// A better endpoint appears, but the cached decision is still fresh.
	s.PublishHeatmap(heatmapWith(map[domain.EndpointKind]domain.LatencyStat{
		domain.EndpointPing:    {P50Ms: 80, P95Ms: 120, Samples: 20},
		domain.EndpointPingAlt: {P50Ms: 20, P95Ms: 30, Samples: 20},
	}))
	s.now = func() time.Time { return base.Add(30 * time.Second) }
	assert.Equal(t, domain.EndpointPing, s.GetEndpoint("btcturk").Endpoint)

	// Past the TTL the decision is recomputed.
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, domain.EndpointPingAlt, s.GetEndpoint("btcturk").Endpoint)
}

func TestGetEndpointDefaultWhenFastestDisabled(t *testing.T) {
	s := newTestSelector(Config{PreferFastest: false, CacheTTL: time.Minute})
	s.PublishHeatmap(heatmapWith(map[domain.EndpointKind]domain.LatencyStat{
		domain.EndpointPingAlt: {P50Ms: 10, P95Ms: 15, Samples: 20},
	}))

	d := s.GetEndpoint("btcturk")
	assert.Equal(t, domain.RouteDefault, d.Reason)
	assert.Equal(t, domain.EndpointPing, d.Endpoint)
	assert.Equal(t, 1.0, d.HealthScore)
}

func TestGetEndpointUnknownExchangeFallsBackToPing(t *testing.T) {
	s := newTestSelector(Config{PreferFastest: true, CacheTTL: time.Minute})
	d := s.GetEndpoint("unknown")
	assert.Equal(t, domain.EndpointPing, d.Endpoint)
	assert.Equal(t, domain.RouteFallback, d.Reason)
}

func TestShouldFallbackOnErrorBurst(t *testing.T) {
	s := newTestSelector(Config{CacheTTL: time.Minute})

	s.RecordError("btcturk", domain.EndpointPing, "timeout")
	s.RecordError("btcturk", domain.EndpointPing, "timeout")
	assert.False(t, s.ShouldFallback("btcturk", domain.EndpointPing))

	s.RecordError("btcturk", domain.EndpointPing, "timeout")
	assert.True(t, s.ShouldFallback("btcturk", domain.EndpointPing))
}

func TestShouldFallbackOnSustainedLatency(t *testing.T) {
	s := newTestSelector(Config{CacheTTL: time.Minute})

	s.RecordLatency("btcturk", domain.EndpointPing, 1200)
	s.RecordLatency("btcturk", domain.EndpointPing, 1500)
	assert.True(t, s.ShouldFallback("btcturk", domain.EndpointPing))

	assert.False(t, s.ShouldFallback("btcturk", domain.EndpointOrderbook))
}

func TestShouldFallbackIgnoresOldObservations(t *testing.T) {
	s := newTestSelector(Config{CacheTTL: time.Minute})

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		s.RecordError("btcturk", domain.EndpointPing, "timeout")
	}

	// Ten minutes later the burst is outside the lookback.
	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	assert.False(t, s.ShouldFallback("btcturk", domain.EndpointPing))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestGetEndpointNotifiesOnFallbackTransition(t *testing.T) {
	s := newTestSelector(Config{PreferFastest: true, MinHealthScore: 0.3, CacheTTL: time.Minute})
	rec := &recordingNotifier{}
	s.SetNotifier(rec)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	// No heatmap yet: the first decision degrades to fallback and alerts.
	d := s.GetEndpoint("btcturk")
	require.Equal(t, domain.RouteFallback, d.Reason)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, []string{"route_fallback"}, rec.events)
	rec.mu.Unlock()

	// Still degraded after the TTL: no repeat alert for the same outage.
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.Equal(t, domain.RouteFallback, s.GetEndpoint("btcturk").Reason)
	assert.Never(t, func() bool { return rec.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	// Recovery, then a fresh degradation alerts again.
	s.PublishHeatmap(heatmapWith(map[domain.EndpointKind]domain.LatencyStat{
		domain.EndpointPing: {P50Ms: 40, P95Ms: 60, Samples: 20},
	}))
	s.now = func() time.Time { return base.Add(4 * time.Minute) }
	require.Equal(t, domain.RouteOptimized, s.GetEndpoint("btcturk").Reason)

	s.PublishHeatmap(domain.Heatmap{})
	s.now = func() time.Time { return base.Add(6 * time.Minute) }
	require.Equal(t, domain.RouteFallback, s.GetEndpoint("btcturk").Reason)
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestGetEndpointWithoutNotifierStaysSilent(t *testing.T) {
	s := newTestSelector(Config{PreferFastest: true, CacheTTL: time.Minute})
	// Must not panic on the fallback path with no notifier registered.
	assert.Equal(t, domain.RouteFallback, s.GetEndpoint("btcturk").Reason)
}

func TestHealthScore(t *testing.T) {
	// Clean endpoint: no penalties.
	assert.Equal(t, 1.0, HealthScore(domain.LatencyStat{P50Ms: 50, P95Ms: 80}, 0))

	// p50 and p95 penalties plus the variance penalty.
	got := HealthScore(domain.LatencyStat{P50Ms: 200, P95Ms: 600}, 0)
	want := (100.0 / 200.0) * (500.0 / 600.0) * 0.8
	assert.InDelta(t, want, got, 1e-9)

	// Error rate scales the remainder.
	assert.InDelta(t, 0.5, HealthScore(domain.LatencyStat{P50Ms: 50, P95Ms: 80}, 0.5), 1e-9)

	// Full error rate floors the score.
	assert.Equal(t, 0.0, HealthScore(domain.LatencyStat{P50Ms: 50, P95Ms: 80}, 1))
}
