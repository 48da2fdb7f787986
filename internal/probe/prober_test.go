package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekinsoy/arbcore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbeAllBuildsHeatmap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := New(Config{SamplesPerEndpoint: 5, Timeout: 2 * time.Second}, []ExchangeEndpoints{
		{
			ID: "btcturk",
			Endpoints: map[domain.EndpointKind]string{
				domain.EndpointPing:      srv.URL,
				domain.EndpointOrderbook: srv.URL,
			},
		},
		{
			ID:        "binance",
			Endpoints: map[domain.EndpointKind]string{domain.EndpointPing: srv.URL},
		},
	}, nil, testLogger())

	hm, err := p.ProbeAll(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, hm.ID)
	assert.False(t, hm.TakenAt.IsZero())
	require.Len(t, hm.Exchanges, 2)

	st, ok := hm.Stat("btcturk", domain.EndpointPing)
	require.True(t, ok)
	assert.Equal(t, 5, st.Samples)
	assert.Greater(t, st.P50Ms, 0.0)
	assert.GreaterOrEqual(t, st.MaxMs, st.P50Ms)

	// ping_alt was never configured and must not appear.
	_, ok = hm.Stat("btcturk", domain.EndpointPingAlt)
	assert.False(t, ok)
}

func TestProbeAllRecordsFailuresAsWorstCase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	timeout := 500 * time.Millisecond
	p := New(Config{SamplesPerEndpoint: 3, Timeout: timeout}, []ExchangeEndpoints{
		{ID: "btcturk", Endpoints: map[domain.EndpointKind]string{domain.EndpointPing: srv.URL}},
	}, nil, testLogger())

	hm, err := p.ProbeAll(context.Background())
	require.NoError(t, err)

	// A failing endpoint stays in the heatmap with timeout-valued samples
	// instead of vanishing from it.
	st, ok := hm.Stat("btcturk", domain.EndpointPing)
	require.True(t, ok)
	assert.Equal(t, 3, st.Samples)
	assert.Equal(t, float64(timeout.Milliseconds()), st.P50Ms)
	assert.Equal(t, float64(timeout.Milliseconds()), st.MaxMs)
}

func TestProbeAllMixedHealth(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	p := New(Config{SamplesPerEndpoint: 3, Timeout: time.Second}, []ExchangeEndpoints{
		{
			ID: "btcturk",
			Endpoints: map[domain.EndpointKind]string{
				domain.EndpointPing:    good.URL,
				domain.EndpointPingAlt: bad.URL,
			},
		},
	}, nil, testLogger())

	hm, err := p.ProbeAll(context.Background())
	require.NoError(t, err)

	goodStat, _ := hm.Stat("btcturk", domain.EndpointPing)
	badStat, _ := hm.Stat("btcturk", domain.EndpointPingAlt)
	assert.Less(t, goodStat.P50Ms, badStat.P50Ms)
}

func TestProbeAllStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(Config{SamplesPerEndpoint: 3, Timeout: time.Second}, []ExchangeEndpoints{
		{ID: "btcturk", Endpoints: map[domain.EndpointKind]string{domain.EndpointPing: srv.URL}},
	}, nil, testLogger())

	_, err := p.ProbeAll(ctx)
	assert.Error(t, err)
}

type failingHeatmapStore struct{}

func (failingHeatmapStore) Save(context.Context, domain.Heatmap) error { return assert.AnError }
func (failingHeatmapStore) Latest(context.Context) (domain.Heatmap, error) {
	return domain.Heatmap{}, domain.ErrNoHeatmap
}
func (failingHeatmapStore) ListBefore(context.Context, time.Time) ([]domain.Heatmap, error) {
	return nil, nil
}
func (failingHeatmapStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func TestProbeAllReturnsHeatmapDespitePersistFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := New(Config{SamplesPerEndpoint: 2, Timeout: time.Second}, []ExchangeEndpoints{
		{ID: "btcturk", Endpoints: map[domain.EndpointKind]string{domain.EndpointPing: srv.URL}},
	}, failingHeatmapStore{}, testLogger())

	hm, err := p.ProbeAll(context.Background())
	assert.Error(t, err)
	// The snapshot is still usable even though persistence failed.
	assert.Len(t, hm.Exchanges, 1)
}
