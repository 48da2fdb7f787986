package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekinsoy/arbcore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSessions struct {
	fills []domain.SessionMetric
	diffs []domain.ShadowDiffSample
}

func (r *recordingSessions) AppendFillRate(_ context.Context, m domain.SessionMetric) error {
	r.fills = append(r.fills, m)
	return nil
}

func (r *recordingSessions) AppendShadowDiff(_ context.Context, s domain.ShadowDiffSample) error {
	r.diffs = append(r.diffs, s)
	return nil
}

func (r *recordingSessions) RecentFillRates(context.Context, int) ([]float64, error) {
	return nil, nil
}

func (r *recordingSessions) RecentShadowDiffs(context.Context, int) ([]float64, error) {
	return nil, nil
}

func TestHandleMessageTradeResult(t *testing.T) {
	var outcomes []bool
	f := NewMetricsFeed("ws://unused", func(success bool) {
		outcomes = append(outcomes, success)
	}, nil, testLogger())

	require.NoError(t, f.handleMessage(context.Background(), []byte(`{"event":"trade_result","success":true}`)))
	require.NoError(t, f.handleMessage(context.Background(), []byte(`{"event":"trade_result","success":false}`)))
	assert.Equal(t, []bool{true, false}, outcomes)
}

func TestHandleMessageSessionSummary(t *testing.T) {
	sessions := &recordingSessions{}
	f := NewMetricsFeed("ws://unused", nil, sessions, testLogger())

	payload := []byte(`{"event":"session_summary","session_id":"s-42","maker_fill_rate":0.63}`)
	require.NoError(t, f.handleMessage(context.Background(), payload))

	require.Len(t, sessions.fills, 1)
	assert.Equal(t, "s-42", sessions.fills[0].ID)
	assert.Equal(t, 0.63, sessions.fills[0].MakerFillRate)
	assert.False(t, sessions.fills[0].RecordedAt.IsZero())
}

func TestHandleMessageShadowDiff(t *testing.T) {
	sessions := &recordingSessions{}
	f := NewMetricsFeed("ws://unused", nil, sessions, testLogger())

	require.NoError(t, f.handleMessage(context.Background(), []byte(`{"event":"shadow_diff","diff_bps":4.2}`)))

	require.Len(t, sessions.diffs, 1)
	assert.Equal(t, 4.2, sessions.diffs[0].DiffBps)
}

func TestHandleMessageUnknownEventIgnored(t *testing.T) {
	sessions := &recordingSessions{}
	f := NewMetricsFeed("ws://unused", nil, sessions, testLogger())

	require.NoError(t, f.handleMessage(context.Background(), []byte(`{"event":"heartbeat"}`)))
	assert.Empty(t, sessions.fills)
	assert.Empty(t, sessions.diffs)
}

func TestHandleMessageMalformedPayload(t *testing.T) {
	f := NewMetricsFeed("ws://unused", nil, nil, testLogger())
	assert.Error(t, f.handleMessage(context.Background(), []byte(`not json`)))
}

func TestHandleMessageSessionIDPassedThroughVerbatim(t *testing.T) {
	sessions := &recordingSessions{}
	f := NewMetricsFeed("ws://unused", nil, sessions, testLogger())

	// Collaborator session IDs are opaque strings, not necessarily UUIDs.
	payload := []byte(`{"event":"session_summary","session_id":"sess-2026-08-28-a","maker_fill_rate":0.5}`)
	require.NoError(t, f.handleMessage(context.Background(), payload))

	require.Len(t, sessions.fills, 1)
	assert.Equal(t, "sess-2026-08-28-a", sessions.fills[0].ID)
}

func TestReconnectCycleReleasesCloserGoroutine(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection immediately, as a flapping collaborator would.
		_ = conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewMetricsFeed(wsURL, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseline := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		require.Error(t, f.runConnection(ctx))
	}

	// Every per-connection closer must have exited once its connection ended;
	// allow the runtime a moment to reap them.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+2
	}, 2*time.Second, 20*time.Millisecond,
		"closer goroutines leaked across reconnects")
}

func TestHandleMessageSessionEventsWithoutStore(t *testing.T) {
	f := NewMetricsFeed("ws://unused", nil, nil, testLogger())
	// Dropped with a warning, not an error.
	assert.NoError(t, f.handleMessage(context.Background(), []byte(`{"event":"session_summary","session_id":"s-1"}`)))
	assert.NoError(t, f.handleMessage(context.Background(), []byte(`{"event":"shadow_diff","diff_bps":1}`)))
}
