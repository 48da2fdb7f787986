// Package feed ingests execution feedback from the trading collaborator over
// a WebSocket connection: per-trade outcomes for the scorer's rolling window,
// and session summaries / shadow-diff samples for the tuner's stores.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ekinsoy/arbcore/internal/domain"
)

const (
	reconnectDelay = 2 * time.Second
	dialTimeout    = 15 * time.Second
	readLimit      = 1 << 20
)

// OutcomeHandler receives each trade outcome as it arrives.
type OutcomeHandler func(success bool)

// MetricsFeed consumes the collaborator's metrics stream and fans events into
// the scorer window and the session store. It reconnects on disconnect.
type MetricsFeed struct {
	wsURL     string
	onOutcome OutcomeHandler
	sessions  domain.SessionStore
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewMetricsFeed creates a feed reading from wsURL. sessions may be nil when
// running without persistence; session events are then dropped with a
// warning.
func NewMetricsFeed(wsURL string, onOutcome OutcomeHandler, sessions domain.SessionStore, logger *slog.Logger) *MetricsFeed {
	return &MetricsFeed{
		wsURL:     wsURL,
		onOutcome: onOutcome,
		sessions:  sessions,
		logger:    logger.With(slog.String("component", "metrics_feed")),
		done:      make(chan struct{}),
	}
}

// metricsEvent is the JSON shape published by the execution collaborator.
type metricsEvent struct {
	Event         string  `json:"event"`
	Success       bool    `json:"success"`
	MakerFillRate float64 `json:"maker_fill_rate"`
	DiffBps       float64 `json:"diff_bps"`
	SessionID     string  `json:"session_id"`
}

// Run connects and consumes events until ctx is cancelled, reconnecting with
// a fixed backoff on disconnect.
func (f *MetricsFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if err := f.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("metrics feed disconnected, reconnecting",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *MetricsFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	f.logger.Info("metrics feed connected", slog.String("url", f.wsURL))

	// Close the connection when the context ends so ReadMessage unblocks.
	// connDone releases the closer once this connection is over; without it
	// every reconnect would leave one goroutine parked until shutdown.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-connDone:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if err := f.handleMessage(ctx, data); err != nil {
			f.logger.Warn("metrics feed: handle message failed",
				slog.String("error", err.Error()),
				slog.String("payload", string(data)),
			)
		}
	}
}

func (f *MetricsFeed) handleMessage(ctx context.Context, data []byte) error {
	var ev metricsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("feed: decode event: %w", err)
	}

	switch ev.Event {
	case "trade_result":
		if f.onOutcome != nil {
			f.onOutcome(ev.Success)
		}
	case "session_summary":
		if f.sessions == nil {
			f.logger.Warn("session summary dropped: no session store")
			return nil
		}
		return f.sessions.AppendFillRate(ctx, domain.SessionMetric{
			ID:            ev.SessionID,
			MakerFillRate: ev.MakerFillRate,
			RecordedAt:    time.Now(),
		})
	case "shadow_diff":
		if f.sessions == nil {
			f.logger.Warn("shadow diff dropped: no session store")
			return nil
		}
		return f.sessions.AppendShadowDiff(ctx, domain.ShadowDiffSample{
			DiffBps:    ev.DiffBps,
			RecordedAt: time.Now(),
		})
	}
	return nil
}

// Close stops the feed.
func (f *MetricsFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
