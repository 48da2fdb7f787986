package domain

import (
	"context"
	"time"
)

// HeatmapStore persists complete heatmap snapshots. Snapshots are written
// whole after a probe run and read back as the latest complete record; there
// is no partial update.
type HeatmapStore interface {
	Save(ctx context.Context, hm Heatmap) error
	// Latest returns ErrNoHeatmap when no snapshot has ever been saved.
	Latest(ctx context.Context) (Heatmap, error)
	// ListBefore returns snapshots taken strictly before the cutoff, oldest
	// first, for archival.
	ListBefore(ctx context.Context, before time.Time) ([]Heatmap, error)
	// DeleteBefore removes snapshots taken strictly before the cutoff and
	// returns the number deleted.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ParamsStore persists the single ExecutionParams record. Load returns
// ErrNoParams when no record exists yet.
type ParamsStore interface {
	Load(ctx context.Context) (ExecutionParams, error)
	Save(ctx context.Context, p ExecutionParams) error
}

// AdjustmentLogStore persists the tuner's audit trail, capped to a fixed
// number of most-recent entries.
type AdjustmentLogStore interface {
	Append(ctx context.Context, entries []ParamAdjustment) error
	// ListRecent returns up to limit entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]ParamAdjustment, error)
	// TrimTo deletes all but the newest keep entries.
	TrimTo(ctx context.Context, keep int) error
	ListBefore(ctx context.Context, before time.Time) ([]ParamAdjustment, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore persists the append-only session metrics consumed by the
// tuner: per-session maker fill rates and shadow-vs-live price differences.
type SessionStore interface {
	AppendFillRate(ctx context.Context, m SessionMetric) error
	// RecentFillRates returns up to n most recent fill rates, newest first.
	RecentFillRates(ctx context.Context, n int) ([]float64, error)
	AppendShadowDiff(ctx context.Context, s ShadowDiffSample) error
	// RecentShadowDiffs returns up to n most recent diff samples, newest first.
	RecentShadowDiffs(ctx context.Context, n int) ([]float64, error)
}

// RateCache persists the last known good rate quote so a restarted process
// can serve it until the first live fetch completes.
type RateCache interface {
	SaveQuote(ctx context.Context, q RateQuote) error
	// LoadQuote returns ErrNotFound when no quote has ever been saved.
	LoadQuote(ctx context.Context) (RateQuote, error)
}

// SignalBus provides pub/sub fan-out of decisions and events to collaborator
// processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
