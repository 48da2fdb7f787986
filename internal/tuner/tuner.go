// Package tuner adaptively re-tunes the two persisted execution parameters
// (step-in aggressiveness and minimum required edge) from rolling session
// feedback: maker fill rates and shadow-vs-live price accuracy. It runs on a
// slow cadence, once per trading session, and applies all fired adjustments
// atomically.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// Hard bounds on the tuned parameters. Enforced after every adjustment.
const (
	stepInKMin = 0
	stepInKMax = 3
	minEdgeMin = 3
	minEdgeMax = 10
)

// Config holds the tuning targets and window sizes.
type Config struct {
	// HistorySessions is how many recent fill-rate records feed the
	// fill-rate reading.
	HistorySessions int
	// ShadowDiffSamples is how many recent shadow-diff samples feed the
	// accuracy reading.
	ShadowDiffSamples int
	// AuditLogCap bounds the persisted adjustment log.
	AuditLogCap int

	// Rule thresholds. Fill rates are fractions, diffs are basis points.
	FillRateLow           float64
	FillRateHigh          float64
	FillRateLoosen        float64
	FillRateTighten       float64
	ShadowDiffTrustBps    float64
	ShadowDiffBadBps      float64
	ShadowDiffAccurateBps float64
}

// DefaultConfig returns the standard tuning targets.
func DefaultConfig() Config {
	return Config{
		HistorySessions:       3,
		ShadowDiffSamples:     100,
		AuditLogCap:           100,
		FillRateLow:           0.55,
		FillRateHigh:          0.70,
		FillRateLoosen:        0.50,
		FillRateTighten:       0.75,
		ShadowDiffTrustBps:    5.0,
		ShadowDiffBadBps:      6.0,
		ShadowDiffAccurateBps: 3.0,
	}
}

// DefaultParams is the ExecutionParams record created on the first tuning
// cycle when none has been persisted yet.
func DefaultParams() domain.ExecutionParams {
	return domain.ExecutionParams{StepInK: 1, MinEdgeBps: 5}
}

// Notifier is the subset of the notification system the tuner uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Tuner reads session feedback and nudges the persisted execution
// parameters toward the configured targets.
type Tuner struct {
	cfg      Config
	sessions domain.SessionStore
	params   domain.ParamsStore
	auditLog domain.AdjustmentLogStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Tuner. notifier may be nil.
func New(cfg Config, sessions domain.SessionStore, params domain.ParamsStore, auditLog domain.AdjustmentLogStore, notifier Notifier, logger *slog.Logger) *Tuner {
	if cfg.HistorySessions <= 0 {
		cfg.HistorySessions = 3
	}
	if cfg.ShadowDiffSamples <= 0 {
		cfg.ShadowDiffSamples = 100
	}
	if cfg.AuditLogCap <= 0 {
		cfg.AuditLogCap = 100
	}
	return &Tuner{
		cfg:      cfg,
		sessions: sessions,
		params:   params,
		auditLog: auditLog,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "adaptive_tuner")),
		now:      time.Now,
	}
}

// Run executes one tuning cycle. It returns the adjustments that were
// applied; an empty result with a nil error is an explicit, observable no-op
// (insufficient history, or no rule fired). Nothing is persisted on a no-op.
func (t *Tuner) Run(ctx context.Context) ([]domain.ParamAdjustment, error) {
	fillRates, err := t.sessions.RecentFillRates(ctx, t.cfg.HistorySessions)
	if err != nil {
		return nil, fmt.Errorf("tuner: recent fill rates: %w", err)
	}
	diffs, err := t.sessions.RecentShadowDiffs(ctx, t.cfg.ShadowDiffSamples)
	if err != nil {
		return nil, fmt.Errorf("tuner: recent shadow diffs: %w", err)
	}
	if len(fillRates) == 0 || len(diffs) == 0 {
		t.logger.Info("tuning skipped: insufficient session history",
			slog.Int("fill_rates", len(fillRates)),
			slog.Int("shadow_diffs", len(diffs)),
		)
		return nil, nil
	}

	fillRate := mean(fillRates)
	shadowDiff := mean(diffs)

	current, err := t.params.Load(ctx)
	if errors.Is(err, domain.ErrNoParams) {
		current = DefaultParams()
	} else if err != nil {
		return nil, fmt.Errorf("tuner: load params: %w", err)
	}

	updated, adjustments := t.evaluate(current, fillRate, shadowDiff)
	if len(adjustments) == 0 {
		t.logger.Info("tuning no-op: no rule fired",
			slog.Float64("fill_rate", fillRate),
			slog.Float64("shadow_diff_bps", shadowDiff),
		)
		return nil, nil
	}

	updated.UpdatedAt = t.now()
	if err := t.params.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("tuner: save params: %w", err)
	}
	if err := t.auditLog.Append(ctx, adjustments); err != nil {
		return nil, fmt.Errorf("tuner: append audit log: %w", err)
	}
	if err := t.auditLog.TrimTo(ctx, t.cfg.AuditLogCap); err != nil {
		return nil, fmt.Errorf("tuner: trim audit log: %w", err)
	}

	for _, adj := range adjustments {
		t.logger.Info("execution parameter adjusted",
			slog.String("param", adj.Param),
			slog.Int("old", adj.OldValue),
			slog.Int("new", adj.NewValue),
			slog.String("reason", adj.Reason),
		)
	}
	if t.notifier != nil {
		msg := fmt.Sprintf("fill_rate=%.2f shadow_diff=%.1fbps step_in_k=%d min_edge_bps=%d",
			fillRate, shadowDiff, updated.StepInK, updated.MinEdgeBps)
		_ = t.notifier.Notify(ctx, "params_adjusted", "Execution parameters adjusted", msg)
	}

	return adjustments, nil
}

// evaluate applies the decision table to the current parameters. Every rule
// is evaluated against the same readings; the step rules and the edge rules
// may both fire in a single run. A rule that would only push a parameter
// against its bound produces no adjustment.
func (t *Tuner) evaluate(current domain.ExecutionParams, fillRate, shadowDiff float64) (domain.ExecutionParams, []domain.ParamAdjustment) {
	updated := current
	var adjustments []domain.ParamAdjustment

	record := func(param string, old, new int, reason string) {
		adjustments = append(adjustments, domain.ParamAdjustment{
			ID:        uuid.NewString(),
			Param:     param,
			OldValue:  old,
			NewValue:  new,
			Reason:    reason,
			AppliedAt: t.now(),
		})
	}

	// Too passive while price tracking is trustworthy: step in harder.
	if fillRate < t.cfg.FillRateLow && shadowDiff < t.cfg.ShadowDiffTrustBps {
		if next := clampInt(updated.StepInK+1, stepInKMin, stepInKMax); next != updated.StepInK {
			record("step_in_k", updated.StepInK, next,
				fmt.Sprintf("fill rate %.2f below %.2f with trusted shadow diff %.1fbps", fillRate, t.cfg.FillRateLow, shadowDiff))
			updated.StepInK = next
		}
	}

	// Overfilling, or price tracking is unreliable: back off.
	if fillRate > t.cfg.FillRateHigh || shadowDiff > t.cfg.ShadowDiffBadBps {
		if next := clampInt(updated.StepInK-1, stepInKMin, stepInKMax); next != updated.StepInK {
			record("step_in_k", updated.StepInK, next,
				fmt.Sprintf("fill rate %.2f or shadow diff %.1fbps outside comfort band", fillRate, shadowDiff))
			updated.StepInK = next
		}
	}

	// Too few fills: loosen the profitability bar.
	if fillRate < t.cfg.FillRateLoosen {
		if next := clampInt(updated.MinEdgeBps-1, minEdgeMin, minEdgeMax); next != updated.MinEdgeBps {
			record("min_edge_bps", updated.MinEdgeBps, next,
				fmt.Sprintf("fill rate %.2f below %.2f", fillRate, t.cfg.FillRateLoosen))
			updated.MinEdgeBps = next
		}
	}

	// Abundant fills with high accuracy: tighten the bar.
	if fillRate > t.cfg.FillRateTighten && shadowDiff < t.cfg.ShadowDiffAccurateBps {
		if next := clampInt(updated.MinEdgeBps+1, minEdgeMin, minEdgeMax); next != updated.MinEdgeBps {
			record("min_edge_bps", updated.MinEdgeBps, next,
				fmt.Sprintf("fill rate %.2f above %.2f with accurate shadow diff %.1fbps", fillRate, t.cfg.FillRateTighten, shadowDiff))
			updated.MinEdgeBps = next
		}
	}

	return updated, adjustments
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
