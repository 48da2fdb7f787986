package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ekinsoy/arbcore/internal/domain"
	"github.com/ekinsoy/arbcore/internal/feed"
	"github.com/ekinsoy/arbcore/internal/service"
)

// ProbeMode runs the latency probe loop on its own. Snapshots are persisted
// and published to the route selector so GetEndpoint stays answerable for
// anything else sharing the process.
func (a *App) ProbeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting probe mode",
		slog.Duration("interval", a.cfg.Probe.Interval.Duration),
	)
	a.warmSelector(ctx, deps)
	return deps.Prober.Run(ctx, a.cfg.Probe.Interval.Duration, deps.Selector.PublishHeatmap)
}

// warmSelector seeds the route selector from the last persisted heatmap so
// GetEndpoint answers from real data right after a restart instead of serving
// fallback sentinels until the first probe run completes.
func (a *App) warmSelector(ctx context.Context, deps *Dependencies) {
	if deps.Heatmaps == nil {
		return
	}
	hm, err := deps.Heatmaps.Latest(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoHeatmap) {
			a.logger.WarnContext(ctx, "heatmap warm load failed",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	deps.Selector.PublishHeatmap(hm)
	a.logger.InfoContext(ctx, "route selector warmed from persisted heatmap",
		slog.String("heatmap_id", hm.ID),
		slog.Time("taken_at", hm.TakenAt),
	)
}

// TuneMode runs the adaptive tuner on its schedule, together with the metrics
// feed that supplies it with session data.
func (a *App) TuneMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting tune mode",
		slog.Duration("interval", a.cfg.Tuner.Interval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Feed.Enabled {
		metricsFeed := feed.NewMetricsFeed(a.cfg.Feed.WsURL, deps.Scorer.RecordTradeResult, deps.Sessions, a.logger)
		g.Go(func() error {
			defer metricsFeed.Close()
			return metricsFeed.Run(ctx)
		})
	}

	g.Go(func() error {
		return a.runTunerLoop(ctx, deps)
	})

	return g.Wait()
}

// ArchiveMode performs a single archival sweep and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires postgres and s3")
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	a.logger.InfoContext(ctx, "starting archive sweep",
		slog.Duration("retention", retention),
	)
	return deps.Archiver.Run(ctx, retention)
}

// FullMode runs the complete decision core: the probe loop, the rate refresh
// loop, the metrics feed, the tuner schedule, and the decision service
// consuming opportunity events.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	// Seed the rate cache and route selector before anything consults them.
	deps.Rates.Warm(ctx)
	a.warmSelector(ctx, deps)

	decisions := service.NewDecisionService(
		deps.Selector, deps.Scorer, deps.Sizer, deps.Rates,
		deps.Params, deps.SignalBus, a.logger,
	)
	decisions.RefreshParams(ctx)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Probe.Enabled {
		g.Go(func() error {
			return deps.Prober.Run(ctx, a.cfg.Probe.Interval.Duration, deps.Selector.PublishHeatmap)
		})
	}

	if a.cfg.Rate.RefreshEvery.Duration > 0 {
		g.Go(func() error {
			return deps.Rates.Run(ctx, a.cfg.Rate.RefreshEvery.Duration)
		})
	}

	if a.cfg.Feed.Enabled {
		metricsFeed := feed.NewMetricsFeed(a.cfg.Feed.WsURL, decisions.RecordTradeResult, deps.Sessions, a.logger)
		g.Go(func() error {
			defer metricsFeed.Close()
			return metricsFeed.Run(ctx)
		})
	}

	if a.cfg.Tuner.Enabled {
		g.Go(func() error {
			return a.runTunerLoop(ctx, deps)
		})
		// Pick up tuned parameters between cycles.
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.Tuner.Interval.Duration)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					decisions.RefreshParams(ctx)
				}
			}
		})
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	g.Go(func() error {
		return decisions.Run(ctx)
	})

	return g.Wait()
}

// runTunerLoop executes a tuning cycle on every tick until the context ends.
// A failing cycle is logged and retried on the next tick rather than taking
// the whole process down.
func (a *App) runTunerLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Tuner.Interval.Duration
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			adjustments, err := deps.Tuner.Run(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "tuning cycle failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logAdjustments(ctx, adjustments)
		}
	}
}

func (a *App) logAdjustments(ctx context.Context, adjustments []domain.ParamAdjustment) {
	for _, adj := range adjustments {
		a.logger.InfoContext(ctx, "execution parameter adjusted",
			slog.String("param", adj.Param),
			slog.Int("old", adj.OldValue),
			slog.Int("new", adj.NewValue),
			slog.String("reason", adj.Reason),
		)
	}
}

// runArchiveLoop performs a daily archival sweep.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := deps.Archiver.Run(ctx, retention); err != nil {
				a.logger.ErrorContext(ctx, "archive sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
