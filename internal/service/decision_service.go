// Package service combines the route selector, opportunity scorer, position
// sizer and rate provider into the single evaluation entry point used by the
// order-placement collaborator.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ekinsoy/arbcore/internal/domain"
	"github.com/ekinsoy/arbcore/internal/scoring"
	"github.com/ekinsoy/arbcore/internal/tuner"
)

// Channel names on the signal bus.
const (
	opportunitiesChannel = "opportunities"
	decisionsChannel     = "decisions"
)

// RouteGetter is the subset of the route selector the service needs.
type RouteGetter interface {
	GetEndpoint(ex domain.ExchangeID) domain.RouteDecision
}

// RateGetter is the subset of the rate provider the service needs.
type RateGetter interface {
	GetRate(ctx context.Context, useCache bool) float64
	Info() domain.RateInfo
}

// DecisionService evaluates detected opportunities on the hot path. Apart
// from the rate provider's guaranteed-warm cache it touches only in-memory
// state.
type DecisionService struct {
	routes RouteGetter
	scorer *scoring.Scorer
	sizer  *scoring.Sizer
	rates  RateGetter

	// params is the execution parameter set for the current cycle,
	// refreshed between cycles and never mutated mid-cycle.
	params atomic.Pointer[domain.ExecutionParams]

	paramsStore domain.ParamsStore
	bus         domain.SignalBus
	logger      *slog.Logger
}

// NewDecisionService creates a DecisionService. paramsStore and bus may be
// nil; the service then runs with default parameters and without publishing.
func NewDecisionService(routes RouteGetter, scorer *scoring.Scorer, sizer *scoring.Sizer, rates RateGetter, paramsStore domain.ParamsStore, bus domain.SignalBus, logger *slog.Logger) *DecisionService {
	s := &DecisionService{
		routes:      routes,
		scorer:      scorer,
		sizer:       sizer,
		rates:       rates,
		paramsStore: paramsStore,
		bus:         bus,
		logger:      logger.With(slog.String("component", "decision_service")),
	}
	p := tuner.DefaultParams()
	s.params.Store(&p)
	return s
}

// RefreshParams loads the persisted execution parameters for the next cycle.
// Missing persisted state keeps the current (default) set.
func (s *DecisionService) RefreshParams(ctx context.Context) {
	if s.paramsStore == nil {
		return
	}
	p, err := s.paramsStore.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoParams) {
			s.logger.Warn("params refresh failed", slog.String("error", err.Error()))
		}
		return
	}
	s.params.Store(&p)
	s.logger.Info("execution params refreshed",
		slog.Int("step_in_k", p.StepInK),
		slog.Int("min_edge_bps", p.MinEdgeBps),
	)
}

// Params returns the execution parameters in effect for this cycle.
func (s *DecisionService) Params() domain.ExecutionParams {
	return *s.params.Load()
}

// EvaluateOpportunity scores and sizes one opportunity. Missing latency is
// filled from the current route's p50, the minimum-edge gate is applied from
// the cycle's execution parameters, and the USD leg size is derived from the
// cached conversion rate. It always returns a usable decision.
func (s *DecisionService) EvaluateOpportunity(ctx context.Context, feat domain.OpportunityFeatures, availableTL float64) domain.OpportunityDecision {
	route := s.routes.GetEndpoint(feat.Exchange)
	if feat.LatencyMs <= 0 {
		feat.LatencyMs = route.P50Ms
	}

	score, breakdown := s.scorer.Score(feat)

	var (
		sizeTL float64
		reason string
	)
	params := s.Params()
	if feat.NetSpreadBps < float64(params.MinEdgeBps) {
		sizeTL = 0
		reason = fmt.Sprintf("net spread %.1fbps below minimum edge %dbps", feat.NetSpreadBps, params.MinEdgeBps)
	} else {
		sizeTL, reason = s.sizer.Size(score, availableTL)
	}

	rate := s.rates.GetRate(ctx, true)
	decision := domain.OpportunityDecision{
		Exchange:   feat.Exchange,
		Route:      route,
		Score:      score,
		Breakdown:  breakdown,
		SizeTL:     sizeTL,
		SizeReason: reason,
		Rate:       s.rates.Info(),
		DecidedAt:  time.Now(),
	}
	if rate > 0 {
		decision.SizeUSD = sizeTL / rate
	}

	s.publish(ctx, decision)
	return decision
}

// RecordTradeResult forwards a trade outcome into the scorer's rolling
// window.
func (s *DecisionService) RecordTradeResult(success bool) {
	s.scorer.RecordTradeResult(success)
}

// opportunityEvent is the JSON shape collaborators publish on the
// opportunities channel.
type opportunityEvent struct {
	Exchange        string  `json:"exchange"`
	NetSpreadBps    float64 `json:"net_spread_bps"`
	DepthBalance    float64 `json:"depth_balance"`
	Volatility5mPct float64 `json:"volatility_5m_pct"`
	LatencyMs       float64 `json:"latency_ms"`
	AvailableTL     float64 `json:"available_tl"`
}

// Run subscribes to the opportunities channel and evaluates each event,
// publishing the decision. It blocks until ctx is cancelled.
func (s *DecisionService) Run(ctx context.Context) error {
	if s.bus == nil {
		return fmt.Errorf("decision service: no signal bus configured")
	}
	ch, err := s.bus.Subscribe(ctx, opportunitiesChannel)
	if err != nil {
		return fmt.Errorf("decision service: subscribe %s: %w", opportunitiesChannel, err)
	}
	s.logger.Info("decision service started")
	defer s.logger.Info("decision service stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var ev opportunityEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				s.logger.Warn("bad opportunity event",
					slog.String("error", err.Error()),
					slog.String("payload", string(data)),
				)
				continue
			}
			s.EvaluateOpportunity(ctx, domain.OpportunityFeatures{
				Exchange:        domain.ExchangeID(ev.Exchange),
				NetSpreadBps:    ev.NetSpreadBps,
				DepthBalance:    ev.DepthBalance,
				Volatility5mPct: ev.Volatility5mPct,
				LatencyMs:       ev.LatencyMs,
			}, ev.AvailableTL)
		}
	}
}

func (s *DecisionService) publish(ctx context.Context, d domain.OpportunityDecision) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(d)
	if err != nil {
		s.logger.Warn("marshal decision failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, decisionsChannel, payload); err != nil {
		s.logger.Warn("publish decision failed", slog.String("error", err.Error()))
	}
}
