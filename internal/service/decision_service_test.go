package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekinsoy/arbcore/internal/domain"
	"github.com/ekinsoy/arbcore/internal/scoring"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRoutes struct {
	decision domain.RouteDecision
}

func (f *fakeRoutes) GetEndpoint(ex domain.ExchangeID) domain.RouteDecision {
	d := f.decision
	d.Exchange = ex
	return d
}

type fakeRates struct {
	rate float64
	info domain.RateInfo
}

func (f *fakeRates) GetRate(context.Context, bool) float64 { return f.rate }
func (f *fakeRates) Info() domain.RateInfo                 { return f.info }

type fakeParamsStore struct {
	params domain.ExecutionParams
	set    bool
}

func (f *fakeParamsStore) Load(context.Context) (domain.ExecutionParams, error) {
	if !f.set {
		return domain.ExecutionParams{}, domain.ErrNoParams
	}
	return f.params, nil
}

func (f *fakeParamsStore) Save(_ context.Context, p domain.ExecutionParams) error {
	f.params = p
	f.set = true
	return nil
}

func newTestService(routes RouteGetter, rates RateGetter, params domain.ParamsStore) *DecisionService {
	return NewDecisionService(
		routes,
		scoring.NewScorer(testLogger()),
		scoring.NewSizer(scoring.SizerConfig{MinLot: 100, MaxPosition: 5000}),
		rates,
		params,
		nil,
		testLogger(),
	)
}

func TestEvaluateOpportunitySizesAndConverts(t *testing.T) {
	routes := &fakeRoutes{decision: domain.RouteDecision{
		Endpoint:    domain.EndpointPing,
		Reason:      domain.RouteOptimized,
		HealthScore: 0.95,
		P50Ms:       40,
	}}
	rates := &fakeRates{rate: 40.0, info: domain.RateInfo{Rate: 40.0, Source: domain.RateSourceLive}}
	svc := newTestService(routes, rates, nil)

	d := svc.EvaluateOpportunity(context.Background(), domain.OpportunityFeatures{
		Exchange:        "btcturk",
		NetSpreadBps:    80,
		DepthBalance:    1.0,
		Volatility5mPct: 0.5,
		LatencyMs:       40,
	}, 10_000)

	assert.Equal(t, domain.ExchangeID("btcturk"), d.Exchange)
	assert.Equal(t, domain.EndpointPing, d.Route.Endpoint)
	assert.GreaterOrEqual(t, d.Score, 0.7)
	assert.Greater(t, d.SizeTL, 0.0)
	assert.InDelta(t, d.SizeTL/40.0, d.SizeUSD, 1e-9)
	assert.Equal(t, domain.RateSourceLive, d.Rate.Source)
	assert.False(t, d.DecidedAt.IsZero())
}

func TestEvaluateOpportunityMinEdgeGate(t *testing.T) {
	routes := &fakeRoutes{decision: domain.RouteDecision{P50Ms: 40}}
	rates := &fakeRates{rate: 40.0}
	svc := newTestService(routes, rates, nil)

	// Default MinEdgeBps is 5: a 3bps spread never trades regardless of how
	// well the rest of the features score.
	d := svc.EvaluateOpportunity(context.Background(), domain.OpportunityFeatures{
		Exchange:     "btcturk",
		NetSpreadBps: 3,
		DepthBalance: 1.0,
		LatencyMs:    40,
	}, 10_000)

	assert.Equal(t, 0.0, d.SizeTL)
	assert.Equal(t, 0.0, d.SizeUSD)
	assert.Contains(t, d.SizeReason, "below minimum edge")
}

func TestEvaluateOpportunityFillsLatencyFromRoute(t *testing.T) {
	routes := &fakeRoutes{decision: domain.RouteDecision{P50Ms: 450}}
	rates := &fakeRates{rate: 40.0}
	svc := newTestService(routes, rates, nil)

	d := svc.EvaluateOpportunity(context.Background(), domain.OpportunityFeatures{
		Exchange:     "btcturk",
		NetSpreadBps: 50,
		DepthBalance: 1.0,
		// LatencyMs deliberately zero: the route's p50 stands in.
	}, 10_000)

	// (450-10)/(500-10) ≈ 0.898: the slow route shows up in the breakdown.
	assert.InDelta(t, 0.898, d.Breakdown.Latency, 0.01)
}

func TestRefreshParamsPicksUpTunedValues(t *testing.T) {
	routes := &fakeRoutes{decision: domain.RouteDecision{P50Ms: 40}}
	rates := &fakeRates{rate: 40.0}
	store := &fakeParamsStore{
		params: domain.ExecutionParams{StepInK: 2, MinEdgeBps: 8, UpdatedAt: time.Now()},
		set:    true,
	}
	svc := newTestService(routes, rates, store)

	// Before the refresh the defaults apply.
	require.Equal(t, 5, svc.Params().MinEdgeBps)

	svc.RefreshParams(context.Background())
	assert.Equal(t, 8, svc.Params().MinEdgeBps)
	assert.Equal(t, 2, svc.Params().StepInK)

	// A 6bps spread now fails the tightened gate.
	d := svc.EvaluateOpportunity(context.Background(), domain.OpportunityFeatures{
		Exchange:     "btcturk",
		NetSpreadBps: 6,
		DepthBalance: 1.0,
		LatencyMs:    40,
	}, 10_000)
	assert.Equal(t, 0.0, d.SizeTL)
}

func TestRefreshParamsKeepsDefaultsWhenUnpersisted(t *testing.T) {
	svc := newTestService(&fakeRoutes{}, &fakeRates{rate: 40}, &fakeParamsStore{})
	svc.RefreshParams(context.Background())
	assert.Equal(t, 1, svc.Params().StepInK)
	assert.Equal(t, 5, svc.Params().MinEdgeBps)
}

func TestEvaluateOpportunityZeroRateSkipsConversion(t *testing.T) {
	svc := newTestService(&fakeRoutes{decision: domain.RouteDecision{P50Ms: 40}}, &fakeRates{rate: 0}, nil)

	d := svc.EvaluateOpportunity(context.Background(), domain.OpportunityFeatures{
		Exchange:     "btcturk",
		NetSpreadBps: 50,
		DepthBalance: 1.0,
		LatencyMs:    40,
	}, 10_000)
	assert.Equal(t, 0.0, d.SizeUSD)
}
