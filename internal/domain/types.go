// Package domain defines the core types and store/cache interfaces shared by
// every component of the execution-decision core: latency heatmaps, route
// decisions, opportunity scoring inputs, execution parameters, and rate
// quotes.
package domain

import "time"

// ExchangeID identifies a configured exchange venue, e.g. "btcturk".
type ExchangeID string

// EndpointKind is a named network path for an exchange.
type EndpointKind string

const (
	EndpointPing      EndpointKind = "ping"
	EndpointPingAlt   EndpointKind = "ping_alt"
	EndpointOrderbook EndpointKind = "orderbook"
)

// EndpointKinds lists every probed endpoint kind in the canonical order used
// for iteration. Route selection tie-breaks on "first encountered", so this
// order must stay stable.
var EndpointKinds = []EndpointKind{EndpointPing, EndpointPingAlt, EndpointOrderbook}

// LatencyStat summarizes a bounded window of round-trip samples for one
// (exchange, endpoint) pair. All durations are milliseconds. A zero Samples
// count implies every other field is zero.
type LatencyStat struct {
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
	MeanMs  float64 `json:"mean_ms"`
	Samples int     `json:"samples"`
}

// Heatmap is an immutable snapshot of latency statistics across all probed
// exchanges and endpoints. It is built in full by a probe run and published
// wholesale; readers never observe a partially filled snapshot.
type Heatmap struct {
	ID        string                                     `json:"id"`
	TakenAt   time.Time                                  `json:"taken_at"`
	Exchanges map[ExchangeID]map[EndpointKind]LatencyStat `json:"exchanges"`
}

// Stat returns the latency stat for the given pair and whether it exists.
func (h *Heatmap) Stat(ex ExchangeID, kind EndpointKind) (LatencyStat, bool) {
	if h == nil || h.Exchanges == nil {
		return LatencyStat{}, false
	}
	kinds, ok := h.Exchanges[ex]
	if !ok {
		return LatencyStat{}, false
	}
	st, ok := kinds[kind]
	return st, ok
}

// RouteReason explains how a route decision was made.
type RouteReason string

const (
	// RouteDefault means the exchange's configured default endpoint was used
	// because fastest-route selection is disabled.
	RouteDefault RouteReason = "default"
	// RouteOptimized means the endpoint was picked as the healthiest/fastest
	// from the latest heatmap.
	RouteOptimized RouteReason = "optimized"
	// RouteFallback means no endpoint cleared the health gate (or no heatmap
	// exists yet) and the default endpoint is served with sentinel values.
	RouteFallback RouteReason = "fallback"
)

// RouteDecision is the per-exchange routing answer served to the HTTP client
// layer. Decisions are cached with a TTL; a decision older than the TTL is
// never returned.
type RouteDecision struct {
	Exchange    ExchangeID   `json:"exchange"`
	Endpoint    EndpointKind `json:"endpoint"`
	Reason      RouteReason  `json:"reason"`
	HealthScore float64      `json:"health_score"`
	P50Ms       float64      `json:"p50_ms"`
	SelectedAt  time.Time    `json:"selected_at"`
}

// OpportunityFeatures are the raw measurements describing one detected
// cross-venue opportunity. Fail rate is not part of the input; it is derived
// from the scorer's rolling trade-outcome window.
type OpportunityFeatures struct {
	Exchange        ExchangeID `json:"exchange"`
	NetSpreadBps    float64    `json:"net_spread_bps"`
	DepthBalance    float64    `json:"depth_balance"`
	Volatility5mPct float64    `json:"volatility_5m_pct"`
	LatencyMs       float64    `json:"latency_ms"`
}

// ScoreBreakdown carries the normalized value of each feature that entered
// the weighted sum, for observability and post-trade analysis.
type ScoreBreakdown struct {
	Spread      float64 `json:"spread"`
	Depth       float64 `json:"depth"`
	Volatility  float64 `json:"volatility"`
	Latency     float64 `json:"latency"`
	FailRate    float64 `json:"fail_rate"`
	WeightedSum float64 `json:"weighted_sum"`
}

// ExecutionParams are the two adaptively tuned execution knobs. They are
// persisted and mutated only by the tuner in a read-modify-write cycle;
// bounds (StepInK 0-3, MinEdgeBps 3-10) are enforced after every adjustment.
type ExecutionParams struct {
	StepInK    int       `json:"step_in_k"`
	MinEdgeBps int       `json:"min_edge_bps"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ParamAdjustment is one audit entry describing a single tuner rule firing.
type ParamAdjustment struct {
	ID        string    `json:"id"`
	Param     string    `json:"param"`
	OldValue  int       `json:"old_value"`
	NewValue  int       `json:"new_value"`
	Reason    string    `json:"reason"`
	AppliedAt time.Time `json:"applied_at"`
}

// RateSource labels where a rate quote came from.
type RateSource string

const (
	// RateSourceLive means the quote was fetched from a live source.
	RateSourceLive RateSource = "live"
	// RateSourceFallback means every live source failed and a configured or
	// built-in fallback constant is being served.
	RateSourceFallback RateSource = "fallback"
	// RateSourceDefault is the initial state before any fetch has happened.
	RateSourceDefault RateSource = "default"
)

// RateQuote is a cached USD/TRY conversion rate with provenance.
type RateQuote struct {
	Rate      float64    `json:"rate"`
	Source    RateSource `json:"source"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// RateInfo is the caller-facing view of the current quote, distinguishing a
// slightly old cache from an emergency fallback.
type RateInfo struct {
	Rate       float64    `json:"rate"`
	Source     RateSource `json:"source"`
	AgeSeconds float64    `json:"age_seconds"`
	IsStale    bool       `json:"is_stale"`
}

// SessionMetric is one recorded trading-session summary, appended by the
// paper/shadow trading collaborator and read by the tuner.
type SessionMetric struct {
	ID            string    `json:"id"`
	MakerFillRate float64   `json:"maker_fill_rate"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// ShadowDiffSample is one shadow-vs-live price difference observation in
// basis points.
type ShadowDiffSample struct {
	DiffBps    float64   `json:"diff_bps"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OpportunityDecision is the combined output of scoring, sizing, routing and
// currency conversion for one detected opportunity.
type OpportunityDecision struct {
	Exchange   ExchangeID     `json:"exchange"`
	Route      RouteDecision  `json:"route"`
	Score      float64        `json:"score"`
	Breakdown  ScoreBreakdown `json:"breakdown"`
	SizeTL     float64        `json:"size_tl"`
	SizeUSD    float64        `json:"size_usd"`
	SizeReason string         `json:"size_reason"`
	Rate       RateInfo       `json:"rate"`
	DecidedAt  time.Time      `json:"decided_at"`
}
