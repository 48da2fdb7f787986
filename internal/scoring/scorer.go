// Package scoring turns raw opportunity measurements into a 0-1 confidence
// score and maps that score into a bounded position size. Both paths are hot:
// they read only in-memory state and never perform I/O.
package scoring

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// Feature weights for the composite score. These are fixed deployment
// constants, deliberately outside the adaptive tuner's reach.
const (
	weightSpread     = 2.0
	weightDepth      = 0.8
	weightVolatility = -0.5
	weightLatency    = -1.0
	weightFailRate   = -1.5
)

// Fixed normalization domains for min-max clamping.
const (
	spreadMinBps = 0.0
	spreadMaxBps = 100.0
	depthMin     = 0.5
	depthMax     = 2.0
	volMinPct    = 0.0
	volMaxPct    = 5.0
	latencyMinMs = 10.0
	latencyMaxMs = 500.0
)

const (
	// outcomeWindowSize bounds the rolling trade-outcome ring.
	outcomeWindowSize = 20
	// outcomeLookback limits which outcomes count toward the fail rate.
	outcomeLookback = time.Hour
)

// outcome is one timestamped trade result in the rolling window.
type outcome struct {
	at      time.Time
	success bool
}

// Scorer computes opportunity scores. It is deterministic given the features
// and the current trade-outcome window, and safe for concurrent use.
type Scorer struct {
	mu       sync.Mutex
	outcomes []outcome
	next     int
	full     bool

	logger *slog.Logger
	now    func() time.Time
}

// NewScorer creates a Scorer with an empty trade-outcome window.
func NewScorer(logger *slog.Logger) *Scorer {
	return &Scorer{
		outcomes: make([]outcome, outcomeWindowSize),
		logger:   logger.With(slog.String("component", "opportunity_scorer")),
		now:      time.Now,
	}
}

// RecordTradeResult appends one trade outcome to the rolling window, evicting
// the oldest entry once the window holds outcomeWindowSize results.
func (s *Scorer) RecordTradeResult(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[s.next] = outcome{at: s.now(), success: success}
	s.next = (s.next + 1) % len(s.outcomes)
	if s.next == 0 {
		s.full = true
	}
}

// FailRate returns the fraction of failed trades among outcomes recorded
// within the lookback window. With no recent outcomes it returns 0.
func (s *Scorer) FailRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failRateLocked()
}

func (s *Scorer) failRateLocked() float64 {
	cutoff := s.now().Add(-outcomeLookback)
	end := s.next
	if s.full {
		end = len(s.outcomes)
	}
	total, failed := 0, 0
	for i := 0; i < end; i++ {
		o := s.outcomes[i]
		if !o.at.After(cutoff) {
			continue
		}
		total++
		if !o.success {
			failed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// Score normalizes each feature into [0,1], combines them through the fixed
// weighted sum, and squashes the result with a logistic function. The
// returned score is always in [0,1] for any finite input.
func (s *Scorer) Score(f domain.OpportunityFeatures) (float64, domain.ScoreBreakdown) {
	s.mu.Lock()
	failRate := s.failRateLocked()
	s.mu.Unlock()

	b := domain.ScoreBreakdown{
		Spread:     normalize(f.NetSpreadBps, spreadMinBps, spreadMaxBps),
		Depth:      depthScore(f.DepthBalance),
		Volatility: normalize(f.Volatility5mPct, volMinPct, volMaxPct),
		Latency:    normalize(f.LatencyMs, latencyMinMs, latencyMaxMs),
		FailRate:   failRate,
	}
	b.WeightedSum = weightSpread*b.Spread +
		weightDepth*b.Depth +
		weightVolatility*b.Volatility +
		weightLatency*b.Latency +
		weightFailRate*b.FailRate

	score := sigmoid(b.WeightedSum)

	s.logger.Debug("opportunity scored",
		slog.String("exchange", string(f.Exchange)),
		slog.Float64("score", score),
		slog.Float64("weighted_sum", b.WeightedSum),
		slog.Float64("fail_rate", failRate),
	)
	return score, b
}

// normalize min-max clamps v into [0,1] against the given domain. Degenerate
// bounds (max == min) never occur with the fixed domains above, but the
// guard returns the neutral midpoint rather than dividing by zero.
func normalize(v, min, max float64) float64 {
	if max == min {
		return 0.5
	}
	n := (v - min) / (max - min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// depthScore maps a depth-balance ratio so that symmetric liquidity
// (balance near 1.0) scores highest, decaying toward either imbalanced end
// of the clamped [depthMin, depthMax] domain.
func depthScore(balance float64) float64 {
	if balance < depthMin {
		balance = depthMin
	}
	if balance > depthMax {
		balance = depthMax
	}
	score := 1 - math.Abs(1-balance)
	if score < 0 {
		return 0
	}
	return score
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
