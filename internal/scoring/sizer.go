package scoring

import "math"

// Confidence tier boundaries for position sizing.
const (
	tierEntry  = 0.3
	tierMedium = 0.5
	tierHigh   = 0.7
)

// SizerConfig bounds every computed position size, in TL.
type SizerConfig struct {
	MinLot      float64
	MaxPosition float64
}

// Sizer maps a confidence score and the available capital into a bounded
// trade size. It is a pure function of its inputs.
type Sizer struct {
	cfg SizerConfig
}

// NewSizer creates a Sizer with the given bounds.
func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size returns the TL amount to trade for the given score and available
// capital, with a human-readable reason. Scores below the entry tier yield
// zero. All non-zero amounts are clamped into [MinLot, MaxPosition] and then
// rounded to the nearest 10 units; rounding happens after clamping so the
// final amount cannot drift outside the bounds by more than the rounding
// granularity.
func (s *Sizer) Size(score, available float64) (float64, string) {
	var (
		amount float64
		reason string
	)

	switch {
	case score < tierEntry:
		return 0, "score below entry threshold"
	case score < tierMedium:
		amount = s.cfg.MinLot
		reason = "low confidence: minimum lot"
	case score < tierHigh:
		amount = available * (0.2 + 2*(score-tierMedium))
		if cap := 0.5 * s.cfg.MaxPosition; amount > cap {
			amount = cap
		}
		reason = "medium confidence: scaled entry"
	default:
		amount = available * (0.6 + 1.33*(score-tierHigh))
		if amount > s.cfg.MaxPosition {
			amount = s.cfg.MaxPosition
		}
		reason = "high confidence: full allocation"
	}

	if amount < s.cfg.MinLot {
		amount = s.cfg.MinLot
	}
	if amount > s.cfg.MaxPosition {
		amount = s.cfg.MaxPosition
	}
	amount = math.Round(amount/10) * 10

	return amount, reason
}
