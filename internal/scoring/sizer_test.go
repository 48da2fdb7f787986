package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestSizer() *Sizer {
	return NewSizer(SizerConfig{MinLot: 100, MaxPosition: 5000})
}

func TestSizeBelowEntryTierIsZero(t *testing.T) {
	s := newTestSizer()
	amount, reason := s.Size(0.29, 10_000)
	assert.Equal(t, 0.0, amount)
	assert.Equal(t, "score below entry threshold", reason)
}

func TestSizeLowTierIsMinimumLot(t *testing.T) {
	s := newTestSizer()
	amount, reason := s.Size(0.4, 10_000)
	assert.Equal(t, 100.0, amount)
	assert.Contains(t, reason, "minimum lot")
}

func TestSizeMediumTierScalesAndCaps(t *testing.T) {
	s := newTestSizer()

	// 10000 * (0.2 + 2*(0.55-0.5)) = 3000, capped at half of max.
	amount, reason := s.Size(0.55, 10_000)
	assert.Equal(t, 2500.0, amount)
	assert.Contains(t, reason, "medium confidence")

	// Small balance stays under the cap: 4000 * 0.3 = 1200.
	amount, _ = s.Size(0.55, 4000)
	assert.Equal(t, 1200.0, amount)
}

func TestSizeHighTierCapsAtMaxPosition(t *testing.T) {
	s := newTestSizer()

	// 10000 * 0.6 = 6000, clamped to max.
	amount, reason := s.Size(0.7, 10_000)
	assert.Equal(t, 5000.0, amount)
	assert.Contains(t, reason, "high confidence")

	// 5000 * (0.6 + 1.33*0.2) = 4330.
	amount, _ = s.Size(0.9, 5000)
	assert.Equal(t, 4330.0, amount)
}

func TestSizeRaisesToMinimumLot(t *testing.T) {
	s := newTestSizer()
	// 50 * 0.3 = 15, below the minimum lot.
	amount, _ := s.Size(0.55, 50)
	assert.Equal(t, 100.0, amount)
}

func TestSizeAlwaysMultipleOfTen(t *testing.T) {
	s := newTestSizer()
	for _, score := range []float64{0.31, 0.47, 0.53, 0.61, 0.68, 0.72, 0.95} {
		for _, available := range []float64{137, 977, 3333, 12_345} {
			amount, _ := s.Size(score, available)
			assert.Equal(t, 0.0, math.Mod(amount, 10),
				"score=%v available=%v amount=%v", score, available, amount)
		}
	}
}

func TestSizeClampedWithinBounds(t *testing.T) {
	s := newTestSizer()
	for _, score := range []float64{0.3, 0.5, 0.7, 1.0} {
		amount, _ := s.Size(score, 1e9)
		assert.GreaterOrEqual(t, amount, 100.0)
		assert.LessOrEqual(t, amount, 5000.0)
	}
}
