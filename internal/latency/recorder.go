// Package latency provides bounded rolling sample windows of round-trip
// times and summary statistics over them. It is a pure data structure layer
// with no I/O; the probe feeds it and the route selector reads it.
package latency

import (
	"math"
	"sort"
	"sync"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// DefaultWindowCapacity bounds the per-endpoint sample buffer.
const DefaultWindowCapacity = 200

// Stats computes summary statistics over a set of latency samples in
// milliseconds. Percentiles use nearest-rank indexing on the sorted samples
// (p50 = sorted[floor(n*0.50)], p95 = sorted[floor(n*0.95)]), without
// interpolation. An empty input yields the zero LatencyStat.
func Stats(samples []float64) domain.LatencyStat {
	n := len(samples)
	if n == 0 {
		return domain.LatencyStat{}
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return domain.LatencyStat{
		P50Ms:   sorted[nearestRank(n, 0.50)],
		P95Ms:   sorted[nearestRank(n, 0.95)],
		MaxMs:   sorted[n-1],
		MeanMs:  sum / float64(n),
		Samples: n,
	}
}

// nearestRank returns the index floor(n*p), clamped into [0, n-1].
func nearestRank(n int, p float64) int {
	idx := int(math.Floor(float64(n) * p))
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// Recorder holds a bounded ring of samples per (exchange, endpoint) pair.
// It is safe for concurrent use; probe writers and selector readers share it.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	rings    map[key]*ring
}

type key struct {
	ex   domain.ExchangeID
	kind domain.EndpointKind
}

// ring is a fixed-capacity circular sample buffer.
type ring struct {
	buf  []float64
	next int
	full bool
}

func (r *ring) add(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) values() []float64 {
	if r.full {
		out := make([]float64, len(r.buf))
		copy(out, r.buf)
		return out
	}
	out := make([]float64, r.next)
	copy(out, r.buf[:r.next])
	return out
}

// NewRecorder creates a Recorder whose per-pair windows hold at most capacity
// samples. A non-positive capacity falls back to DefaultWindowCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &Recorder{
		capacity: capacity,
		rings:    make(map[key]*ring),
	}
}

// Record appends one sample for the given pair, evicting the oldest sample
// once the window is full.
func (r *Recorder) Record(ex domain.ExchangeID, kind domain.EndpointKind, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{ex: ex, kind: kind}
	rg, ok := r.rings[k]
	if !ok {
		rg = &ring{buf: make([]float64, r.capacity)}
		r.rings[k] = rg
	}
	rg.add(ms)
}

// Stat computes the summary statistics for the given pair's current window.
func (r *Recorder) Stat(ex domain.ExchangeID, kind domain.EndpointKind) domain.LatencyStat {
	r.mu.Lock()
	rg, ok := r.rings[key{ex: ex, kind: kind}]
	if !ok {
		r.mu.Unlock()
		return domain.LatencyStat{}
	}
	samples := rg.values()
	r.mu.Unlock()

	return Stats(samples)
}

// Reset discards all recorded samples. Each probe run starts from a clean
// window so percentiles reflect one coherent measurement pass.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rings = make(map[key]*ring)
}
