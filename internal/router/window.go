package router

import "time"

// observation is one timestamped value in a rolling window.
type observation struct {
	at    time.Time
	value float64
}

// timedWindow is a fixed-capacity ring of timestamped observations. It backs
// both the per-endpoint error window and the live latency window. Callers
// must hold the selector's mutex; the window itself is not synchronized.
type timedWindow struct {
	buf  []observation
	next int
	full bool
}

func newTimedWindow(capacity int) *timedWindow {
	return &timedWindow{buf: make([]observation, capacity)}
}

func (w *timedWindow) add(at time.Time, value float64) {
	w.buf[w.next] = observation{at: at, value: value}
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

// capacity returns the fixed window size.
func (w *timedWindow) capacity() int {
	return len(w.buf)
}

// countSince returns how many observations are younger than the cutoff.
func (w *timedWindow) countSince(cutoff time.Time) int {
	n := 0
	w.each(func(o observation) {
		if o.at.After(cutoff) {
			n++
		}
	})
	return n
}

// meanSince returns the mean value of observations younger than the cutoff
// and whether any such observation exists.
func (w *timedWindow) meanSince(cutoff time.Time) (float64, bool) {
	var sum float64
	n := 0
	w.each(func(o observation) {
		if o.at.After(cutoff) {
			sum += o.value
			n++
		}
	})
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (w *timedWindow) each(fn func(observation)) {
	end := w.next
	if w.full {
		end = len(w.buf)
	}
	for i := 0; i < end; i++ {
		fn(w.buf[i])
	}
}
