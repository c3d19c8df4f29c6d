package progress

import (
	"sync"
	"time"
)

// Sample is one observation of the processed count.
type Sample struct {
	At        time.Time
	Completed int64
}

// RateWindow keeps samples from the trailing span and derives the call rate from them.
type RateWindow struct {
	span time.Duration

	mu      sync.Mutex
	samples []Sample
}

// NewRateWindow builds a window. A zero span falls back to 60s.
func NewRateWindow(span time.Duration) *RateWindow {
	if span <= 0 {
		span = time.Minute
	}
	return &RateWindow{span: span}
}

// Add appends a sample and drops samples older than the span, measured from the newest.
func (w *RateWindow) Add(at time.Time, completed int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.samples); n > 0 && at.Before(w.samples[n-1].At) {
		return
	}
	w.samples = append(w.samples, Sample{At: at, Completed: completed})

	cutoff := at.Add(-w.span)
	keep := 0
	for keep < len(w.samples)-1 && w.samples[keep].At.Before(cutoff) {
		keep++
	}
	w.samples = w.samples[keep:]
}

// CallsPerMinute is Δcompleted / Δtime across the window, per minute.
func (w *RateWindow) CallsPerMinute() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.samples) < 2 {
		return 0
	}
	first, last := w.samples[0], w.samples[len(w.samples)-1]
	elapsed := last.At.Sub(first.At)
	delta := last.Completed - first.Completed
	if elapsed <= 0 || delta <= 0 {
		return 0
	}
	return float64(delta) / elapsed.Minutes()
}

// EstimatedSecondsRemaining extrapolates the current rate. ok is false when no rate is known.
func (w *RateWindow) EstimatedSecondsRemaining(remaining int64) (seconds float64, ok bool) {
	if remaining <= 0 {
		return 0, true
	}
	rate := w.CallsPerMinute()
	if rate <= 0 {
		return 0, false
	}
	return float64(remaining) / rate * 60, true
}

// Samples returns a copy of the retained samples.
func (w *RateWindow) Samples() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}
