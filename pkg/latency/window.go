// Package latency measures end-to-end frame latency and adapts the stream
// to it: a jitter buffer depth directive that grows immediately and shrinks
// cautiously, and an independent bitrate step policy keyed on worst-case
// latency.
package latency

import (
	"sync"
	"time"
)

// Window collects latency samples between controller evaluations.
// The controller drains it on every tick, so it only ever holds one
// evaluation period worth of samples.
type Window struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (w *Window) Add(sample time.Duration) {
	w.mu.Lock()
	w.samples = append(w.samples, sample)
	w.mu.Unlock()
}

// Drain returns all accumulated samples and clears the window.
func (w *Window) Drain() []time.Duration {
	w.mu.Lock()
	samples := w.samples
	w.samples = nil
	w.mu.Unlock()
	return samples
}

// Mean of a drained sample set; zero when empty.
func Mean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}
