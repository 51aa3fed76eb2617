// ABOUTME: Bounded window of delivery latency samples
// ABOUTME: Truncates to the most recent samples once the cap is exceeded and reports the mean
package netaudio

import (
	"sync"
	"time"
)

const (
	// MaxLatencySamples is the window size that triggers truncation.
	MaxLatencySamples = 1000

	// RetainLatencySamples is how many of the most recent samples survive
	// truncation.
	RetainLatencySamples = 500
)

// LatencyWindow keeps recent latency samples. Safe for concurrent use.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	sum     time.Duration
}

// NewLatencyWindow creates an empty window.
func NewLatencyWindow() *LatencyWindow {
	return &LatencyWindow{samples: make([]time.Duration, 0, MaxLatencySamples+1)}
}

// Add appends d and returns the new mean. When the window grows past
// MaxLatencySamples only the newest RetainLatencySamples are kept.
func (w *LatencyWindow) Add(d time.Duration) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, d)
	w.sum += d

	if len(w.samples) > MaxLatencySamples {
		drop := len(w.samples) - RetainLatencySamples
		for _, s := range w.samples[:drop] {
			w.sum -= s
		}
		n := copy(w.samples, w.samples[drop:])
		w.samples = w.samples[:n]
	}
	return w.meanLocked()
}

// Mean returns the average of the retained samples, 0 when empty.
func (w *LatencyWindow) Mean() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meanLocked()
}

func (w *LatencyWindow) meanLocked() time.Duration {
	if len(w.samples) == 0 {
		return 0
	}
	return w.sum / time.Duration(len(w.samples))
}

// Len returns the number of retained samples.
func (w *LatencyWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// Samples returns a copy of the retained samples, oldest first.
func (w *LatencyWindow) Samples() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Duration, len(w.samples))
	copy(out, w.samples)
	return out
}
