// ABOUTME: Tests for the latency window
// ABOUTME: Covers the mean, truncation to the newest samples and concurrent use
package netaudio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyWindowEmpty(t *testing.T) {
	w := NewLatencyWindow()
	assert.Equal(t, time.Duration(0), w.Mean())
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Samples())
}

func TestLatencyWindowMean(t *testing.T) {
	w := NewLatencyWindow()
	assert.Equal(t, 10*time.Millisecond, w.Add(10*time.Millisecond))
	assert.Equal(t, 15*time.Millisecond, w.Add(20*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, w.Add(30*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, w.Mean())
}

func TestLatencyWindowTruncates(t *testing.T) {
	w := NewLatencyWindow()

	for i := 1; i <= MaxLatencySamples; i++ {
		w.Add(time.Duration(i) * time.Millisecond)
	}
	require.Equal(t, MaxLatencySamples, w.Len(), "window holds up to the cap")

	mean := w.Add(1001 * time.Millisecond)
	require.Equal(t, RetainLatencySamples, w.Len())

	samples := w.Samples()
	assert.Equal(t, 502*time.Millisecond, samples[0])
	assert.Equal(t, 1001*time.Millisecond, samples[len(samples)-1])

	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	expected := sum / time.Duration(len(samples))
	assert.Equal(t, expected, mean)
	assert.Equal(t, expected, w.Mean())
	assert.Equal(t, 751500*time.Microsecond, expected)
}

func TestLatencyWindowConcurrentAdds(t *testing.T) {
	w := NewLatencyWindow()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 600; i++ {
				w.Add(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, w.Len(), MaxLatencySamples)
	assert.Equal(t, time.Millisecond, w.Mean())
}
