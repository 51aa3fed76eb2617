// ABOUTME: Tests for prometheus collectors
// ABOUTME: Verifies registration and isolation between registries
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBroadcaster(reg)

	m.Clients.Set(2)
	m.Skipped.WithLabelValues(SkipNotReady).Inc()
	m.ProbeRTT.Observe(0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Clients))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Skipped.WithLabelValues(SkipNotReady)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "netaudio_broadcaster_clients")
	assert.Contains(t, names, "netaudio_broadcaster_probe_rtt_seconds")

	assert.Panics(t, func() { NewBroadcaster(reg) }, "duplicate registration must fail")
}

func TestReceiverRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReceiver(reg)
	m.Latency.Set(0.25)
	m.FramesEnqueued.Add(3)

	assert.Equal(t, 0.25, testutil.ToFloat64(m.Latency))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FramesEnqueued))

	count, err := testutil.GatherAndCount(reg, "netaudio_receiver_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilRegistryIsPrivate(t *testing.T) {
	assert.NotPanics(t, func() {
		NewReceiver(nil)
		NewReceiver(nil)
		NewBroadcaster(nil)
		NewBroadcaster(nil)
	})
}
