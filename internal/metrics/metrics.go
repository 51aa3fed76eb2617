// ABOUTME: Prometheus collectors for the broadcaster and receiver
// ABOUTME: Registered against a caller-supplied registry so tests stay isolated
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "netaudio"

// Skip reasons for Broadcaster.Skipped.
const (
	SkipNotReady = "not_ready"
	SkipBusy     = "busy"
)

// Broadcaster holds server-side collectors.
type Broadcaster struct {
	Clients          prometheus.Gauge
	Accepted         prometheus.Counter
	Reaped           prometheus.Counter
	PacketsPublished prometheus.Counter
	OutgoingDropped  prometheus.Counter
	SourceDropped    prometheus.Counter
	Delivered        prometheus.Counter
	Skipped          *prometheus.CounterVec // reason
	ProbeRTT         prometheus.Histogram
}

// NewBroadcaster registers broadcaster collectors with reg. A nil reg uses
// a private registry.
func NewBroadcaster(reg prometheus.Registerer) *Broadcaster {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	const subsystem = "broadcaster"

	return &Broadcaster{
		Clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "clients",
			Help: "Currently registered peer connections",
		}),
		Accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "accepted_total",
			Help: "Connections accepted",
		}),
		Reaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "reaped_total",
			Help: "Dead connections removed from the registry",
		}),
		PacketsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "packets_published_total",
			Help: "Messages taken from the outgoing queue for fan-out",
		}),
		OutgoingDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "outgoing_dropped_total",
			Help: "Messages evicted from a full outgoing queue",
		}),
		SourceDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "source_bytes_dropped_total",
			Help: "Trailing source bytes short of a whole frame",
		}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "delivered_total",
			Help: "Messages queued on a peer connection",
		}),
		Skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "skipped_total",
			Help: "Audio packets not offered to a peer, by reason",
		}, []string{"reason"}),
		ProbeRTT: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "probe_rtt_seconds",
			Help:    "Liveness probe round trip time",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}

// Receiver holds client-side collectors.
type Receiver struct {
	Connected      prometheus.Gauge
	ConnectErrors  prometheus.Counter
	Connections    prometheus.Counter
	Latency        prometheus.Gauge
	FramesEnqueued prometheus.Counter
	BytesDropped   prometheus.Counter
	BufferPending  prometheus.Gauge
	Underruns      prometheus.Gauge
	Pan            prometheus.Gauge
}

// NewReceiver registers receiver collectors with reg. A nil reg uses a
// private registry.
func NewReceiver(reg prometheus.Registerer) *Receiver {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	const subsystem = "receiver"

	return &Receiver{
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connected",
			Help: "1 while connected to a broadcaster",
		}),
		ConnectErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connect_errors_total",
			Help: "Failed connection attempts",
		}),
		Connections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connections_total",
			Help: "Successful connections",
		}),
		Latency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "latency_seconds",
			Help: "Mean delivery latency over the sample window",
		}),
		FramesEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "frames_enqueued_total",
			Help: "Frames pushed into the playback buffer",
		}),
		BytesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "bytes_dropped_total",
			Help: "Payload bytes discarded because they did not fill a frame",
		}),
		BufferPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "buffer_pending_frames",
			Help: "Frames waiting in the playback buffer",
		}),
		Underruns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "underruns",
			Help: "Output pulls that found the playback buffer empty",
		}),
		Pan: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "pan",
			Help: "Current speaker location, -1 left to 1 right",
		}),
	}
}
