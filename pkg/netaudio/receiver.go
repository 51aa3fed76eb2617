// ABOUTME: Receiver that connects to a broadcaster and feeds its playback engine
// ABOUTME: Reconnects indefinitely, applies location updates and tracks delivery latency
package netaudio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/internal/metrics"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio/output"
	"github.com/Resonate-Protocol/netaudio-go/pkg/playback"
	"github.com/Resonate-Protocol/netaudio-go/pkg/protocol"
	"go.uber.org/zap"
)

const (
	DefaultDialTimeout   = 500 * time.Millisecond
	DefaultRetryInterval = 250 * time.Millisecond
)

// ReceiverState is the receiver's connection state.
type ReceiverState int32

const (
	ReceiverDisconnected ReceiverState = iota
	ReceiverConnecting
	ReceiverConnected
	ReceiverStopped
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverDisconnected:
		return "disconnected"
	case ReceiverConnecting:
		return "connecting"
	case ReceiverConnected:
		return "connected"
	case ReceiverStopped:
		return "stopped"
	default:
		return fmt.Sprintf("receiver_state(%d)", int32(s))
	}
}

// ReceiverConfig configures a Receiver. Zero fields take defaults.
type ReceiverConfig struct {
	// Addr of the broadcaster, host:port
	Addr string

	DialTimeout   time.Duration
	RetryInterval time.Duration

	Format         audio.Format
	BufferFrames   int
	ReadyThreshold int

	// Location is the initial pan, -1 left to 1 right
	Location float64

	// Sink is opened on Start; nil leaves the engine undrained so callers
	// can pull frames themselves
	Sink output.Sink

	// ProbeInterval between liveness probes; zero disables probing
	ProbeInterval time.Duration

	Conn    protocol.ConnConfig
	Logger  *zap.Logger
	Metrics *metrics.Receiver

	// OnStateChange is called from the receiver loop on every transition
	OnStateChange func(ReceiverState)
}

// ReceiverStats is a snapshot of receiver counters.
type ReceiverStats struct {
	State          ReceiverState
	Playback       playback.Stats
	Location       float64
	AverageLatency time.Duration
	LatencySamples int
	RTT            time.Duration
	Connections    uint64
	Packets        uint64
}

// Receiver plays the stream of one broadcaster.
type Receiver struct {
	config  ReceiverConfig
	logger  *zap.Logger
	metrics *metrics.Receiver

	engine  *playback.Engine
	latency *LatencyWindow

	state       atomic.Int32
	conn        atomic.Pointer[protocol.Conn]
	connections atomic.Uint64
	packets     atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCtx   context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// NewReceiver creates a disconnected receiver and its playback engine.
func NewReceiver(config ReceiverConfig) (*Receiver, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("receiver address is required")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewReceiver(nil)
	}
	if config.Conn.Logger == nil {
		config.Conn.Logger = config.Logger
	}

	engine, err := playback.NewEngine(playback.Config{
		Format:         config.Format,
		Capacity:       config.BufferFrames,
		ReadyThreshold: config.ReadyThreshold,
		Pan:            config.Location,
		Logger:         config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create playback engine: %w", err)
	}

	stopCtx, stop := context.WithCancel(context.Background())
	r := &Receiver{
		config:  config,
		logger:  config.Logger.Named("receiver").With(zap.String("server", config.Addr)),
		metrics: config.Metrics,
		engine:  engine,
		latency: NewLatencyWindow(),
		stopCtx: stopCtx,
		stop:    stop,
	}
	r.metrics.Pan.Set(engine.Pan())
	return r, nil
}

// Start opens the sink, if any, and starts the connect loop.
func (r *Receiver) Start() error {
	var err error
	started := false
	r.startOnce.Do(func() {
		started = true
		if r.stopCtx.Err() != nil {
			err = ErrStopped
			return
		}
		if r.config.Sink != nil {
			if err = r.engine.Start(r.config.Sink); err != nil {
				return
			}
		}
		r.wg.Add(1)
		go r.run()
	})
	if !started {
		return fmt.Errorf("receiver already started")
	}
	return err
}

// Stop disconnects, closes the engine and waits for the loop to exit.
// Safe to call more than once.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		r.stop()
		r.engine.Close()
		r.wg.Wait()
		if c := r.conn.Swap(nil); c != nil {
			c.Stop()
		}
		r.setState(ReceiverStopped)
		r.logger.Info("receiver stopped")
	})
}

// Engine exposes the playback engine.
func (r *Receiver) Engine() *playback.Engine { return r.engine }

// Pending returns the number of frames waiting in the playback buffer.
func (r *Receiver) Pending() uint64 { return r.engine.Pending() }

// State returns the connection state.
func (r *Receiver) State() ReceiverState { return ReceiverState(r.state.Load()) }

// Location returns the current pan.
func (r *Receiver) Location() float64 { return r.engine.Pan() }

// SetLocation sets the pan used for subsequently received audio and
// returns the stored value.
func (r *Receiver) SetLocation(x float64) float64 {
	v := r.engine.SetPan(x)
	r.metrics.Pan.Set(v)
	return v
}

// AverageLatency returns the mean delivery latency of the sample window.
func (r *Receiver) AverageLatency() time.Duration { return r.latency.Mean() }

// LatencySamples returns the retained latency samples, oldest first.
func (r *Receiver) LatencySamples() []time.Duration { return r.latency.Samples() }

// RTT returns the last probe round trip on the current connection.
func (r *Receiver) RTT() time.Duration {
	if c := r.conn.Load(); c != nil {
		return c.RTT()
	}
	return 0
}

// Stats returns a snapshot of receiver counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		State:          r.State(),
		Playback:       r.engine.Stats(),
		Location:       r.Location(),
		AverageLatency: r.AverageLatency(),
		LatencySamples: r.latency.Len(),
		RTT:            r.RTT(),
		Connections:    r.connections.Load(),
		Packets:        r.packets.Load(),
	}
}

func (r *Receiver) setState(s ReceiverState) {
	if ReceiverState(r.state.Swap(int32(s))) == s {
		return
	}
	if s == ReceiverConnected {
		r.metrics.Connected.Set(1)
	} else {
		r.metrics.Connected.Set(0)
	}
	if r.config.OnStateChange != nil {
		r.config.OnStateChange(s)
	}
}

func (r *Receiver) run() {
	defer r.wg.Done()

	for r.stopCtx.Err() == nil {
		r.setState(ReceiverConnecting)
		conn, err := r.connect()
		if err != nil {
			r.setState(ReceiverDisconnected)
			if r.stopCtx.Err() != nil {
				return
			}
			r.metrics.ConnectErrors.Inc()
			r.logger.Debug("connect failed", zap.Error(err))

			select {
			case <-r.stopCtx.Done():
				return
			case <-time.After(r.config.RetryInterval):
			}
			continue
		}

		r.serve(conn)
		r.conn.Store(nil)
		conn.Stop()
		r.setState(ReceiverDisconnected)
		if r.stopCtx.Err() == nil {
			r.logger.Warn("connection lost, reconnecting")
		}
	}
}

func (r *Receiver) connect() (*protocol.Conn, error) {
	ctx, cancel := context.WithTimeout(r.stopCtx, r.config.DialTimeout)
	defer cancel()

	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", r.config.Addr)
	if err != nil {
		return nil, err
	}

	conn := protocol.NewConn(nc, r.config.Conn)
	conn.Start()
	if !conn.Send(protocol.ReadyAck{}) {
		conn.Stop()
		return nil, fmt.Errorf("failed to queue ready handshake")
	}

	r.conn.Store(conn)
	r.connections.Add(1)
	r.metrics.Connections.Inc()
	r.setState(ReceiverConnected)
	r.logger.Info("connected", zap.Stringer("local", nc.LocalAddr()))
	return conn, nil
}

// serve drains conn until it dies or the receiver stops.
func (r *Receiver) serve(conn *protocol.Conn) {
	var probe <-chan time.Time
	if r.config.ProbeInterval > 0 {
		ticker := time.NewTicker(r.config.ProbeInterval)
		defer ticker.Stop()
		probe = ticker.C
	}

	for {
		select {
		case <-r.stopCtx.Done():
			return
		case <-conn.Dead():
			return
		case <-probe:
			if err := conn.Probe(); err != nil {
				r.logger.Debug("probe failed", zap.Error(err))
			}
		case msg := <-conn.Inbound():
			r.handle(msg)
		}
	}
}

func (r *Receiver) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.AudioPacket:
		r.handleAudio(m)
	case protocol.LocationUpdate:
		prev := r.Location()
		v := r.SetLocation(m.Location)
		r.logger.Info("speaker location updated", zap.Float64("from", prev), zap.Float64("to", v))
	case protocol.LivenessResponse:
		r.logger.Debug("probe answered", zap.Duration("rtt", r.RTT()), zap.Bool("alive", m.Alive))
	default:
		r.logger.Debug("ignoring message", zap.Stringer("kind", msg.Kind()))
	}
}

func (r *Receiver) handleAudio(pkt protocol.AudioPacket) {
	r.packets.Add(1)

	sentAt, ok, err := pkt.SentAt()
	switch {
	case err != nil:
		r.logger.Debug("unparseable audio timestamp", zap.String("timestamp", pkt.Timestamp), zap.Error(err))
	case ok:
		mean := r.latency.Add(time.Since(sentAt))
		r.metrics.Latency.Set(mean.Seconds())
	}

	before := r.engine.Stats().BytesDropped
	n, err := r.engine.Enqueue(r.stopCtx, pkt.Payload)
	r.metrics.FramesEnqueued.Add(float64(n))
	if dropped := r.engine.Stats().BytesDropped - before; dropped > 0 {
		r.metrics.BytesDropped.Add(float64(dropped))
	}
	stats := r.engine.Stats()
	r.metrics.BufferPending.Set(float64(stats.Pending))
	r.metrics.Underruns.Set(float64(stats.Underruns))

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, playback.ErrClosed) {
		r.logger.Warn("failed to enqueue audio", zap.Int("frames", n), zap.Error(err))
	}
}
