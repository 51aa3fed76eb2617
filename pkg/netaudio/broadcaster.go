// ABOUTME: Broadcaster accepting peer connections and fanning audio out to them
// ABOUTME: Accept/reap loop owns the registry; fan-out loop reads a snapshot per message
package netaudio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/internal/metrics"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio/pan"
	"github.com/Resonate-Protocol/netaudio-go/pkg/protocol"
	"go.uber.org/zap"
)

const (
	// DefaultPort is the broadcaster's TCP port.
	DefaultPort = 1250

	DefaultAcceptTimeout = time.Second
)

var (
	ErrStopped       = errors.New("netaudio: stopped")
	ErrNotStarted    = errors.New("netaudio: not started")
	ErrUnknownClient = errors.New("netaudio: unknown client")
)

// State is the broadcaster lifecycle state.
type State int32

const (
	StateUnbound State = iota
	StateListening
	StateBroadcasting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateListening:
		return "listening"
	case StateBroadcasting:
		return "broadcasting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Advertiser announces the broadcaster on the local network.
type Advertiser interface {
	Advertise() error
	Stop()
}

// BroadcasterConfig configures a Broadcaster. Zero fields take defaults.
type BroadcasterConfig struct {
	// Addr to listen on (default ":1250")
	Addr string

	Format audio.Format

	// QueueDepth bounds the outgoing message queue (default 10)
	QueueDepth int

	// AcceptTimeout bounds one accept/reap iteration (default 1s)
	AcceptTimeout time.Duration

	// ProbeInterval between liveness probes; zero disables probing
	ProbeInterval time.Duration

	Conn       protocol.ConnConfig
	Logger     *zap.Logger
	Metrics    *metrics.Broadcaster
	Advertiser Advertiser
}

// ClientInfo describes one registered connection.
type ClientInfo struct {
	ID          string
	RemoteAddr  string
	Ready       bool
	RTT         time.Duration
	ConnectedAt time.Time
	Sent        uint64
	Received    uint64
}

// peer is the part of *protocol.Conn the broadcaster uses.
type peer interface {
	ID() string
	RemoteAddr() net.Addr
	Alive() bool
	Ready() bool
	OfferAudio(protocol.AudioPacket) bool
	Send(protocol.Message) bool
	Receive(timeout time.Duration) (protocol.Message, bool)
	Probe() error
	RTT() time.Duration
	Stats() protocol.ConnStats
	Stop()
}

// Broadcaster serves one audio stream to any number of receivers.
type Broadcaster struct {
	config  BroadcasterConfig
	logger  *zap.Logger
	metrics *metrics.Broadcaster

	listener *net.TCPListener
	outgoing *protocol.Queue

	// Mutated only by the accept/reap loop and Stop.
	clients   map[string]peer
	clientsMu sync.RWMutex

	state     atomic.Int32
	lastProbe time.Time

	// Held shared by publishers and exclusively by Stop around the final
	// drain, so nothing is queued after it.
	publishMu sync.RWMutex

	startMu  sync.Mutex
	stopCtx  context.Context
	stop     context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBroadcaster creates an unbound broadcaster.
func NewBroadcaster(config BroadcasterConfig) (*Broadcaster, error) {
	if config.Addr == "" {
		config.Addr = fmt.Sprintf(":%d", DefaultPort)
	}
	config.Format = config.Format.WithDefaults()
	if err := config.Format.Validate(); err != nil {
		return nil, err
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = protocol.DefaultQueueDepth
	}
	if config.AcceptTimeout <= 0 {
		config.AcceptTimeout = DefaultAcceptTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewBroadcaster(nil)
	}
	if config.Conn.Logger == nil {
		config.Conn.Logger = config.Logger
	}

	stopCtx, stop := context.WithCancel(context.Background())
	return &Broadcaster{
		config:   config,
		logger:   config.Logger.Named("broadcaster"),
		metrics:  config.Metrics,
		outgoing: protocol.NewQueue(config.QueueDepth),
		clients:  make(map[string]peer),
		stopCtx:  stopCtx,
		stop:     stop,
	}, nil
}

// Start binds the listener and starts the accept/reap and fan-out loops.
// It returns once the socket is listening.
func (b *Broadcaster) Start() error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	switch b.State() {
	case StateStopped:
		return ErrStopped
	case StateUnbound:
	default:
		return fmt.Errorf("broadcaster already started")
	}

	ln, err := net.Listen("tcp", b.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.config.Addr, err)
	}
	b.listener = ln.(*net.TCPListener)
	b.state.Store(int32(StateListening))

	b.logger.Info("broadcaster listening",
		zap.Stringer("addr", ln.Addr()), zap.Stringer("format", b.config.Format))

	b.wg.Add(2)
	go b.acceptLoop()
	go b.fanOutLoop()

	if b.config.Advertiser != nil {
		if err := b.config.Advertiser.Advertise(); err != nil {
			b.logger.Warn("failed to start mDNS advertisement", zap.Error(err))
		}
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (b *Broadcaster) Addr() net.Addr {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Format returns the stream format.
func (b *Broadcaster) Format() audio.Format { return b.config.Format }

// State returns the lifecycle state.
func (b *Broadcaster) State() State { return State(b.state.Load()) }

// Stop closes the listener, stops every connection and discards queued
// messages. Safe to call more than once.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.startMu.Lock()
		b.state.Store(int32(StateStopped))
		b.stop()
		if b.listener != nil {
			b.listener.Close()
		}
		b.startMu.Unlock()

		b.wg.Wait()

		b.clientsMu.Lock()
		clients := b.clients
		b.clients = make(map[string]peer)
		b.clientsMu.Unlock()

		for _, p := range clients {
			p.Stop()
		}
		b.publishMu.Lock()
		dropped := b.outgoing.Drain()
		b.publishMu.Unlock()
		b.metrics.Clients.Set(0)

		if b.config.Advertiser != nil {
			b.config.Advertiser.Stop()
		}
		b.logger.Info("broadcaster stopped",
			zap.Int("clients", len(clients)), zap.Int("discarded", dropped))
	})
}

// Publish queues msg for every client, waiting while the outgoing queue
// is full.
func (b *Broadcaster) Publish(ctx context.Context, msg protocol.Message) error {
	b.publishMu.RLock()
	defer b.publishMu.RUnlock()

	if err := b.checkRunning(); err != nil {
		return err
	}

	err := b.outgoing.PushUntil(ctx, b.stopCtx.Done(), msg)
	if errors.Is(err, protocol.ErrQueueStopped) || b.stopping() {
		// Anything queued here is discarded by Stop's drain.
		return ErrStopped
	}
	return err
}

// Offer queues msg for every client without waiting, evicting the oldest
// queued message if the queue is full.
func (b *Broadcaster) Offer(msg protocol.Message) error {
	b.publishMu.RLock()
	defer b.publishMu.RUnlock()

	if err := b.checkRunning(); err != nil {
		return err
	}
	if b.outgoing.Push(msg) {
		b.metrics.OutgoingDropped.Inc()
		b.logger.Debug("outgoing queue full, dropped oldest message")
	}
	return nil
}

// BroadcastAudio publishes pcm stamped with the current time.
func (b *Broadcaster) BroadcastAudio(ctx context.Context, pcm []byte) error {
	return b.Publish(ctx, protocol.NewAudioPacket(pcm, time.Now()))
}

// SetLocation publishes a pan update to every client.
func (b *Broadcaster) SetLocation(ctx context.Context, location float64) error {
	v, ok := pan.Clamp(location)
	if !ok {
		return fmt.Errorf("invalid speaker location %v", location)
	}
	return b.Publish(ctx, protocol.LocationUpdate{Location: v})
}

// SendTo queues msg for a single client. A location update is clamped to
// [-1, 1]; NaN is rejected.
func (b *Broadcaster) SendTo(id string, msg protocol.Message) error {
	if u, ok := msg.(protocol.LocationUpdate); ok {
		v, valid := pan.Clamp(u.Location)
		if !valid {
			return fmt.Errorf("invalid speaker location %v", u.Location)
		}
		msg = protocol.LocationUpdate{Location: v}
	}

	b.clientsMu.RLock()
	p, ok := b.clients[id]
	b.clientsMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	if !p.Send(msg) {
		return fmt.Errorf("client send buffer full")
	}
	return nil
}

// ConnectedClients returns the number of registered connections.
func (b *Broadcaster) ConnectedClients() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// Clients returns information about all registered connections, oldest
// first.
func (b *Broadcaster) Clients() []ClientInfo {
	peers := b.snapshot()
	infos := make([]ClientInfo, 0, len(peers))
	for _, p := range peers {
		stats := p.Stats()
		infos = append(infos, ClientInfo{
			ID:          p.ID(),
			RemoteAddr:  p.RemoteAddr().String(),
			Ready:       p.Ready(),
			RTT:         stats.RTT,
			ConnectedAt: stats.ConnectedAt,
			Sent:        stats.Sent,
			Received:    stats.Received,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

func (b *Broadcaster) checkRunning() error {
	switch b.State() {
	case StateUnbound:
		return ErrNotStarted
	case StateStopped:
		return ErrStopped
	}
	return nil
}

func (b *Broadcaster) stopping() bool {
	return b.stopCtx.Err() != nil
}

// snapshot copies the registry so callers can iterate without the lock.
func (b *Broadcaster) snapshot() []peer {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	peers := make([]peer, 0, len(b.clients))
	for _, p := range b.clients {
		peers = append(peers, p)
	}
	return peers
}

func (b *Broadcaster) acceptLoop() {
	defer b.wg.Done()

	for !b.stopping() {
		b.acceptOnce()
		b.reap()
		b.serviceClients()
	}
}

func (b *Broadcaster) acceptOnce() {
	if err := b.listener.SetDeadline(time.Now().Add(b.config.AcceptTimeout)); err != nil {
		b.logger.Warn("failed to set accept deadline", zap.Error(err))
	}

	nc, err := b.listener.Accept()
	if err != nil {
		var ne net.Error
		if b.stopping() || (errors.As(err, &ne) && ne.Timeout()) {
			return
		}
		b.logger.Warn("accept failed", zap.Error(err))
		return
	}

	conn := protocol.NewConn(nc, b.config.Conn)
	conn.Start()
	b.register(conn)
	b.logger.Info("client connected",
		zap.String("client", conn.ID()), zap.Stringer("remote", nc.RemoteAddr()))
}

func (b *Broadcaster) register(p peer) {
	b.clientsMu.Lock()
	b.clients[p.ID()] = p
	n := len(b.clients)
	b.clientsMu.Unlock()

	b.metrics.Accepted.Inc()
	b.metrics.Clients.Set(float64(n))
	b.updateState(n)
}

// reap removes dead connections and returns how many were removed.
func (b *Broadcaster) reap() int {
	var dead []peer
	b.clientsMu.RLock()
	for _, p := range b.clients {
		if !p.Alive() {
			dead = append(dead, p)
		}
	}
	b.clientsMu.RUnlock()

	if len(dead) == 0 {
		return 0
	}

	b.clientsMu.Lock()
	for _, p := range dead {
		delete(b.clients, p.ID())
	}
	n := len(b.clients)
	b.clientsMu.Unlock()

	for _, p := range dead {
		p.Stop()
		b.metrics.Reaped.Inc()
		b.logger.Info("client disconnected", zap.String("client", p.ID()))
	}
	b.metrics.Clients.Set(float64(n))
	b.updateState(n)
	return len(dead)
}

func (b *Broadcaster) updateState(clients int) {
	if clients > 0 {
		b.state.CompareAndSwap(int32(StateListening), int32(StateBroadcasting))
	} else {
		b.state.CompareAndSwap(int32(StateBroadcasting), int32(StateListening))
	}
}

// serviceClients drains what clients sent and issues liveness probes.
func (b *Broadcaster) serviceClients() {
	peers := b.snapshot()
	for _, p := range peers {
		for {
			msg, ok := p.Receive(0)
			if !ok {
				break
			}
			switch msg.(type) {
			case protocol.ReadyAck:
				b.logger.Debug("client ready", zap.String("client", p.ID()))
			case protocol.LivenessResponse:
				b.metrics.ProbeRTT.Observe(p.RTT().Seconds())
			default:
				b.logger.Debug("ignoring client message",
					zap.String("client", p.ID()), zap.Stringer("kind", msg.Kind()))
			}
		}
	}

	if b.config.ProbeInterval <= 0 || time.Since(b.lastProbe) < b.config.ProbeInterval {
		return
	}
	b.lastProbe = time.Now()
	for _, p := range peers {
		b.wg.Add(1)
		go func(p peer) {
			defer b.wg.Done()
			if err := p.Probe(); err != nil {
				b.logger.Debug("probe failed", zap.String("client", p.ID()), zap.Error(err))
			}
		}(p)
	}
}

func (b *Broadcaster) fanOutLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCtx.Done():
			return
		case msg := <-b.outgoing.C():
			b.fanOut(msg)
		}
	}
}

// fanOut offers msg to every live client and returns how many accepted
// it. Audio is skipped for clients still flushing their previous packet.
func (b *Broadcaster) fanOut(msg protocol.Message) int {
	b.metrics.PacketsPublished.Inc()
	pkt, isAudio := msg.(protocol.AudioPacket)

	delivered := 0
	for _, p := range b.snapshot() {
		if !p.Alive() {
			continue
		}
		if isAudio {
			if !p.Ready() {
				b.metrics.Skipped.WithLabelValues(metrics.SkipNotReady).Inc()
				continue
			}
			if !p.OfferAudio(pkt) {
				b.metrics.Skipped.WithLabelValues(metrics.SkipBusy).Inc()
				continue
			}
		} else if !p.Send(msg) {
			b.logger.Debug("client send buffer full",
				zap.String("client", p.ID()), zap.Stringer("kind", msg.Kind()))
			continue
		}
		delivered++
	}
	b.metrics.Delivered.Add(float64(delivered))
	return delivered
}
