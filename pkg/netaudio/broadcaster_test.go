// ABOUTME: Tests for the broadcaster
// ABOUTME: Covers ready-gated fan-out, dead connection reaping, lifecycle and the stream pump
package netaudio

import (
	"bytes"
	"context"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/internal/metrics"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/Resonate-Protocol/netaudio-go/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer records what the broadcaster hands it.
type fakePeer struct {
	id      string
	alive   atomic.Bool
	ready   atomic.Bool
	stopped atomic.Bool
	since   time.Time

	mu   sync.Mutex
	got  []protocol.Message
	full bool
}

func newFakePeer(id string, ready bool) *fakePeer {
	p := &fakePeer{id: id, since: time.Now()}
	p.alive.Store(true)
	p.ready.Store(ready)
	return p
}

func (p *fakePeer) ID() string           { return p.id }
func (p *fakePeer) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (p *fakePeer) Alive() bool          { return p.alive.Load() }
func (p *fakePeer) Ready() bool          { return p.ready.Load() }
func (p *fakePeer) Probe() error         { return nil }
func (p *fakePeer) RTT() time.Duration   { return 0 }
func (p *fakePeer) Stop()                { p.stopped.Store(true); p.alive.Store(false) }

func (p *fakePeer) Receive(time.Duration) (protocol.Message, bool) { return nil, false }

func (p *fakePeer) Stats() protocol.ConnStats {
	return protocol.ConnStats{ConnectedAt: p.since}
}

func (p *fakePeer) OfferAudio(pkt protocol.AudioPacket) bool {
	return p.Send(pkt)
}

func (p *fakePeer) Send(msg protocol.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.got = append(p.got, msg)
	return true
}

func (p *fakePeer) messages() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Message(nil), p.got...)
}

func newTestBroadcaster(t *testing.T, config BroadcasterConfig) *Broadcaster {
	t.Helper()
	if config.Addr == "" {
		config.Addr = "127.0.0.1:0"
	}
	if config.AcceptTimeout == 0 {
		config.AcceptTimeout = 20 * time.Millisecond
	}
	b, err := NewBroadcaster(config)
	require.NoError(t, err)
	t.Cleanup(b.Stop)
	return b
}

func TestNewBroadcasterDefaults(t *testing.T) {
	b, err := NewBroadcaster(BroadcasterConfig{})
	require.NoError(t, err)

	assert.Equal(t, ":1250", b.config.Addr)
	assert.Equal(t, audio.DefaultFormat(), b.Format())
	assert.Equal(t, protocol.DefaultQueueDepth, b.outgoing.Cap())
	assert.Equal(t, StateUnbound, b.State())
	assert.Nil(t, b.Addr())

	_, err = NewBroadcaster(BroadcasterConfig{Format: audio.Format{BytesPerSample: 3}})
	assert.ErrorIs(t, err, audio.ErrInvalidFormat)
}

func TestFanOutSkipsNotReady(t *testing.T) {
	m := metrics.NewBroadcaster(nil)
	b := newTestBroadcaster(t, BroadcasterConfig{Metrics: m})

	ready := newFakePeer("ready", true)
	busy := newFakePeer("busy", false)
	b.register(ready)
	b.register(busy)

	pkt := protocol.AudioPacket{Payload: make([]byte, 4096)}
	assert.Equal(t, 1, b.fanOut(pkt))

	assert.Equal(t, []protocol.Message{pkt}, ready.messages())
	assert.Empty(t, busy.messages())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Skipped.WithLabelValues(metrics.SkipNotReady)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Delivered))
}

func TestFanOutControlIgnoresReady(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{})

	ready := newFakePeer("ready", true)
	busy := newFakePeer("busy", false)
	b.register(ready)
	b.register(busy)

	msg := protocol.LocationUpdate{Location: 0.25}
	assert.Equal(t, 2, b.fanOut(msg))
	assert.Equal(t, []protocol.Message{msg}, busy.messages())
}

func TestFanOutFullPeerDoesNotAffectOthers(t *testing.T) {
	m := metrics.NewBroadcaster(nil)
	b := newTestBroadcaster(t, BroadcasterConfig{Metrics: m})

	full := newFakePeer("full", true)
	full.full = true
	ok := newFakePeer("ok", true)
	b.register(full)
	b.register(ok)

	pkt := protocol.AudioPacket{Payload: []byte{1}}
	assert.Equal(t, 1, b.fanOut(pkt))
	assert.Len(t, ok.messages(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Skipped.WithLabelValues(metrics.SkipBusy)))
}

func TestReapRemovesExactlyDeadPeers(t *testing.T) {
	m := metrics.NewBroadcaster(nil)
	b := newTestBroadcaster(t, BroadcasterConfig{Metrics: m})

	a := newFakePeer("a", true)
	dead := newFakePeer("dead", true)
	c := newFakePeer("c", true)
	for _, p := range []*fakePeer{a, dead, c} {
		b.register(p)
	}
	require.Equal(t, 3, b.ConnectedClients())

	assert.Equal(t, 0, b.reap())

	dead.alive.Store(false)
	assert.Equal(t, 1, b.reap())
	assert.Equal(t, 2, b.ConnectedClients())
	assert.True(t, dead.stopped.Load())
	assert.False(t, a.stopped.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reaped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Clients))
}

func TestBroadcasterReapsClosedSocket(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{})
	require.NoError(t, b.Start())
	assert.Equal(t, StateListening, b.State())

	first, err := net.Dial("tcp", b.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	second, err := net.Dial("tcp", b.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool { return b.ConnectedClients() == 2 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateBroadcasting, b.State())

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return b.ConnectedClients() == 1 },
		2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, b.ConnectedClients())
	assert.Equal(t, StateBroadcasting, b.State())
}

func TestBroadcasterLifecycleErrors(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{})
	ctx := context.Background()

	assert.ErrorIs(t, b.Publish(ctx, protocol.ReadyAck{}), ErrNotStarted)
	assert.ErrorIs(t, b.Offer(protocol.ReadyAck{}), ErrNotStarted)

	require.NoError(t, b.Start())
	assert.Error(t, b.Start())
	assert.NoError(t, b.Publish(ctx, protocol.LocationUpdate{Location: 0}))

	b.Stop()
	b.Stop()
	assert.Equal(t, StateStopped, b.State())
	assert.ErrorIs(t, b.Publish(ctx, protocol.ReadyAck{}), ErrStopped)
	assert.ErrorIs(t, b.Start(), ErrStopped)
}

func TestBroadcasterStopStopsPeers(t *testing.T) {
	adv := &fakeAdvertiser{}
	b := newTestBroadcaster(t, BroadcasterConfig{Advertiser: adv})
	require.NoError(t, b.Start())
	assert.True(t, adv.advertised.Load())

	p := newFakePeer("p", true)
	b.register(p)

	b.Stop()
	assert.True(t, p.stopped.Load())
	assert.Equal(t, 0, b.ConnectedClients())
	assert.True(t, adv.stopped.Load())
}

func TestPublishUnblocksOnStop(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{QueueDepth: 1})
	// Listening without the loops, so nothing drains the queue.
	b.state.Store(int32(StateListening))
	require.NoError(t, b.Publish(context.Background(), protocol.ReadyAck{}))

	errc := make(chan error, 1)
	go func() { errc <- b.Publish(context.Background(), protocol.ReadyAck{}) }()

	select {
	case err := <-errc:
		t.Fatalf("Publish returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	b.Stop()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Publish still blocked after Stop")
	}
}

func TestStopDiscardsEveryPublish(t *testing.T) {
	for i := 0; i < 20; i++ {
		b := newTestBroadcaster(t, BroadcasterConfig{QueueDepth: 2})
		b.state.Store(int32(StateListening))
		require.NoError(t, b.Publish(context.Background(), protocol.ReadyAck{}))
		require.NoError(t, b.Publish(context.Background(), protocol.ReadyAck{}))

		const publishers = 4
		errc := make(chan error, publishers)
		for j := 0; j < publishers; j++ {
			go func() { errc <- b.Publish(context.Background(), protocol.ReadyAck{}) }()
		}
		time.Sleep(5 * time.Millisecond)

		b.Stop()
		for j := 0; j < publishers; j++ {
			select {
			case err := <-errc:
				assert.ErrorIs(t, err, ErrStopped)
			case <-time.After(2 * time.Second):
				t.Fatal("Publish still blocked after Stop")
			}
		}
		assert.Equal(t, 0, b.outgoing.Len())
		assert.ErrorIs(t, b.Publish(context.Background(), protocol.ReadyAck{}), ErrStopped)
	}
}

func TestOfferEvictsOldest(t *testing.T) {
	m := metrics.NewBroadcaster(nil)
	b := newTestBroadcaster(t, BroadcasterConfig{QueueDepth: 1, Metrics: m})
	b.state.Store(int32(StateListening))

	require.NoError(t, b.Offer(protocol.LocationUpdate{Location: -1}))
	require.NoError(t, b.Offer(protocol.LocationUpdate{Location: 1}))

	msg, ok := b.outgoing.Pop(0)
	require.True(t, ok)
	assert.Equal(t, protocol.LocationUpdate{Location: 1}, msg)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutgoingDropped))
}

func TestSetLocationRejectsNaN(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{})
	require.NoError(t, b.Start())

	assert.Error(t, b.SetLocation(context.Background(), math.NaN()))
}

func TestSendTo(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{})
	p := newFakePeer("p", true)
	b.register(p)

	require.NoError(t, b.SendTo("p", protocol.LocationUpdate{Location: -1}))
	assert.Equal(t, []protocol.Message{protocol.LocationUpdate{Location: -1}}, p.messages())

	assert.ErrorIs(t, b.SendTo("missing", protocol.ReadyAck{}), ErrUnknownClient)

	p.full = true
	assert.Error(t, b.SendTo("p", protocol.ReadyAck{}))
}

func TestSendToValidatesLocation(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{})
	p := newFakePeer("p", true)
	b.register(p)

	assert.Error(t, b.SendTo("p", protocol.LocationUpdate{Location: math.NaN()}))
	assert.Empty(t, p.messages())

	require.NoError(t, b.SendTo("p", protocol.LocationUpdate{Location: 3}))
	assert.Equal(t, []protocol.Message{protocol.LocationUpdate{Location: 1}}, p.messages())
}

func TestClientsOrderedByConnectTime(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{})
	older := newFakePeer("older", true)
	newer := newFakePeer("newer", false)
	newer.since = older.since.Add(time.Second)
	b.register(newer)
	b.register(older)

	clients := b.Clients()
	require.Len(t, clients, 2)
	assert.Equal(t, "older", clients[0].ID)
	assert.True(t, clients[0].Ready)
	assert.Equal(t, "newer", clients[1].ID)
	assert.False(t, clients[1].Ready)
}

func TestStreamPublishesWholeFrames(t *testing.T) {
	format := audio.Format{SampleRate: 44100, Channels: 2, BytesPerSample: 2, SamplesPerFrame: 16}
	m := metrics.NewBroadcaster(nil)
	b := newTestBroadcaster(t, BroadcasterConfig{Format: format, Metrics: m})
	require.NoError(t, b.Start())

	p := newFakePeer("p", true)
	b.register(p)

	size := format.FrameSize()
	src := make([]byte, 3*size+10)
	for i := range src {
		src[i] = byte(i / size)
	}

	err := b.Stream(context.Background(), bytes.NewReader(src), StreamOptions{FramesPerPacket: 2, OmitTimestamp: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(p.messages()) == 2 },
		2*time.Second, 5*time.Millisecond)

	msgs := p.messages()
	first := msgs[0].(protocol.AudioPacket)
	second := msgs[1].(protocol.AudioPacket)
	assert.Equal(t, src[:2*size], first.Payload)
	assert.Equal(t, src[2*size:3*size], second.Payload)
	assert.Empty(t, first.Timestamp)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.SourceDropped))
}

func TestStreamStampsPackets(t *testing.T) {
	format := audio.Format{SampleRate: 44100, Channels: 2, BytesPerSample: 2, SamplesPerFrame: 16}
	b := newTestBroadcaster(t, BroadcasterConfig{Format: format})
	require.NoError(t, b.Start())

	p := newFakePeer("p", true)
	b.register(p)

	require.NoError(t, b.Stream(context.Background(), bytes.NewReader(make([]byte, format.FrameSize())), StreamOptions{}))
	require.Eventually(t, func() bool { return len(p.messages()) == 1 },
		2*time.Second, 5*time.Millisecond)

	_, ok, err := p.messages()[0].(protocol.AudioPacket).SentAt()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStreamWaitsForClients(t *testing.T) {
	b := newTestBroadcaster(t, BroadcasterConfig{})
	require.NoError(t, b.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.Stream(ctx, bytes.NewReader(make([]byte, 8192)), StreamOptions{WaitForClients: true})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeAdvertiser struct {
	advertised atomic.Bool
	stopped    atomic.Bool
}

func (a *fakeAdvertiser) Advertise() error { a.advertised.Store(true); return nil }
func (a *fakeAdvertiser) Stop()            { a.stopped.Store(true) }
