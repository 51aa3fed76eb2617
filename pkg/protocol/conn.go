// ABOUTME: Peer connection running independent send and receive loops over one socket
// ABOUTME: Bounded queues, liveness probing and the ready flag used for fan-out flow control
package protocol

import (
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultQueueDepth   = 10
	DefaultReadTimeout  = 500 * time.Millisecond
	DefaultWriteTimeout = 2 * time.Second
)

// ConnConfig configures a Conn. Zero fields take defaults.
type ConnConfig struct {
	InboundDepth   int
	OutboundDepth  int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int
	Logger         *zap.Logger
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.InboundDepth <= 0 {
		c.InboundDepth = DefaultQueueDepth
	}
	if c.OutboundDepth <= 0 {
		c.OutboundDepth = DefaultQueueDepth
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// ConnStats is a snapshot of per-connection counters.
type ConnStats struct {
	Sent        uint64
	Received    uint64
	Evicted     uint64
	RTT         time.Duration
	ConnectedAt time.Time
}

// Conn owns one socket. A receive loop decodes into a drop-oldest inbound
// queue and answers probes directly; a send loop drains the outbound
// queue. Either loop marks the connection dead on error. A Conn never
// removes itself from anything: owners poll Alive or wait on Dead.
type Conn struct {
	id     string
	conn   net.Conn
	config ConnConfig
	logger *zap.Logger

	inbound  *Queue
	outbound *Queue

	alive atomic.Bool
	ready atomic.Bool

	writeMu sync.Mutex

	probeSent atomic.Int64 // unix nanos of the outstanding probe, 0 if none
	rtt       atomic.Int64
	sent      atomic.Uint64
	received  atomic.Uint64

	connectedAt time.Time

	deadChan chan struct{}
	deadOnce sync.Once
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConn wraps nc. Call Start to run the loops.
func NewConn(nc net.Conn, config ConnConfig) *Conn {
	config = config.withDefaults()
	id := uuid.New().String()

	c := &Conn{
		id:          id,
		conn:        nc,
		config:      config,
		logger:      config.Logger.With(zap.String("conn", id), zap.Stringer("remote", nc.RemoteAddr())),
		inbound:     NewQueue(config.InboundDepth),
		outbound:    NewQueue(config.OutboundDepth),
		connectedAt: time.Now(),
		deadChan:    make(chan struct{}),
		stopChan:    make(chan struct{}),
	}
	c.alive.Store(true)
	c.ready.Store(true)
	return c
}

// Start launches the send and receive loops.
func (c *Conn) Start() {
	c.wg.Add(2)
	go c.receiveLoop()
	go c.sendLoop()
}

// ID returns the opaque connection id.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Alive reports whether both loops are still healthy.
func (c *Conn) Alive() bool { return c.alive.Load() }

// Ready reports whether the previous audio packet has been fully written.
func (c *Conn) Ready() bool { return c.ready.Load() }

// Dead is closed once the connection stops being alive.
func (c *Conn) Dead() <-chan struct{} { return c.deadChan }

// Inbound exposes received messages for use in select.
func (c *Conn) Inbound() <-chan Message { return c.inbound.C() }

// Receive waits up to timeout for the next inbound message.
func (c *Conn) Receive(timeout time.Duration) (Message, bool) {
	return c.inbound.Pop(timeout)
}

// RTT returns the last measured probe round trip, 0 if none.
func (c *Conn) RTT() time.Duration { return time.Duration(c.rtt.Load()) }

// Stats returns the connection counters.
func (c *Conn) Stats() ConnStats {
	return ConnStats{
		Sent:        c.sent.Load(),
		Received:    c.received.Load(),
		Evicted:     c.inbound.Evicted(),
		RTT:         c.RTT(),
		ConnectedAt: c.connectedAt,
	}
}

// OfferAudio queues pkt if the connection is ready and has room. The
// connection stays not ready until the send loop has written pkt. It never
// blocks.
func (c *Conn) OfferAudio(pkt AudioPacket) bool {
	if !c.alive.Load() || !c.ready.CompareAndSwap(true, false) {
		return false
	}
	if !c.outbound.TryPush(pkt) {
		c.ready.Store(true)
		return false
	}
	return true
}

// Send queues a control message. It returns false if the connection is
// dead or its outbound queue is full.
func (c *Conn) Send(msg Message) bool {
	if !c.alive.Load() {
		return false
	}
	return c.outbound.TryPush(msg)
}

// Probe writes a liveness probe immediately, bypassing the outbound queue.
func (c *Conn) Probe() error {
	frame, err := Encode(LivenessProbe{})
	if err != nil {
		return err
	}
	c.probeSent.Store(time.Now().UnixNano())
	return c.writeFrame(frame)
}

// Stop marks the connection dead, closes the socket, waits for both loops
// and discards anything still queued. Safe to call more than once.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.markDead(nil)
		c.conn.Close()
		c.wg.Wait()
		c.inbound.Drain()
		c.outbound.Drain()
		c.logger.Debug("connection stopped")
	})
}

func (c *Conn) markDead(err error) {
	c.deadOnce.Do(func() {
		c.alive.Store(false)
		close(c.deadChan)
		if err != nil {
			c.logger.Info("connection closed", zap.Error(err))
		}
	})
}

func (c *Conn) stopping() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

func (c *Conn) recoverLoop(loop string) {
	if r := recover(); r != nil {
		c.logger.Error("connection loop panicked",
			zap.String("loop", loop), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		c.markDead(fmt.Errorf("%s loop panic: %v", loop, r))
	}
}

func (c *Conn) writeMessage(msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// writeFrame writes one encoded message with a single Write call.
func (c *Conn) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

func (c *Conn) receiveLoop() {
	defer c.wg.Done()
	defer c.recoverLoop("receive")

	dec := NewDecoder(c.conn)
	dec.SetMaxMessageSize(c.config.MaxMessageSize)

	for c.alive.Load() {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			c.markDead(err)
			return
		}

		msg, err := dec.Decode()
		if errors.Is(err, ErrWouldBlock) {
			continue
		}
		if err != nil {
			if c.stopping() {
				return
			}
			c.markDead(err)
			return
		}
		c.received.Add(1)

		switch m := msg.(type) {
		case LivenessProbe:
			if err := c.writeMessage(LivenessResponse{Alive: true}); err != nil {
				c.markDead(fmt.Errorf("probe reply: %w", err))
				return
			}
		case LivenessResponse:
			if sent := c.probeSent.Swap(0); sent != 0 {
				c.rtt.Store(time.Now().UnixNano() - sent)
			}
			c.pushInbound(m)
		default:
			c.pushInbound(m)
		}
	}
}

func (c *Conn) pushInbound(msg Message) {
	if c.inbound.Push(msg) {
		c.logger.Debug("inbound queue full, dropped oldest message", zap.Stringer("kind", msg.Kind()))
	}
}

func (c *Conn) sendLoop() {
	defer c.wg.Done()
	defer c.recoverLoop("send")

	for {
		select {
		case <-c.deadChan:
			return
		case msg := <-c.outbound.C():
			frame, err := Encode(msg)
			if err != nil {
				// Only this message is bad; the stream is still in sync.
				c.logger.Warn("skipping unencodable message",
					zap.Stringer("kind", msg.Kind()), zap.Error(err))
			} else if err := c.writeFrame(frame); err != nil {
				c.markDead(fmt.Errorf("write %s message: %w", msg.Kind(), err))
				return
			}
			if msg.Kind() == KindAudioPacket {
				c.ready.Store(true)
			}
		}
	}
}
