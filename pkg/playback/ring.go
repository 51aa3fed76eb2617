// ABOUTME: Single-producer single-consumer ring buffer of fixed-size audio frames
// ABOUTME: Atomic produced/consumed counters, blocking push and non-blocking pull
package playback

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned to producers blocked on a closed buffer.
	ErrClosed = errors.New("playback: ring buffer closed")

	// ErrFrameSize is returned when a pushed frame is not exactly one frame long.
	ErrFrameSize = errors.New("playback: wrong frame size")
)

// RingBuffer holds up to Capacity frames between exactly one producer and
// one consumer. Each counter has a single writer; slot data is reached only
// through the counters.
type RingBuffer struct {
	capacity  uint64
	mask      uint64
	frameSize int
	slots     [][]byte

	produced  atomic.Uint64
	consumed  atomic.Uint64
	underruns atomic.Uint64

	// freed wakes a producer after the consumer releases a slot.
	freed     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewRingBuffer allocates capacity slots of frameSize bytes each.
func NewRingBuffer(capacity, frameSize int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring buffer capacity must be positive, got %d", capacity)
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("ring buffer frame size must be positive, got %d", frameSize)
	}

	// A power-of-two slot count keeps counter&mask continuous when the
	// 64-bit counters roll over.
	n := uint64(1) << bits.Len64(uint64(capacity-1))
	slots := make([][]byte, n)
	for i := range slots {
		slots[i] = make([]byte, frameSize)
	}

	return &RingBuffer{
		capacity:  uint64(capacity),
		mask:      n - 1,
		frameSize: frameSize,
		slots:     slots,
		freed:     make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}, nil
}

// Pending is the wraparound-safe difference produced-consumed.
func Pending(produced, consumed uint64) uint64 {
	return produced - consumed
}

// Capacity returns the maximum number of buffered frames.
func (rb *RingBuffer) Capacity() int { return int(rb.capacity) }

// FrameSize returns the size of each slot in bytes.
func (rb *RingBuffer) FrameSize() int { return rb.frameSize }

// Pending returns the number of frames waiting to be pulled.
func (rb *RingBuffer) Pending() uint64 {
	// Load consumed first so a concurrent pull cannot push it past the
	// produced value we read.
	c := rb.consumed.Load()
	return Pending(rb.produced.Load(), c)
}

// Produced returns the producer counter.
func (rb *RingBuffer) Produced() uint64 { return rb.produced.Load() }

// Consumed returns the consumer counter.
func (rb *RingBuffer) Consumed() uint64 { return rb.consumed.Load() }

// Underruns counts pulls that found the buffer empty.
func (rb *RingBuffer) Underruns() uint64 { return rb.underruns.Load() }

// TryPush copies frame into the next slot. It reports false when the
// buffer is full. Producer only.
func (rb *RingBuffer) TryPush(frame []byte) (bool, error) {
	if len(frame) != rb.frameSize {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), rb.frameSize)
	}
	select {
	case <-rb.closed:
		return false, ErrClosed
	default:
	}

	p := rb.produced.Load()
	if Pending(p, rb.consumed.Load()) >= rb.capacity {
		return false, nil
	}
	copy(rb.slots[p&rb.mask], frame)
	rb.produced.Store(p + 1)
	return true, nil
}

// Push copies frame into the buffer, blocking while it is full until the
// consumer frees a slot, ctx is done or the buffer is closed. Producer only.
func (rb *RingBuffer) Push(ctx context.Context, frame []byte) error {
	for {
		ok, err := rb.TryPush(frame)
		if err != nil || ok {
			return err
		}
		if err := rb.wait(ctx); err != nil {
			return err
		}
	}
}

// WaitUntilReady blocks the producer until fewer than threshold frames are
// pending.
func (rb *RingBuffer) WaitUntilReady(ctx context.Context, threshold int) error {
	if threshold <= 0 {
		return fmt.Errorf("ready threshold must be positive, got %d", threshold)
	}
	for rb.Pending() >= uint64(threshold) {
		if err := rb.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (rb *RingBuffer) wait(ctx context.Context) error {
	select {
	case <-rb.freed:
		return nil
	case <-rb.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PullInto copies the oldest frame into dst and releases its slot. If the
// buffer is empty dst is zeroed, consumed is not advanced and false is
// returned. Never blocks. Consumer only.
func (rb *RingBuffer) PullInto(dst []byte) bool {
	c := rb.consumed.Load()
	if rb.produced.Load() == c {
		clear(dst)
		rb.underruns.Add(1)
		return false
	}

	n := copy(dst, rb.slots[c&rb.mask])
	clear(dst[n:])
	rb.consumed.Store(c + 1)

	select {
	case rb.freed <- struct{}{}:
	default:
	}
	return true
}

// Pull returns a copy of the oldest frame, or a silent frame and false when
// the buffer is empty. Consumer only.
func (rb *RingBuffer) Pull() ([]byte, bool) {
	frame := make([]byte, rb.frameSize)
	ok := rb.PullInto(frame)
	return frame, ok
}

// Close wakes any blocked producer with ErrClosed. Pulls keep working.
func (rb *RingBuffer) Close() {
	rb.closeOnce.Do(func() { close(rb.closed) })
}
