// ABOUTME: Bounded message queue with drop-oldest and reject-new policies
// ABOUTME: Channel backed so consumers can select on it alongside stop signals
package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueStopped is returned by PushUntil when its stop channel closes
// before the message is queued.
var ErrQueueStopped = errors.New("protocol: queue stopped")

// Queue is a bounded FIFO of messages. Any number of goroutines may push
// and pop.
type Queue struct {
	ch      chan Message
	pushMu  sync.Mutex
	evicted atomic.Uint64
}

// NewQueue creates a queue holding at most depth messages.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{ch: make(chan Message, depth)}
}

// Push adds msg, evicting the oldest entry if the queue is full. It reports
// whether an entry was evicted.
func (q *Queue) Push(msg Message) (evicted bool) {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	for {
		select {
		case q.ch <- msg:
			return evicted
		default:
		}
		select {
		case <-q.ch:
			evicted = true
			q.evicted.Add(1)
		default:
		}
	}
}

// TryPush adds msg only if there is room.
func (q *Queue) TryPush(msg Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// PushWait blocks until msg is queued or ctx is done.
func (q *Queue) PushWait(ctx context.Context, msg Message) error {
	return q.PushUntil(ctx, nil, msg)
}

// PushUntil is PushWait that also gives up with ErrQueueStopped once stop
// is closed. A nil stop never fires.
func (q *Queue) PushUntil(ctx context.Context, stop <-chan struct{}, msg Message) error {
	select {
	case <-stop:
		return ErrQueueStopped
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrQueueStopped
	}
}

// Pop waits up to timeout for a message.
func (q *Queue) Pop(timeout time.Duration) (Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
	}
	if timeout <= 0 {
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		return msg, true
	case <-timer.C:
		return nil, false
	}
}

// C exposes the receive side for use in select.
func (q *Queue) C() <-chan Message { return q.ch }

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue depth.
func (q *Queue) Cap() int { return cap(q.ch) }

// Evicted counts messages dropped by Push.
func (q *Queue) Evicted() uint64 { return q.evicted.Load() }

// Drain discards every queued message and returns how many were dropped.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
