// ABOUTME: Playback engine feeding an output sink from the ring buffer
// ABOUTME: Splits incoming PCM into frames, pans them and applies producer backpressure
package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio/output"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio/pan"
	"go.uber.org/zap"
)

const (
	DefaultCapacity       = 10
	DefaultReadyThreshold = 5
)

// Config configures an Engine.
type Config struct {
	Format         audio.Format
	Capacity       int // frames
	ReadyThreshold int // producer waits while this many frames are pending
	Pan            float64
	Panner         pan.Processor
	Logger         *zap.Logger
}

// Stats is a point-in-time view of engine counters.
type Stats struct {
	Pending      uint64
	Capacity     int
	FramesQueued uint64
	FramesPlayed uint64
	Underruns    uint64
	BytesDropped uint64
}

// Engine owns the ring buffer between a network producer and the audio
// device's pull callback.
type Engine struct {
	format    audio.Format
	ring      *RingBuffer
	panner    pan.Processor
	threshold int
	logger    *zap.Logger

	pan          atomic.Uint64 // float64 bits
	bytesDropped atomic.Uint64

	sinkMu sync.Mutex
	sink   output.Sink
}

// NewEngine creates an engine with its ring buffer. Zero config fields
// take their defaults.
func NewEngine(config Config) (*Engine, error) {
	format := config.Format.WithDefaults()
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if config.Capacity == 0 {
		config.Capacity = DefaultCapacity
	}
	if config.ReadyThreshold == 0 {
		config.ReadyThreshold = DefaultReadyThreshold
	}
	if config.Panner == nil {
		config.Panner = pan.New(format)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ring, err := NewRingBuffer(config.Capacity, format.FrameSize())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		format:    format,
		ring:      ring,
		panner:    config.Panner,
		threshold: config.ReadyThreshold,
		logger:    config.Logger.Named("playback"),
	}
	e.SetPan(config.Pan)
	return e, nil
}

// Format returns the engine's PCM format.
func (e *Engine) Format() audio.Format { return e.format }

// Ring exposes the underlying buffer.
func (e *Engine) Ring() *RingBuffer { return e.ring }

// SetPan stores x clamped to [-1, 1] and returns the stored value. NaN is
// ignored and the previous pan kept.
func (e *Engine) SetPan(x float64) float64 {
	v, ok := pan.Clamp(x)
	if !ok {
		e.logger.Warn("ignoring invalid pan value", zap.Float64("pan", x))
		return e.Pan()
	}
	e.pan.Store(math.Float64bits(v))
	return v
}

// Pan returns the current pan.
func (e *Engine) Pan() float64 {
	return math.Float64frombits(e.pan.Load())
}

// Enqueue splits pcm into frames, pans each with the current pan and
// pushes them in order. It waits while the buffer holds ReadyThreshold or
// more frames. Trailing bytes short of a frame are dropped. It returns the
// number of frames pushed.
func (e *Engine) Enqueue(ctx context.Context, pcm []byte) (int, error) {
	frames, dropped := e.format.SplitFrames(pcm)
	if dropped > 0 {
		e.bytesDropped.Add(uint64(dropped))
		e.logger.Warn("dropping partial frame",
			zap.Int("bytes", dropped), zap.Int("payload", len(pcm)))
	}

	p := e.Pan()
	for i, frame := range frames {
		if err := e.ring.WaitUntilReady(ctx, e.threshold); err != nil {
			return i, err
		}
		if err := e.ring.Push(ctx, e.panner.Process(frame, p)); err != nil {
			return i, fmt.Errorf("push frame %d: %w", i, err)
		}
	}
	return len(frames), nil
}

// WaitUntilReady blocks until fewer than ReadyThreshold frames are pending.
func (e *Engine) WaitUntilReady(ctx context.Context) error {
	return e.ring.WaitUntilReady(ctx, e.threshold)
}

// PullFrame is the output callback: it fills dst with the next frame or
// silence and never blocks.
func (e *Engine) PullFrame(dst []byte) {
	e.ring.PullInto(dst)
}

// Pending returns the number of buffered frames.
func (e *Engine) Pending() uint64 { return e.ring.Pending() }

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Pending:      e.ring.Pending(),
		Capacity:     e.ring.Capacity(),
		FramesQueued: e.ring.Produced(),
		FramesPlayed: e.ring.Consumed(),
		Underruns:    e.ring.Underruns(),
		BytesDropped: e.bytesDropped.Load(),
	}
}

// Start opens sink with the engine's pull callback.
func (e *Engine) Start(sink output.Sink) error {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()

	if e.sink != nil {
		return fmt.Errorf("playback engine already started")
	}
	if err := sink.Open(e.format, e.PullFrame); err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	e.sink = sink
	e.logger.Info("playback started",
		zap.Stringer("format", e.format), zap.Int("buffer_frames", e.ring.Capacity()))
	return nil
}

// Close releases blocked producers and closes the sink.
func (e *Engine) Close() error {
	e.ring.Close()

	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	if e.sink == nil {
		return nil
	}
	err := e.sink.Close()
	e.sink = nil
	return err
}
