// ABOUTME: Headless paced audio output
// ABOUTME: Pulls one frame per frame duration and optionally writes raw PCM to a writer
package output

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"go.uber.org/zap"
)

// Clock is a sink without a device. A ticker stands in for the hardware
// clock so the playback engine drains at real-time rate.
type Clock struct {
	w      io.Writer
	logger *zap.Logger

	frames   atomic.Uint64
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	opened   bool
}

// NewClock creates a paced sink. A nil w discards the audio.
func NewClock(w io.Writer, logger *zap.Logger) *Clock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clock{
		w:        w,
		logger:   logger.Named("clock"),
		stopChan: make(chan struct{}),
	}
}

// Open starts pulling at the format's frame cadence.
func (c *Clock) Open(format audio.Format, pull PullFunc) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if c.opened {
		return errors.New("clock output already open")
	}
	c.opened = true

	c.wg.Add(1)
	go c.run(format, pull)
	return nil
}

func (c *Clock) run(format audio.Format, pull PullFunc) {
	defer c.wg.Done()

	ticker := time.NewTicker(format.FrameDuration())
	defer ticker.Stop()

	frame := make([]byte, format.FrameSize())
	w := c.w
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			pull(frame)
			c.frames.Add(1)
			if w == nil {
				continue
			}
			if _, err := w.Write(frame); err != nil {
				c.logger.Warn("output write failed, discarding further audio", zap.Error(err))
				w = nil
			}
		}
	}
}

// Frames returns the number of frames pulled so far.
func (c *Clock) Frames() uint64 {
	return c.frames.Load()
}

// Close stops the ticker and waits for the pull loop to exit.
func (c *Clock) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
	return nil
}
