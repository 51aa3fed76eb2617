// ABOUTME: Audio output sink interface definition
// ABOUTME: Pull-model sinks driven by the device clock, plus the frame reader adapter
package output

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"go.uber.org/zap"
)

// PullFunc fills frame with the next frame of audio. It is called from the
// device's timing thread and must return immediately; when nothing is
// buffered it writes silence.
type PullFunc func(frame []byte)

// Sink is an audio output device that pulls frames at its own cadence.
type Sink interface {
	// Open starts the device. pull is invoked once per frame-sized buffer.
	Open(format audio.Format, pull PullFunc) error

	// Close stops pulling and releases the device.
	Close() error
}

// New returns the sink named by kind: "oto" for the system audio device,
// "clock" for a paced sink that discards audio, "stdout" for a paced sink
// that writes raw PCM to w.
func New(kind string, w io.Writer, logger *zap.Logger) (Sink, error) {
	switch kind {
	case "", "oto":
		return NewOto(logger), nil
	case "clock":
		return NewClock(nil, logger), nil
	case "stdout":
		return NewClock(w, logger), nil
	default:
		return nil, fmt.Errorf("unknown output %q", kind)
	}
}

// frameReader adapts a PullFunc to io.Reader for devices that read byte
// slices of arbitrary length. Partial frames carry over to the next Read.
// Read never blocks and never fails.
type frameReader struct {
	pull  PullFunc
	frame []byte
	off   int
}

func newFrameReader(pull PullFunc, frameSize int) *frameReader {
	return &frameReader{
		pull:  pull,
		frame: make([]byte, frameSize),
		off:   frameSize,
	}
}

func (r *frameReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.off == len(r.frame) {
			r.pull(r.frame)
			r.off = 0
		}
		c := copy(p[n:], r.frame[r.off:])
		n += c
		r.off += c
	}
	return n, nil
}
