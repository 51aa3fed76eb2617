// ABOUTME: Format conversion for decoded streams
// ABOUTME: Remixes channels and resamples so any supported source matches the stream format
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/Resonate-Protocol/netaudio-go/pkg/audio/resample"
)

const convertChunkFrames = 1024

// Convert wraps src so it yields want's sample rate and channel count.
// Streams already in want's format are returned unchanged.
func Convert(src Stream, want audio.Format) (Stream, error) {
	from := src.Format()
	if from.SampleRate == want.SampleRate && from.Channels == want.Channels {
		return src, nil
	}
	if _, ok := resample.Remix(nil, from.Channels, want.Channels); !ok {
		return nil, fmt.Errorf("%w: cannot convert %d channels to %d",
			ErrUnsupported, from.Channels, want.Channels)
	}

	c := &converter{
		src:  src,
		from: from,
		to:   want,
		buf:  make([]byte, convertChunkFrames*from.BytesPerSampleFrame()),
	}
	if from.SampleRate != want.SampleRate {
		c.rs = resample.New(from.SampleRate, want.SampleRate, want.Channels)
	}
	return c, nil
}

type converter struct {
	src      Stream
	from, to audio.Format
	rs       *resample.Resampler

	buf     []byte
	carry   int // bytes of a partial sample frame left at the start of buf
	pending []byte
	err     error
}

func (c *converter) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		c.fill()
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// fill converts the next chunk of source audio into pending.
func (c *converter) fill() {
	n, err := c.src.Read(c.buf[c.carry:])
	n += c.carry

	frame := c.from.BytesPerSampleFrame()
	whole := n - n%frame
	samples := audio.BytesToInt16(c.buf[:whole])
	c.carry = copy(c.buf, c.buf[whole:n])

	samples, _ = resample.Remix(samples, c.from.Channels, c.to.Channels)
	if c.rs != nil {
		samples = c.rs.Resample(samples)
	}
	c.pending = audio.Int16ToBytes(samples)

	if err != nil {
		if !errors.Is(err, io.EOF) {
			err = fmt.Errorf("convert: %w", err)
		}
		c.err = err
	}
}

func (c *converter) Format() audio.Format { return c.to }

func (c *converter) Close() error { return c.src.Close() }
