// ABOUTME: Audio type definitions
// ABOUTME: Defines the PCM stream format, frame math and int16 sample helpers
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// 16-bit audio range constants
	Max16Bit = math.MaxInt16
	Min16Bit = math.MinInt16

	DefaultSampleRate      = 44100
	DefaultChannels        = 2
	DefaultBytesPerSample  = 2
	DefaultSamplesPerFrame = 1024
)

// ErrInvalidFormat is returned by Validate for unusable formats.
var ErrInvalidFormat = errors.New("audio: invalid format")

// Format describes a raw PCM stream. It is fixed for the lifetime of a
// stream and is never negotiated on the wire.
type Format struct {
	SampleRate      int
	Channels        int
	BytesPerSample  int
	SamplesPerFrame int
}

// DefaultFormat returns 44.1kHz, 16-bit, stereo with 1024-sample frames.
func DefaultFormat() Format {
	return Format{
		SampleRate:      DefaultSampleRate,
		Channels:        DefaultChannels,
		BytesPerSample:  DefaultBytesPerSample,
		SamplesPerFrame: DefaultSamplesPerFrame,
	}
}

// WithDefaults fills zero fields from DefaultFormat.
func (f Format) WithDefaults() Format {
	d := DefaultFormat()
	if f.SampleRate == 0 {
		f.SampleRate = d.SampleRate
	}
	if f.Channels == 0 {
		f.Channels = d.Channels
	}
	if f.BytesPerSample == 0 {
		f.BytesPerSample = d.BytesPerSample
	}
	if f.SamplesPerFrame == 0 {
		f.SamplesPerFrame = d.SamplesPerFrame
	}
	return f
}

// Validate reports whether the format can be carried by this library.
// Only 16-bit signed little-endian PCM is supported.
func (f Format) Validate() error {
	switch {
	case f.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	case f.Channels <= 0:
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, f.Channels)
	case f.BytesPerSample != 2:
		return fmt.Errorf("%w: %d bytes per sample (only 16-bit is supported)", ErrInvalidFormat, f.BytesPerSample)
	case f.SamplesPerFrame <= 0:
		return fmt.Errorf("%w: samples per frame %d", ErrInvalidFormat, f.SamplesPerFrame)
	}
	return nil
}

// BytesPerSampleFrame is the size of one sample across all channels.
func (f Format) BytesPerSampleFrame() int {
	return f.BytesPerSample * f.Channels
}

// FrameSize is the byte length of one frame.
func (f Format) FrameSize() int {
	return f.BytesPerSampleFrame() * f.SamplesPerFrame
}

// FrameDuration is the playback time of one frame.
func (f Format) FrameDuration() time.Duration {
	return time.Duration(f.SamplesPerFrame) * time.Second / time.Duration(f.SampleRate)
}

// BytesPerSecond is the stream's byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerSampleFrame()
}

// Silence returns one all-zero frame.
func (f Format) Silence() []byte {
	return make([]byte, f.FrameSize())
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz %dch %d-bit %d samples/frame",
		f.SampleRate, f.Channels, f.BytesPerSample*8, f.SamplesPerFrame)
}

// SplitFrames cuts data into FrameSize-aligned frames. The frames alias
// data. Trailing bytes that do not fill a frame are not returned; their
// count is reported as dropped.
func (f Format) SplitFrames(data []byte) (frames [][]byte, dropped int) {
	size := f.FrameSize()
	if size <= 0 {
		return nil, len(data)
	}
	n := len(data) / size
	frames = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, data[i*size:(i+1)*size:(i+1)*size])
	}
	return frames, len(data) - n*size
}

// ClampInt16 saturates v to the int16 range.
func ClampInt16(v float64) int16 {
	if v > Max16Bit {
		return Max16Bit
	}
	if v < Min16Bit {
		return Min16Bit
	}
	return int16(math.Round(v))
}

// ReadInt16 returns the little-endian sample at byte offset off.
func ReadInt16(b []byte, off int) int16 {
	return int16(binary.LittleEndian.Uint16(b[off:]))
}

// PutInt16 writes s little-endian at byte offset off.
func PutInt16(b []byte, off int, s int16) {
	binary.LittleEndian.PutUint16(b[off:], uint16(s))
}

// Int16ToBytes packs samples as 16-bit little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		PutInt16(out, i*2, s)
	}
	return out
}

// BytesToInt16 unpacks 16-bit little-endian PCM. A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = ReadInt16(b, i*2)
	}
	return out
}
