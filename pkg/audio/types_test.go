// ABOUTME: Tests for audio types
// ABOUTME: Tests format math, frame splitting and sample conversion
package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFormat(t *testing.T) {
	f := DefaultFormat()
	require.NoError(t, f.Validate())
	assert.Equal(t, 4096, f.FrameSize())
	assert.Equal(t, 4, f.BytesPerSampleFrame())
	assert.Equal(t, 176400, f.BytesPerSecond())
	assert.Equal(t, 1024*time.Second/44100, f.FrameDuration())
	assert.Len(t, f.Silence(), 4096)
}

func TestWithDefaults(t *testing.T) {
	f := Format{SampleRate: 48000}.WithDefaults()
	assert.Equal(t, 48000, f.SampleRate)
	assert.Equal(t, DefaultChannels, f.Channels)
	assert.Equal(t, DefaultBytesPerSample, f.BytesPerSample)
	assert.Equal(t, DefaultSamplesPerFrame, f.SamplesPerFrame)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		ok     bool
	}{
		{"default", DefaultFormat(), true},
		{"mono", Format{SampleRate: 8000, Channels: 1, BytesPerSample: 2, SamplesPerFrame: 160}, true},
		{"zero rate", Format{Channels: 2, BytesPerSample: 2, SamplesPerFrame: 1024}, false},
		{"24-bit", Format{SampleRate: 44100, Channels: 2, BytesPerSample: 3, SamplesPerFrame: 1024}, false},
		{"no channels", Format{SampleRate: 44100, BytesPerSample: 2, SamplesPerFrame: 1024}, false},
		{"empty frame", Format{SampleRate: 44100, Channels: 2, BytesPerSample: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidFormat)
			}
		})
	}
}

func TestSplitFrames(t *testing.T) {
	f := DefaultFormat()
	size := f.FrameSize()

	tests := []struct {
		name    string
		k, r    int
		frames  int
		dropped int
	}{
		{"empty", 0, 0, 0, 0},
		{"remainder only", 0, 100, 0, 100},
		{"one frame", 1, 0, 1, 0},
		{"two frames", 2, 0, 2, 0},
		{"three frames with tail", 3, 1, 3, 1},
		{"max remainder", 2, 4095, 2, 4095},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.k*size+tt.r)
			for i := range data {
				data[i] = byte(i / size)
			}

			frames, dropped := f.SplitFrames(data)
			require.Len(t, frames, tt.frames)
			assert.Equal(t, tt.dropped, dropped)
			for i, fr := range frames {
				assert.Len(t, fr, size)
				assert.Equal(t, byte(i), fr[0])
				assert.Equal(t, size, cap(fr))
			}
		})
	}
}

func TestClampInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected int16
	}{
		{"zero", 0, 0},
		{"rounds", 1.6, 2},
		{"max", 40000, Max16Bit},
		{"min", -40000, Min16Bit},
		{"negative", -100.4, -100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClampInt16(tt.input))
		})
	}
}

func TestInt16BytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, Max16Bit, Min16Bit, 1234}
	b := Int16ToBytes(samples)
	require.Len(t, b, len(samples)*2)
	assert.Equal(t, []byte{0xff, 0xff}, b[4:6])
	assert.Equal(t, samples, BytesToInt16(b))
	assert.Equal(t, samples[:2], BytesToInt16(append(b[:4:4], 0x7f)))
}
