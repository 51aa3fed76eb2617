// ABOUTME: Audio output sink tests
// ABOUTME: Verifies sink implementations, the frame reader and volume scaling
package output

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImplementations(t *testing.T) {
	var _ Sink = (*Oto)(nil)
	var _ Sink = (*Clock)(nil)
}

func TestNew(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"oto", false},
		{"", false},
		{"clock", false},
		{"stdout", false},
		{"alsa", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			sink, err := New(tt.kind, &bytes.Buffer{}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sink)
		})
	}
}

func TestFrameReaderCarriesPartialFrames(t *testing.T) {
	var n byte
	r := newFrameReader(func(frame []byte) {
		n++
		for i := range frame {
			frame[i] = n
		}
	}, 4)

	p := make([]byte, 6)
	got, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 6, got)
	assert.Equal(t, []byte{1, 1, 1, 1, 2, 2}, p)

	got, err = r.Read(p[:3])
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, []byte{2, 2, 3}, p[:3])
}

func TestClockPullsAtFrameCadence(t *testing.T) {
	format := audio.Format{SampleRate: 8000, Channels: 2, BytesPerSample: 2, SamplesPerFrame: 8}

	var mu sync.Mutex
	var buf bytes.Buffer
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})

	c := NewClock(w, nil)
	require.NoError(t, c.Open(format, func(frame []byte) {
		for i := range frame {
			frame[i] = 0x7f
		}
	}))
	assert.Error(t, c.Open(format, func([]byte) {}), "second open must fail")

	require.Eventually(t, func() bool { return c.Frames() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, buf.Len()%format.FrameSize())
	assert.GreaterOrEqual(t, buf.Len(), 3*format.FrameSize())
	assert.Equal(t, byte(0x7f), buf.Bytes()[0])
}

func TestClockRejectsInvalidFormat(t *testing.T) {
	c := NewClock(nil, nil)
	assert.ErrorIs(t, c.Open(audio.Format{}, func([]byte) {}), audio.ErrInvalidFormat)
}

func TestApplyVolume(t *testing.T) {
	tests := []struct {
		name       string
		volume     int
		muted      bool
		in, expect []int16
	}{
		{"full", 100, false, []int16{1000, -1000}, []int16{1000, -1000}},
		{"half", 50, false, []int16{1000, -1000}, []int16{500, -500}},
		{"muted", 100, true, []int16{1000, -1000}, []int16{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := audio.Int16ToBytes(tt.in)
			applyVolume(pcm, getVolumeMultiplier(tt.volume, tt.muted))
			assert.Equal(t, tt.expect, audio.BytesToInt16(pcm))
		})
	}
}

func TestOtoVolumeClamp(t *testing.T) {
	o := NewOto(nil)
	o.SetVolume(150)
	assert.Equal(t, 100, o.Volume())
	o.SetVolume(-3)
	assert.Equal(t, 0, o.Volume())
	o.SetMuted(true)
	assert.True(t, o.Muted())
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
