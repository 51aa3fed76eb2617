// ABOUTME: Test tone generator
// ABOUTME: Endless 440Hz sine wave as 16-bit PCM, for running without audio files
package decode

import (
	"math"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
)

// Tone generates a sine wave on every channel. It never ends.
type Tone struct {
	format      audio.Format
	frequency   float64
	amplitude   float64
	sampleIndex uint64
	pending     []byte
}

// NewTone creates a 440Hz tone at half scale.
func NewTone(format audio.Format) *Tone {
	return &Tone{
		format:    format.WithDefaults(),
		frequency: 440.0, // A4 note
		amplitude: 0.5,
	}
}

func (t *Tone) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(t.pending) == 0 {
			t.pending = t.next()
		}
		c := copy(p[n:], t.pending)
		t.pending = t.pending[c:]
		n += c
	}
	return n, nil
}

// next renders one frame.
func (t *Tone) next() []byte {
	stride := t.format.BytesPerSampleFrame()
	out := make([]byte, t.format.FrameSize())
	for off := 0; off < len(out); off += stride {
		phase := 2 * math.Pi * t.frequency * float64(t.sampleIndex) / float64(t.format.SampleRate)
		t.sampleIndex++

		v := audio.ClampInt16(math.Sin(phase) * t.amplitude * audio.Max16Bit)
		for ch := 0; ch < t.format.Channels; ch++ {
			audio.PutInt16(out, off+ch*2, v)
		}
	}
	return out
}

// Format returns the tone format.
func (t *Tone) Format() audio.Format { return t.format }

// Close is a no-op.
func (t *Tone) Close() error { return nil }
