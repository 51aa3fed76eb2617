// ABOUTME: Stereo balance processor for 16-bit PCM
// ABOUTME: Applies left/right channel gain for a pan value in [-1, 1]
package pan

import (
	"math"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
)

const (
	Left   = -1.0
	Center = 0.0
	Right  = 1.0
)

// Processor weights the channels of a PCM block. The result has the same
// length as the input.
type Processor interface {
	Process(pcm []byte, pan float64) []byte
}

// Clamp limits x to [-1, 1]. NaN has no position and maps to center;
// ok is false in that case.
func Clamp(x float64) (v float64, ok bool) {
	if math.IsNaN(x) {
		return Center, false
	}
	return math.Max(Left, math.Min(Right, x)), true
}

// Gains returns the linear left and right gain for pan p.
//
// The favoured side is raised by half the dB of a 2^|p| boost and the
// other side is scaled by 2-2^|p|, so p=±1 silences one channel and p=0 is
// unity on both.
func Gains(p float64) (left, right float64) {
	p, _ = Clamp(p)
	a := math.Abs(p)
	boost := math.Pow(2, a/2)
	reduce := 2 - math.Pow(2, a)
	if p < 0 {
		return boost, reduce
	}
	return reduce, boost
}

// Balance pans interleaved stereo 16-bit PCM. Other channel layouts pass
// through unchanged.
type Balance struct {
	channels int
}

// New creates a Balance for the given format.
func New(format audio.Format) *Balance {
	return &Balance{channels: format.Channels}
}

// Process returns a panned copy of pcm.
func (b *Balance) Process(pcm []byte, pan float64) []byte {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	if b.channels != 2 {
		return out
	}

	left, right := Gains(pan)
	if left == 1 && right == 1 {
		return out
	}

	n := len(pcm) / 4 * 4
	for off := 0; off < n; off += 4 {
		l := audio.ReadInt16(pcm, off)
		r := audio.ReadInt16(pcm, off+2)
		audio.PutInt16(out, off, audio.ClampInt16(float64(l)*left))
		audio.PutInt16(out, off+2, audio.ClampInt16(float64(r)*right))
	}
	return out
}
