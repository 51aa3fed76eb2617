// ABOUTME: Tests for the stereo balance processor
// ABOUTME: Covers clamping, gain law and sample processing
package pan

import (
	"math"
	"testing"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
		ok   bool
	}{
		{"center", 0, 0, true},
		{"inside", 0.25, 0.25, true},
		{"left edge", -1, -1, true},
		{"too far right", 3.5, 1, true},
		{"too far left", -42, -1, true},
		{"positive infinity", math.Inf(1), 1, true},
		{"negative infinity", math.Inf(-1), -1, true},
		{"nan", math.NaN(), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Clamp(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestGains(t *testing.T) {
	tests := []struct {
		name        string
		pan         float64
		left, right float64
	}{
		{"center", 0, 1, 1},
		{"full left", -1, math.Sqrt2, 0},
		{"full right", 1, 0, math.Sqrt2},
		{"clamped right", 7, 0, math.Sqrt2},
		{"half left", -0.5, math.Pow(2, 0.25), 2 - math.Sqrt2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, r := Gains(tt.pan)
			assert.InDelta(t, tt.left, l, 1e-9)
			assert.InDelta(t, tt.right, r, 1e-9)
		})
	}
}

func TestBalanceProcess(t *testing.T) {
	b := New(audio.DefaultFormat())
	in := audio.Int16ToBytes([]int16{1000, 1000, -2000, -2000})

	t.Run("center is identity", func(t *testing.T) {
		out := b.Process(in, 0)
		assert.Equal(t, in, out)
		out[0] = 0x55
		assert.NotEqual(t, in[0], out[0], "output must not alias input")
	})

	t.Run("full left silences right", func(t *testing.T) {
		got := audio.BytesToInt16(b.Process(in, -1))
		assert.Equal(t, []int16{1414, 0, -2828, 0}, got)
	})

	t.Run("full right silences left", func(t *testing.T) {
		got := audio.BytesToInt16(b.Process(in, 1))
		assert.Equal(t, []int16{0, 1414, 0, -2828}, got)
	})

	t.Run("clips at int16 range", func(t *testing.T) {
		loud := audio.Int16ToBytes([]int16{30000, 30000})
		got := audio.BytesToInt16(b.Process(loud, -1))
		assert.Equal(t, int16(audio.Max16Bit), got[0])
	})

	t.Run("length preserved with odd tail", func(t *testing.T) {
		odd := append(append([]byte{}, in...), 0x01, 0x02, 0x03)
		out := b.Process(odd, 0.3)
		require.Len(t, out, len(odd))
		assert.Equal(t, odd[len(odd)-3:], out[len(out)-3:])
	})
}

func TestBalanceNonStereoPassthrough(t *testing.T) {
	f := audio.DefaultFormat()
	f.Channels = 1
	b := New(f)
	in := audio.Int16ToBytes([]int16{500, -500})
	assert.Equal(t, in, b.Process(in, -1))
}
