// ABOUTME: Streaming linear resampler and channel remixer for 16-bit PCM
// ABOUTME: Carries the last input frame across chunks so output stays continuous
package resample

// Resampler performs linear interpolation to convert between sample rates.
// Not safe for concurrent use.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64

	// position of the next output frame, in input frames relative to prev
	position float64
	prev     []int16
	havePrev bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		prev:       make([]int16, channels),
	}
}

// Resample converts interleaved samples at inputRate into samples at
// outputRate. The final input frame is held back to interpolate against
// the next chunk. A trailing partial frame is ignored.
func (r *Resampler) Resample(input []int16) []int16 {
	ch := r.channels
	frames := len(input) / ch
	if frames == 0 {
		return nil
	}

	src := input[:frames*ch]
	if r.havePrev {
		joined := make([]int16, 0, len(r.prev)+len(src))
		joined = append(joined, r.prev...)
		src = append(joined, src...)
	}
	n := len(src) / ch

	out := make([]int16, 0, r.OutputSamplesNeeded(len(src)))
	for {
		idx := int(r.position)
		if idx+1 >= n {
			break
		}
		frac := r.position - float64(idx)
		for c := 0; c < ch; c++ {
			s1 := float64(src[idx*ch+c])
			s2 := float64(src[(idx+1)*ch+c])
			out = append(out, int16(s1*(1-frac)+s2*frac))
		}
		r.position += r.ratio
	}

	copy(r.prev, src[(n-1)*ch:])
	r.havePrev = true
	r.position -= float64(n - 1)
	return out
}

// Reset discards carried state.
func (r *Resampler) Reset() {
	r.position = 0
	r.havePrev = false
	clear(r.prev)
}

// OutputSamplesNeeded estimates the output size for inputSamples samples.
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}

// Remix converts interleaved samples between channel counts. Mono is
// duplicated to stereo and stereo is averaged to mono; equal counts return
// input unchanged. ok is false for any other conversion.
func Remix(input []int16, from, to int) (out []int16, ok bool) {
	switch {
	case from == to:
		return input, true
	case from == 1 && to == 2:
		out = make([]int16, len(input)*2)
		for i, s := range input {
			out[2*i] = s
			out[2*i+1] = s
		}
		return out, true
	case from == 2 && to == 1:
		out = make([]int16, len(input)/2)
		for i := range out {
			out[i] = int16((int32(input[2*i]) + int32(input[2*i+1])) / 2)
		}
		return out, true
	}
	return nil, false
}
