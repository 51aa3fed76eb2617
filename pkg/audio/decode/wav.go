// ABOUTME: WAV audio decoder
// ABOUTME: Streams RIFF/WAV files as 16-bit PCM using go-audio/wav
package decode

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavChunkSamples = 4096

// WAV decodes PCM WAV files of 8 to 32 bits, scaled to 16-bit.
type WAV struct {
	src     io.ReadSeekCloser
	decoder *wav.Decoder
	format  audio.Format
	shift   int
	buf     *goaudio.IntBuffer
	pending []byte
}

// NewWAV validates the header of src. want supplies the frame length.
func NewWAV(src io.ReadSeekCloser, want audio.Format) (*WAV, error) {
	decoder := wav.NewDecoder(src)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrUnsupported)
	}
	if decoder.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: wav encoding %d is not integer PCM", ErrUnsupported, decoder.WavAudioFormat)
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupported, bitDepth)
	}

	format := want
	format.SampleRate = int(decoder.SampleRate)
	format.Channels = int(decoder.NumChans)
	format.BytesPerSample = 2

	return &WAV{
		src:     src,
		decoder: decoder,
		format:  format,
		shift:   bitDepth - 16,
		buf: &goaudio.IntBuffer{
			Data: make([]int, wavChunkSamples*format.Channels),
			Format: &goaudio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

func (d *WAV) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		n, err := d.decoder.PCMBuffer(d.buf)
		if err != nil {
			return 0, fmt.Errorf("wav decode error: %w", err)
		}
		if n == 0 {
			return 0, io.EOF
		}
		d.pending = d.convert(d.buf.Data[:n])
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *WAV) convert(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		switch {
		case d.shift > 0:
			s >>= d.shift
		case d.shift == -8:
			// 8-bit wav is unsigned
			s = (s - 128) << 8
		}
		audio.PutInt16(out, i*2, int16(s))
	}
	return out
}

// Format returns the decoded format.
func (d *WAV) Format() audio.Format { return d.format }

// Close releases the underlying file.
func (d *WAV) Close() error { return d.src.Close() }
