// ABOUTME: MP3 audio decoder
// ABOUTME: Streams MP3 as 16-bit stereo PCM using go-mp3
package decode

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3 decodes an MP3 stream. go-mp3 always yields 16-bit stereo.
type MP3 struct {
	src     io.ReadCloser
	decoder *mp3.Decoder
	format  audio.Format
}

// NewMP3 reads the MP3 header from src. want supplies the frame length.
func NewMP3(src io.ReadCloser, want audio.Format) (*MP3, error) {
	decoder, err := mp3.NewDecoder(src)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	format := want
	format.SampleRate = decoder.SampleRate()
	format.Channels = 2
	format.BytesPerSample = 2

	return &MP3{src: src, decoder: decoder, format: format}, nil
}

func (d *MP3) Read(p []byte) (int, error) {
	n, err := d.decoder.Read(p)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("mp3 decode error: %w", err)
	}
	return n, err
}

// Format returns the decoded format.
func (d *MP3) Format() audio.Format { return d.format }

// Close releases the underlying file.
func (d *MP3) Close() error { return d.src.Close() }
