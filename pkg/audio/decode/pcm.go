// ABOUTME: Raw PCM passthrough stream
// ABOUTME: Reads headerless 16-bit little-endian PCM in a caller-supplied format
package decode

import (
	"io"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
)

// Raw passes headerless PCM through unchanged.
type Raw struct {
	src    io.ReadCloser
	format audio.Format
}

// NewRaw treats src as PCM in format.
func NewRaw(src io.ReadCloser, format audio.Format) (*Raw, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Raw{src: src, format: format}, nil
}

func (r *Raw) Read(p []byte) (int, error) { return r.src.Read(p) }

// Format returns the stream format.
func (r *Raw) Format() audio.Format { return r.format }

// Close closes the source.
func (r *Raw) Close() error { return r.src.Close() }
