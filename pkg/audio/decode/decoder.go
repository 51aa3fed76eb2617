// ABOUTME: Decoded PCM stream interface
// ABOUTME: Opens audio files by extension and optionally loops them
package decode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/netaudio-go/pkg/audio"
)

// ErrUnsupported is returned for files this package cannot decode.
var ErrUnsupported = errors.New("decode: unsupported audio")

// Stream yields interleaved 16-bit little-endian PCM in Format().
type Stream interface {
	io.Reader
	Format() audio.Format
	Close() error
}

// Open decodes path by extension (.wav, .mp3, .pcm, .raw). Raw files are
// read as want. Decoded files are converted to want's sample rate and
// channel count when they differ.
func Open(path string, want audio.Format) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	var s Stream
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		s, err = NewWAV(f, want)
	case ".mp3":
		s, err = NewMP3(f, want)
	case ".pcm", ".raw":
		s, err = NewRaw(f, want)
	default:
		err = fmt.Errorf("%w: extension %q", ErrUnsupported, ext)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	converted, err := Convert(s, want)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return converted, nil
}

// Loop restarts the stream returned by open each time it ends.
func Loop(open func() (Stream, error)) (Stream, error) {
	s, err := open()
	if err != nil {
		return nil, err
	}
	return &loopStream{open: open, cur: s}, nil
}

type loopStream struct {
	open func() (Stream, error)
	cur  Stream
}

func (l *loopStream) Read(p []byte) (int, error) {
	n, err := l.cur.Read(p)
	if n > 0 || !errors.Is(err, io.EOF) {
		return n, err
	}

	l.cur.Close()
	next, err := l.open()
	if err != nil {
		return 0, fmt.Errorf("failed to restart audio: %w", err)
	}
	l.cur = next
	// An empty source ends here rather than spinning.
	return l.cur.Read(p)
}

func (l *loopStream) Format() audio.Format { return l.cur.Format() }

func (l *loopStream) Close() error { return l.cur.Close() }
