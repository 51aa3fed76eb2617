// ABOUTME: Length-prefixed framing for wire messages
// ABOUTME: "<decimal length>\n<json>" encoder and a resumable stream decoder
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
)

const (
	// DefaultMaxMessageSize bounds a single record.
	DefaultMaxMessageSize = 16 << 20

	maxPrefixDigits = 10
)

var (
	// ErrWouldBlock means the read deadline passed before a whole message
	// arrived. Progress is kept; call Decode again.
	ErrWouldBlock = errors.New("protocol: would block")

	// ErrEndOfStream means the peer closed the stream.
	ErrEndOfStream = errors.New("protocol: end of stream")

	// ErrMalformed means the stream cannot be decoded any further.
	ErrMalformed = errors.New("protocol: malformed message")
)

// Encode frames msg for the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := Marshal(msg)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+maxPrefixDigits+1)
	out = strconv.AppendInt(out, int64(len(data)), 10)
	out = append(out, '\n')
	return append(out, data...), nil
}

// Encoder writes framed messages to a stream.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one framed message with a single Write call.
func (e *Encoder) Encode(msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Kind(), err)
	}
	return nil
}

// Decoder reads framed messages from a stream. It is not safe for
// concurrent use.
type Decoder struct {
	r       *bufio.Reader
	maxSize int

	prefix    []byte
	payload   []byte
	have      int
	inPayload bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:       bufio.NewReader(r),
		maxSize: DefaultMaxMessageSize,
		prefix:  make([]byte, 0, maxPrefixDigits),
	}
}

// SetMaxMessageSize changes the largest accepted record.
func (d *Decoder) SetMaxMessageSize(n int) {
	if n > 0 {
		d.maxSize = n
	}
}

// Decode returns the next recognised message. Records without any known
// key are skipped. Errors:
//   - ErrWouldBlock: read timeout; state is kept and Decode may be retried
//   - ErrEndOfStream: the peer closed the stream
//   - ErrMalformed: bad length prefix or record; the stream is unusable
//   - anything else: the underlying read failed
func (d *Decoder) Decode() (Message, error) {
	for {
		if !d.inPayload {
			if err := d.readPrefix(); err != nil {
				return nil, err
			}
		}

		for d.have < len(d.payload) {
			n, err := d.r.Read(d.payload[d.have:])
			d.have += n
			if err != nil {
				return nil, readError(err)
			}
		}
		d.inPayload = false

		msg, err := Unmarshal(d.payload)
		if errors.Is(err, ErrUnrecognized) {
			continue
		}
		return msg, err
	}
}

func (d *Decoder) readPrefix() error {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return readError(err)
		}
		if b == '\n' {
			break
		}
		if b < '0' || b > '9' {
			d.prefix = d.prefix[:0]
			return fmt.Errorf("%w: non-digit %q in length prefix", ErrMalformed, b)
		}
		if len(d.prefix) == maxPrefixDigits {
			d.prefix = d.prefix[:0]
			return fmt.Errorf("%w: length prefix too long", ErrMalformed)
		}
		d.prefix = append(d.prefix, b)
	}

	prefix := string(d.prefix)
	d.prefix = d.prefix[:0]
	if prefix == "" {
		return fmt.Errorf("%w: empty length prefix", ErrMalformed)
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if n == 0 || n > d.maxSize {
		return fmt.Errorf("%w: message length %d outside 1..%d", ErrMalformed, n, d.maxSize)
	}

	d.payload = make([]byte, n)
	d.have = 0
	d.inPayload = true
	return nil
}

func readError(err error) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrWouldBlock
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrEndOfStream
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrWouldBlock
	}
	return fmt.Errorf("protocol: read: %w", err)
}
