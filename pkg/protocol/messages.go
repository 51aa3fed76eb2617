// ABOUTME: Wire message type definitions
// ABOUTME: Closed set of message variants and their JSON record mapping
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Record keys on the wire.
const (
	KeyAudioPayload    = "Audio_Payload"
	KeyTimestamp       = "Timestamp"
	KeySpeakerLocation = "Speaker_Location"
	KeyNetworkAlive    = "Network_Alive"
	KeyNetworkReply    = "Network_Reply"
	KeyClientReady     = "Client_Ready"
)

// TimestampLayout is the wall-clock layout of AudioPacket.Timestamp, in local time.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// ErrUnrecognized is returned by Unmarshal for records with no known key.
var ErrUnrecognized = errors.New("protocol: unrecognized message")

// Kind identifies a message variant.
type Kind int

const (
	KindAudioPacket Kind = iota + 1
	KindLocationUpdate
	KindLivenessProbe
	KindLivenessResponse
	KindReadyAck
)

func (k Kind) String() string {
	switch k {
	case KindAudioPacket:
		return "audio"
	case KindLocationUpdate:
		return "location"
	case KindLivenessProbe:
		return "probe"
	case KindLivenessResponse:
		return "probe-response"
	case KindReadyAck:
		return "ready"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Message is one of AudioPacket, LocationUpdate, LivenessProbe,
// LivenessResponse or ReadyAck.
type Message interface {
	Kind() Kind
	record() record
}

// AudioPacket carries one or more concatenated PCM frames.
type AudioPacket struct {
	Payload   []byte
	Timestamp string // optional, TimestampLayout
}

// NewAudioPacket stamps payload with sentAt. A zero sentAt leaves the
// timestamp empty.
func NewAudioPacket(payload []byte, sentAt time.Time) AudioPacket {
	p := AudioPacket{Payload: payload}
	if !sentAt.IsZero() {
		p.Timestamp = FormatTimestamp(sentAt)
	}
	return p
}

// SentAt parses the packet timestamp. ok is false when there is none.
func (p AudioPacket) SentAt() (t time.Time, ok bool, err error) {
	if p.Timestamp == "" {
		return time.Time{}, false, nil
	}
	t, err = ParseTimestamp(p.Timestamp)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// LocationUpdate moves the receiver's pan.
type LocationUpdate struct {
	Location float64
}

// LivenessProbe asks the peer to answer at once.
type LivenessProbe struct{}

// LivenessResponse answers a LivenessProbe.
type LivenessResponse struct {
	Alive bool
}

// ReadyAck is the legacy client ready handshake.
type ReadyAck struct{}

func (AudioPacket) Kind() Kind      { return KindAudioPacket }
func (LocationUpdate) Kind() Kind   { return KindLocationUpdate }
func (LivenessProbe) Kind() Kind    { return KindLivenessProbe }
func (LivenessResponse) Kind() Kind { return KindLivenessResponse }
func (ReadyAck) Kind() Kind         { return KindReadyAck }

// FormatTimestamp renders t in local time using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string as local time.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// record is the JSON shape of every message. Absent keys stay nil.
type record struct {
	AudioPayload    *byteArray `json:"Audio_Payload,omitempty"`
	Timestamp       *string    `json:"Timestamp,omitempty"`
	SpeakerLocation *float64   `json:"Speaker_Location,omitempty"`
	NetworkAlive    *bool      `json:"Network_Alive,omitempty"`
	NetworkReply    *bool      `json:"Network_Reply,omitempty"`
	ClientReady     *bool      `json:"Client_Ready,omitempty"`
}

func ptr[T any](v T) *T { return &v }

func (p AudioPacket) record() record {
	payload := byteArray(p.Payload)
	r := record{AudioPayload: &payload}
	if p.Timestamp != "" {
		r.Timestamp = ptr(p.Timestamp)
	}
	return r
}

func (u LocationUpdate) record() record {
	return record{SpeakerLocation: ptr(u.Location)}
}

func (LivenessProbe) record() record {
	return record{NetworkAlive: ptr(true)}
}

func (r LivenessResponse) record() record {
	return record{NetworkAlive: ptr(r.Alive), NetworkReply: ptr(true)}
}

func (ReadyAck) record() record {
	return record{ClientReady: ptr(true)}
}

// message picks the variant by key precedence: audio, location, liveness,
// ready.
func (r record) message() (Message, error) {
	switch {
	case r.AudioPayload != nil:
		p := AudioPacket{Payload: []byte(*r.AudioPayload)}
		if r.Timestamp != nil {
			p.Timestamp = *r.Timestamp
		}
		return p, nil
	case r.SpeakerLocation != nil:
		return LocationUpdate{Location: *r.SpeakerLocation}, nil
	case r.NetworkAlive != nil:
		if *r.NetworkAlive && (r.NetworkReply == nil || !*r.NetworkReply) {
			return LivenessProbe{}, nil
		}
		return LivenessResponse{Alive: *r.NetworkAlive}, nil
	case r.ClientReady != nil:
		return ReadyAck{}, nil
	default:
		return nil, ErrUnrecognized
	}
}

// Marshal encodes msg as a JSON record.
func Marshal(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("protocol: nil message")
	}
	data, err := json.Marshal(msg.record())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Kind(), err)
	}
	return data, nil
}

// Unmarshal decodes a JSON record. Unknown keys are ignored; a record with
// no known key returns ErrUnrecognized. Invalid JSON or wrongly typed
// values return ErrMalformed.
func Unmarshal(data []byte) (Message, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r.message()
}

// byteArray marshals as a JSON array of integers rather than base64.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *byteArray) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if values == nil {
		return errors.New("audio payload must be an array")
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("audio payload value %d at index %d out of byte range", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
