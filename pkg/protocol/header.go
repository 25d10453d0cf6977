// Package protocol implements the datagram framing shared by server and
// client.
//
// Every datagram starts with a 1-byte header. The high nibble is the message
// type, the low nibble the channel:
//
//	Hello       [header][cookie u32 LE]
//	Ping        [header][cookie u32 LE]
//	Data        [header][cookie u32 LE][body...]
//	Disconnect  [header][cookie u32 LE]
//
// For Data on the reliable channel the body holds raw ARQ segments. Messages
// carried inside the ARQ stream are prefixed with a 1-byte inner type (Ping or
// Data).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType tags what a datagram carries.
type MessageType uint8

const (
	Hello      MessageType = 1
	Ping       MessageType = 2
	Data       MessageType = 3
	Disconnect MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case Hello:
		return "Hello"
	case Ping:
		return "Ping"
	case Data:
		return "Data"
	case Disconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

func (t MessageType) valid() bool {
	return t >= Hello && t <= Disconnect
}

// Channel selects the delivery path.
type Channel uint8

const (
	Reliable   Channel = 1
	Unreliable Channel = 2
)

func (c Channel) String() string {
	switch c {
	case Reliable:
		return "Reliable"
	case Unreliable:
		return "Unreliable"
	default:
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the two known channels.
func (c Channel) Valid() bool {
	return c == Reliable || c == Unreliable
}

const (
	// HeaderSize is the size of the type/channel byte.
	HeaderSize = 1
	// CookieSize is the size of the cookie field.
	CookieSize = 4
	// Overhead is what every datagram spends before its body.
	Overhead = HeaderSize + CookieSize
	// ARQOverhead is the per-segment header of the ARQ engine.
	ARQOverhead = 24
	// MaxFragments bounds how many ARQ segments one reliable message may use.
	MaxFragments = 127
)

// ErrInvalidHeader is returned for unknown type or channel values.
var ErrInvalidHeader = errors.New("invalid header")

// ErrTruncated is returned when a datagram is shorter than its framing.
var ErrTruncated = errors.New("truncated datagram")

// EncodeHeader packs t and c into one byte.
func EncodeHeader(t MessageType, c Channel) byte {
	return byte(t)<<4 | byte(c)&0x0f
}

// DecodeHeader unpacks a header byte.
func DecodeHeader(b byte) (MessageType, Channel, error) {
	t := MessageType(b >> 4)
	c := Channel(b & 0x0f)
	if !t.valid() || !c.Valid() {
		return 0, 0, ErrInvalidHeader
	}
	return t, c, nil
}

// Packet is a decoded datagram. Body aliases the input buffer.
type Packet struct {
	Type    MessageType
	Channel Channel
	Cookie  uint32
	Body    []byte
}

// Decode parses a datagram. A Hello without a cookie field decodes with
// Cookie 0, which is the initial request.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrTruncated
	}
	t, c, err := DecodeHeader(b[0])
	if err != nil {
		return Packet{}, err
	}

	p := Packet{Type: t, Channel: c}
	if t == Hello && len(b) == HeaderSize {
		return p, nil
	}
	if len(b) < Overhead {
		return Packet{}, ErrTruncated
	}
	p.Cookie = binary.LittleEndian.Uint32(b[HeaderSize:Overhead])
	p.Body = b[Overhead:]

	if t == Hello && len(p.Body) != 0 {
		return Packet{}, fmt.Errorf("hello with %d trailing bytes: %w", len(p.Body), ErrInvalidHeader)
	}
	return p, nil
}

// AppendPacket appends the encoded datagram to dst.
func AppendPacket(dst []byte, t MessageType, c Channel, cookie uint32, body []byte) []byte {
	dst = append(dst, EncodeHeader(t, c))
	dst = binary.LittleEndian.AppendUint32(dst, cookie)
	return append(dst, body...)
}

// Encode returns a freshly allocated datagram.
func Encode(t MessageType, c Channel, cookie uint32, body []byte) []byte {
	return AppendPacket(make([]byte, 0, Overhead+len(body)), t, c, cookie, body)
}

// MaxUnreliablePayload is the largest unreliable payload for mtu.
func MaxUnreliablePayload(mtu int) int {
	return mtu - Overhead
}

// SegmentMTU is the MTU handed to the ARQ engine.
func SegmentMTU(mtu int) int {
	return mtu - Overhead
}

// MaxReliablePayload is the largest reliable payload for mtu and the
// receive window, accounting for the inner type byte.
func MaxReliablePayload(mtu, receiveWindow int) int {
	frags := receiveWindow
	if frags > MaxFragments {
		frags = MaxFragments
	}
	return frags*(SegmentMTU(mtu)-ARQOverhead) - 1
}
