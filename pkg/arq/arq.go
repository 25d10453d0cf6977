// Package arq wraps the KCP automatic repeat request engine that backs the
// reliable channel.
package arq

import (
	"errors"
	"time"
)

var (
	// ErrQueueFull is returned by Send when too many segments wait for
	// transmission.
	ErrQueueFull = errors.New("send queue full")
	// ErrMessageTooLarge is returned by Send when a message needs more
	// fragments than the engine supports.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrEmptyMessage is returned by Send for zero-length messages.
	ErrEmptyMessage = errors.New("empty message")
	// ErrInvalidSegment is returned by Input for malformed segment data.
	ErrInvalidSegment = errors.New("invalid segment")
)

// Engine is a reliable, ordered message stream on top of lossy segments.
// Segments leave through the output function passed to the constructor.
// Engines are not safe for concurrent use.
type Engine interface {
	// Input feeds raw segments received from the peer.
	Input(segments []byte) error
	// Send queues one message.
	Send(msg []byte) error
	// Receive returns the next complete message, if any.
	Receive() ([]byte, bool)
	// Update drives timers, retransmissions and flushing. Implementations
	// with their own clock may ignore now.
	Update(now time.Time)
	// RetransmitLimitExceeded reports whether a segment was retransmitted
	// more often than allowed.
	RetransmitLimitExceeded() bool
	// Pending is the number of segments not yet acknowledged or sent.
	Pending() int
}

// Options tunes the engine.
type Options struct {
	// MTU is the size limit for one flush of segments.
	MTU int
	// NoDelay enables the low latency mode.
	NoDelay bool
	// Interval is the internal update interval.
	Interval time.Duration
	// FastResend triggers a retransmission after this many skipped acks.
	// Zero disables fast resend.
	FastResend int
	// CongestionWindow enables congestion control.
	CongestionWindow bool
	// SendWindow and ReceiveWindow are sizes in segments.
	SendWindow    int
	ReceiveWindow int
	// MaxRetransmits is how often one segment may be retransmitted before
	// RetransmitLimitExceeded reports true.
	MaxRetransmits int
	// QueueLimit bounds Pending for Send.
	QueueLimit int
}
