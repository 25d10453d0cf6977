package connection

import "fmt"

// ErrorKind classifies transport errors.
type ErrorKind int

const (
	// InvalidPacket is a malformed or unroutable datagram. Never surfaced.
	InvalidPacket ErrorKind = iota + 1
	// HandshakeFailed is a missing or wrong cookie, or a handshake that
	// did not complete in time.
	HandshakeFailed
	// SendOnClosedConnection is returned by Send after a disconnect.
	SendOnClosedConnection
	// RetransmitLimitExceeded means a reliable segment was never
	// acknowledged. It is fatal for the connection.
	RetransmitLimitExceeded
	// SocketError is a failure of the underlying socket.
	SocketError
	// InvalidSend is a send the connection can not carry: empty,
	// oversized, on an unknown channel or before the handshake completed.
	InvalidSend
	// QueueFull means the reliable send queue is at its limit.
	QueueFull
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidPacket:
		return "InvalidPacket"
	case HandshakeFailed:
		return "HandshakeFailed"
	case SendOnClosedConnection:
		return "SendOnClosedConnection"
	case RetransmitLimitExceeded:
		return "RetransmitLimitExceeded"
	case SocketError:
		return "SocketError"
	case InvalidSend:
		return "InvalidSend"
	case QueueFull:
		return "QueueFull"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the error type of this package. Two *Error values match with
// errors.Is when their kinds are equal.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, err error, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...), Err: err}
}

// Sentinels for use with errors.Is.
var (
	ErrInvalidPacket           = &Error{Kind: InvalidPacket}
	ErrHandshakeFailed         = &Error{Kind: HandshakeFailed}
	ErrSendOnClosedConnection  = &Error{Kind: SendOnClosedConnection}
	ErrRetransmitLimitExceeded = &Error{Kind: RetransmitLimitExceeded}
	ErrSocket                  = &Error{Kind: SocketError}
	ErrInvalidSend             = &Error{Kind: InvalidSend}
	ErrQueueFull               = &Error{Kind: QueueFull}
)
