package connection

import "fmt"

// State is the lifecycle stage of a connection.
type State int32

const (
	// Connecting is a client connection that has not seen a challenge yet.
	Connecting State = iota
	// Handshaking is a connection that holds a cookie but is not accepted.
	Handshaking
	// Connected connections carry data.
	Connected
	// Disconnected is terminal.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
