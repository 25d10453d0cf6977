package connection

import (
	"dominicbreuker/kcpnet/pkg/protocol"
	"fmt"
)

// EventType tags an Event.
type EventType int

const (
	EventConnected EventType = iota + 1
	EventData
	EventError
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "Connected"
	case EventData:
		return "Data"
	case EventError:
		return "Error"
	case EventDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is delivered to the application callback. Channel and Data are set
// for EventData, Err for EventError.
type Event struct {
	Type    EventType
	ConnID  uint64
	Channel protocol.Channel
	Data    []byte
	Err     error
}

// Callback receives events synchronously from Tick. conn is nil for errors
// that can not be attributed to a connection.
type Callback func(conn *Connection, ev Event)
