package hotsync

import "time"

// EventType is the kind of a session event.
type EventType uint8

const (
	// ConnectEvent is emitted once the handshake of a session succeeded.
	ConnectEvent EventType = iota + 1
	// DisconnectEvent is emitted after the session has ended.
	DisconnectEvent
)

func (t EventType) String() string {
	switch t {
	case ConnectEvent:
		return "connect"
	case DisconnectEvent:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event describes a session connecting or disconnecting.
type Event struct {
	Type      EventType
	SessionID string
	Transport Transport
	// Device describes the peer: a serial device path, a remote address or
	// a USB vendor:product id.
	Device string
	Time   time.Time
	// Duration and Err are set on DisconnectEvent. Err is the error that
	// ended the session, nil for a clean sync.
	Duration time.Duration
	Err      error
}

// EventHandler receives session events.
type EventHandler func(Event)
