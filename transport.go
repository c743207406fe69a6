package realtime

import (
	"context"
	"net/http"
)

// TransportEventKind identifies a transport event.
type TransportEventKind int

const (
	// EventOpen is emitted once the transport is open and can send.
	EventOpen TransportEventKind = iota
	// EventMessage carries one inbound frame.
	EventMessage
	// EventHeartbeat signals inbound liveness without a frame (e.g. a pong).
	EventHeartbeat
	// EventError reports a failure. A close event follows.
	EventError
	// EventClose is emitted exactly once when the transport stops.
	EventClose
)

// String returns the string representation of the event kind.
func (k TransportEventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventHeartbeat:
		return "heartbeat"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// TransportEvent is a single event emitted by a Transport.
type TransportEvent struct {
	Kind TransportEventKind

	// Data is the frame for EventMessage.
	Data []byte

	// Err is set for EventError and, when known, for an unclean EventClose.
	Err error

	// Clean and Code are set for EventClose.
	Clean bool
	Code  int
}

// Transport is a bidirectional message transport. A Transport is single use:
// it is opened at most once and a new instance is created for every
// connection attempt.
//
// Transports do no retrying and no parsing beyond their own framing.
type Transport interface {
	// Open connects to address. On success it emits EventOpen before
	// returning nil and afterwards emits inbound events until exactly one
	// EventClose. On failure it returns an error and emits nothing.
	Open(ctx context.Context, address string, header http.Header, emit func(TransportEvent)) error

	// Send writes one frame. It returns ErrNotConnected when the
	// transport is not open.
	Send(frame []byte) error

	// Close requests a clean shutdown. It is safe to call more than once
	// and while Open is in progress.
	Close() error
}

// Pinger is implemented by transports with a native keep-alive frame.
type Pinger interface {
	Ping() error
}

// TransportFactory creates a fresh Transport for each connection attempt.
type TransportFactory func() Transport
