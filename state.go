package realtime

// State is the lifecycle state of a client connection.
type State int32

const (
	// StateDisconnected means no transport exists and no retry is pending.
	StateDisconnected State = iota

	// StateConnecting means a transport is being opened or the protocol
	// handshake is in progress.
	StateConnecting

	// StateConnected means the connection is ready for use.
	StateConnected

	// StateReconnecting means the connection was lost and a retry is scheduled.
	StateReconnecting

	// StateClosed means the client was explicitly disconnected. It is terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= StateDisconnected && s <= StateClosed
}

// StateChange describes a state transition.
type StateChange struct {
	From State
	To   State

	// Err is the cause of the transition, if any.
	Err error
}

// lifecycleEvent is an input to the connection state machine.
type lifecycleEvent int

const (
	// eventConnect is a caller request to connect.
	eventConnect lifecycleEvent = iota
	// eventReady is the transport being open and the protocol handshake done.
	eventReady
	// eventLost is a transport error or close that the caller did not request.
	eventLost
	// eventRetry is the reconnect timer firing.
	eventRetry
	// eventDisconnect is a caller request to disconnect.
	eventDisconnect
)

func (e lifecycleEvent) String() string {
	switch e {
	case eventConnect:
		return "connect"
	case eventReady:
		return "ready"
	case eventLost:
		return "lost"
	case eventRetry:
		return "retry"
	case eventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// transition returns the state that follows from applying ev in state from.
// It is defined for every (state, event) pair. retry tells whether a lost
// connection should be retried.
func transition(from State, ev lifecycleEvent, retry bool) State {
	if ev == eventDisconnect || from == StateClosed {
		return StateClosed
	}

	switch from {
	case StateDisconnected:
		if ev == eventConnect {
			return StateConnecting
		}
		return StateDisconnected

	case StateConnecting:
		switch ev {
		case eventReady:
			return StateConnected
		case eventLost:
			if retry {
				return StateReconnecting
			}
			return StateDisconnected
		}
		return StateConnecting

	case StateConnected:
		if ev == eventLost {
			if retry {
				return StateReconnecting
			}
			return StateDisconnected
		}
		return StateConnected

	case StateReconnecting:
		if ev == eventRetry {
			return StateConnecting
		}
		return StateReconnecting
	}

	return from
}
