package realtime

import "time"

// defaultHeartbeatGrace is the tolerance applied to the incoming interval
// before the peer is considered gone.
const defaultHeartbeatGrace = 1.5

// heartbeat tracks liveness of one connection.
type heartbeat struct {
	outgoing     time.Duration
	incoming     time.Duration
	graceFactor  float64
	lastActivity time.Time
}

func newHeartbeat(outgoing, incoming time.Duration, now time.Time) *heartbeat {
	return &heartbeat{
		outgoing:     outgoing,
		incoming:     incoming,
		graceFactor:  defaultHeartbeatGrace,
		lastActivity: now,
	}
}

// touch records inbound activity.
func (h *heartbeat) touch(now time.Time) {
	h.lastActivity = now
}

// deadline returns when the connection expires without further activity.
// The zero time means it never expires.
func (h *heartbeat) deadline() time.Time {
	if h.incoming <= 0 {
		return time.Time{}
	}
	return h.lastActivity.Add(time.Duration(float64(h.incoming) * h.graceFactor))
}

// expired reports whether the incoming deadline was reached.
func (h *heartbeat) expired(now time.Time) bool {
	d := h.deadline()
	return !d.IsZero() && !now.Before(d)
}

// negotiateHeartbeat combines the client's desired intervals with the
// peer's offer per STOMP 1.2: a direction is enabled only when both sides
// ask for it, at the larger of the two values.
func negotiateHeartbeat(clientOut, clientIn, serverOut, serverIn time.Duration) (out, in time.Duration) {
	if clientOut > 0 && serverIn > 0 {
		out = max(clientOut, serverIn)
	}
	if clientIn > 0 && serverOut > 0 {
		in = max(clientIn, serverOut)
	}
	return out, in
}
