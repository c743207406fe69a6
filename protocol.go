package realtime

import "net/http"

// Protocol maps connection and subscription operations onto frames.
// A Protocol instance belongs to one client and is only used from its
// event loop; it may keep per-connection state, which Handshake resets.
type Protocol interface {
	// Name identifies the protocol in logs.
	Name() string

	// Header returns the transport handshake header for cfg.
	Header(cfg ConnectionConfig) http.Header

	// Handshake returns the frames to send once the transport is open.
	// ready is true when the connection is usable without waiting for an
	// InboundReady frame.
	Handshake(cfg ConnectionConfig) (frames [][]byte, ready bool, err error)

	// Decode parses one inbound frame.
	Decode(frame []byte) (Inbound, error)

	// Arm returns the frame that starts delivery of topic. A nil frame
	// means the topic needs no arming. A non-empty receipt means the arm
	// is complete only when an InboundReceipt with that id arrives.
	Arm(topic string) (frame []byte, receipt string, err error)

	// Disarm returns the frame that stops delivery of topic, or nil.
	Disarm(topic string) ([]byte, error)

	// Publish returns the frame that sends body to destination.
	Publish(destination string, body []byte) ([]byte, error)

	// Goodbye returns the frame sent before a caller-initiated close, or nil.
	Goodbye() []byte

	// Heartbeat returns the outgoing keep-alive frame, or nil to use the
	// transport's native ping.
	Heartbeat() []byte
}

// bearerHeader returns an Authorization header for a non-empty credential.
func bearerHeader(credential string) string {
	if credential == "" {
		return ""
	}
	return "Bearer " + credential
}
