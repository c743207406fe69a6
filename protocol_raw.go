package realtime

import "net/http"

// ImplicitTopic is the single topic of a SocketClient. Every inbound frame
// is routed to it.
const ImplicitTopic = "socket"

// socketProtocol is the single-channel protocol: frames are payloads, there
// is no handshake and nothing to arm. The credential travels in the
// upgrade request.
type socketProtocol struct{}

// NewSocketProtocol returns the single-channel protocol.
func NewSocketProtocol() Protocol {
	return socketProtocol{}
}

func (socketProtocol) Name() string { return "socket" }

func (socketProtocol) Header(cfg ConnectionConfig) http.Header {
	header := http.Header{}
	if auth := bearerHeader(cfg.Credential); auth != "" {
		header.Set("Authorization", auth)
	}
	return header
}

func (socketProtocol) Handshake(ConnectionConfig) ([][]byte, bool, error) {
	return nil, true, nil
}

func (socketProtocol) Decode(frame []byte) (Inbound, error) {
	return Inbound{Kind: InboundMessage, Topic: ImplicitTopic, Body: frame}, nil
}

func (socketProtocol) Arm(string) ([]byte, string, error) { return nil, "", nil }

func (socketProtocol) Disarm(string) ([]byte, error) { return nil, nil }

func (socketProtocol) Publish(_ string, body []byte) ([]byte, error) {
	return body, nil
}

func (socketProtocol) Goodbye() []byte { return nil }

func (socketProtocol) Heartbeat() []byte { return nil }
