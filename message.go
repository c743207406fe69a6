package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one inbound message routed to a handler.
type Message struct {
	// Topic is the subscription the message was routed by.
	Topic string

	// Destination is the origin reported by the broker, if any.
	Destination string

	// Headers are protocol headers of the frame, if any.
	Headers map[string]string

	// Raw is the undecoded payload.
	Raw []byte

	// Parsed is the best-effort decoded payload: the JSON value when the
	// payload is JSON, otherwise the payload as a string.
	Parsed any
}

// Decode unmarshals the raw JSON payload into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return &ParseError{Topic: m.Topic, Raw: m.Raw, Err: err}
	}
	return nil
}

// Text returns the payload as a string.
func (m *Message) Text() string {
	if s, ok := m.Parsed.(string); ok {
		return s
	}
	return string(m.Raw)
}

// InboundKind identifies a decoded inbound frame.
type InboundKind int

const (
	// InboundMessage is an application message for a topic.
	InboundMessage InboundKind = iota
	// InboundReady completes the protocol handshake.
	InboundReady
	// InboundReceipt acknowledges an earlier frame.
	InboundReceipt
	// InboundError is an error reported by the peer.
	InboundError
	// InboundHeartbeat is a keep-alive frame with no content.
	InboundHeartbeat
)

// Inbound is a frame decoded by a Protocol.
type Inbound struct {
	Kind InboundKind

	Topic       string
	Destination string
	Headers     map[string]string
	Body        []byte

	// Receipt is the acknowledged receipt id for InboundReceipt.
	Receipt string

	// Err describes an InboundError.
	Err error

	// HeartbeatOut and HeartbeatIn are the negotiated intervals carried
	// by InboundReady.
	HeartbeatOut time.Duration
	HeartbeatIn  time.Duration
}

var errMalformedJSON = errors.New("malformed JSON payload")

// decodeMessage builds a Message from an inbound frame. Payloads that are
// declared or look like JSON must decode; anything else is kept as text.
func decodeMessage(in Inbound) (*Message, error) {
	msg := &Message{
		Topic:       in.Topic,
		Destination: in.Destination,
		Headers:     in.Headers,
		Raw:         in.Body,
	}

	var v any
	err := json.Unmarshal(in.Body, &v)
	if err == nil {
		msg.Parsed = v
		return msg, nil
	}

	if declaresJSON(in.Headers) || looksLikeJSON(in.Body) {
		return nil, &ParseError{Topic: in.Topic, Raw: in.Body, Err: fmt.Errorf("%w: %v", errMalformedJSON, err)}
	}

	msg.Parsed = string(in.Body)
	return msg, nil
}

func declaresJSON(headers map[string]string) bool {
	ct, ok := headers["content-type"]
	return ok && strings.HasPrefix(strings.ToLower(ct), "application/json")
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}

// encodePayload converts a payload into frame bytes. Bytes and strings are
// sent as-is, everything else is JSON encoded.
func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, errors.New("nil payload")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}

// encodeJSONPayload JSON encodes payload unless it already is raw bytes.
func encodeJSONPayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, errors.New("nil payload")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
