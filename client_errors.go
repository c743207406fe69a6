package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller-facing operations - check with errors.Is().
var (
	// ErrConfig is returned by Connect when the configuration is invalid.
	ErrConfig = errors.New("invalid configuration")

	// ErrNotConnected is returned when an operation requires a ready connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyClosed is returned when an operation is attempted after Disconnect.
	ErrAlreadyClosed = errors.New("client closed")

	// ErrInvalidTopic is returned when a topic or destination is empty or malformed.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrNilHandler is returned when a subscription is registered without a handler.
	ErrNilHandler = errors.New("nil message handler")

	// ErrRateLimited is returned when the outbound send limit is exceeded.
	ErrRateLimited = errors.New("send rate limit exceeded")
)

// Sentinel errors reported through the OnError and OnParseError callbacks.
var (
	// ErrTransport marks adapter-level failures. They trigger the reconnect
	// policy and are never returned to callers.
	ErrTransport = errors.New("transport error")

	// ErrParse marks a malformed inbound frame or payload.
	ErrParse = errors.New("parse error")

	// ErrReconnectFailed is reported when the reconnect policy gives up.
	ErrReconnectFailed = errors.New("reconnect failed")

	// ErrHeartbeatTimeout is the cause of a close when the peer stops sending.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrHandshakeTimeout is the cause of a close when the protocol handshake
	// does not complete within the connect timeout.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrBroker marks an ERROR frame sent by the broker.
	ErrBroker = errors.New("broker error")

	// ErrHandlerPanic is reported when a callback panics.
	ErrHandlerPanic = errors.New("handler panic")

	// ErrTransportClosed is returned by a transport that was closed before
	// or while it was opening.
	ErrTransportClosed = errors.New("transport closed")
)

// ConfigError describes an invalid ConnectionConfig field.
// Extract with errors.As().
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Field + ": " + e.Reason
}

// Unwrap returns ErrConfig.
func (e *ConfigError) Unwrap() error { return ErrConfig }

// TransportError contains details about a transport failure.
// Extract with errors.As().
type TransportError struct {
	Op      string
	Address string
	Err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrTransport and the underlying cause.
func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// ParseError contains details about an inbound frame that could not be decoded.
// Extract with errors.As().
type ParseError struct {
	Topic string
	Raw   []byte
	Err   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("parse error on %q: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

// Unwrap returns ErrParse and the underlying cause.
func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// BrokerError contains the contents of a broker ERROR frame.
// Extract with errors.As().
type BrokerError struct {
	Message string
	Body    []byte
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	if e.Message == "" {
		return "broker error"
	}
	return "broker error: " + e.Message
}

// Unwrap returns ErrBroker.
func (e *BrokerError) Unwrap() error { return ErrBroker }

// CloseEvent describes the end of a transport connection.
type CloseEvent struct {
	// Clean is true when the close was requested by the caller or
	// completed with a normal close handshake.
	Clean bool

	// Code is the transport close code, when the transport provides one.
	Code int

	// Initiated is true when the close came from Disconnect.
	Initiated bool

	// Err is the cause of an unclean close.
	Err error
}
