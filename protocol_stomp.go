package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
)

// STOMP header names used by the broker protocol.
const (
	stompAcceptVersion = "accept-version"
	stompHost          = "host"
	stompHeartBeat     = "heart-beat"
	stompAuthorization = "Authorization"
	stompDestination   = "destination"
	stompID            = "id"
	stompAck           = "ack"
	stompReceipt       = "receipt"
	stompReceiptID     = "receipt-id"
	stompSubscription  = "subscription"
	stompContentType   = "content-type"
	stompContentLength = "content-length"
	stompMessage       = "message"
)

// STOMPSubprotocols are the websocket subprotocols offered by the broker client.
var STOMPSubprotocols = []string{"v12.stomp", "v11.stomp"}

// stompProtocol speaks STOMP 1.2 over text frames. Each topic maps to one
// broker subscription id; acknowledgements are requested with receipts.
type stompProtocol struct {
	heartbeatOut time.Duration
	heartbeatIn  time.Duration

	byTopic map[string]string
	byID    map[string]string
}

// NewSTOMPProtocol returns the topic-broker protocol.
func NewSTOMPProtocol() Protocol {
	return &stompProtocol{
		byTopic: make(map[string]string),
		byID:    make(map[string]string),
	}
}

func (p *stompProtocol) Name() string { return "stomp" }

func (p *stompProtocol) Header(ConnectionConfig) http.Header {
	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", strings.Join(STOMPSubprotocols, ", "))
	return header
}

func (p *stompProtocol) Handshake(cfg ConnectionConfig) ([][]byte, bool, error) {
	p.byTopic = make(map[string]string)
	p.byID = make(map[string]string)
	p.heartbeatOut = cfg.HeartbeatOutgoing
	p.heartbeatIn = cfg.HeartbeatIncoming

	host := cfg.VirtualHost
	if host == "" {
		if u, err := url.Parse(cfg.Address); err == nil {
			host = u.Hostname()
		}
	}

	f := frame.New(frame.CONNECT,
		stompAcceptVersion, "1.2",
		stompHost, host,
		stompHeartBeat, formatHeartBeat(cfg.HeartbeatOutgoing, cfg.HeartbeatIncoming),
	)
	if auth := bearerHeader(cfg.Credential); auth != "" {
		f.Header.Add(stompAuthorization, auth)
	}

	data, err := encodeFrame(f)
	if err != nil {
		return nil, false, err
	}

	return [][]byte{data}, false, nil
}

func (p *stompProtocol) Decode(data []byte) (Inbound, error) {
	if len(bytes.Trim(data, "\r\n")) == 0 {
		return Inbound{Kind: InboundHeartbeat}, nil
	}

	// Leading EOLs are heartbeats sent ahead of the frame.
	f, err := frame.NewReader(bytes.NewReader(bytes.TrimLeft(data, "\r\n"))).Read()
	if err != nil {
		return Inbound{}, &ParseError{Raw: data, Err: err}
	}
	if f == nil {
		return Inbound{Kind: InboundHeartbeat}, nil
	}

	switch f.Command {
	case frame.CONNECTED:
		serverOut, serverIn, err := parseHeartBeat(f.Header.Get(stompHeartBeat))
		if err != nil {
			return Inbound{}, &ParseError{Raw: data, Err: err}
		}
		out, in := negotiateHeartbeat(p.heartbeatOut, p.heartbeatIn, serverOut, serverIn)
		return Inbound{Kind: InboundReady, HeartbeatOut: out, HeartbeatIn: in}, nil

	case frame.MESSAGE:
		destination := f.Header.Get(stompDestination)
		topic, ok := p.byID[f.Header.Get(stompSubscription)]
		if !ok {
			topic = destination
		}
		return Inbound{
			Kind:        InboundMessage,
			Topic:       topic,
			Destination: destination,
			Headers:     headerMap(f.Header),
			Body:        f.Body,
		}, nil

	case frame.RECEIPT:
		return Inbound{Kind: InboundReceipt, Receipt: f.Header.Get(stompReceiptID)}, nil

	case frame.ERROR:
		return Inbound{
			Kind:    InboundError,
			Headers: headerMap(f.Header),
			Body:    f.Body,
			Err:     &BrokerError{Message: f.Header.Get(stompMessage), Body: f.Body},
		}, nil
	}

	return Inbound{}, &ParseError{Raw: data, Err: fmt.Errorf("unexpected command %q", f.Command)}
}

func (p *stompProtocol) Arm(topic string) ([]byte, string, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, "", err
	}

	if old, ok := p.byTopic[topic]; ok {
		delete(p.byID, old)
	}

	id := uuid.NewString()
	receipt := uuid.NewString()
	p.byTopic[topic] = id
	p.byID[id] = topic

	data, err := encodeFrame(frame.New(frame.SUBSCRIBE,
		stompID, id,
		stompDestination, topic,
		stompAck, "auto",
		stompReceipt, receipt,
	))
	if err != nil {
		return nil, "", err
	}

	return data, receipt, nil
}

func (p *stompProtocol) Disarm(topic string) ([]byte, error) {
	id, ok := p.byTopic[topic]
	if !ok {
		return nil, nil
	}
	delete(p.byTopic, topic)
	delete(p.byID, id)

	return encodeFrame(frame.New(frame.UNSUBSCRIBE, stompID, id))
}

func (p *stompProtocol) Publish(destination string, body []byte) ([]byte, error) {
	if err := ValidateTopic(destination); err != nil {
		return nil, err
	}

	contentType := "text/plain"
	if json.Valid(body) {
		contentType = "application/json"
	}

	f := frame.New(frame.SEND,
		stompDestination, destination,
		stompContentType, contentType,
		stompContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body

	return encodeFrame(f)
}

func (p *stompProtocol) Goodbye() []byte {
	data, err := encodeFrame(frame.New(frame.DISCONNECT))
	if err != nil {
		return nil
	}
	return data
}

func (p *stompProtocol) Heartbeat() []byte {
	return []byte("\n")
}

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// headerMap flattens frame headers. The first occurrence of a repeated
// header wins, as STOMP 1.2 requires.
func headerMap(h *frame.Header) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, h.Len())
	for i := 0; i < h.Len(); i++ {
		k, v := h.GetAt(i)
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func formatHeartBeat(out, in time.Duration) string {
	return strconv.FormatInt(out.Milliseconds(), 10) + "," + strconv.FormatInt(in.Milliseconds(), 10)
}

var errInvalidHeartBeat = errors.New("invalid heart-beat header")

// parseHeartBeat parses "sx,sy" where sx is what the sender can send and sy
// what it wants to receive, both in milliseconds.
func parseHeartBeat(value string) (out, in time.Duration, err error) {
	if value == "" {
		return 0, 0, nil
	}

	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", errInvalidHeartBeat, value)
	}

	sx, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", errInvalidHeartBeat, value)
	}
	sy, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", errInvalidHeartBeat, value)
	}

	return time.Duration(sx) * time.Millisecond, time.Duration(sy) * time.Millisecond, nil
}
