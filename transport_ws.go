package realtime

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWSBufferSize   = 4096
	defaultWSWriteTimeout = 5 * time.Second
)

// WSDialer creates websocket transports that share one dialer configuration.
type WSDialer struct {
	// Dialer is the underlying websocket dialer.
	Dialer *websocket.Dialer

	// WriteTimeout bounds every frame write. Zero disables the deadline.
	WriteTimeout time.Duration

	// ReadLimit is the maximum inbound frame size. Zero means no limit.
	ReadLimit int64
}

// NewWSDialer creates a websocket dialer that honours HTTP(S)_PROXY.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   defaultWSBufferSize,
			WriteBufferSize:  defaultWSBufferSize,
		},
		WriteTimeout: defaultWSWriteTimeout,
	}
}

// WithTLSConfig sets the TLS configuration for wss:// endpoints.
func (d *WSDialer) WithTLSConfig(config *tls.Config) *WSDialer {
	d.Dialer.TLSClientConfig = config
	return d
}

// WithProxyDialer routes the TCP connection through the given proxy.
func (d *WSDialer) WithProxyDialer(p *ProxyDialer) *WSDialer {
	d.Dialer.Proxy = nil
	d.Dialer.NetDialContext = p.DialContext
	return d
}

// NewTransport returns a new unopened websocket transport.
func (d *WSDialer) NewTransport() Transport {
	return &WSTransport{
		dialer:       d.Dialer,
		writeTimeout: d.WriteTimeout,
		readLimit:    d.ReadLimit,
	}
}

// WSTransport is a Transport over a gorilla websocket connection.
// Frames are written as text messages.
type WSTransport struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readLimit    int64

	mu      sync.Mutex
	conn    *websocket.Conn
	opening bool
	closed  bool
}

// Open dials address with the given handshake header.
func (t *WSTransport) Open(ctx context.Context, address string, header http.Header, emit func(TransportEvent)) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.opening || t.conn != nil {
		t.mu.Unlock()
		return errors.New("transport already opened")
	}
	t.opening = true
	t.mu.Unlock()

	dialer := t.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, address, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %s", err, resp.Status)
		}
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrTransportClosed
	}
	t.conn = conn
	t.mu.Unlock()

	if t.readLimit > 0 {
		conn.SetReadLimit(t.readLimit)
	}
	conn.SetPongHandler(func(string) error {
		emit(TransportEvent{Kind: EventHeartbeat})
		return nil
	})

	emit(TransportEvent{Kind: EventOpen})

	go t.readLoop(conn, emit)

	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn, emit func(TransportEvent)) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.finish(conn, err, emit)
			return
		}

		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			emit(TransportEvent{Kind: EventMessage, Data: data})
		}
	}
}

// finish emits the terminal events for a read failure.
func (t *WSTransport) finish(conn *websocket.Conn, err error, emit func(TransportEvent)) {
	t.mu.Lock()
	requested := t.closed
	t.closed = true
	t.mu.Unlock()

	conn.Close()

	code := websocket.CloseAbnormalClosure
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}

	if requested {
		emit(TransportEvent{Kind: EventClose, Clean: true, Code: websocket.CloseNormalClosure})
		return
	}

	clean := code == websocket.CloseNormalClosure
	if !clean {
		emit(TransportEvent{Kind: EventError, Err: err})
	}
	emit(TransportEvent{Kind: EventClose, Clean: clean, Code: code, Err: err})
}

// Send writes frame as a single text message.
func (t *WSTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return ErrNotConnected
	}

	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Ping sends a websocket ping control frame.
func (t *WSTransport) Ping() error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if conn == nil || closed {
		return ErrNotConnected
	}

	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.controlTimeout()))
}

// Close sends a normal close frame and releases the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		// Open is still dialing and will discard the connection.
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.controlTimeout()))

	return conn.Close()
}

func (t *WSTransport) controlTimeout() time.Duration {
	if t.writeTimeout > 0 {
		return t.writeTimeout
	}
	return time.Second
}
