package realtime

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// fakeNetwork hands out fakeTransports and records every one of them.
type fakeNetwork struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dialErr    error
	hold       bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{}
}

func (n *fakeNetwork) factory() Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &fakeTransport{
		network: n,
		release: make(chan struct{}),
	}
	n.transports = append(n.transports, t)
	return t
}

// failDials makes subsequent opens fail with err; nil restores success.
func (n *fakeNetwork) failDials(err error) {
	n.mu.Lock()
	n.dialErr = err
	n.mu.Unlock()
}

// holdDials keeps subsequent opens pending until release is called.
func (n *fakeNetwork) holdDials(hold bool) {
	n.mu.Lock()
	n.hold = hold
	n.mu.Unlock()
}

func (n *fakeNetwork) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports)
}

func (n *fakeNetwork) get(i int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[i]
}

// waitTransport waits for the i-th transport to be opened.
func (n *fakeNetwork) waitTransport(t *testing.T, i int) *fakeTransport {
	t.Helper()

	require.Eventually(t, func() bool {
		if n.count() <= i {
			return false
		}
		return n.get(i).isOpen()
	}, waitTimeout, time.Millisecond)

	return n.get(i)
}

type fakeTransport struct {
	network *fakeNetwork
	release chan struct{}

	mu      sync.Mutex
	emit    func(TransportEvent)
	address string
	header  http.Header
	open    bool
	closed  bool
	sent    [][]byte
	sendErr error
	pings   int
}

func (t *fakeTransport) Open(ctx context.Context, address string, header http.Header, emit func(TransportEvent)) error {
	t.network.mu.Lock()
	dialErr := t.network.dialErr
	hold := t.network.hold
	t.network.mu.Unlock()

	t.mu.Lock()
	t.address = address
	t.header = header
	t.mu.Unlock()

	if dialErr != nil {
		return dialErr
	}

	if hold {
		select {
		case <-t.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.emit = emit
	t.open = true
	t.mu.Unlock()

	emit(TransportEvent{Kind: EventOpen})
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open || t.closed {
		return ErrNotConnected
	}
	if t.sendErr != nil {
		return t.sendErr
	}

	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open || t.closed {
		return ErrNotConnected
	}
	t.pings++
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	emit := t.emit
	t.mu.Unlock()

	if emit != nil {
		go emit(TransportEvent{Kind: EventClose, Clean: true, Code: 1000})
	}
	return nil
}

func (t *fakeTransport) releaseOpen() {
	close(t.release)
}

func (t *fakeTransport) isOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) failSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) sentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) pingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

func (t *fakeTransport) emitter() func(TransportEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emit
}

// deliver simulates an inbound frame.
func (t *fakeTransport) deliver(data []byte) {
	t.emitter()(TransportEvent{Kind: EventMessage, Data: data})
}

// drop simulates the peer going away without a close handshake.
func (t *fakeTransport) drop() {
	emit := t.emitter()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	err := errors.New("connection reset by peer")
	emit(TransportEvent{Kind: EventError, Err: err})
	emit(TransportEvent{Kind: EventClose, Clean: false, Code: 1006, Err: err})
}

// serverClose simulates a normal close initiated by the peer.
func (t *fakeTransport) serverClose() {
	emit := t.emitter()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	emit(TransportEvent{Kind: EventClose, Clean: true, Code: 1000})
}

// stompFrames decodes every frame sent on t.
func (t *fakeTransport) stompFrames(tb testing.TB) []*frame.Frame {
	tb.Helper()

	var out []*frame.Frame
	for _, raw := range t.sentFrames() {
		if len(bytes.Trim(raw, "\r\n")) == 0 {
			continue
		}
		f, err := frame.NewReader(bytes.NewReader(raw)).Read()
		require.NoError(tb, err)
		out = append(out, f)
	}
	return out
}

// waitStompFrame waits for the n-th (0-based) frame with command cmd.
func (t *fakeTransport) waitStompFrame(tb testing.TB, cmd string, n int) *frame.Frame {
	tb.Helper()

	var found *frame.Frame
	require.Eventually(tb, func() bool {
		i := 0
		for _, f := range t.stompFrames(tb) {
			if f.Command != cmd {
				continue
			}
			if i == n {
				found = f
				return true
			}
			i++
		}
		return false
	}, waitTimeout, time.Millisecond)

	return found
}

func stompBytes(tb testing.TB, cmd string, body []byte, headers ...string) []byte {
	tb.Helper()

	f := frame.New(cmd, headers...)
	f.Body = body

	var buf bytes.Buffer
	require.NoError(tb, frame.NewWriter(&buf).Write(f))
	return buf.Bytes()
}

// harness wires a client to a fake network and a mock clock.
type harness struct {
	net   *fakeNetwork
	clock *clock.Mock

	mu         sync.Mutex
	changes    []StateChange
	errs       []error
	parseErrs  []*ParseError
	closes     []CloseEvent
	reconnects []ReconnectAttempt
	connects   int
}

func newHarness() *harness {
	return &harness{
		net:   newFakeNetwork(),
		clock: clock.NewMock(),
	}
}

func (h *harness) options(extra ...Option) []Option {
	opts := []Option{
		WithTransport(h.net.factory),
		WithClock(h.clock),
		OnStateChange(func(ch StateChange) {
			h.mu.Lock()
			h.changes = append(h.changes, ch)
			h.mu.Unlock()
		}),
		OnError(func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		}),
		OnParseError(func(pe *ParseError) {
			h.mu.Lock()
			h.parseErrs = append(h.parseErrs, pe)
			h.mu.Unlock()
		}),
		OnClose(func(ev CloseEvent) {
			h.mu.Lock()
			h.closes = append(h.closes, ev)
			h.mu.Unlock()
		}),
		OnReconnect(func(a ReconnectAttempt) {
			h.mu.Lock()
			h.reconnects = append(h.reconnects, a)
			h.mu.Unlock()
		}),
		OnConnect(func() {
			h.mu.Lock()
			h.connects++
			h.mu.Unlock()
		}),
	}
	return append(opts, extra...)
}

func (h *harness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *harness) parseErrors() []*ParseError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*ParseError(nil), h.parseErrs...)
}

func (h *harness) closeEvents() []CloseEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CloseEvent(nil), h.closes...)
}

func (h *harness) reconnectAttempts() []ReconnectAttempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ReconnectAttempt(nil), h.reconnects...)
}

func (h *harness) stateChanges() []StateChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]StateChange(nil), h.changes...)
}

func (h *harness) connectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects
}

func (h *harness) hasError(target error) bool {
	for _, err := range h.errors() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type stater interface {
	State() State
}

func waitState(t *testing.T, c stater, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitTimeout, time.Millisecond,
		"state did not become %s", want)
}

// recorder collects messages delivered to a handler.
type recorder struct {
	mu   sync.Mutex
	msgs []*Message
}

func (r *recorder) handle(msg *Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) messages() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Message(nil), r.msgs...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func testConfig() ConnectionConfig {
	cfg := NewConnectionConfig("ws://host/ws")
	cfg.ReconnectDelay = 3 * time.Second
	return cfg
}
