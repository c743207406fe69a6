package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// inboxSize is the buffer of the event loop queue.
const inboxSize = 64

// Client is a connection manager for one Protocol. It owns at most one live
// transport, keeps it alive across unclean closes and multiplexes topics
// over it.
//
// All connection state is owned by a single event loop goroutine; the
// public methods hand work to it. Callbacks and message handlers run one
// at a time on a separate dispatcher goroutine, so they may call back into
// the client. They must not wait on Done.
type Client struct {
	protocol Protocol
	opts     *clientOptions
	logger   Logger
	metrics  *ClientMetrics
	sched    Scheduler

	state  atomic.Int32
	closed atomic.Bool

	inbox    chan func()
	stopped  chan struct{}
	dispatch *dispatcher

	// Owned by the event loop.
	cfg            ConnectionConfig
	registry       *SubscriptionRegistry
	transport      Transport
	gen            uint64
	ready          bool
	connectStart   time.Time
	dialCancel     context.CancelFunc
	handshakeTimer Timer
	beatTimer      Timer
	watchTimer     Timer
	hb             *heartbeat
	attempt        int
	retry          *ReconnectAttempt
	retryToken     uint64
	brokerErr      error
	exiting        bool
}

// New creates a client for protocol and starts its event loop. No I/O
// happens until Connect.
func New(protocol Protocol, opts ...Option) *Client {
	o := applyOptions(opts...)

	c := &Client{
		protocol: protocol,
		opts:     o,
		logger:   o.logger.WithFields(LogFields{LogFieldProtocol: protocol.Name()}),
		metrics:  NewClientMetrics(o.metrics, protocol.Name()),
		sched:    o.scheduler,
		inbox:    make(chan func(), inboxSize),
		stopped:  make(chan struct{}),
		registry: NewSubscriptionRegistry(),
	}
	c.state.Store(int32(StateDisconnected))
	c.dispatch = newDispatcher(c.reportPanic)

	go c.run()

	return c
}

func (c *Client) run() {
	for !c.exiting {
		fn := <-c.inbox
		fn()
	}

	close(c.stopped)
	c.dispatch.Close()
}

// post queues fn on the event loop. It returns false once the loop stopped.
func (c *Client) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// call runs fn on the event loop and waits for its result.
func (c *Client) call(fn func() error) error {
	reply := make(chan error, 1)
	if !c.post(func() { reply <- fn() }) {
		return ErrAlreadyClosed
	}

	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		select {
		case err := <-reply:
			return err
		default:
			return ErrAlreadyClosed
		}
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Done is closed after Disconnect once every pending callback has run.
func (c *Client) Done() <-chan struct{} {
	return c.dispatch.done()
}

// Dropped returns the number of inbound messages that were not delivered.
func (c *Client) Dropped() uint64 {
	return c.registry.Dropped()
}

// Subscriptions returns the registered topics in insertion order.
func (c *Client) Subscriptions() []string {
	var topics []string
	err := c.call(func() error {
		topics = c.registry.Topics()
		return nil
	})
	if err != nil {
		// The loop has exited and no longer touches the registry.
		<-c.stopped
		return c.registry.Topics()
	}
	return topics
}

// Connect validates cfg and starts connecting. It does not wait for the
// connection. While a connection is in progress, established or waiting to
// retry, Connect does nothing and returns the current state.
func (c *Client) Connect(cfg ConnectionConfig) (State, error) {
	if c.closed.Load() {
		return StateClosed, ErrAlreadyClosed
	}
	if err := cfg.Validate(); err != nil {
		return c.State(), err
	}

	var state State
	err := c.call(func() error {
		state = c.State()
		if state != StateDisconnected {
			return nil
		}

		c.cfg = cfg.withDefaults(c.opts.reconnectDelay)
		c.attempt = 0
		state = c.apply(eventConnect, false, nil)
		c.openTransport()

		return nil
	})
	if err != nil {
		return StateClosed, err
	}

	return state, nil
}

// Send writes a raw frame on the connection.
func (c *Client) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrAlreadyClosed
	}

	return c.call(func() error {
		return c.sendFrame("send", frame)
	})
}

// Publish sends body to destination through the protocol.
func (c *Client) Publish(destination string, body []byte) error {
	if err := ValidateTopic(destination); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrAlreadyClosed
	}

	return c.call(func() error {
		if c.State() != StateConnected {
			return ErrNotConnected
		}

		frame, err := c.protocol.Publish(destination, body)
		if err != nil {
			return err
		}

		return c.sendFrame("publish", frame)
	})
}

// Subscribe registers handler for topic, replacing any previous handler.
// The subscription stands across reconnects. When connected, the topic
// is armed immediately.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrAlreadyClosed
	}

	return c.call(func() error {
		sub, existed := c.registry.Put(topic, handler)
		c.metrics.Subscriptions(c.registry.Len())

		c.logger.Debug("subscribed", LogFields{LogFieldTopic: topic, "replaced": existed})

		if c.State() == StateConnected {
			_ = c.arm(sub)
		}

		return nil
	})
}

// Unsubscribe removes topic. Unknown topics are ignored.
func (c *Client) Unsubscribe(topic string) error {
	if c.closed.Load() {
		return ErrAlreadyClosed
	}

	return c.call(func() error {
		sub := c.registry.Remove(topic)
		if sub == nil {
			return nil
		}
		c.metrics.Subscriptions(c.registry.Len())

		if c.State() != StateConnected {
			return nil
		}

		frame, err := c.protocol.Disarm(topic)
		if err != nil || frame == nil {
			return err
		}

		if err := c.write(frame); err != nil {
			c.fail(&TransportError{Op: "unsubscribe", Address: c.cfg.Address, Err: err})
		}

		return nil
	})
}

// Disconnect closes the connection, cancels any pending retry and stops
// message delivery. The client cannot be reused. Disconnect is idempotent.
func (c *Client) Disconnect() error {
	c.closed.Store(true)

	_ = c.call(func() error {
		c.shutdown()
		return nil
	})

	return nil
}

func (c *Client) shutdown() {
	if c.exiting {
		return
	}

	if c.retry != nil {
		c.retry.cancel()
		c.retry = nil
	}

	live := c.transport != nil
	if c.ready {
		if frame := c.protocol.Goodbye(); frame != nil {
			_ = c.write(frame)
		}
	}

	c.teardown()
	c.apply(eventDisconnect, false, nil)

	if live {
		c.emitClose(CloseEvent{Clean: true, Code: closeNormal, Initiated: true})
	}

	c.logger.Info("disconnected", nil)
	c.exiting = true
}

// closeNormal is the websocket normal closure code.
const closeNormal = 1000

// apply runs the state machine and publishes a change.
func (c *Client) apply(ev lifecycleEvent, retry bool, cause error) State {
	from := c.State()
	to := transition(from, ev, retry)
	if to == from {
		return to
	}

	c.state.Store(int32(to))

	fields := LogFields{LogFieldFrom: from.String(), LogFieldState: to.String()}
	if cause != nil {
		fields[LogFieldError] = cause
	}
	c.logger.Debug("state changed", fields)

	if fn := c.opts.onStateChange; fn != nil {
		change := StateChange{From: from, To: to, Err: cause}
		c.dispatch.Enqueue(func() { fn(change) })
	}

	return to
}

func (c *Client) openTransport() {
	c.gen++
	gen := c.gen

	t := c.opts.transport()
	c.transport = t
	c.ready = false
	c.brokerErr = nil
	c.connectStart = c.sched.Now()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	c.dialCancel = cancel

	address := c.cfg.Address
	header := c.protocol.Header(c.cfg)
	emit := func(ev TransportEvent) {
		c.post(func() { c.handleTransportEvent(gen, ev) })
	}

	c.logger.Debug("opening transport", LogFields{LogFieldAddress: address})

	go func() {
		if err := t.Open(ctx, address, header, emit); err != nil {
			c.post(func() { c.handleDialFailure(gen, t, err) })
		}
	}()
}

func (c *Client) handleDialFailure(gen uint64, t Transport, err error) {
	if gen != c.gen {
		_ = t.Close()
		return
	}

	cause := &TransportError{Op: "open", Address: c.cfg.Address, Err: err}
	c.logger.Warn("connection failed", LogFields{LogFieldError: cause})
	c.emitError(cause)

	// No connection was opened, so there is nothing to report as closed.
	c.handleLost(CloseEvent{Err: cause}, false)
}

func (c *Client) handleTransportEvent(gen uint64, ev TransportEvent) {
	if gen != c.gen {
		return
	}

	switch ev.Kind {
	case EventOpen:
		c.handleOpen(gen)
	case EventMessage:
		c.handleFrame(ev.Data)
	case EventHeartbeat:
		c.touch()
	case EventError:
		err := &TransportError{Op: "read", Address: c.cfg.Address, Err: ev.Err}
		c.logger.Warn("transport error", LogFields{LogFieldError: ev.Err})
		c.emitError(err)
	case EventClose:
		c.handleClose(ev)
	}
}

func (c *Client) handleOpen(gen uint64) {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}

	frames, ready, err := c.protocol.Handshake(c.cfg)
	if err != nil {
		c.fail(&TransportError{Op: "handshake", Address: c.cfg.Address, Err: err})
		return
	}

	for _, frame := range frames {
		if err := c.write(frame); err != nil {
			c.fail(&TransportError{Op: "handshake", Address: c.cfg.Address, Err: err})
			return
		}
	}

	if ready {
		c.becomeReady(c.cfg.HeartbeatOutgoing, c.cfg.HeartbeatIncoming)
		return
	}

	c.handshakeTimer = c.sched.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.post(func() { c.handshakeExpired(gen) })
	})
}

func (c *Client) handshakeExpired(gen uint64) {
	if gen != c.gen || c.ready {
		return
	}

	c.fail(fmt.Errorf("%w after %s", ErrHandshakeTimeout, c.cfg.ConnectTimeout))
}

// becomeReady re-arms every standing subscription in insertion order and
// then reports the connection as established.
func (c *Client) becomeReady(out, in time.Duration) {
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}

	c.ready = true
	gen := c.gen

	for _, sub := range c.registry.Entries() {
		if err := c.arm(sub); err != nil || gen != c.gen {
			return
		}
	}

	c.startHeartbeat(out, in)
	c.attempt = 0
	c.metrics.Connected(c.sched.Now().Sub(c.connectStart))

	c.apply(eventReady, false, nil)
	c.logger.Info("connected", LogFields{LogFieldAddress: c.cfg.Address})

	if fn := c.opts.onConnect; fn != nil {
		c.dispatch.Enqueue(fn)
	}
}

// arm starts delivery for sub unless it is already armed on this connection.
// A write failure tears the connection down and is returned.
func (c *Client) arm(sub *Subscription) error {
	if sub.Active || sub.awaitingAck() {
		return nil
	}

	frame, receipt, err := c.protocol.Arm(sub.Topic)
	if err != nil {
		c.emitError(err)
		return nil
	}

	if frame != nil {
		if err := c.write(frame); err != nil {
			c.fail(&TransportError{Op: "subscribe", Address: c.cfg.Address, Err: err})
			return err
		}
	}

	c.registry.arming(sub, receipt)

	return nil
}

func (c *Client) handleFrame(data []byte) {
	c.touch()
	c.metrics.FrameReceived(len(data))

	in, err := c.protocol.Decode(data)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			pe = &ParseError{Raw: data, Err: err}
		}
		c.emitParseError(pe)
		return
	}

	switch in.Kind {
	case InboundHeartbeat:
	case InboundReady:
		if !c.ready {
			c.becomeReady(in.HeartbeatOut, in.HeartbeatIn)
		}
	case InboundReceipt:
		sub, held := c.registry.Acknowledge(in.Receipt)
		for _, m := range held {
			c.deliver(sub, m)
		}
	case InboundError:
		c.brokerErr = in.Err
		c.logger.Warn("broker error", LogFields{LogFieldError: in.Err})
		c.emitError(in.Err)
	case InboundMessage:
		c.route(in)
	}
}

func (c *Client) route(in Inbound) {
	sub, ok := c.registry.Get(in.Topic)
	if !ok || (!sub.Active && !sub.awaitingAck()) {
		c.registry.Drop()
		c.metrics.MessagesDropped(DropUnknownTopic, 1)
		c.logger.Debug("dropped message", LogFields{LogFieldTopic: in.Topic})
		return
	}

	if sub.awaitingAck() {
		if !c.registry.Hold(sub, in) {
			c.metrics.MessagesDropped(DropPendingFull, 1)
		}
		return
	}

	c.deliver(sub, in)
}

func (c *Client) deliver(sub *Subscription, in Inbound) {
	msg, err := decodeMessage(in)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			pe = &ParseError{Topic: in.Topic, Raw: in.Body, Err: err}
		}
		c.emitParseError(pe)
		return
	}

	handler := sub.Handler
	c.metrics.MessageDelivered()
	c.dispatch.Enqueue(func() {
		if c.closed.Load() {
			return
		}
		handler(msg)
	})
}

func (c *Client) handleClose(ev TransportEvent) {
	clean := ev.Clean
	cause := ev.Err
	if c.brokerErr != nil {
		clean = false
		cause = c.brokerErr
	}

	c.handleLost(CloseEvent{Clean: clean, Code: ev.Code, Err: cause}, true)
}

// fail reports cause and treats the connection as lost uncleanly.
func (c *Client) fail(cause error) {
	c.logger.Warn("connection failed", LogFields{LogFieldError: cause})
	c.emitError(cause)
	c.handleLost(CloseEvent{Err: cause}, true)
}

// handleLost tears down the current transport and consults the reconnect
// policy. The retry timer exists before the Reconnecting state is visible.
// OnClose fires only when opened is set.
func (c *Client) handleLost(ev CloseEvent, opened bool) {
	c.teardown()
	if opened {
		c.emitClose(ev)
	}

	retry := c.cfg.AutoReconnect && !ev.Clean
	var delay time.Duration
	exhausted := false
	if retry {
		var ok bool
		delay, ok = c.opts.policy.Next(c.attempt+1, c.cfg.ReconnectDelay)
		if !ok {
			retry = false
			exhausted = true
		}
	}

	if retry {
		c.scheduleRetry(delay)
	}

	c.apply(eventLost, retry, ev.Err)

	if retry {
		if fn := c.opts.onReconnect; fn != nil {
			attempt := *c.retry
			attempt.timer = nil
			c.dispatch.Enqueue(func() { fn(attempt) })
		}
	}

	if exhausted {
		err := fmt.Errorf("%w after %d attempts", ErrReconnectFailed, c.attempt)
		c.logger.Error("giving up reconnecting", LogFields{LogFieldAttempt: c.attempt})
		c.emitError(err)
	}
}

func (c *Client) scheduleRetry(delay time.Duration) {
	c.attempt++
	c.retryToken++
	token := c.retryToken

	timer := c.sched.AfterFunc(delay, func() {
		c.post(func() { c.handleRetry(token) })
	})

	c.retry = &ReconnectAttempt{
		Attempt: c.attempt,
		Delay:   delay,
		At:      c.sched.Now().Add(delay),
		timer:   timer,
		token:   token,
	}

	c.metrics.ReconnectScheduled()
	c.logger.Info("reconnect scheduled", LogFields{LogFieldAttempt: c.attempt, LogFieldDelay: delay})
}

func (c *Client) handleRetry(token uint64) {
	if c.retry == nil || c.retry.token != token {
		return
	}
	c.retry = nil

	if c.apply(eventRetry, false, nil) != StateConnecting {
		return
	}

	c.openTransport()
}

// teardown releases the current transport and every timer bound to it.
// Events from the released transport are ignored afterwards.
func (c *Client) teardown() {
	for _, t := range []Timer{c.handshakeTimer, c.beatTimer, c.watchTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.handshakeTimer, c.beatTimer, c.watchTimer = nil, nil, nil
	c.hb = nil

	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}

	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	c.gen++

	if c.ready {
		c.metrics.Disconnected()
	}
	c.ready = false

	c.metrics.MessagesDropped(DropConnLost, c.registry.Deactivate())
}

func (c *Client) startHeartbeat(out, in time.Duration) {
	if out <= 0 && in <= 0 {
		return
	}

	c.hb = newHeartbeat(out, in, c.sched.Now())
	gen := c.gen

	if out > 0 {
		c.scheduleBeat(gen)
	}
	if in > 0 {
		c.scheduleWatch(gen, c.hb.deadline().Sub(c.sched.Now()))
	}
}

func (c *Client) scheduleBeat(gen uint64) {
	c.beatTimer = c.sched.AfterFunc(c.hb.outgoing, func() {
		c.post(func() { c.beat(gen) })
	})
}

func (c *Client) beat(gen uint64) {
	if gen != c.gen || c.hb == nil || c.transport == nil {
		return
	}

	var err error
	if frame := c.protocol.Heartbeat(); frame != nil {
		err = c.write(frame)
	} else if p, ok := c.transport.(Pinger); ok {
		err = p.Ping()
	}
	if err != nil {
		c.fail(&TransportError{Op: "heartbeat", Address: c.cfg.Address, Err: err})
		return
	}

	c.scheduleBeat(gen)
}

func (c *Client) scheduleWatch(gen uint64, d time.Duration) {
	c.watchTimer = c.sched.AfterFunc(d, func() {
		c.post(func() { c.watch(gen) })
	})
}

func (c *Client) watch(gen uint64) {
	if gen != c.gen || c.hb == nil {
		return
	}

	now := c.sched.Now()
	if c.hb.expired(now) {
		c.fail(fmt.Errorf("%w: no traffic for %s", ErrHeartbeatTimeout, now.Sub(c.hb.lastActivity)))
		return
	}

	c.scheduleWatch(gen, c.hb.deadline().Sub(now))
}

func (c *Client) touch() {
	if c.hb != nil {
		c.hb.touch(c.sched.Now())
	}
}

// sendFrame writes an application frame for a caller. A transport failure
// is reported through OnError and surfaces to the caller as ErrNotConnected.
func (c *Client) sendFrame(op string, frame []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if l := c.opts.sendLimiter; l != nil && !l.Allow() {
		return ErrRateLimited
	}

	if err := c.write(frame); err != nil {
		c.fail(&TransportError{Op: op, Address: c.cfg.Address, Err: err})
		return ErrNotConnected
	}

	return nil
}

func (c *Client) write(frame []byte) error {
	if c.transport == nil {
		return ErrNotConnected
	}
	if err := c.transport.Send(frame); err != nil {
		return err
	}
	c.metrics.FrameSent(len(frame))
	return nil
}

func (c *Client) emitError(err error) {
	if fn := c.opts.onError; fn != nil {
		c.dispatch.Enqueue(func() { fn(err) })
	}
}

func (c *Client) emitParseError(pe *ParseError) {
	c.metrics.ParseFailed()
	c.logger.Warn("parse error", LogFields{LogFieldTopic: pe.Topic, LogFieldError: pe.Err})

	if fn := c.opts.onParseError; fn != nil {
		c.dispatch.Enqueue(func() { fn(pe) })
	}
}

func (c *Client) emitClose(ev CloseEvent) {
	c.logger.Debug("connection closed", LogFields{LogFieldClean: ev.Clean, LogFieldCode: ev.Code})

	if fn := c.opts.onClose; fn != nil {
		c.dispatch.Enqueue(func() { fn(ev) })
	}
}

// reportPanic runs on the dispatcher goroutine.
func (c *Client) reportPanic(err error) {
	c.logger.Error("handler panic", LogFields{LogFieldError: err})
	if fn := c.opts.onError; fn != nil {
		fn(err)
	}
}
