package realtime

import (
	"crypto/tls"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	logger    Logger
	metrics   Metrics
	scheduler Scheduler

	// Transport
	transport    TransportFactory
	tlsConfig    *tls.Config
	proxy        *ProxyDialer
	writeTimeout time.Duration
	readLimit    int64

	// Reconnect
	reconnectDelay time.Duration
	policy         ReconnectPolicy
	maxReconnects  int

	// Outbound limit; a nil limiter means unlimited.
	sendLimiter *rate.Limiter

	// Callbacks
	onConnect     func()
	onClose       func(CloseEvent)
	onError       func(error)
	onParseError  func(*ParseError)
	onStateChange func(StateChange)
	onReconnect   func(ReconnectAttempt)
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		logger:         NewNoOpLogger(),
		metrics:        NoOpMetrics{},
		writeTimeout:   defaultWSWriteTimeout,
		reconnectDelay: DefaultSocketReconnectDelay,
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock drives every timer of the client from clk.
func WithClock(clk clock.Clock) Option {
	return func(o *clientOptions) {
		o.scheduler = NewScheduler(clk)
	}
}

// WithScheduler sets the timer source directly.
func WithScheduler(s Scheduler) Option {
	return func(o *clientOptions) {
		o.scheduler = s
	}
}

// WithTransport replaces the websocket transport. The factory is called
// once per connection attempt.
func WithTransport(factory TransportFactory) Option {
	return func(o *clientOptions) {
		o.transport = factory
	}
}

// WithTLS sets the TLS configuration for wss:// addresses.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithProxy dials through an explicit proxy instead of HTTP(S)_PROXY.
func WithProxy(p *ProxyDialer) Option {
	return func(o *clientOptions) {
		o.proxy = p
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *clientOptions) {
		o.readLimit = n
	}
}

// WithReconnectDelay sets the delay used when ConnectionConfig leaves
// ReconnectDelay at zero.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.reconnectDelay = d
		}
	}
}

// WithReconnectPolicy replaces the fixed-delay policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(o *clientOptions) {
		o.policy = p
	}
}

// WithMaxReconnects caps consecutive retries of the default policy.
// Zero, the default, retries forever.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) {
		o.maxReconnects = n
	}
}

// WithSendRateLimit limits outbound frames to r per second with the given
// burst. Frames over the limit fail with ErrRateLimited.
func WithSendRateLimit(r rate.Limit, burst int) Option {
	return func(o *clientOptions) {
		o.sendLimiter = rate.NewLimiter(r, burst)
	}
}

// OnConnect is called each time the connection becomes ready, after
// standing subscriptions were re-armed.
func OnConnect(fn func()) Option {
	return func(o *clientOptions) {
		o.onConnect = fn
	}
}

// OnClose is called each time a transport connection ends.
func OnClose(fn func(CloseEvent)) Option {
	return func(o *clientOptions) {
		o.onClose = fn
	}
}

// OnError receives transport failures, broker errors and handler panics.
func OnError(fn func(error)) Option {
	return func(o *clientOptions) {
		o.onError = fn
	}
}

// OnParseError receives messages whose payload could not be decoded.
func OnParseError(fn func(*ParseError)) Option {
	return func(o *clientOptions) {
		o.onParseError = fn
	}
}

// OnStateChange observes every state transition.
func OnStateChange(fn func(StateChange)) Option {
	return func(o *clientOptions) {
		o.onStateChange = fn
	}
}

// OnReconnect is called when a retry is scheduled.
func OnReconnect(fn func(ReconnectAttempt)) Option {
	return func(o *clientOptions) {
		o.onReconnect = fn
	}
}

func applyOptions(opts ...Option) *clientOptions {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.scheduler == nil {
		o.scheduler = NewScheduler(nil)
	}
	if o.policy == nil {
		o.policy = FixedDelay{MaxAttempts: o.maxReconnects}
	}
	if o.transport == nil {
		dialer := NewWSDialer()
		dialer.WriteTimeout = o.writeTimeout
		dialer.ReadLimit = o.readLimit
		if o.tlsConfig != nil {
			dialer.WithTLSConfig(o.tlsConfig)
		}
		if o.proxy != nil {
			dialer.WithProxyDialer(o.proxy)
		}
		o.transport = dialer.NewTransport
	}

	return o
}
