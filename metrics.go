package realtime

import (
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics is a source of named, labelled instruments.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)
	// ObserveDuration records d in seconds.
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards all measurements. It is the client default.
type NoOpMetrics struct{}

// Counter returns a counter that discards updates.
func (NoOpMetrics) Counter(string, MetricLabels) Counter { return noOpInstrument{} }

// Gauge returns a gauge that discards updates.
func (NoOpMetrics) Gauge(string, MetricLabels) Gauge { return noOpInstrument{} }

// Histogram returns a histogram that discards observations.
func (NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpInstrument{} }

type noOpInstrument struct{}

func (noOpInstrument) Inc()                          {}
func (noOpInstrument) Dec()                          {}
func (noOpInstrument) Set(float64)                   {}
func (noOpInstrument) Add(float64)                   {}
func (noOpInstrument) Value() float64                { return 0 }
func (noOpInstrument) Observe(float64)               {}
func (noOpInstrument) ObserveDuration(time.Duration) {}
func (noOpInstrument) Count() uint64                 { return 0 }
func (noOpInstrument) Sum() float64                  { return 0 }

// Metric names recorded by Client.
const (
	MetricConnectionsTotal  = "realtime_connections_total"
	MetricConnected         = "realtime_connected"
	MetricReconnectAttempts = "realtime_reconnect_attempts_total"
	MetricMessagesDelivered = "realtime_messages_delivered_total"
	MetricMessagesDropped   = "realtime_messages_dropped_total"
	MetricParseErrors       = "realtime_parse_errors_total"
	MetricFramesSent        = "realtime_frames_sent_total"
	MetricBytesSent         = "realtime_bytes_sent_total"
	MetricBytesReceived     = "realtime_bytes_received_total"
	MetricSubscriptions     = "realtime_subscriptions"
	MetricConnectLatency    = "realtime_connect_latency_seconds"
)

// Metric label names.
const (
	LabelProtocol = "protocol"
	LabelReason   = "reason"
)

// Reasons a message is dropped.
const (
	DropUnknownTopic = "unknown_topic"
	DropPendingFull  = "pending_full"
	DropConnLost     = "connection_lost"
)

// ClientMetrics records the standard client measurements.
type ClientMetrics struct {
	metrics  Metrics
	protocol string
}

// NewClientMetrics labels every measurement with the protocol name.
func NewClientMetrics(m Metrics, protocol string) *ClientMetrics {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &ClientMetrics{metrics: m, protocol: protocol}
}

func (c *ClientMetrics) labels() MetricLabels {
	return MetricLabels{LabelProtocol: c.protocol}
}

// Connected records a connection that became ready after latency.
func (c *ClientMetrics) Connected(latency time.Duration) {
	c.metrics.Counter(MetricConnectionsTotal, c.labels()).Inc()
	c.metrics.Gauge(MetricConnected, c.labels()).Set(1)
	c.metrics.Histogram(MetricConnectLatency, c.labels()).ObserveDuration(latency)
}

// Disconnected records the loss or close of the connection.
func (c *ClientMetrics) Disconnected() {
	c.metrics.Gauge(MetricConnected, c.labels()).Set(0)
}

// ReconnectScheduled records a scheduled retry.
func (c *ClientMetrics) ReconnectScheduled() {
	c.metrics.Counter(MetricReconnectAttempts, c.labels()).Inc()
}

// MessageDelivered records a message handed to a handler.
func (c *ClientMetrics) MessageDelivered() {
	c.metrics.Counter(MetricMessagesDelivered, c.labels()).Inc()
}

// MessagesDropped records n dropped messages.
func (c *ClientMetrics) MessagesDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	labels := c.labels()
	labels[LabelReason] = reason
	c.metrics.Counter(MetricMessagesDropped, labels).Add(float64(n))
}

// ParseFailed records a payload that could not be decoded.
func (c *ClientMetrics) ParseFailed() {
	c.metrics.Counter(MetricParseErrors, c.labels()).Inc()
}

// FrameSent records one outbound frame of n bytes.
func (c *ClientMetrics) FrameSent(n int) {
	c.metrics.Counter(MetricFramesSent, c.labels()).Inc()
	c.metrics.Counter(MetricBytesSent, c.labels()).Add(float64(n))
}

// FrameReceived records one inbound frame of n bytes.
func (c *ClientMetrics) FrameReceived(n int) {
	c.metrics.Counter(MetricBytesReceived, c.labels()).Add(float64(n))
}

// Subscriptions sets the number of registered topics.
func (c *ClientMetrics) Subscriptions(n int) {
	c.metrics.Gauge(MetricSubscriptions, c.labels()).Set(float64(n))
}
