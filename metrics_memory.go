package realtime

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryMetrics keeps instruments in memory. It is meant for tests and
// for applications that export measurements themselves.
type MemoryMetrics struct {
	mu         sync.Mutex
	counters   map[string]*memoryValue
	gauges     map[string]*memoryValue
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryValue),
		gauges:     make(map[string]*memoryValue),
		histograms: make(map[string]*memoryHistogram),
	}
}

// metricKey builds a stable key: name followed by labels sorted by name.
func metricKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// Counter returns the counter for name with labels, creating it on first use.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return m.value(m.counters, name, labels)
}

// Gauge returns the gauge for name with labels, creating it on first use.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return m.value(m.gauges, name, labels)
}

// Histogram returns the histogram for name with labels, creating it on first use.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	key := metricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histograms[key]
	if !ok {
		h = &memoryHistogram{}
		m.histograms[key] = h
	}
	return h
}

func (m *MemoryMetrics) value(set map[string]*memoryValue, name string, labels MetricLabels) *memoryValue {
	key := metricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := set[key]
	if !ok {
		v = &memoryValue{}
		set[key] = v
	}
	return v
}

// CounterValue returns the value of a counter, or zero if it was never used.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	m.mu.Lock()
	v, ok := m.counters[metricKey(name, labels)]
	m.mu.Unlock()

	if !ok {
		return 0
	}
	return v.Value()
}

// GaugeValue returns the value of a gauge, or zero if it was never used.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	m.mu.Lock()
	v, ok := m.gauges[metricKey(name, labels)]
	m.mu.Unlock()

	if !ok {
		return 0
	}
	return v.Value()
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	m.mu.Lock()
	h, ok := m.histograms[metricKey(name, labels)]
	m.mu.Unlock()

	if !ok {
		return 0
	}
	return h.Count()
}

type memoryValue struct {
	mu sync.Mutex
	v  float64
}

func (c *memoryValue) Inc() { c.Add(1) }
func (c *memoryValue) Dec() { c.Add(-1) }

func (c *memoryValue) Add(delta float64) {
	c.mu.Lock()
	c.v += delta
	c.mu.Unlock()
}

func (c *memoryValue) Set(value float64) {
	c.mu.Lock()
	c.v = value
	c.mu.Unlock()
}

func (c *memoryValue) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

type memoryHistogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
}

func (h *memoryHistogram) Observe(value float64) {
	h.mu.Lock()
	h.count++
	h.sum += value
	h.mu.Unlock()
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *memoryHistogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *memoryHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}
