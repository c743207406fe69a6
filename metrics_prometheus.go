package realtime

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusMetrics exports instruments through a Prometheus registerer.
// One vector is registered per metric name and label set.
type PrometheusMetrics struct {
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics registers vectors on reg, or on
// prometheus.DefaultRegisterer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		registerer: reg,
		buckets:    prometheus.DefBuckets,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels MetricLabels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func vecKey(name string, names []string) string {
	return name + "{" + strings.Join(names, ",") + "}"
}

// register registers c, reusing an identical collector registered earlier.
// Any other registration failure panics, as MustRegister does.
func (p *PrometheusMetrics) register(c prometheus.Collector) prometheus.Collector {
	err := p.registerer.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector
	}
	panic(err)
}

// Counter returns the counter for name with labels, registering it on first use.
func (p *PrometheusMetrics) Counter(name string, labels MetricLabels) Counter {
	names := labelNames(labels)
	key := vecKey(name, names)

	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.counters[key]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpFor(name)}, names)
		if existing, ok := p.register(vec).(*prometheus.CounterVec); ok {
			vec = existing
		}
		p.counters[key] = vec
	}

	return promCounter{vec.With(prometheus.Labels(labels))}
}

// Gauge returns the gauge for name with labels, registering it on first use.
func (p *PrometheusMetrics) Gauge(name string, labels MetricLabels) Gauge {
	names := labelNames(labels)
	key := vecKey(name, names)

	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.gauges[key]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpFor(name)}, names)
		if existing, ok := p.register(vec).(*prometheus.GaugeVec); ok {
			vec = existing
		}
		p.gauges[key] = vec
	}

	return promGauge{vec.With(prometheus.Labels(labels))}
}

// Histogram returns the histogram for name with labels, registering it on first use.
func (p *PrometheusMetrics) Histogram(name string, labels MetricLabels) Histogram {
	names := labelNames(labels)
	key := vecKey(name, names)

	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.histograms[key]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: p.buckets,
		}, names)
		if existing, ok := p.register(vec).(*prometheus.HistogramVec); ok {
			vec = existing
		}
		p.histograms[key] = vec
	}

	obs := vec.With(prometheus.Labels(labels))
	m, _ := obs.(prometheus.Metric)
	return promHistogram{observer: obs, metric: m}
}

func helpFor(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "realtime_"), "_", " ")
}

type promCounter struct {
	c prometheus.Counter
}

func (c promCounter) Inc()              { c.c.Inc() }
func (c promCounter) Add(delta float64) { c.c.Add(delta) }

func (c promCounter) Value() float64 {
	var m dto.Metric
	if err := c.c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

type promGauge struct {
	g prometheus.Gauge
}

func (g promGauge) Set(value float64) { g.g.Set(value) }
func (g promGauge) Inc()              { g.g.Inc() }
func (g promGauge) Dec()              { g.g.Dec() }
func (g promGauge) Add(delta float64) { g.g.Add(delta) }

func (g promGauge) Value() float64 {
	var m dto.Metric
	if err := g.g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

type promHistogram struct {
	observer prometheus.Observer
	metric   prometheus.Metric
}

func (h promHistogram) Observe(value float64) { h.observer.Observe(value) }

func (h promHistogram) ObserveDuration(d time.Duration) { h.observer.Observe(d.Seconds()) }

func (h promHistogram) Count() uint64 {
	m, ok := h.snapshot()
	if !ok {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func (h promHistogram) Sum() float64 {
	m, ok := h.snapshot()
	if !ok {
		return 0
	}
	return m.GetHistogram().GetSampleSum()
}

func (h promHistogram) snapshot() (*dto.Metric, bool) {
	if h.metric == nil {
		return nil, false
	}
	var m dto.Metric
	if err := h.metric.Write(&m); err != nil {
		return nil, false
	}
	return &m, true
}
