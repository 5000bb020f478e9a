// Package metrics records policy and triage telemetry. Collectors are
// injected into the engine, scorer and limiter; the Prometheus collector
// backs the CLI's --metrics-addr endpoint.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Collector is the metrics sink used across scopeguard.
// Labels are passed as alternating name/value pairs.
type Collector interface {
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)
	GaugeSet(name string, value float64, labels ...string)
	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler exposing the collected metrics.
	Handler() http.Handler
}

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"`
}

var (
	PolicyDecisionsTotal = MetricDefinition{
		Name:   "scopeguard_policy_decisions_total",
		Type:   MetricTypeCounter,
		Help:   "Policy decisions by final value and deciding stage",
		Labels: []string{"decision", "stage"},
	}
	ArbitrationDuration = MetricDefinition{
		Name:    "scopeguard_arbitration_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Latency of arbiter calls in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}
	ArbitrationFailuresTotal = MetricDefinition{
		Name:   "scopeguard_arbitration_failures_total",
		Type:   MetricTypeCounter,
		Help:   "Arbiter calls that did not produce a usable verdict",
		Labels: []string{"kind"},
	}
	TriageFindingsTotal = MetricDefinition{
		Name:   "scopeguard_triage_findings_total",
		Type:   MetricTypeCounter,
		Help:   "Scored findings by false-positive flag and fallback mode",
		Labels: []string{"false_positive", "fallback"},
	}
	TriageFinalScore = MetricDefinition{
		Name:    "scopeguard_triage_final_score",
		Type:    MetricTypeHistogram,
		Help:    "Distribution of fused finding scores",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}
	RateLimitWait = MetricDefinition{
		Name:    "scopeguard_ratelimit_wait_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Time spent waiting for a rate limit token",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60},
	}
	BatchInFlight = MetricDefinition{
		Name: "scopeguard_batch_in_flight",
		Type: MetricTypeGauge,
		Help: "Batch evaluations currently running",
	}
)

// Definitions lists every scopeguard metric.
func Definitions() []MetricDefinition {
	return []MetricDefinition{
		PolicyDecisionsTotal,
		ArbitrationDuration,
		ArbitrationFailuresTotal,
		TriageFindingsTotal,
		TriageFinalScore,
		RateLimitWait,
		BatchInFlight,
	}
}

// NopCollector discards all metrics.
type NopCollector struct{}

func (c *NopCollector) CounterInc(name string, labels ...string)                      {}
func (c *NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (c *NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (c *NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (c *NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }

// OrNop returns c, or a NopCollector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return &NopCollector{}
	}
	return c
}

// InMemoryCollector stores metrics in memory. Used by tests.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (c *InMemoryCollector) key(name string, labels []string) string {
	var b strings.Builder
	b.WriteString(name)
	for i := 0; i+1 < len(labels); i += 2 {
		b.WriteString(",")
		b.WriteString(labels[i])
		b.WriteString("=")
		b.WriteString(labels[i+1])
	}
	return b.String()
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)] = value
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name, labels)
	c.histograms[key] = append(c.histograms[key], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

// GetCounter returns the value of a counter.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GetGauge returns the value of a gauge.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// GetHistogram returns all observations of a histogram.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]float64, len(c.histograms[c.key(name, labels)]))
	copy(out, c.histograms[c.key(name, labels)])
	return out
}

// Timer records elapsed time into a histogram.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer starts a timer for the given histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: OrNop(collector),
		name:      name,
		labels:    labels,
	}
}

// ObserveDuration records the duration since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

var (
	_ Collector = (*NopCollector)(nil)
	_ Collector = (*InMemoryCollector)(nil)
)
