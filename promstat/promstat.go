// Package promstat provides a harvest.Statter which exposes stats as
// Prometheus metrics. Names like "harvest.pages" become "harvest_pages";
// counts are counters, gauges are gauges, histograms and timings (in
// seconds) are histograms.
package promstat

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Statter registers metrics lazily, on first use of a name.
type Statter struct {
	namespace string
	reg       prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// New gets a Statter registering its metrics with reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Statter {
	return &Statter{
		namespace:  namespace,
		reg:        reg,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// MetricName converts a stat name to a metric name.
func MetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

func (s *Statter) opts(name, kind string) (string, string) {
	return MetricName(name), "harvest " + kind + " " + name
}

// register registers c, or returns the collector already registered under
// the same name.
func (s *Statter) register(c prometheus.Collector) prometheus.Collector {
	if err := s.reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// Count implements harvest.Statter.
func (s *Statter) Count(name string, value int64, rate float64, tags ...string) {
	s.mu.Lock()
	c, ok := s.counters[name]
	if !ok {
		n, help := s.opts(name, "counter")
		c, _ = s.register(prometheus.NewCounter(prometheus.CounterOpts{Namespace: s.namespace, Name: n + "_total", Help: help})).(prometheus.Counter)
		s.counters[name] = c
	}
	s.mu.Unlock()
	if c != nil && value > 0 {
		c.Add(float64(value))
	}
}

// Gauge implements harvest.Statter.
func (s *Statter) Gauge(name string, value float64, rate float64, tags ...string) {
	s.mu.Lock()
	g, ok := s.gauges[name]
	if !ok {
		n, help := s.opts(name, "gauge")
		g, _ = s.register(prometheus.NewGauge(prometheus.GaugeOpts{Namespace: s.namespace, Name: n, Help: help})).(prometheus.Gauge)
		s.gauges[name] = g
	}
	s.mu.Unlock()
	if g != nil {
		g.Set(value)
	}
}

func (s *Statter) histogram(name, suffix string) prometheus.Histogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histograms[name]
	if !ok {
		n, help := s.opts(name, "histogram")
		h, _ = s.register(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      n + suffix,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		})).(prometheus.Histogram)
		s.histograms[name] = h
	}
	return h
}

// Histogram implements harvest.Statter.
func (s *Statter) Histogram(name string, value float64, rate float64, tags ...string) {
	if h := s.histogram(name, ""); h != nil {
		h.Observe(value)
	}
}

// Set does nothing.
func (s *Statter) Set(name string, value string, rate float64, tags ...string) {}

// Timing implements harvest.Statter.
func (s *Statter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	if h := s.histogram(name, "_seconds"); h != nil {
		h.Observe(value.Seconds())
	}
}

// Handler serves the metrics of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
