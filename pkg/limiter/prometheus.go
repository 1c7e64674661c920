package limiter

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder is a MetricsRecorder that exposes the limiter's series
// as Prometheus counters and histograms. Metric names have their dots
// rewritten to underscores ("ratelimit.call" becomes "ratelimit_call").
type PrometheusRecorder struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the limiter's metrics against the given
// registerer, or prometheus.DefaultRegisterer when nil.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusRecorder{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	vec := p.counter(name, labelNames(tags))
	vec.With(prometheus.Labels(tags)).Add(value)
}

func (p *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	vec := p.histogram(name, labelNames(tags))
	vec.With(prometheus.Labels(tags)).Observe(value)
}

func (p *PrometheusRecorder) counter(name string, labels []string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: promName(name) + "_total",
		Help: "Rate limiter counter " + name,
	}, labels)
	p.registerer.MustRegister(vec)
	p.counters[name] = vec
	return vec
}

func (p *PrometheusRecorder) histogram(name string, labels []string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    promName(name) + "_seconds",
		Help:    "Rate limiter timing " + name,
		Buckets: prometheus.DefBuckets,
	}, labels)
	p.registerer.MustRegister(vec)
	p.histograms[name] = vec
	return vec
}

func promName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func labelNames(tags map[string]string) []string {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
