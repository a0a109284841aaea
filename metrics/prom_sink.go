package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink is a concrete Sink backed by github.com/prometheus/client_golang,
// grounded on the Prometheus instrumentation style of the
// Jeeves-Cluster-Organization-jeeves-core example repo — the only pack
// member that carries this stack. Counter/histogram vectors are created
// lazily per event name since the repo's event-name set (spec.md §6) is
// open-ended.
type PromSink struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPromSink constructs a PromSink registered against its own registry,
// exposed via Registry(); this module registers no /metrics HTTP route
// for it.
func NewPromSink() *PromSink {
	return &PromSink{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying Prometheus registry for scraping.
func (s *PromSink) Registry() *prometheus.Registry { return s.registry }

func (s *PromSink) Inc(event string, labels map[string]string) {
	s.mu.Lock()
	cv, ok := s.counters[event]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentbroker_" + sanitize(event) + "_total",
			Help: "Count of " + event + " events.",
		}, labelNames(labels))
		s.registry.MustRegister(cv)
		s.counters[event] = cv
	}
	s.mu.Unlock()
	cv.With(toPromLabels(labels)).Inc()
}

func (s *PromSink) Observe(event string, value float64, labels map[string]string) {
	s.mu.Lock()
	hv, ok := s.histograms[event]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentbroker_" + sanitize(event) + "_seconds",
			Help:    "Observed values for " + event + " events.",
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		s.registry.MustRegister(hv)
		s.histograms[event] = hv
	}
	s.mu.Unlock()
	hv.With(toPromLabels(labels)).Observe(value)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func toPromLabels(labels map[string]string) prometheus.Labels {
	pl := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		pl[k] = v
	}
	return pl
}

func sanitize(event string) string {
	out := make([]rune, 0, len(event))
	for _, r := range event {
		if r == ':' || r == '-' || r == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

var _ Sink = (*PromSink)(nil)
