package compiler

import "github.com/prometheus/client_golang/prometheus"

const (
	LabelHit   = "hit"
	LabelMiss  = "miss"
	LabelError = "error"
)

// Metrics counts compilations by target and outcome.
type Metrics struct {
	Compiles *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates unregistered compiler metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Compiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jitlink",
				Subsystem: "compiler",
				Name:      "compiles_total",
				Help:      "Compile requests by target and result (hit, miss, error).",
			},
			[]string{"target", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "jitlink",
				Subsystem: "compiler",
				Name:      "compile_duration_seconds",
				Help:      "Time spent producing an artifact, cache lookups included.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"target", "result"},
		),
	}
}

// PrometheusCollectors returns the collectors for registration.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Compiles, m.Duration}
}
