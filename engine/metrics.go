package engine

import "github.com/prometheus/client_golang/prometheus"

const (
	LabelLoaded = "loaded"
	LabelReused = "reused"
	LabelFailed = "failed"
)

// Metrics counts loads and materialised symbols.
type Metrics struct {
	Loads       *prometheus.CounterVec
	LinkSeconds prometheus.Histogram
	Generations prometheus.Counter
	Modules     prometheus.Gauge
}

// NewMetrics creates unregistered engine metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jitlink",
				Subsystem: "engine",
				Name:      "loads_total",
				Help:      "Load requests by result (loaded, reused, failed).",
			},
			[]string{"result"},
		),
		LinkSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jitlink",
			Subsystem: "engine",
			Name:      "link_duration_seconds",
			Help:      "Time to link, instantiate and initialise an artifact.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		Generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jitlink",
			Subsystem: "engine",
			Name:      "symbol_generations_total",
			Help:      "Registry generations materialised as host modules.",
		}),
		Modules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jitlink",
			Subsystem: "engine",
			Name:      "modules",
			Help:      "Artifacts currently loaded.",
		}),
	}
}

// PrometheusCollectors returns the collectors for registration.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Loads, m.LinkSeconds, m.Generations, m.Modules}
}
