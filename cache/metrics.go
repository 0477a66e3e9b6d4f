package cache

import "github.com/prometheus/client_golang/prometheus"

const (
	LabelHit     = "hit"
	LabelMiss    = "miss"
	LabelCorrupt = "corrupt"
	LabelSuccess = "success"
	LabelError   = "error"
)

// Metrics counts cache traffic.
type Metrics struct {
	Lookups      *prometheus.CounterVec
	Writes       *prometheus.CounterVec
	BytesWritten prometheus.Counter
}

// NewMetrics creates unregistered cache collectors.
func NewMetrics() *Metrics {
	const (
		namespace = "jitlink"
		subsystem = "cache"
	)

	return &Metrics{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lookups_total",
			Help:      "Count of cache lookups by outcome",
		}, []string{"target", "result"}),

		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "writes_total",
			Help:      "Count of cache writes by outcome",
		}, []string{"target", "result"}),

		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "written_bytes_total",
			Help:      "Compressed bytes written to the cache",
		}),
	}
}

// PrometheusCollectors returns the collectors to register.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Lookups,
		m.Writes,
		m.BytesWritten,
	}
}
