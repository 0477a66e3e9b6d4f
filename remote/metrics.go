package remote

import "github.com/prometheus/client_golang/prometheus"

const (
	LabelOK    = "ok"
	LabelError = "error"
)

// Metrics describes the compilation service.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Sessions prometheus.Gauge
}

// NewMetrics creates unregistered service metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jitlink",
				Subsystem: "remote",
				Name:      "requests_total",
				Help:      "Requests handled by op and result.",
			},
			[]string{"op", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "jitlink",
				Subsystem: "remote",
				Name:      "request_duration_seconds",
				Help:      "Time from dequeueing a request to having its response.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"op"},
		),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jitlink",
			Subsystem: "remote",
			Name:      "sessions",
			Help:      "Open client sessions.",
		}),
	}
}

// PrometheusCollectors returns the collectors for registration.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Requests, m.Duration, m.Sessions}
}
