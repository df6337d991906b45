package asyncx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCompleted = "completed"
	outcomeSkipped   = "skipped"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
	outcomeDuplicate = "duplicate"
)

type metrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yebragi",
			Name:      "jobs_processed_total",
			Help:      "Job attempts by topic and outcome.",
		}, []string{"topic", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "yebragi",
			Name:      "job_duration_seconds",
			Help:      "Handler execution time per attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "yebragi",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently executing.",
		}, []string{"topic"}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.duration, m.inFlight)
	}
	return m
}

func (m *metrics) observe(topic, outcome string, d time.Duration) {
	m.processed.WithLabelValues(topic, outcome).Inc()
	if d > 0 {
		m.duration.WithLabelValues(topic).Observe(d.Seconds())
	}
}
