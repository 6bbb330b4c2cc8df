// Package metrics exposes Prometheus collectors for the download service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal             *prometheus.CounterVec
	envelopesTotal        *prometheus.CounterVec
	envelopesDroppedTotal prometheus.Counter
	activeStreams         prometheus.Gauge
	activeJobs            prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; every
// exported observer calls it, so callers never need to sequence startup.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "udown_jobs_total",
				Help: "Total number of download jobs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		envelopesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "udown_envelopes_total",
				Help: "Total number of envelopes pushed to job channels, labeled by kind.",
			},
			[]string{"kind"},
		)

		envelopesDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "udown_envelopes_dropped_total",
				Help: "Total number of envelopes dropped because a job channel was full.",
			},
		)

		activeStreams = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "udown_active_streams",
				Help: "Number of SSE streams currently attached.",
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "udown_active_jobs",
				Help: "Number of jobs currently held in the registry.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveEnvelope increments the envelope counter for the given kind.
func ObserveEnvelope(kind string) {
	Init()
	envelopesTotal.WithLabelValues(kind).Inc()
}

// ObserveEnvelopeDropped increments the dropped-envelope counter.
func ObserveEnvelopeDropped() {
	Init()
	envelopesDroppedTotal.Inc()
}

// IncActiveStreams increments the attached-stream gauge.
func IncActiveStreams() {
	Init()
	activeStreams.Inc()
}

// DecActiveStreams decrements the attached-stream gauge.
func DecActiveStreams() {
	Init()
	activeStreams.Dec()
}

// SetActiveJobs records the current registry size.
func SetActiveJobs(n int) {
	Init()
	activeJobs.Set(float64(n))
}
