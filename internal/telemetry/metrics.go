package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "praxis_jobs_enqueued_total", Help: "Jobs enqueued"})
	JobsProcessed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "praxis_jobs_processed_total", Help: "Jobs completed successfully"})
	JobsFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "praxis_jobs_failed_total", Help: "Job attempts that failed and will retry"})
	JobsDead       = prometheus.NewCounter(prometheus.CounterOpts{Name: "praxis_jobs_dead_total", Help: "Jobs that exhausted their attempt cap"})
	QueueDepth     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "praxis_queue_depth", Help: "Jobs waiting to be claimed"})
)

// Handler exposes the /metrics HTTP handler with singleton registration.
func Handler() http.Handler {
	register()
	return promhttp.Handler()
}

func register() {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			JobsProcessed,
			JobsFailed,
			JobsDead,
			QueueDepth,
		)
	})
}
