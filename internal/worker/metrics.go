package worker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks pipeline throughput and saturation.
type Metrics struct {
	processed     *prometheus.CounterVec
	duration      prometheus.Histogram
	receiveErrors prometheus.Counter
	activeJobs    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imageforge_worker_jobs_processed_total",
			Help: "Jobs processed by terminal outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imageforge_worker_job_duration_seconds",
			Help:    "End to end job processing time.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		receiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "imageforge_worker_receive_errors_total",
			Help: "Failed queue receive attempts.",
		}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imageforge_worker_active_jobs",
			Help: "Jobs currently being processed.",
		}),
	}
}

func (m *Metrics) jobStarted() {
	if m != nil {
		m.activeJobs.Inc()
	}
}

func (m *Metrics) jobFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	m.processed.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) receiveError() {
	if m != nil {
		m.receiveErrors.Inc()
	}
}

// MetricsHandler exposes the registry over HTTP for scraping.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
