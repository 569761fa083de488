package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lotwsync"

var (
	once sync.Once

	tasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Processed sync tasks by outcome.",
		},
		[]string{"outcome"},
	)

	qsos = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qsos_total",
			Help:      "Reconciled contact records by action.",
		},
		[]string{"action"},
	)

	remoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Report downloads by result.",
		},
		[]string{"result"},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of one task attempt.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(tasks, qsos, remoteRequests, taskDuration, httpRequests)
	})
}

// ObserveTask records the outcome and duration of a task attempt.
func ObserveTask(outcome string, d time.Duration) {
	tasks.WithLabelValues(outcome).Inc()
	taskDuration.Observe(d.Seconds())
}

// AddQSOs counts reconciled records for action.
func AddQSOs(action string, n int) {
	if n > 0 {
		qsos.WithLabelValues(action).Add(float64(n))
	}
}

// IncRemote counts a report download by result.
func IncRemote(result string) {
	remoteRequests.WithLabelValues(result).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
