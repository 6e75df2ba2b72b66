package simulator

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsim_job_transitions_total",
			Help: "Job status transitions performed by the simulator, by target status.",
		},
		[]string{"status"},
	)

	workersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobsim_workers_busy",
		Help: "Number of worker slots currently running a job.",
	})

	executionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobsim_execution_duration_seconds",
		Help:    "Time jobs spent running, measured from start to terminal status.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(workersBusy)
	prometheus.MustRegister(executionSeconds)
}
