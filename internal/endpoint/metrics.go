package endpoint

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Driver label values for local timeouts.
const (
	driverRunSync = "runsync"
	driverStream  = "stream"
)

// codeError labels requests that never produced an HTTP status.
const codeError = "error"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobclient_requests_total",
			Help: "Total number of endpoint requests by operation and HTTP status.",
		},
		[]string{"operation", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobclient_request_duration_seconds",
			Help:    "Endpoint request duration in seconds, including server-side waits.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"operation"},
	)

	pollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobclient_polls_total",
			Help: "Bounded-wait status polls issued by RunSync after the initial submission.",
		},
	)

	localTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobclient_local_timeouts_total",
			Help: "Driver invocations that gave up waiting while the job was still running.",
		},
		[]string{"driver"},
	)

	streamChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobclient_stream_chunks_total",
			Help: "Stream chunks handed to consumers.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(localTimeoutsTotal)
	prometheus.MustRegister(streamChunksTotal)

	localTimeoutsTotal.WithLabelValues(driverRunSync)
	localTimeoutsTotal.WithLabelValues(driverStream)
}

func observeRequest(op string, code int, d time.Duration) {
	label := codeError
	if code > 0 {
		label = strconv.Itoa(code)
	}
	requestsTotal.WithLabelValues(op, label).Inc()
	requestDuration.WithLabelValues(op).Observe(d.Seconds())
}
