package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "indexd"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames read or written on the client connection.",
		},
		[]string{"direction", "kind"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Inbound requests dispatched per protocol and outcome.",
		},
		[]string{"protocol", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "request_duration_seconds",
			Help:      "Handler execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)
	pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "pending_requests",
			Help:      "Outbound requests awaiting a response.",
		},
	)
	discoveryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "lookups_total",
			Help:      "Discovery cache lookups by outcome.",
		},
		[]string{"outcome"},
	)
	eventsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "forwarded_total",
			Help:      "Lifecycle events offered to the client connection by result.",
		},
		[]string{"event", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			frames,
			requests,
			requestDuration,
			pending,
			discoveryLookups,
			eventsForwarded,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one frame; direction is "in" or "out".
func RecordFrame(direction, kind string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, kind).Inc()
}

func RecordRequest(protocol, outcome string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(protocol, outcome).Inc()
	requestDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

func AddPending(delta float64) {
	RegisterMetrics()
	pending.Add(delta)
}

func RecordDiscoveryLookup(outcome string) {
	RegisterMetrics()
	discoveryLookups.WithLabelValues(outcome).Inc()
}

func RecordEvent(event, result string) {
	RegisterMetrics()
	eventsForwarded.WithLabelValues(event, result).Inc()
}
