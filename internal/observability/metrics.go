package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MirrorFailures counts best-effort remote mirror calls that failed, by operation.
	MirrorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_mirror_failures_total",
		Help: "Total number of best-effort remote mirror calls that failed",
	}, []string{"operation"})

	// PushEvents counts push channel events by event name and outcome (applied, duplicate, ignored).
	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_push_events_total",
		Help: "Total push channel events by event name and outcome",
	}, []string{"event", "outcome"})

	// SearchResponses counts people-search responses by outcome (applied, stale, error).
	SearchResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_search_responses_total",
		Help: "Total people search responses by outcome",
	}, []string{"outcome"})

	// FeedLoads counts feed loads by result (fetched, cached, empty).
	FeedLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_feed_loads_total",
		Help: "Total feed loads by result",
	}, []string{"result"})

	// BusListenerPanics counts listener panics recovered by the event bus, by topic.
	BusListenerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_bus_listener_panics_total",
		Help: "Total event bus listener panics recovered",
	}, []string{"topic"})

	// APIRequestLatency records backend API call latency by operation and status.
	APIRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedsync_api_request_latency_seconds",
		Help:    "Backend API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// PushConnectionState is 1 while the push channel is connected.
	PushConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_push_connected",
		Help: "Whether the push channel websocket is currently connected",
	})
)

// TrackAPICall returns a function that records call latency when called (e.g. defer).
func TrackAPICall(operation string) func(status string) {
	start := time.Now()
	return func(status string) {
		APIRequestLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	}
}
