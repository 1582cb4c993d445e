package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MessagesSaved    *prometheus.CounterVec
	Replies          *prometheus.CounterVec
	PrimaryFailures  prometheus.Counter
	SessionsCreated  prometheus.Counter
	RateLimited      prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	UpstreamDuration prometheus.Histogram
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.collectors()...)
	})
	return global
}

// New builds an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		MessagesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simplechat",
			Name:      "messages_saved_total",
			Help:      "Total chat messages persisted, by message type",
		}, []string{"type"}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simplechat",
			Name:      "replies_total",
			Help:      "Total replies produced, by responding service label",
		}, []string{"service"}),
		PrimaryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simplechat",
			Name:      "primary_failures_total",
			Help:      "Total remote responder attempts that degraded to the fallback responder",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simplechat",
			Name:      "sessions_created_total",
			Help:      "Total chat sessions created",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simplechat",
			Name:      "chat_rate_limited_total",
			Help:      "Total chat messages rejected by the hourly rate limit",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simplechat",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "simplechat",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "simplechat",
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of remote responder calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesSaved,
		m.Replies,
		m.PrimaryFailures,
		m.SessionsCreated,
		m.RateLimited,
		m.HTTPRequests,
		m.HTTPDuration,
		m.UpstreamDuration,
	}
}
