// Package metrics exposes the Prometheus instrumentation shared by the
// mintify services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mintify_http_requests_total",
		Help: "Total HTTP requests handled, labelled by service, method, path and status code.",
	}, []string{"service", "method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mintify_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"service", "method", "path"})

	SpendingEventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mintify_spending_events_published_total",
		Help: "Total SPENDING_RECORDED events published to the exchange.",
	})

	SpendingEventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mintify_spending_events_consumed_total",
		Help: "Total spending events consumed, labelled by consumer.",
	}, []string{"consumer"})

	PoisonMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mintify_poison_messages_dropped_total",
		Help: "Total messages rejected without requeue, labelled by consumer.",
	}, []string{"consumer"})

	PushConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mintify_push_connections",
		Help: "Currently open push connections.",
	})

	NotificationsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mintify_notifications_broadcast_total",
		Help: "Total notification frames written to push connections.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies for every request except
// the metrics endpoint itself.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			HTTPRequestsTotal.WithLabelValues(service, r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
			HTTPRequestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker underneath, which
// WebSocket upgrades behind this middleware depend on.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
