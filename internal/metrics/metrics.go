package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "siem_engine"

// HTTP metrics (incremented by middleware).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})
)

// Pipeline counters (incremented directly by the ingest packages).
var (
	AlertsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_ingested_total",
		Help:      "Alerts processed by the pipeline, per source.",
	}, []string{"source"})

	CorrelationAlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "correlation_alerts_total",
		Help:      "Synthetic alerts emitted by the correlator.",
	})

	StoreWriteErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_write_errors_total",
		Help:      "Failed alert persistence attempts.",
	})

	TailedLinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tailed_lines_total",
		Help:      "Lines read from the followed alert log.",
	})

	TailerDecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tailer_decode_errors_total",
		Help:      "Tailed lines discarded because they were not valid JSON.",
	})

	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected_clients",
		Help:      "Currently connected streaming clients.",
	})

	BroadcastDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_total",
		Help:      "Frames dropped because a client send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AlertsIngestedTotal,
		CorrelationAlertsTotal,
		StoreWriteErrorsTotal,
		TailedLinesTotal,
		TailerDecodeErrorsTotal,
		ConnectedClients,
		BroadcastDroppedTotal,
	)
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses chi's route pattern as the path label to avoid cardinality explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unknown"
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap supports http.ResponseController and handlers that need the
// underlying writer (e.g. http.Hijacker for WebSocket upgrades).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
