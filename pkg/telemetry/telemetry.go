package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request and sync-path metrics, exported at /metrics.
var (
	AppendTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_append_total",
		Help: "Messages accepted by the append engine.",
	})
	AppendDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_append_duplicate_total",
		Help: "Idempotent replays collapsed onto an existing commit.",
	})
	AppendErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_append_error_total",
		Help: "Append failures by reason.",
	}, []string{"reason"})
	FanoutDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_fanout_delivered_total",
		Help: "Messages pushed to live subscribers.",
	})
	FanoutDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_fanout_dropped_total",
		Help: "Subscribers closed because their buffer filled.",
	})
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_subscribers",
		Help: "Currently live subscription streams.",
	})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatsync_http_request_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request latency and status for every handler.
// Streaming handlers keep working: the recorder forwards Flush.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		requestDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
