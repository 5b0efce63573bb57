package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sofauth",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status",
		},
		[]string{"method", "path", "status"},
	)

	requestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sofauth",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	inFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sofauth",
			Name:      "http_requests_in_flight",
			Help:      "Requests currently being handled",
		},
	)
)

// Metrics records RED metrics for every request.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlight.Inc()
		defer inFlight.Dec()

		ww := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		path := routeLabel(r)
		requestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()
		requestSeconds.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())
	})
}

// routeLabel prefers the chi pattern ("/widgets/{id}") so tokens and user
// ids stay out of the label set, falling back to the raw path when the
// request never went through the router.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// metricsResponseWriter captures the status code for the labels; only the
// first explicit WriteHeader is recorded.
type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
