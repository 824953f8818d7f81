package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{5, 25, 100, 500, 1000, 5000}

const (
	requestsCollectorName = "http_requests_total"
	latencyCollectorName  = "http_request_duration_milliseconds"
)

// Middleware exposes request count and latency partitioned by status
// code, method and chi route pattern.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMiddleware builds the HTTP metrics middleware for the named service.
func NewMiddleware(service string) *Middleware {
	var m Middleware
	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        requestsCollectorName,
			Help:        "Number of HTTP requests partitioned by status code, method and path.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"code", "method", "path"})

	m.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        latencyCollectorName,
			Help:        "Time spent serving requests partitioned by status code, method and path.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     latencyBuckets,
		}, []string{"code", "method", "path"})

	return &m
}

// MustRegisterDefault registers the collectors with the default registry.
func (m *Middleware) MustRegisterDefault() {
	prometheus.MustRegister(m.requests, m.latency)
}

// Handler is the chi middleware entry point.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if rp := rctx.RoutePattern(); rp != "" {
				path = rp
			}
		}

		code := strconv.Itoa(ww.Status())
		m.requests.WithLabelValues(code, r.Method, path).Inc()
		m.latency.WithLabelValues(code, r.Method, path).
			Observe(float64(time.Since(start).Milliseconds()))
	}
	return http.HandlerFunc(fn)
}
