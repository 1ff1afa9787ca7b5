package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kasiran_admin_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kasiran_admin_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kasiran_admin_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kasiran_admin_upstream_requests_total",
		Help: "Calls made to the Kasiran REST API, by operation and outcome.",
	}, []string{"operation", "status"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kasiran_admin_upstream_latency_seconds",
		Help:    "Histogram of Kasiran REST API call latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	staleResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kasiran_admin_stale_list_responses_total",
		Help: "List responses discarded because a newer fetch was already issued.",
	}, []string{"resource"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Router resolves the pattern a request would match. *http.ServeMux
// satisfies it.
type Router interface {
	Handler(r *http.Request) (http.Handler, string)
}

// Middleware records request metrics labelled with the matched mux pattern.
// Requests answered before reaching the mux, such as preflights and CSRF
// rejections, are labelled with the pattern routes would have matched.
func Middleware(routes Router, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routePattern(routes, r)
		statusCode := strconv.Itoa(rec.status)
		httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route, statusCode).Observe(time.Since(start).Seconds())
		if rec.status >= http.StatusInternalServerError {
			httpErrorsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
		}
	})
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one call to the upstream API. status is the HTTP
// status code, or 0 when the request never got a response.
func ObserveUpstream(operation string, status int, start time.Time) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	upstreamRequestsTotal.WithLabelValues(operation, label).Inc()
	upstreamLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func ObserveStaleResponse(resource string) {
	staleResponsesTotal.WithLabelValues(resource).Inc()
}

func routePattern(routes Router, r *http.Request) string {
	if pattern := strings.TrimSpace(r.Pattern); pattern != "" {
		return pattern
	}
	if routes == nil {
		return "unmatched"
	}
	lookup := r
	// A preflight names the method of the request it precedes.
	if r.Method == http.MethodOptions {
		if method := strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")); method != "" {
			lookup = r.Clone(r.Context())
			lookup.Method = strings.ToUpper(method)
		}
	}
	if _, pattern := routes.Handler(lookup); pattern != "" {
		return pattern
	}
	return "unmatched"
}
