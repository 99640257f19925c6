package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// renderOutcomeOK labels a synchronous render that produced a PNG. Failed
// renders are labelled with their failure kind.
const renderOutcomeOK = "ok"

// Synchronous renders wait on two upstream calls, so latency is measured in
// seconds rather than milliseconds.
var renderBuckets = []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 90}

type metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	renders       *prometheus.CounterVec
	renderLatency *prometheus.HistogramVec
	rendering     *prometheus.GaugeVec
	throttled     *prometheus.CounterVec
	enqueued      *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kirkproxy_http_requests_total",
			Help: "HTTP requests served by the render API, by route and response code.",
		}, []string{"method", "route", "code"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kirkproxy_http_request_duration_seconds",
			Help:    "Time to answer an HTTP request, inline renders included.",
			Buckets: renderBuckets,
		}, []string{"method", "route"}),
		renders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kirkproxy_renders_total",
			Help: "Synchronous renders by mode (inline, download) and outcome (ok or failure kind).",
		}, []string{"mode", "outcome"}),
		renderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kirkproxy_render_duration_seconds",
			Help:    "Face download plus transformation time of synchronous renders.",
			Buckets: renderBuckets,
		}, []string{"mode"}),
		rendering: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kirkproxy_renders_in_flight",
			Help: "Synchronous renders currently waiting on the upstreams.",
		}, []string{"mode"}),
		throttled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kirkproxy_renders_throttled_total",
			Help: "Render requests refused by the per-client token bucket.",
		}, []string{"route"}),
		enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kirkproxy_renders_enqueued_total",
			Help: "Asynchronous renders handed to the worker queue.",
		}, []string{"queue"}),
	}
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// trackRender marks a synchronous render as started. The returned func
// records its outcome and must be called exactly once.
func (m *metrics) trackRender(mode string) func(error) {
	started := time.Now()
	inFlight := m.rendering.WithLabelValues(mode)
	inFlight.Inc()

	return func(err error) {
		inFlight.Dec()
		m.renderLatency.WithLabelValues(mode).Observe(time.Since(started).Seconds())

		outcome := renderOutcomeOK
		if err != nil {
			outcome = domain.FailureKind(err)
		}
		m.renders.WithLabelValues(mode, outcome).Inc()
	}
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
	})
}

// routeLabel keeps label cardinality bounded: run ids are folded into the
// route template and unknown paths share one label.
func routeLabel(path string) string {
	switch {
	case path == "/", path == "/download", path == "/ping", path == "/favicon.ico", path == "/metrics":
		return path
	case path == "/v1/renders":
		return "/v1/renders"
	case strings.HasPrefix(path, "/v1/renders/") && strings.HasSuffix(path, "/image"):
		return "/v1/renders/{id}/image"
	case strings.HasPrefix(path, "/v1/renders/"):
		return "/v1/renders/{id}"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
