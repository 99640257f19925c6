package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	rendersTotal         *prometheus.CounterVec
	renderDuration       *prometheus.HistogramVec
	activeRenders        prometheus.Gauge
	outputBytesTotal     prometheus.Counter
	webhookFailuresTotal *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		rendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kirkproxy_worker_renders_total",
			Help: "Total asynchronous renders by final status and failure kind.",
		}, []string{"status", "failure_kind"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kirkproxy_worker_render_duration_seconds",
			Help:    "Wall time of each asynchronous render including upstream calls.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
		}, []string{"status"}),
		activeRenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kirkproxy_worker_active_renders",
			Help: "Current number of renders holding a worker slot.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kirkproxy_worker_output_bytes_total",
			Help: "Total PNG bytes written for successful renders.",
		}),
		webhookFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kirkproxy_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.rendersTotal,
		m.renderDuration,
		m.activeRenders,
		m.outputBytesTotal,
		m.webhookFailuresTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
