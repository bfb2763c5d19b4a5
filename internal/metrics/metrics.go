// Package metrics exports service measurements to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duck-flight/internal/domain"
)

var _ domain.MetricsSink = (*Prometheus)(nil)

// Prometheus implements domain.MetricsSink on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	submissions     *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	resultBytes     *prometheus.HistogramVec
	bytesStreamed   *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	activeWorkers   prometheus.Gauge
	cacheDrift      prometheus.Counter
	discoveryFiles  prometheus.Gauge
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the service collectors plus Go and process collectors.
func New() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flight_query_submissions_total",
			Help: "Query submissions by outcome (inline, cached, pending, rejected).",
		}, []string{"outcome"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flight_query_duration_seconds",
			Help:    "Background job duration from start to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"format", "status"}),
		resultBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flight_result_bytes",
			Help:    "Size of stored result objects.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		}, []string{"format"}),
		bytesStreamed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flight_bytes_streamed_total",
			Help: "Result bytes streamed to clients.",
		}, []string{"direction", "format"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "flight_executor_queue_depth",
			Help: "Jobs admitted but not yet running.",
		}),
		activeWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "flight_executor_active_workers",
			Help: "Jobs currently running.",
		}),
		cacheDrift: f.NewCounter(prometheus.CounterOpts{
			Name: "flight_cache_drift_total",
			Help: "Ready jobs whose result object was missing from the store.",
		}),
		discoveryFiles: f.NewGauge(prometheus.GaugeOpts{
			Name: "flight_discovery_files",
			Help: "Objects seen by the last discovery scan.",
		}),
		requestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flight_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flight_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Record implements domain.MetricsSink. Unknown events are ignored.
func (p *Prometheus) Record(event string, value float64, labels map[string]string) {
	switch event {
	case domain.EventSubmission:
		p.submissions.WithLabelValues(labels["outcome"]).Add(value)
	case domain.EventQueryDuration:
		p.queryDuration.WithLabelValues(labels["format"], labels["status"]).Observe(value)
	case domain.EventResultBytes:
		p.resultBytes.WithLabelValues(labels["format"]).Observe(value)
	case domain.EventBytesStreamed:
		p.bytesStreamed.WithLabelValues(labels["direction"], labels["format"]).Add(value)
	case domain.EventQueueDepth:
		p.queueDepth.Set(value)
	case domain.EventActiveWorkers:
		p.activeWorkers.Set(value)
	case domain.EventCacheDrift:
		p.cacheDrift.Add(value)
	case domain.EventDiscoveryFiles:
		p.discoveryFiles.Set(value)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }
