// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is one set of collectors on its own registry, so tests can build
// as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Uploads         *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	Terminals       prometheus.Counter
	Queries         prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "otedb_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "otedb_http_request_duration_seconds",
			Help:    "HTTP request duration by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "otedb_uploads_total",
			Help: "Uploads by result",
		}, []string{"result"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "otedb_runs_total",
			Help: "Port resolution runs by result kind",
		}, []string{"result"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "otedb_run_duration_seconds",
			Help:    "Port resolution run duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		Terminals: f.NewCounter(prometheus.CounterOpts{
			Name: "otedb_terminals_created_total",
			Help: "Port terminals created across all runs",
		}),
		Queries: f.NewCounter(prometheus.CounterOpts{
			Name: "otedb_common_component_queries_total",
			Help: "Common component queries served",
		}),
	}
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveRun records a finished run. result is "ok" or an error kind.
func (m *Metrics) ObserveRun(result string, terminals int, d time.Duration) {
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(d.Seconds())
	m.Terminals.Add(float64(terminals))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
