package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors of the service. Each instance
// owns its registry so several handlers can live in one process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   prometheus.Gauge
	operations *prometheus.CounterVec
	books      prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Number of http requests processed.",
			},
			[]string{"method", "route", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of http requests.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "route"},
		),
		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_progress",
				Help: "Number of http requests being processed.",
			},
		),
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_operations_total",
				Help: "Number of catalog operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		books: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_books",
				Help: "Number of books seen on the last listing.",
			},
		),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records a finished http request.
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route := RouteOf(path)
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// TrackInflight increments the in-progress gauge and returns its decrement.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

// ObserveOperation counts a catalog operation under the kind of its error.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// SetBooksCount updates the catalog size gauge.
func (m *Metrics) SetBooksCount(n int) {
	if m == nil {
		return
	}
	m.books.Set(float64(n))
}

// RouteOf collapses book ids so the route label keeps a low cardinality.
func RouteOf(path string) string {
	const prefix = "/api/books/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	switch rest {
	case "":
		return "/api/books"
	case "fetch-external":
		return path
	default:
		return prefix + ":id"
	}
}
