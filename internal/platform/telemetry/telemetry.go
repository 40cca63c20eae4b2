// Package telemetry exposes Prometheus metrics for the record pipeline and
// the HTTP server. Metrics are registered on an injected registry so tests
// and multiple servers in one process do not collide.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "healthrecords"

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	DocumentsProcessed *prometheus.CounterVec
	ExtractionFailures *prometheus.CounterVec
	MetricReadings     *prometheus.CounterVec
	CryptoFailures     *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveRequests     prometheus.Gauge
}

// New registers all collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DocumentsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents run through extraction and parsing, by kind",
		}, []string{"kind"}),
		ExtractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Text extractions that degraded to empty text, by kind",
		}, []string{"kind"}),
		MetricReadings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_readings_total",
			Help:      "Parsed vital-sign readings, by metric and status",
		}, []string{"metric", "status"}),
		CryptoFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crypto_failures_total",
			Help:      "Failed encrypt or decrypt operations, by operation",
		}, []string{"op"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status",
			Buckets:   defaultDurationBuckets,
		}, []string{"method", "route", "status"}),
		ActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Requests currently being served",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) DocumentProcessed(kind string) {
	m.DocumentsProcessed.WithLabelValues(kind).Inc()
}

// ExtractionFailed satisfies the extractor's failure recorder.
func (m *Metrics) ExtractionFailed(kind string) {
	m.ExtractionFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReadingParsed(metric, status string) {
	m.MetricReadings.WithLabelValues(metric, status).Inc()
}

func (m *Metrics) CryptoFailed(op string) {
	m.CryptoFailures.WithLabelValues(op).Inc()
}

// Middleware records request latency for every route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m.RequestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(statusOf(c, err))).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// statusOf resolves the status before the error handler has written it.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
