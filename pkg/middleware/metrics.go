package middleware

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/page"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "filebase").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for call duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "filebase",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors of one server. Collectors are
// registered once, when NewMetrics is called.
type Metrics struct {
	config MetricsConfig

	callsTotal        *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	callErrors        *prometheus.CounterVec
	routes            prometheus.Gauge
	discoveryDuration prometheus.Histogram
	discoveryFailures prometheus.Counter
}

// NewMetrics creates and registers the collectors.
//
// Metrics collected:
//   - filebase_calls_total: remote calls by route and status
//   - filebase_call_duration_seconds: call duration by route
//   - filebase_call_errors_total: failed calls by route and error type
//   - filebase_routes: routes in the active table
//   - filebase_discovery_duration_seconds: duration of discovery scans
//   - filebase_discovery_failures_total: scans that aborted
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		config: config,

		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "calls_total",
			Help:        "Total number of remote calls handled",
			ConstLabels: config.ConstLabels,
		}, []string{"route", "status"}),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "call_duration_seconds",
			Help:        "Remote call duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"route"}),

		callErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "call_errors_total",
			Help:        "Total number of failed remote calls",
			ConstLabels: config.ConstLabels,
		}, []string{"route", "error_type"}),

		routes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "routes",
			Help:        "Number of routes in the active table",
			ConstLabels: config.ConstLabels,
		}),

		discoveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "discovery_duration_seconds",
			Help:        "Duration of route discovery scans in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		discoveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "discovery_failures_total",
			Help:        "Total number of discovery scans that failed",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Middleware records every remote call.
//
//	m := middleware.NewMetrics(middleware.WithNamespace("myapp"))
//	d := dispatch.New(dispatch.Options{Middleware: []dispatch.Middleware{m.Middleware()}})
//	http.Handle("/metrics", promhttp.Handler())
func (m *Metrics) Middleware() dispatch.Middleware {
	return dispatch.MiddlewareFunc(func(p *page.Page, next func() error) error {
		route := p.Path()

		start := time.Now()
		err := next()
		m.callDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		status := "success"
		if err != nil {
			status = "error"
			m.callErrors.WithLabelValues(route, ErrorType(err)).Inc()
		}
		m.callsTotal.WithLabelValues(route, status).Inc()
		return err
	})
}

// ErrorType is the bounded error_type label of a dispatch failure, e.g.
// "missing_parameter" or "handler_error".
func ErrorType(err error) string {
	return strings.ToLower(dispatch.CodeOf(err))
}

// RecordDiscovery records one discovery scan. routes is the size of the
// published table and is ignored when err is set.
func (m *Metrics) RecordDiscovery(d time.Duration, routes int, err error) {
	m.discoveryDuration.Observe(d.Seconds())
	if err != nil {
		m.discoveryFailures.Inc()
		return
	}
	m.routes.Set(float64(routes))
}

// GaugeFunc registers a gauge that reads its value from fn on scrape,
// e.g. open websocket connections or calls in flight.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return promauto.With(m.config.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.config.ConstLabels,
	}, fn)
}
