// Package middleware provides observability middleware for remote calls.
//
// # OpenTelemetry
//
// OpenTelemetry traces every remote call with a server span. The span
// context is installed on the page, so work started from p.Context()
// joins the trace.
//
//	d := dispatch.New(dispatch.Options{
//	    Middleware: []dispatch.Middleware{
//	        middleware.OpenTelemetry(middleware.WithTracerName("my-app")),
//	    },
//	})
//
// # Prometheus
//
// NewMetrics registers call counters, duration histograms and discovery
// metrics; Metrics.Middleware records the calls:
//
//	m := middleware.NewMetrics(middleware.WithNamespace("myapp"))
//	d := dispatch.New(dispatch.Options{Middleware: []dispatch.Middleware{m.Middleware()}})
//	http.Handle("/metrics", promhttp.Handler())
//
// Label values are bounded: the route label is the matched route path
// and error_type is the lower-cased dispatch error code.
package middleware
