package middleware

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/page"
)

// Default tracer name for filebase servers.
const defaultTracerName = "filebase"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "filebase").
	TracerName string

	// TracerProvider supplies the tracer. Nil uses the global provider.
	TracerProvider trace.TracerProvider

	// IncludeUserID includes the authorized user in traces.
	// May contain sensitive information - disabled by default.
	IncludeUserID bool

	// Filter determines which calls to trace.
	// If nil, all calls are traced.
	Filter func(p *page.Page) bool

	// AttributeExtractor adds custom attributes for each traced call.
	AttributeExtractor func(p *page.Page) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeUserID enables including the user in traces.
func WithIncludeUserID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeUserID = include
	}
}

// WithCallFilter sets a filter function for calls.
func WithCallFilter(filter func(p *page.Page) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(p *page.Page) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// OpenTelemetry creates middleware that traces every remote call.
//
// Each call gets a server span named "filebase <route>" carrying the
// route, transport, request id and resulting status. The span context is
// installed on the page, so handlers that pass p.Context() to database
// drivers or HTTP clients continue the trace.
//
// Configure the provider in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) dispatch.Middleware {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	provider := config.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(config.TracerName)

	return dispatch.MiddlewareFunc(func(p *page.Page, next func() error) error {
		if config.Filter != nil && !config.Filter(p) {
			return next()
		}

		attrs := []attribute.KeyValue{
			attribute.String("filebase.route", p.Path()),
			attribute.String("filebase.transport", p.Transport()),
			attribute.String("filebase.request_id", p.ID()),
		}
		if p.Method() != "" {
			attrs = append(attrs, attribute.String("http.request.method", p.Method()))
		}
		if ip := p.ClientIP(); ip != "" {
			attrs = append(attrs, attribute.String("client.address", ip))
		}
		if config.IncludeUserID {
			if user := p.User(); user != nil {
				attrs = append(attrs, attribute.String("filebase.user_id", fmt.Sprint(user)))
			}
		}
		if config.AttributeExtractor != nil {
			attrs = append(attrs, config.AttributeExtractor(p)...)
		}

		ctx, span := tracer.Start(p.Context(), "filebase "+p.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()
		p.SetContext(ctx)

		err := next()

		status := dispatch.StatusOf(err)
		if err == nil && p.StatusCode() != 0 {
			status = p.StatusCode()
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))

		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case status >= http.StatusInternalServerError:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			// Client errors are recorded but do not fail the span.
			span.RecordError(err)
		}
		return err
	})
}

// SpanFromPage returns the span of the current call, or a no-op span when
// the call is not traced.
//
//	func Lookup(p *filebase.Page, id string) (any, error) {
//	    middleware.SpanFromPage(p).SetAttributes(attribute.String("lookup.id", id))
//	    ...
//	}
func SpanFromPage(p *page.Page) trace.Span {
	return trace.SpanFromContext(p.Context())
}
