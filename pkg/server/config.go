package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/filebase-dev/filebase/pkg/discovery"
	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/remote"
	"github.com/filebase-dev/filebase/pkg/render"
)

// SystemPrefix is the path prefix of the built-in endpoints.
const SystemPrefix = "/_filebase"

// Config holds the configuration of a Server.
type Config struct {
	// Root is the directory routes are discovered in and files are served
	// from. Required.
	Root string

	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// Discovery

	// Suffix marks route-source files. Default: ".code.go".
	Suffix string

	// IndexName is the function name served at its directory path.
	// Default: "Index".
	IndexName string

	// ContextParam is the reserved name of the first parameter.
	// Default: "page".
	ContextParam string

	// Registry supplies the callables. Default: remote.Default.
	Registry *remote.Registry

	// Files

	// ServeFiles serves non-route files under Root. Default: true.
	ServeFiles bool

	// Templates executes .html files as templates. Default: true.
	Templates bool

	// Renderer replaces the built-in file renderer.
	Renderer render.Renderer

	// Calls

	// ShowErrorDetails exposes handler error messages in responses.
	// Default: false.
	ShowErrorDetails bool

	// MaxBodyBytes limits request bodies. Default: 10 MiB.
	MaxBodyBytes int64

	// TrustedProxies lists reverse proxy IPs and CIDRs whose forwarding
	// headers are believed. Default: nil.
	TrustedProxies []string

	// Authorizer is consulted before every call. Default: nil (allow).
	Authorizer dispatch.Authorizer

	// Middleware wraps every call, after the built-in tracing and
	// metrics middleware.
	Middleware []dispatch.Middleware

	// CheckOrigin validates websocket origins.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Timeouts

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// ShutdownTimeout bounds how long Stop waits when its context has no
	// deadline. Calls still running are not aborted; zero waits for all.
	// Default: 0.
	ShutdownTimeout time.Duration

	// HandleSignals stops the server on SIGINT and SIGTERM.
	// Default: false.
	HandleSignals bool

	// Observability

	Metrics MetricsConfig
	Tracing TracingConfig

	// Listen opens the listener. Default: net.Listen.
	Listen func(network, address string) (net.Listener, error)

	// Logger is the server logger. Default: slog.Default().
	Logger *slog.Logger
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool

	// Namespace prefixes metric names. Default: "filebase".
	Namespace string

	// Path serves the metrics. Default: "/metrics".
	Path string
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool

	// TracerName names the tracer. Default: "filebase".
	TracerName string

	// Provider supplies tracers. Default: the global provider.
	Provider trace.TracerProvider
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		Suffix:            discovery.DefaultSuffix,
		IndexName:         discovery.DefaultIndexName,
		ContextParam:      discovery.DefaultContextParam,
		ServeFiles:        true,
		Templates:         true,
		MaxBodyBytes:      dispatch.DefaultMaxBodyBytes,
		CheckOrigin:       SameOriginCheck,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		Metrics: MetricsConfig{
			Namespace: "filebase",
			Path:      "/metrics",
		},
		Tracing: TracingConfig{
			TracerName: "filebase",
		},
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	clone.Middleware = append([]dispatch.Middleware(nil), c.Middleware...)
	return &clone
}

// WithRoot sets the root directory and returns the config for chaining.
func (c *Config) WithRoot(root string) *Config {
	c.Root = root
	return c
}

// WithAddress sets the listen address and returns the config for chaining.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithMiddleware appends call middleware and returns the config for chaining.
func (c *Config) WithMiddleware(mw ...dispatch.Middleware) *Config {
	c.Middleware = append(c.Middleware, mw...)
	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("%w: root directory is required", ErrInvalidConfig)
	}
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	if c.Suffix == "" || !strings.HasPrefix(c.Suffix, ".") {
		return fmt.Errorf("%w: suffix %q must start with a dot", ErrInvalidConfig, c.Suffix)
	}
	if c.IndexName == "" || c.ContextParam == "" {
		return fmt.Errorf("%w: index name and context parameter are required", ErrInvalidConfig)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: max body bytes must not be negative", ErrInvalidConfig)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown timeout must not be negative", ErrInvalidConfig)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics path %q must start with /", ErrInvalidConfig, c.Metrics.Path)
	}
	if c.Metrics.Enabled && strings.HasPrefix(c.Metrics.Path, SystemPrefix+"/") {
		return fmt.Errorf("%w: metrics path %q is reserved", ErrInvalidConfig, c.Metrics.Path)
	}
	return nil
}

// SameOriginCheck accepts websocket upgrades without an Origin header or
// whose Origin host matches the request host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return r.Host != "" && strings.EqualFold(u.Host, r.Host)
}
