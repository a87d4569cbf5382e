// Package filebase turns a directory of Go files into a web API.
//
// Functions marked with a //filebase:remote directive in files named
// *.code.go become callable at a URL derived from their directory and
// name. The other files of the directory are served as static assets, and
// .html files are executed as templates.
//
//	// public/index.code.go
//	package public
//
//	import "github.com/filebase-dev/filebase"
//
//	func init() { filebase.Remote(Test, TestWithDefaults) }
//
//	//filebase:remote
//	func Test(page *filebase.Page, msg string) string {
//	    return "The message: " + msg
//	}
//
//	//filebase:remote otherMessage=nil
//	func TestWithDefaults(page *filebase.Page, msg string, otherMessage *string) map[string]any {
//	    return map[string]any{"msg": msg, "other_message": otherMessage}
//	}
//
// The application starts the process-wide server on the directory and
// blocks until it stops:
//
//	s, err := filebase.StartGlobal("public")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s.Join()
//
// GET /Test?msg=hi now returns {"msg":"hi","server_time":"..."}.
package filebase

import (
	"context"
	"log/slog"

	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/remote"
	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/filebase-dev/filebase/pkg/server"
)

// =============================================================================
// Types
// =============================================================================

// Page is the per-request context handed to every remote function as its
// first argument.
type Page = page.Page

// Server is a running route tree.
type Server = server.Server

// Config configures a Server.
type Config = server.Config

// AlreadyStartedError is returned by StartGlobal while the global server
// is still running.
type AlreadyStartedError = server.AlreadyStartedError

// Middleware wraps remote calls.
type Middleware = dispatch.Middleware

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc = dispatch.MiddlewareFunc

// Authorizer decides whether a call may proceed.
type Authorizer = dispatch.Authorizer

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc = dispatch.AuthorizerFunc

// Route describes a discovered remote function.
type Route = route.Descriptor

// =============================================================================
// Registration
// =============================================================================

// Remote registers remote functions. Call it from an init function in
// the package that declares them:
//
//	func init() { filebase.Remote(Test, TestWithDefaults) }
//
// Registration is idempotent. It panics on values that are not
// functions or whose signatures cannot be called remotely.
func Remote(fns ...any) {
	remote.MustRegister(fns...)
}

// Bind registers fn as the function name declared in file. Use it when
// the compiled source paths differ from the deployed tree, for example
// in binaries built with -trimpath. It panics on invalid functions.
func Bind(file, name string, fn any) {
	if err := remote.Default.Bind(file, name, fn); err != nil {
		panic(err)
	}
}

// =============================================================================
// Server
// =============================================================================

// Option customizes the global server.
type Option func(*server.Config)

// WithAddress sets the listen address. Default: ":8080".
func WithAddress(addr string) Option {
	return func(c *server.Config) { c.Address = addr }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *server.Config) { c.Logger = l }
}

// WithMiddleware appends call middleware.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *server.Config) { c.Middleware = append(c.Middleware, mw...) }
}

// WithAuthorizer sets the call authorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(c *server.Config) { c.Authorizer = a }
}

// WithErrorDetails exposes handler error messages in responses.
func WithErrorDetails(show bool) Option {
	return func(c *server.Config) { c.ShowErrorDetails = show }
}

// WithMetrics serves Prometheus metrics at path.
func WithMetrics(path string) Option {
	return func(c *server.Config) {
		c.Metrics.Enabled = true
		if path != "" {
			c.Metrics.Path = path
		}
	}
}

// WithTracing traces calls with the global OpenTelemetry provider.
func WithTracing() Option {
	return func(c *server.Config) { c.Tracing.Enabled = true }
}

// WithSignals controls whether SIGINT and SIGTERM stop the server.
// Default: true.
func WithSignals(handle bool) Option {
	return func(c *server.Config) { c.HandleSignals = handle }
}

// WithConfig applies arbitrary changes to the server configuration.
func WithConfig(fn func(*server.Config)) Option {
	return func(c *server.Config) { fn(c) }
}

// StartGlobal discovers the remote functions under root and starts the
// process-wide server. It fails with *AlreadyStartedError while a
// previous global server is still running, and with the discovery errors
// when the tree is broken; nothing is served in either case.
func StartGlobal(root string, opts ...Option) (*Server, error) {
	c := server.DefaultConfig().WithRoot(root)
	c.HandleSignals = true
	for _, opt := range opts {
		opt(c)
	}
	return server.StartGlobal(context.Background(), c)
}

// Global returns the process-wide server, or nil before StartGlobal.
func Global() *Server {
	return server.Global()
}
