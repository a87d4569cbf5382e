// Package dispatch resolves inbound calls against the active route table,
// binds their parameters, invokes the remote function and encodes the
// result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/filebase-dev/filebase/pkg/binder"
	"github.com/filebase-dev/filebase/pkg/encode"
	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/render"
	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/filebase-dev/filebase/pkg/routepath"
)

// DefaultMaxBodyBytes limits request bodies read by ServeHTTP.
const DefaultMaxBodyBytes int64 = 10 << 20

// Request is a transport-neutral inbound call.
type Request struct {
	// ID identifies the request; a uuid is generated when empty.
	ID         string
	Method     string
	Path       string
	Params     map[string]string
	Header     http.Header
	ClientIP   string
	RemoteAddr string
	Transport  string
}

// Response is the outcome of a call.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Header      http.Header

	// Route is the matched route path, empty when nothing matched.
	Route string

	// Err is the dispatch failure behind an error response.
	Err error
}

// Authorizer decides whether a page may call a route. A non-nil error
// refuses the call with 403, or 401 when it wraps ErrUnauthenticated.
type Authorizer interface {
	Authorize(p *page.Page, d *route.Descriptor) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(p *page.Page, d *route.Descriptor) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(p *page.Page, d *route.Descriptor) error { return f(p, d) }

// Options configure a Dispatcher.
type Options struct {
	// Host is handed to every page.
	Host page.Host

	// Renderer serves paths with no route. Nil disables file serving.
	Renderer render.Renderer

	Authorizer Authorizer
	Middleware []Middleware

	// ShowErrorDetails exposes handler and serialization error messages
	// in responses.
	ShowErrorDetails bool

	// MaxBodyBytes limits request bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// TrustedProxies lists proxy IPs and CIDRs whose forwarding headers
	// are believed.
	TrustedProxies []string

	// RequestID extracts the request ID in ServeHTTP. Default: the
	// X-Request-Id header.
	RequestID func(r *http.Request) string

	Logger *slog.Logger
}

// Dispatcher handles calls against the active route table.
type Dispatcher struct {
	table    atomic.Pointer[route.Table]
	opts     Options
	proxies  *ProxySet
	logger   *slog.Logger
	inflight tracker
}

// New creates a Dispatcher with an empty table.
func New(opts Options) *Dispatcher {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch")

	d := &Dispatcher{
		opts:    opts,
		proxies: NewProxySet(opts.TrustedProxies, logger),
		logger:  logger,
	}
	d.table.Store(&route.Table{})
	return d
}

// SetTable publishes t as the active table. In-flight calls keep the
// table they started with.
func (d *Dispatcher) SetTable(t *route.Table) {
	if t == nil {
		t = &route.Table{}
	}
	d.table.Store(t)
}

// Table returns the active table.
func (d *Dispatcher) Table() *route.Table {
	return d.table.Load()
}

// InFlight returns the number of calls being handled.
func (d *Dispatcher) InFlight() int {
	return d.inflight.count()
}

// Drain refuses new calls with 503 and waits for in-flight calls to
// complete or ctx to end.
func (d *Dispatcher) Drain(ctx context.Context) error {
	return d.inflight.drain(ctx)
}

// Handle dispatches one call. Every failure is contained in the returned
// response.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	if !d.inflight.acquire() {
		return d.fail(ErrDraining, req.Path)
	}
	defer d.inflight.release()

	canon, err := routepath.Clean(req.Path)
	if err != nil {
		return d.fail(fmt.Errorf("%w: %s", err, req.Path), req.Path)
	}
	path := canon.Path

	desc, ok := d.Table().Lookup(path)
	if !ok {
		return d.serveFile(ctx, req, path)
	}

	p := page.New(ctx, page.Options{
		ID:         req.ID,
		Method:     req.Method,
		Path:       path,
		Transport:  req.Transport,
		Params:     req.Params,
		Header:     req.Header,
		ClientIP:   req.ClientIP,
		RemoteAddr: req.RemoteAddr,
		Host:       d.opts.Host,
	})

	var payload *encode.Payload
	err = d.run(p, desc, func() error {
		var callErr error
		payload, callErr = d.call(p, desc)
		return callErr
	})
	if err != nil {
		d.logFailure(p, err)
		resp := d.fail(err, path)
		resp.Route = desc.Path
		return resp
	}

	resp := &Response{Status: http.StatusOK, Header: p.ResponseHeader(), Route: desc.Path}
	if payload == nil || payload.Empty {
		resp.Status = http.StatusNoContent
	} else {
		resp.Body = payload.Body
		resp.ContentType = payload.ContentType
	}
	if code := p.StatusCode(); code != 0 {
		resp.Status = code
	}
	return resp
}

// run executes the middleware chain around call. Panics escaping
// middleware are converted like handler panics.
func (d *Dispatcher) run(p *page.Page, desc *route.Descriptor, call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerExecutionError{Path: desc.Path, Panic: r, Stack: debug.Stack()}
		}
	}()
	return Compose(p, d.opts.Middleware, call)
}

// call authorizes, binds, invokes and encodes.
func (d *Dispatcher) call(p *page.Page, desc *route.Descriptor) (*encode.Payload, error) {
	if d.opts.Authorizer != nil {
		if err := d.opts.Authorizer.Authorize(p, desc); err != nil {
			return nil, &ForbiddenError{Path: desc.Path, Err: err}
		}
	}

	args, err := binder.Bind(p, p.Params(), desc.Params)
	if err != nil {
		return nil, err
	}

	result, err := invoke(desc, args)
	if err != nil {
		return nil, err
	}
	return encode.Encode(result)
}

func invoke(desc *route.Descriptor, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &HandlerExecutionError{Path: desc.Path, Panic: r, Stack: debug.Stack()}
		}
	}()
	result, err = desc.Invoke(args)
	if err != nil {
		return nil, &HandlerExecutionError{Path: desc.Path, Err: err}
	}
	return result, nil
}

// serveFile hands an unmatched path to the renderer.
func (d *Dispatcher) serveFile(ctx context.Context, req *Request, path string) *Response {
	notFound := &RouteNotFoundError{Path: path}
	if d.opts.Renderer == nil || (req.Method != "" && req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return d.fail(notFound, path)
	}

	out, err := d.opts.Renderer.Render(ctx, path, req.Params)
	switch {
	case errors.Is(err, render.ErrNotFound):
		return d.fail(notFound, path)
	case err != nil:
		d.logger.Error("render failed", "path", path, "error", err)
		return d.fail(&RenderError{Path: path, Err: err}, path)
	}

	header := http.Header{}
	if !out.ModTime.IsZero() {
		header.Set("Last-Modified", out.ModTime.UTC().Format(http.TimeFormat))
	}
	return &Response{Status: http.StatusOK, ContentType: out.ContentType, Body: out.Body, Header: header}
}

func (d *Dispatcher) fail(err error, path string) *Response {
	return &Response{
		Status:      StatusOf(err),
		ContentType: "application/json",
		Body:        errorBody(err, path, d.opts.ShowErrorDetails),
		Header:      http.Header{},
		Err:         err,
	}
}

func (d *Dispatcher) logFailure(p *page.Page, err error) {
	var handlerErr *HandlerExecutionError
	switch {
	case errors.As(err, &handlerErr) && handlerErr.Panic != nil:
		p.Logger().Error("remote function panicked", "error", err, "stack", string(handlerErr.Stack))
	case StatusOf(err) >= http.StatusInternalServerError:
		p.Logger().Error("remote call failed", "error", err)
	default:
		p.Logger().Debug("remote call rejected", "error", err)
	}
}

// tracker counts in-flight calls for draining.
type tracker struct {
	mu       sync.Mutex
	n        int
	draining bool
	idle     chan struct{}
}

func (t *tracker) acquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.n++
	return true
}

func (t *tracker) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 && t.idle != nil {
		close(t.idle)
		t.idle = nil
	}
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *tracker) drain(ctx context.Context) error {
	t.mu.Lock()
	t.draining = true
	if t.n == 0 {
		t.mu.Unlock()
		return nil
	}
	if t.idle == nil {
		t.idle = make(chan struct{})
	}
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
