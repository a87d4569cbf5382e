package page

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Transport names recorded on a Page.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Host is the owning server as seen from a handler.
type Host interface {
	// Root returns the absolute directory the routes were discovered in.
	Root() string

	// Logger returns the server logger.
	Logger() *slog.Logger
}

// Options describe the request a Page is created for.
type Options struct {
	ID         string
	Method     string
	Path       string
	Transport  string
	Params     map[string]string
	Header     http.Header
	ClientIP   string
	RemoteAddr string
	Host       Host
}

// Page is the per-request context handed to every remote function as its
// first argument. A Page belongs to exactly one request and must not be
// retained after the handler returns.
type Page struct {
	id         string
	method     string
	path       string
	transport  string
	params     map[string]string
	header     http.Header
	clientIP   string
	remoteAddr string
	host       Host
	logger     *slog.Logger

	ctx context.Context

	mu         sync.Mutex
	user       any
	values     map[any]any
	respHeader http.Header
	status     int
}

// New creates a Page for one request. Params are copied so that the
// handler cannot observe later mutation of the caller's map.
func New(ctx context.Context, opts Options) *Page {
	if ctx == nil {
		ctx = context.Background()
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	transport := opts.Transport
	if transport == "" {
		transport = TransportHTTP
	}

	params := make(map[string]string, len(opts.Params))
	for k, v := range opts.Params {
		params[k] = v
	}

	header := opts.Header
	if header == nil {
		header = http.Header{}
	}

	logger := slog.Default()
	if opts.Host != nil && opts.Host.Logger() != nil {
		logger = opts.Host.Logger()
	}

	return &Page{
		id:         id,
		method:     opts.Method,
		path:       opts.Path,
		transport:  transport,
		params:     params,
		header:     header,
		clientIP:   opts.ClientIP,
		remoteAddr: opts.RemoteAddr,
		host:       opts.Host,
		logger:     logger.With("request_id", id, "path", opts.Path),
		ctx:        ctx,
		respHeader: http.Header{},
	}
}

// ID returns the unique request identifier.
func (p *Page) ID() string { return p.id }

// Method returns the request method ("GET", "POST", or "CALL" for websocket frames).
func (p *Page) Method() string { return p.method }

// Path returns the canonical route path.
func (p *Page) Path() string { return p.path }

// Transport returns TransportHTTP or TransportWebSocket.
func (p *Page) Transport() string { return p.transport }

// Param returns a raw request parameter.
func (p *Page) Param(key string) (string, bool) {
	v, ok := p.params[key]
	return v, ok
}

// Params returns a copy of all raw request parameters.
func (p *Page) Params() map[string]string {
	out := make(map[string]string, len(p.params))
	for k, v := range p.params {
		out[k] = v
	}
	return out
}

// Header returns a request header value.
func (p *Page) Header(key string) string {
	return p.header.Get(key)
}

// ClientIP returns the resolved client address.
func (p *Page) ClientIP() string { return p.clientIP }

// RemoteAddr returns the peer address of the connection.
func (p *Page) RemoteAddr() string { return p.remoteAddr }

// Host returns the owning server, or nil for pages built outside a server.
func (p *Page) Host() Host { return p.host }

// Logger returns the request-scoped logger.
func (p *Page) Logger() *slog.Logger { return p.logger }

// Context returns the standard library context of the request.
func (p *Page) Context() context.Context { return p.ctx }

// SetContext replaces the standard library context. Middleware uses this to
// inject trace spans for downstream calls.
func (p *Page) SetContext(ctx context.Context) {
	if ctx != nil {
		p.ctx = ctx
	}
}

// User returns the authorized user, if an authorizer set one.
func (p *Page) User() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

// SetUser records the authorized user.
func (p *Page) SetUser(user any) {
	p.mu.Lock()
	p.user = user
	p.mu.Unlock()
}

// SetValue stores a request-scoped value.
func (p *Page) SetValue(key, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[any]any)
	}
	p.values[key] = value
}

// Value retrieves a request-scoped value.
func (p *Page) Value(key any) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[key]
}

// SetHeader sets a response header.
func (p *Page) SetHeader(key, value string) {
	p.mu.Lock()
	p.respHeader.Set(key, value)
	p.mu.Unlock()
}

// ResponseHeader returns a copy of the headers set by the handler.
func (p *Page) ResponseHeader() http.Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.respHeader.Clone()
}

// Status overrides the success status code of the response.
func (p *Page) Status(code int) {
	p.mu.Lock()
	p.status = code
	p.mu.Unlock()
}

// StatusCode returns the status set with Status, or 0.
func (p *Page) StatusCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
