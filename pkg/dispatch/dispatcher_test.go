package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/filebase-dev/filebase/pkg/encode"
	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/render"
	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serverTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func testRoutes(t *testing.T, extra ...*route.Descriptor) *route.Table {
	t.Helper()
	descs := []*route.Descriptor{
		{
			Path:    "/Test",
			Name:    "Test",
			Context: "page",
			Params:  []route.Param{{Name: "msg", Type: route.TypeString, GoType: "string"}},
			Invoke: func(args []any) (any, error) {
				return map[string]any{"msg": args[1], "server_time": serverTime}, nil
			},
		},
		{
			Path:    "/TestWithDefaults",
			Name:    "TestWithDefaults",
			Context: "page",
			Params: []route.Param{
				{Name: "msg", Type: route.TypeString, GoType: "string"},
				{Name: "otherMessage", Type: route.TypeString, GoType: "*string", Nullable: true, HasDefault: true},
				{Name: "limit", Type: route.TypeInt, Bits: 64, GoType: "int", HasDefault: true, Default: int64(10)},
			},
			Invoke: func(args []any) (any, error) {
				return map[string]any{"msg": args[1], "other": args[2], "limit": args[3]}, nil
			},
		},
		{
			Path: "/Echo",
			Name: "Echo",
			Params: []route.Param{
				{Name: "msg", Type: route.TypeString, GoType: "string", HasDefault: true, Default: "none"},
			},
			Invoke: func(args []any) (any, error) { return args[1], nil },
		},
		{
			Path:   "/Boom",
			Name:   "Boom",
			Invoke: func(args []any) (any, error) { panic("kaboom") },
		},
		{
			Path:   "/Fail",
			Name:   "Fail",
			Invoke: func(args []any) (any, error) { return nil, errors.New("database is down") },
		},
		{
			Path:   "/Nothing",
			Name:   "Nothing",
			Invoke: func(args []any) (any, error) { return nil, nil },
		},
		{
			Path:   "/Channel",
			Name:   "Channel",
			Invoke: func(args []any) (any, error) { return make(chan int), nil },
		},
		{
			Path: "/Created",
			Name: "Created",
			Invoke: func(args []any) (any, error) {
				p := args[0].(*page.Page)
				p.Status(http.StatusCreated)
				p.SetHeader("Location", "/things/1")
				return "made", nil
			},
		},
	}
	table, err := route.NewTable(append(descs, extra...))
	require.NoError(t, err)
	return table
}

func newDispatcher(t *testing.T, opts Options, extra ...*route.Descriptor) *Dispatcher {
	t.Helper()
	d := New(opts)
	d.SetTable(testRoutes(t, extra...))
	return d
}

func decodeError(t *testing.T, resp *Response) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body, &body), string(resp.Body))
	return body
}

func TestHandleSuccess(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{Path: "/Test", Params: map[string]string{"msg": "hello"}})
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Body))
	assert.Equal(t, encode.ContentTypeJSON, resp.ContentType)
	assert.Equal(t, "/Test", resp.Route)
	assert.NoError(t, resp.Err)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, "hello", body["msg"])
	back, err := encode.ParseTime(body["server_time"])
	require.NoError(t, err)
	assert.True(t, back.Equal(serverTime))
}

func TestHandleMissingParameter(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{Path: "/Test"})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	body := decodeError(t, resp)
	assert.Equal(t, CodeMissingParameter, body.Error.Code)
	assert.Equal(t, "msg", body.Error.Param)
	assert.Contains(t, body.Error.Message, "msg")
	assert.Equal(t, "/Test", body.Path)
}

func TestHandleDefaults(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{
		Path:   "/TestWithDefaults",
		Params: map[string]string{"msg": "hi", "unknown": "ignored"},
	})
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Body))
	assert.JSONEq(t, `{"msg":"hi","other":null,"limit":10}`, string(resp.Body))

	resp = d.Handle(context.Background(), &Request{
		Path:   "/TestWithDefaults",
		Params: map[string]string{"msg": "hi", "otherMessage": "", "limit": "3"},
	})
	require.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"msg":"hi","other":"","limit":3}`, string(resp.Body))
}

func TestHandleCoercionFailure(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{
		Path:   "/TestWithDefaults",
		Params: map[string]string{"msg": "hi", "limit": "ten"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	body := decodeError(t, resp)
	assert.Equal(t, CodeTypeCoercion, body.Error.Code)
	assert.Equal(t, "limit", body.Error.Param)
	assert.Contains(t, body.Error.Message, `"ten"`)
}

func TestHandleScalarAndEmpty(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, encode.ContentTypeText, resp.ContentType)
	assert.Equal(t, "none", string(resp.Body))

	resp = d.Handle(context.Background(), &Request{Path: "/Nothing"})
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestHandlePageStatusAndHeaders(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{Path: "/Created"})
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "/things/1", resp.Header.Get("Location"))
	assert.Equal(t, "made", string(resp.Body))
}

func TestHandleNotFound(t *testing.T) {
	d := newDispatcher(t, Options{})

	for _, path := range []string{"/test", "/Missing", "/Test/extra"} {
		resp := d.Handle(context.Background(), &Request{Path: path})
		assert.Equal(t, http.StatusNotFound, resp.Status, path)
		var nf *RouteNotFoundError
		assert.True(t, errors.As(resp.Err, &nf), path)
		assert.Equal(t, CodeNotFound, decodeError(t, resp).Error.Code)
	}
}

func TestHandleInvalidPath(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{Path: "/../etc/passwd"})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, CodeInvalidPath, decodeError(t, resp).Error.Code)
}

func TestHandleHandlerFailures(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{Path: "/Boom"})
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	var he *HandlerExecutionError
	require.True(t, errors.As(resp.Err, &he))
	assert.Equal(t, "kaboom", he.Panic)
	assert.NotEmpty(t, he.Stack)
	body := decodeError(t, resp)
	assert.Equal(t, CodeHandler, body.Error.Code)
	assert.Equal(t, "Internal Server Error", body.Error.Message)

	resp = d.Handle(context.Background(), &Request{Path: "/Fail"})
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.NotContains(t, string(resp.Body), "database")

	// The dispatcher keeps serving after a panic.
	resp = d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestHandleShowErrorDetails(t *testing.T) {
	d := newDispatcher(t, Options{ShowErrorDetails: true})

	resp := d.Handle(context.Background(), &Request{Path: "/Fail"})
	assert.Contains(t, decodeError(t, resp).Error.Message, "database is down")
}

func TestHandleSerializationError(t *testing.T) {
	d := newDispatcher(t, Options{})

	resp := d.Handle(context.Background(), &Request{Path: "/Channel"})
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	var encErr *encode.Error
	assert.True(t, errors.As(resp.Err, &encErr))
	assert.Equal(t, CodeSerialization, decodeError(t, resp).Error.Code)
}

func TestHandleAuthorizer(t *testing.T) {
	d := newDispatcher(t, Options{
		Authorizer: AuthorizerFunc(func(p *page.Page, desc *route.Descriptor) error {
			if desc.Path == "/Echo" && p.Header("Authorization") == "" {
				return errors.New("no credentials")
			}
			p.SetUser("ada")
			return nil
		}),
	})

	resp := d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusForbidden, resp.Status)
	body := decodeError(t, resp)
	assert.Equal(t, CodeForbidden, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "credentials")

	resp = d.Handle(context.Background(), &Request{Path: "/Echo", Header: http.Header{"Authorization": {"Bearer x"}}})
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestHandleUnauthenticated(t *testing.T) {
	d := newDispatcher(t, Options{
		Authorizer: AuthorizerFunc(func(p *page.Page, desc *route.Descriptor) error {
			return fmt.Errorf("token expired: %w", ErrUnauthenticated)
		}),
	})

	resp := d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	body := decodeError(t, resp)
	assert.Equal(t, CodeUnauthorized, body.Error.Code)
	assert.Equal(t, "Unauthorized", body.Error.Message)
}

func TestHandleMiddleware(t *testing.T) {
	var order []string
	var seen error
	record := func(name string) Middleware {
		return MiddlewareFunc(func(p *page.Page, next func() error) error {
			order = append(order, name+">")
			err := next()
			order = append(order, "<"+name)
			return err
		})
	}
	observe := MiddlewareFunc(func(p *page.Page, next func() error) error {
		seen = next()
		return seen
	})

	d := newDispatcher(t, Options{Middleware: []Middleware{record("a"), record("b"), observe}})

	resp := d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []string{"a>", "b>", "<b", "<a"}, order)

	d.Handle(context.Background(), &Request{Path: "/TestWithDefaults"})
	require.Error(t, seen)
	assert.Contains(t, seen.Error(), "msg")
}

type teapot struct{}

func (teapot) Error() string   { return "short and stout" }
func (teapot) StatusCode() int { return http.StatusTeapot }

func TestHandleMiddlewareRejects(t *testing.T) {
	reject := MiddlewareFunc(func(p *page.Page, next func() error) error { return teapot{} })
	d := newDispatcher(t, Options{Middleware: []Middleware{reject}})

	resp := d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusTeapot, resp.Status)

	panicky := MiddlewareFunc(func(p *page.Page, next func() error) error { panic("middleware") })
	d = newDispatcher(t, Options{Middleware: []Middleware{panicky}})
	resp = d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestMiddlewareSkipOnly(t *testing.T) {
	calls := 0
	count := MiddlewareFunc(func(p *page.Page, next func() error) error {
		calls++
		return next()
	})
	isEcho := func(p *page.Page) bool { return p.Path() == "/Echo" }

	d := newDispatcher(t, Options{Middleware: []Middleware{Chain(Only(isEcho, count), Skip(isEcho, count))}})
	d.Handle(context.Background(), &Request{Path: "/Echo"})
	d.Handle(context.Background(), &Request{Path: "/Nothing"})
	assert.Equal(t, 2, calls)
}

func TestHandleRendererFallback(t *testing.T) {
	r := render.RendererFunc(func(ctx context.Context, urlPath string, params map[string]string) (*render.Output, error) {
		switch urlPath {
		case "/about.html":
			return &render.Output{Body: []byte("about " + params["who"]), ContentType: "text/html", ModTime: serverTime}, nil
		case "/broken.html":
			return nil, errors.New("template: bad")
		}
		return nil, render.ErrNotFound
	})
	d := newDispatcher(t, Options{Renderer: r})

	resp := d.Handle(context.Background(), &Request{Method: http.MethodGet, Path: "/about.html", Params: map[string]string{"who": "us"}})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "about us", string(resp.Body))
	assert.Equal(t, serverTime.Format(http.TimeFormat), resp.Header.Get("Last-Modified"))

	resp = d.Handle(context.Background(), &Request{Method: http.MethodPost, Path: "/about.html"})
	assert.Equal(t, http.StatusNotFound, resp.Status)

	resp = d.Handle(context.Background(), &Request{Method: http.MethodGet, Path: "/broken.html"})
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, CodeRender, decodeError(t, resp).Error.Code)

	resp = d.Handle(context.Background(), &Request{Method: http.MethodGet, Path: "/nope"})
	assert.Equal(t, http.StatusNotFound, resp.Status)

	// Routes take precedence over files.
	resp = d.Handle(context.Background(), &Request{Method: http.MethodGet, Path: "/Echo"})
	assert.Equal(t, "none", string(resp.Body))
}

func TestSetTableSwapsAtomically(t *testing.T) {
	d := New(Options{})
	assert.Equal(t, 0, d.Table().Len())

	resp := d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusNotFound, resp.Status)

	d.SetTable(testRoutes(t))
	resp = d.Handle(context.Background(), &Request{Path: "/Echo"})
	assert.Equal(t, http.StatusOK, resp.Status)

	d.SetTable(nil)
	assert.Equal(t, 0, d.Table().Len())
}

func TestConcurrentRequestsAreIsolated(t *testing.T) {
	d := newDispatcher(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			resp := d.Handle(context.Background(), &Request{Path: "/Boom"})
			assert.Equal(t, http.StatusInternalServerError, resp.Status)
		}()
		go func(i int) {
			defer wg.Done()
			msg := string(rune('a' + i%26))
			resp := d.Handle(context.Background(), &Request{Path: "/Echo", Params: map[string]string{"msg": msg}})
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, msg, string(resp.Body))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, d.InFlight())
}

func TestDrainWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := &route.Descriptor{
		Path: "/Slow",
		Name: "Slow",
		Invoke: func(args []any) (any, error) {
			close(started)
			<-release
			return "done", nil
		},
	}
	d := newDispatcher(t, Options{}, slow)

	result := make(chan *Response, 1)
	go func() { result <- d.Handle(context.Background(), &Request{Path: "/Slow"}) }()
	<-started

	drained := make(chan error, 1)
	go func() { drained <- d.Drain(context.Background()) }()

	require.Eventually(t, func() bool {
		return d.Handle(context.Background(), &Request{Path: "/Echo"}).Status == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	select {
	case <-drained:
		t.Fatal("drain returned while a call was in flight")
	default:
	}

	close(release)
	resp := <-result
	assert.Equal(t, "done", string(resp.Body))
	require.NoError(t, <-drained)
}

func TestDrainHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	slow := &route.Descriptor{
		Path: "/Slow",
		Invoke: func(args []any) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
	}
	d := newDispatcher(t, Options{}, slow)
	go d.Handle(context.Background(), &Request{Path: "/Slow"})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Drain(ctx), context.DeadlineExceeded)
}

func TestStatusAndCodeOf(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusOf(nil))
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(ErrDraining))
	assert.Equal(t, CodeUnavailable, CodeOf(ErrDraining))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("other")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("other")))
}
