package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/page"
	"github.com/filebase-dev/filebase/pkg/route"
)

type fixture struct {
	handler *Handler
	server  *httptest.Server
	started chan struct{}
	release chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{started: make(chan struct{}, 8), release: make(chan struct{})}

	table, err := route.NewTable([]*route.Descriptor{
		{
			Path:   "/Test",
			Name:   "Test",
			Params: []route.Param{{Name: "msg", Type: route.TypeString, GoType: "string"}},
			Invoke: func(args []any) (any, error) {
				p := args[0].(*page.Page)
				return map[string]any{"msg": args[1], "transport": p.Transport()}, nil
			},
		},
		{
			Path:   "/Text",
			Name:   "Text",
			Invoke: func(args []any) (any, error) { return "plain", nil },
		},
		{
			Path:   "/Bytes",
			Name:   "Bytes",
			Invoke: func(args []any) (any, error) { return []byte{1, 2, 3}, nil },
		},
		{
			Path: "/Slow",
			Name: "Slow",
			Invoke: func(args []any) (any, error) {
				f.started <- struct{}{}
				<-f.release
				return "slow", nil
			},
		},
	})
	require.NoError(t, err)

	d := dispatch.New(dispatch.Options{})
	d.SetTable(table)

	f.handler = New(d, Config{CheckOrigin: func(*http.Request) bool { return true }})
	f.server = httptest.NewServer(f.handler)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func receive(t *testing.T, c *websocket.Conn) Reply {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var r Reply
	require.NoError(t, json.Unmarshal(data, &r), string(data))
	return r
}

func TestCall(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	send(t, c, `{"id":"1","path":"/Test","params":{"msg":"hi"}}`)
	r := receive(t, c)
	assert.Equal(t, "1", r.ID)
	assert.Equal(t, http.StatusOK, r.Status)
	assert.Equal(t, "application/json", r.ContentType)
	assert.JSONEq(t, `{"msg":"hi","transport":"websocket"}`, string(r.Body))

	send(t, c, `{"id":"2","path":"/Text"}`)
	r = receive(t, c)
	assert.Equal(t, `"plain"`, string(r.Body))

	send(t, c, `{"id":"3","path":"/Bytes"}`)
	r = receive(t, c)
	assert.Equal(t, `"AQID"`, string(r.Body))
}

func TestCallErrors(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	send(t, c, `{"id":"a","path":"/Test"}`)
	r := receive(t, c)
	assert.Equal(t, "a", r.ID)
	assert.Equal(t, http.StatusBadRequest, r.Status)

	var body dispatch.ErrorResponse
	require.NoError(t, json.Unmarshal(r.Body, &body))
	assert.Equal(t, dispatch.CodeMissingParameter, body.Error.Code)
	assert.Equal(t, "msg", body.Error.Param)

	send(t, c, `{"id":"b","path":"/Nope"}`)
	r = receive(t, c)
	assert.Equal(t, http.StatusNotFound, r.Status)

	send(t, c, `{"id":"c","path":"/Test","params":[1]}`)
	r = receive(t, c)
	assert.Equal(t, "c", r.ID)
	assert.Equal(t, http.StatusBadRequest, r.Status)

	send(t, c, `not json`)
	r = receive(t, c)
	assert.Empty(t, r.ID)
	assert.Equal(t, http.StatusBadRequest, r.Status)

	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, []byte{0}))
	r = receive(t, c)
	assert.Equal(t, http.StatusUnsupportedMediaType, r.Status)
}

func TestCallsRunConcurrently(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	send(t, c, `{"id":"slow","path":"/Slow"}`)
	<-f.started
	send(t, c, `{"id":"fast","path":"/Text"}`)

	assert.Equal(t, "fast", receive(t, c).ID)
	close(f.release)
	assert.Equal(t, "slow", receive(t, c).ID)
}

func TestCloseWaitsForCalls(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	require.Eventually(t, func() bool { return f.handler.Conns() == 1 }, time.Second, 5*time.Millisecond)

	send(t, c, `{"id":"slow","path":"/Slow"}`)
	<-f.started

	closed := make(chan error, 1)
	go func() { closed <- f.handler.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.release)
	r := receive(t, c)
	assert.Equal(t, "slow", r.ID)
	assert.Equal(t, `"slow"`, string(r.Body))

	require.NoError(t, <-closed)
	assert.Equal(t, 0, f.handler.Conns())

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCloseIdleConnection(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	require.Eventually(t, func() bool { return f.handler.Conns() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.handler.Close(ctx))
	assert.Equal(t, 0, f.handler.Conns())

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
}

func TestCloseTimeout(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)
	c := f.dial(t)

	send(t, c, `{"id":"slow","path":"/Slow"}`)
	<-f.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.handler.Close(ctx), context.DeadlineExceeded)
}

func TestReplyBody(t *testing.T) {
	assert.Nil(t, replyBody(&dispatch.Response{}))
	assert.Equal(t, `{"a":1}`, string(replyBody(&dispatch.Response{ContentType: "application/json", Body: []byte(`{"a":1}`)})))
	assert.Equal(t, `"x\"y"`, string(replyBody(&dispatch.Response{ContentType: "text/plain; charset=utf-8", Body: []byte(`x"y`)})))
	assert.Equal(t, `"<p>"`, string(replyBody(&dispatch.Response{ContentType: "text/html", Body: []byte(`<p>`)})))
}
