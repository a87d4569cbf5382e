// Package socket carries remote calls over WebSocket connections. Each
// text frame is one call; replies are matched to calls by id and may be
// sent out of order.
package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/encode"
	"github.com/filebase-dev/filebase/pkg/page"
)

// ErrClosed is returned by ServeHTTP after Close.
var ErrClosed = errors.New("socket: handler closed")

// Frame is a call sent by the client.
type Frame struct {
	ID     string          `json:"id"`
	Path   string          `json:"path"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Reply answers a Frame. JSON bodies are embedded as is, text bodies as a
// JSON string and binary bodies as base64.
type Reply struct {
	ID          string          `json:"id"`
	Status      int             `json:"status"`
	ContentType string          `json:"content_type,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Dispatcher handles calls.
type Dispatcher interface {
	Handle(ctx context.Context, req *dispatch.Request) *dispatch.Response
}

// Config configures a Handler.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int

	// MaxMessageSize limits incoming frames.
	MaxMessageSize int64

	// PingInterval is how often the server pings idle clients. A client
	// that stays silent for twice the interval is disconnected.
	PingInterval time.Duration

	// WriteTimeout bounds each reply write.
	WriteTimeout time.Duration

	// CheckOrigin validates the Origin header. Nil allows same-origin
	// requests only.
	CheckOrigin func(r *http.Request) bool

	TrustedProxies []string
	Logger         *slog.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  1 << 20,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

// Handler upgrades HTTP requests and serves calls on the connections.
type Handler struct {
	dispatcher Dispatcher
	config     Config
	upgrader   websocket.Upgrader
	proxies    *dispatch.ProxySet
	logger     *slog.Logger

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a Handler. Zero config fields take their defaults.
func New(d Dispatcher, config Config) *Handler {
	def := DefaultConfig()
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = def.ReadBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = def.WriteBufferSize
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "socket")

	return &Handler{
		dispatcher: d,
		config:     config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		proxies: dispatch.NewProxySet(config.TrustedProxies, logger),
		logger:  logger,
		conns:   make(map[*conn]struct{}),
	}
}

// Conns returns the number of open connections.
func (h *Handler) Conns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and serves calls until the connection
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	c := &conn{
		h:        h,
		ws:       ws,
		header:   r.Header.Clone(),
		clientIP: dispatch.ClientIP(r, h.proxies),
		remote:   r.RemoteAddr,
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.shutdown()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("connection opened", "remote", c.remote)
	c.serve(r.Context())

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.logger.Debug("connection closed", "remote", c.remote, "calls", c.count.Load())
}

// Close stops reading from every connection, waits for their in-flight
// calls to be answered and closes them. Later upgrades are refused.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.conns {
		c.stop()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type conn struct {
	h        *Handler
	ws       *websocket.Conn
	header   http.Header
	clientIP string
	remote   string

	writeMu  sync.Mutex
	readMu   sync.Mutex
	calls    sync.WaitGroup
	stopping atomic.Bool
	count    atomic.Int64
	done     chan struct{}
}

// stop makes the read loop return. The websocket read methods belong to
// the read loop, so the deadline is set on the net.Conn, whose methods may
// be called from any goroutine. readMu keeps extendDeadline from moving
// it back.
func (c *conn) stop() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.stopping.Store(true)
	_ = c.ws.NetConn().SetReadDeadline(time.Now())
}

func (c *conn) serve(ctx context.Context) {
	cfg := c.h.config
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})
	go c.pingLoop()

	// Calls outlive the read loop so that a closing handler still answers
	// them.
	callCtx := context.WithoutCancel(ctx)
	c.readLoop(callCtx)

	c.calls.Wait()
	c.shutdown()
}

// extendDeadline runs on the read loop, directly or from the pong handler.
func (c *conn) extendDeadline() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.stopping.Load() {
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * c.h.config.PingInterval))
}

func (c *conn) readLoop(ctx context.Context) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.stopping.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				c.h.logger.Warn("read error", "remote", c.remote, "error", err)
			}
			return
		}
		c.extendDeadline()
		if msgType != websocket.TextMessage {
			c.reply(rejected("", dispatch.ErrUnsupportedMediaType))
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(rejected("", fmt.Errorf("%w: %v", dispatch.ErrBadRequest, err)))
			continue
		}

		c.count.Add(1)
		c.calls.Add(1)
		go func() {
			defer c.calls.Done()
			c.reply(c.call(ctx, frame))
		}()
	}
}

func (c *conn) call(ctx context.Context, frame Frame) Reply {
	params := map[string]string{}
	if len(frame.Params) > 0 {
		var err error
		if params, err = dispatch.JSONParams(frame.Params); err != nil {
			return rejected(frame.ID, err)
		}
	}

	resp := c.h.dispatcher.Handle(ctx, &dispatch.Request{
		Method:     http.MethodPost,
		Path:       frame.Path,
		Params:     params,
		Header:     c.header,
		ClientIP:   c.clientIP,
		RemoteAddr: c.remote,
		Transport:  page.TransportWebSocket,
	})
	return Reply{ID: frame.ID, Status: resp.Status, ContentType: resp.ContentType, Body: replyBody(resp)}
}

// replyBody embeds a response body into the reply.
func replyBody(resp *dispatch.Response) json.RawMessage {
	if len(resp.Body) == 0 {
		return nil
	}
	if strings.HasPrefix(resp.ContentType, encode.ContentTypeJSON) && json.Valid(resp.Body) {
		return resp.Body
	}
	var v any = string(resp.Body)
	if resp.ContentType == encode.ContentTypeBinary {
		v = resp.Body
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// rejected answers a frame that never reached the dispatcher.
func rejected(id string, err error) Reply {
	body, _ := json.Marshal(dispatch.NewErrorResponse(err, "", false))
	return Reply{ID: id, Status: dispatch.StatusOf(err), ContentType: encode.ContentTypeJSON, Body: body}
}

func (c *conn) reply(r Reply) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		c.h.logger.Error("reply encode failed", "id", r.ID, "error", err)
		return
	}
	data := buf.Bytes()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.config.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.h.logger.Debug("reply write failed", "id", r.ID, "error", err)
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.h.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// shutdown sends a close frame and releases the connection.
func (c *conn) shutdown() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = c.ws.Close()
}
