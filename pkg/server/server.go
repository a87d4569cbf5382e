// Package server runs a route tree as an HTTP server.
//
// A Server discovers the remote functions under its root, publishes them
// to a dispatcher and serves them over HTTP and websocket until stopped:
//
//	s, err := server.New(server.DefaultConfig().WithRoot("public"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	s.Join()
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/filebase-dev/filebase/pkg/discovery"
	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/middleware"
	"github.com/filebase-dev/filebase/pkg/remote"
	"github.com/filebase-dev/filebase/pkg/render"
	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/filebase-dev/filebase/pkg/socket"
)

// Server serves the remote functions and files of one root directory.
type Server struct {
	config *Config
	root   string
	logger *slog.Logger

	scanner    *discovery.Scanner
	dispatcher *dispatch.Dispatcher
	socket     *socket.Handler
	metrics    *middleware.Metrics
	registry   *prometheus.Registry
	router     chi.Router

	// scanMu serializes Rescan.
	scanMu sync.Mutex

	mu         sync.Mutex
	state      State
	addr       string
	httpServer *http.Server
	ready      chan struct{}
	stopped    chan struct{}
	err        error
	stopErr    error
}

// New creates a Server in the created state. The config is cloned; zero
// fields that have defaults take them.
func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.Clone()

	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root: %v", ErrInvalidConfig, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: root %s is not a directory", ErrInvalidConfig, root)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Registry == nil {
		config.Registry = remote.Default
	}
	if config.Listen == nil {
		config.Listen = net.Listen
	}

	s := &Server{
		config:  config,
		root:    root,
		logger:  logger.With("component", "server"),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}

	s.scanner = discovery.NewScanner(root,
		discovery.WithSuffix(config.Suffix),
		discovery.WithIndexName(config.IndexName),
		discovery.WithContextParam(config.ContextParam),
		discovery.WithRegistry(config.Registry),
		discovery.WithLogger(logger),
	)

	var mw []dispatch.Middleware
	if config.Tracing.Enabled {
		opts := []middleware.OTelOption{middleware.WithTracerName(config.Tracing.TracerName)}
		if config.Tracing.Provider != nil {
			opts = append(opts, middleware.WithTracerProvider(config.Tracing.Provider))
		}
		mw = append(mw, middleware.OpenTelemetry(opts...))
	}
	if config.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = middleware.NewMetrics(
			middleware.WithNamespace(config.Metrics.Namespace),
			middleware.WithRegistry(s.registry),
		)
		mw = append(mw, s.metrics.Middleware())
	}
	mw = append(mw, config.Middleware...)

	s.dispatcher = dispatch.New(dispatch.Options{
		Host:             s,
		Renderer:         s.renderer(),
		Authorizer:       config.Authorizer,
		Middleware:       mw,
		ShowErrorDetails: config.ShowErrorDetails,
		MaxBodyBytes:     config.MaxBodyBytes,
		TrustedProxies:   config.TrustedProxies,
		RequestID:        func(r *http.Request) string { return chimw.GetReqID(r.Context()) },
		Logger:           logger,
	})

	s.socket = socket.New(s.dispatcher, socket.Config{
		CheckOrigin:    config.CheckOrigin,
		TrustedProxies: config.TrustedProxies,
		Logger:         logger,
	})

	if s.metrics != nil {
		s.metrics.GaugeFunc("calls_in_flight", "Remote calls currently executing",
			func() float64 { return float64(s.dispatcher.InFlight()) })
		s.metrics.GaugeFunc("websocket_connections", "Open websocket connections",
			func() float64 { return float64(s.socket.Conns()) })
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) renderer() render.Renderer {
	switch {
	case s.config.Renderer != nil:
		return s.config.Renderer
	case !s.config.ServeFiles:
		return nil
	}
	return render.NewFileRenderer(s.root,
		render.WithHiddenSuffix(s.config.Suffix),
		render.WithTemplates(s.config.Templates),
		render.WithRoutes(s.Routes),
		render.WithLogger(s.config.Logger),
	)
}

// Start discovers the routes, opens the listener and begins serving. It
// returns once the server is running. Any failure leaves the server
// stopped and is also returned by Join.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return &StateError{Op: "start", State: state}
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return s.abort(err)
	}
	if err := s.Rescan(); err != nil {
		return s.abort(err)
	}

	ln, err := s.config.Listen("tcp", s.config.Address)
	if err != nil {
		return s.abort(fmt.Errorf("%w on %s: %w", ErrListen, s.config.Address, err))
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr().String()
	s.state = StateRunning
	close(s.ready)
	s.mu.Unlock()

	go s.serve(httpServer, ln)
	if s.config.HandleSignals {
		go s.handleSignals()
	}

	s.logger.Info("server started",
		"address", s.addr,
		"root", s.root,
		"routes", s.dispatcher.Table().Len(),
	)
	return nil
}

func (s *Server) serve(httpServer *http.Server, ln net.Listener) {
	err := httpServer.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	s.logger.Error("server error", "error", err)
	if stopErr := s.stop(context.Background(), err); stopErr != nil {
		s.logger.Error("stop after server error failed", "error", stopErr)
	}
}

func (s *Server) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("shutting down", "signal", sig.String())
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Error("shutdown failed", "error", err)
		}
	case <-s.stopped:
	}
}

// abort moves a starting server to stopped.
func (s *Server) abort(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
	s.err = err
	close(s.ready)
	close(s.stopped)
	s.logger.Error("server failed to start", "root", s.root, "error", err)
	return err
}

// Join blocks until the server is stopped. It does not stop the server.
// The returned error is the start or serve failure, if any.
func (s *Server) Join() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateCreated {
		return &StateError{Op: "join", State: state}
	}
	<-s.stopped
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the server has stopped.
func (s *Server) Done() <-chan struct{} { return s.stopped }

// Stop gracefully shuts the server down: the listener is closed, then
// in-flight HTTP requests and websocket calls are allowed to finish. The
// server is stopped, and Join returns, only once every accepted call has
// completed; running calls are never aborted.
//
// Stop waits until then, or until ctx is done. When ctx has no deadline a
// positive Config.ShutdownTimeout bounds the wait. A Stop that gives up
// returns ErrShutdownTimeout and leaves the shutdown running.
//
// Stop is idempotent. Concurrent callers wait for the same shutdown.
func (s *Server) Stop(ctx context.Context) error {
	return s.stop(ctx, nil)
}

func (s *Server) stop(ctx context.Context, cause error) error {
	s.mu.Lock()
	switch s.state {
	case StateCreated:
		s.state = StateStopped
		close(s.ready)
		close(s.stopped)
		s.mu.Unlock()
		return nil

	case StateStarting:
		s.mu.Unlock()
		select {
		case <-s.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		return s.stop(ctx, cause)

	case StateRunning:
		s.state = StateStopping
		go s.shutdown(s.httpServer, cause)
	}
	s.mu.Unlock()
	return s.wait(ctx)
}

// shutdown runs the stopping sequence to completion.
func (s *Server) shutdown(httpServer *http.Server, cause error) {
	s.logger.Info("server stopping", "address", s.Addr())

	ctx := context.Background()
	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server: shutdown: %w", err))
	}
	if err := s.socket.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server: close websockets: %w", err))
	}
	if err := s.dispatcher.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server: drain calls: %w", err))
	}
	err := errors.Join(errs...)

	s.mu.Lock()
	s.state = StateStopped
	s.stopErr = err
	if cause != nil {
		s.err = cause
	}
	close(s.stopped)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("server stopped with errors", "error", err)
	} else {
		s.logger.Info("server shutdown complete")
	}
}

func (s *Server) wait(ctx context.Context) error {
	ctx, cancel := s.shutdownContext(ctx)
	defer cancel()

	select {
	case <-s.stopped:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopErr
	case <-ctx.Done():
		pending := s.dispatcher.InFlight()
		s.logger.Warn("stop gave up waiting", "in_flight", pending, "error", ctx.Err())
		return &ShutdownTimeoutError{InFlight: pending, Err: ctx.Err()}
	}
}

func (s *Server) shutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.config.ShutdownTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.ShutdownTimeout)
}

// Rescan rebuilds the route table from the root and publishes it. On
// failure the active table is kept and the errors are returned. Calls in
// flight finish against the table they started with.
func (s *Server) Rescan() error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	start := time.Now()
	table, err := s.scanner.Build()
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordDiscovery(elapsed, table.Len(), err)
	}
	if err != nil {
		return err
	}

	s.dispatcher.SetTable(table)
	s.logger.Info("routes discovered", "routes", table.Len(), "duration", elapsed)
	for _, d := range table.Routes() {
		s.logger.Debug("route", "path", d.Path, "source", d.Source.String(), "signature", d.Signature())
	}
	return nil
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the listen address once running, e.g. "127.0.0.1:8080".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Root returns the absolute root directory.
func (s *Server) Root() string { return s.root }

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Routes returns the active routes ordered by path.
func (s *Server) Routes() []*route.Descriptor { return s.dispatcher.Table().Routes() }

// Handler returns the HTTP handler of the server. It can be mounted
// elsewhere without calling Start; call Rescan first to publish routes.
func (s *Server) Handler() http.Handler { return s.router }

// Dispatcher returns the call dispatcher.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }
