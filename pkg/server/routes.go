package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filebase-dev/filebase/pkg/route"
)

// RouteInfo is the JSON form of a route in the route listing.
type RouteInfo struct {
	Path      string      `json:"path"`
	Name      string      `json:"name"`
	Source    string      `json:"source"`
	Signature string      `json:"signature"`
	Params    []ParamInfo `json:"params"`
}

// ParamInfo is the JSON form of a route parameter.
type ParamInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	GoType   string `json:"go_type"`
	Nullable bool   `json:"nullable,omitempty"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// Describe converts descriptors to their listing form.
func Describe(routes []*route.Descriptor) []RouteInfo {
	out := make([]RouteInfo, 0, len(routes))
	for _, d := range routes {
		info := RouteInfo{
			Path:      d.Path,
			Name:      d.Name,
			Source:    d.Source.String(),
			Signature: d.Signature(),
			Params:    make([]ParamInfo, 0, len(d.Params)),
		}
		for _, p := range d.Params {
			info.Params = append(info.Params, ParamInfo{
				Name:     p.Name,
				Type:     p.Type.String(),
				GoType:   p.GoType,
				Nullable: p.Nullable,
				Required: p.Required(),
				Default:  p.Default,
			})
		}
		out = append(out, info)
	}
	return out
}

// Health is the body of the health endpoint.
type Health struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	Routes      int    `json:"routes"`
	InFlight    int    `json:"in_flight"`
	Connections int    `json:"connections"`
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)

	r.Get(SystemPrefix+"/health", s.handleHealth)
	r.Get(SystemPrefix+"/routes", s.handleRoutes)
	r.Get(SystemPrefix+"/ws", s.socket.ServeHTTP)
	if s.registry != nil {
		r.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			ErrorLog: slogErrorLog{s.logger},
		}))
	}
	r.Handle("/*", s.dispatcher)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.State()
	h := Health{
		Status:      "ok",
		State:       state.String(),
		Routes:      s.dispatcher.Table().Len(),
		InFlight:    s.dispatcher.InFlight(),
		Connections: s.socket.Conns(),
	}
	status := http.StatusOK
	if state == StateStopping || state == StateStopped {
		h.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Describe(s.Routes()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// accessLog logs one line per HTTP request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// slogErrorLog adapts a slog.Logger to promhttp.Logger.
type slogErrorLog struct {
	logger interface{ Error(msg string, args ...any) }
}

func (l slogErrorLog) Println(v ...any) {
	l.logger.Error("metrics handler error", "error", v)
}
