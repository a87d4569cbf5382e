package server

import (
	"context"
	"sync"
)

var global struct {
	mu     sync.Mutex
	server *Server
}

// StartGlobal creates and starts the process-wide server. While a global
// server exists that has not stopped, it fails with *AlreadyStartedError
// and leaves that server running. Once the previous global server has
// stopped a new one may be started.
func StartGlobal(ctx context.Context, config *Config) (*Server, error) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if cur := global.server; cur != nil {
		if state := cur.State(); state != StateStopped {
			return nil, &AlreadyStartedError{Root: cur.Root(), Addr: cur.Addr(), State: state}
		}
	}

	s, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	global.server = s
	return s, nil
}

// Global returns the process-wide server, or nil if none was started.
func Global() *Server {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.server
}
