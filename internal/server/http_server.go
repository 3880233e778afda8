// Package server runs the HTTP listener and shuts it down gracefully.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/pilab-dev/shadow-auth/log"
)

// HTTPServer wraps an http.Server around the API handler.
type HTTPServer struct {
	srv    *http.Server
	logger log.Logger
}

// NewHTTPServer creates a server for handler on addr.
func NewHTTPServer(addr string, handler http.Handler, logger log.Logger) *HTTPServer {
	if logger == nil {
		logger = log.NewNop()
	}

	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// Serve accepts connections on ln until Shutdown is called. It returns nil
// after a clean shutdown.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.logger.Info(context.Background(), "HTTP server listening", log.Fields{"addr": ln.Addr().String()})

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *HTTPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "HTTP server shutting down")

	return s.srv.Shutdown(ctx)
}
