package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const readHeaderTimeout = 5 * time.Second

// Server serves the control API on the configured address
type Server struct {
	logger *zap.Logger
	addr   string
	srv    *http.Server
	ln     net.Listener
}

// NewServer creates a server for handler. It does not listen yet.
func NewServer(logger *zap.Logger, cfg domain.Config, handler http.Handler) *Server {
	return &Server{
		logger: logger,
		addr:   cfg.GetListenAddr(),
		srv:    &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout},
	}
}

// Register ties the server to the fx lifecycle
func Register(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}

// Start binds the listener and serves in the background. Failing to bind
// is the only start-up error.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control API stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Control API listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop drains open requests
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown control API: %w", err)
	}
	s.logger.Info("Control API stopped")
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}
