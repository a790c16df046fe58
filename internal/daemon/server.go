package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/commdesk/commsync/internal/api"
	"github.com/commdesk/commsync/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Server serves the control API on the session's unix socket, and
// optionally on a TCP address for dashboards running off-host.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	tcpAddr    string
	logger     *zap.Logger
}

// NewServer binds the session socket and prepares the HTTP server.
func NewServer(p Params, logger *zap.Logger, handler *api.Handler, reg *prometheus.Registry) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		httpServer: &http.Server{
			Handler:           handler.Router(reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener:   listener,
		socketPath: socketPath,
		tcpAddr:    p.Config.Daemon.Listen,
		logger:     logger,
	}, nil
}

// Start begins serving. Blocks until stopped.
func (s *Server) Start() error {
	if s.tcpAddr != "" {
		tcp, err := net.Listen("tcp", s.tcpAddr)
		if err != nil {
			return fmt.Errorf("listen tcp: %w", err)
		}
		s.logger.Info("http server listening", zap.String("addr", s.tcpAddr))
		go func() {
			if err := s.httpServer.Serve(tcp); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("tcp listener error", zap.Error(err))
			}
		}()
	}

	s.logger.Info("http server starting", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown error", zap.Error(err))
	}
	_ = os.Remove(s.socketPath)
}
