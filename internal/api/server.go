package api

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/logger"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// Server runs the HTTP and gRPC listeners of the query surface.
type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	httpLis    net.Listener
	grpcLis    net.Listener
	wg         sync.WaitGroup
}

// NewServer binds both listeners. An empty address disables that listener.
func NewServer(cfg config.APIConfig, h *Handler) (*Server, error) {
	s := &Server{}
	if cfg.HttpListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.HttpListenAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.HttpListenAddr, err)
		}
		s.httpLis = lis
		s.httpServer = &http.Server{
			Handler:           h.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	if cfg.GrpcListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
		if err != nil {
			if s.httpLis != nil {
				s.httpLis.Close()
			}
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GrpcListenAddr, err)
		}
		s.grpcLis = lis
		s.grpcServer = grpc.NewServer()
		RegisterFlowQueryServer(s.grpcServer, NewFlowQueryService(h.Facade))
	}
	return s, nil
}

// HTTPAddr returns the bound HTTP address, or "" when disabled.
func (s *Server) HTTPAddr() string {
	if s.httpLis == nil {
		return ""
	}
	return s.httpLis.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// Start serves both listeners in the background.
func (s *Server) Start() {
	if s.grpcServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			logger.Info("gRPC API server starting", "addr", s.GRPCAddr())
			if err := s.grpcServer.Serve(s.grpcLis); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
		}()
	}
	if s.httpServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			logger.Info("HTTP API server starting", "addr", s.HTTPAddr())
			if err := s.httpServer.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "error", err)
			}
		}()
	}
}

// Stop shuts both servers down, waiting for in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) {
	if s.grpcServer != nil {
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Warn("HTTP server shutdown incomplete", "error", err)
			s.httpServer.Close()
		}
	}
	s.wg.Wait()
	logger.Info("API servers exited")
}
