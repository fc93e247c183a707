// Package api hosts the pagescope network surface: the HTTP API handler and
// the gRPC RangeService that streams the shared date range to remote
// consumers.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server

	mu      sync.Mutex
	httpLis net.Listener
	grpcLis net.Listener
}

// NewServer creates a Server serving handler on httpAddr and the range
// service on grpcAddr. An empty address disables that listener.
func NewServer(httpAddr, grpcAddr string, handler http.Handler, ranges *RangeService, log *slog.Logger) *Server {
	s := &Server{
		httpAddr: httpAddr,
		grpcAddr: grpcAddr,
		log:      log,
	}
	if httpAddr != "" {
		s.httpServer = &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	if grpcAddr != "" {
		s.grpcServer = grpc.NewServer()
		ranges.RegisterGRPC(s.grpcServer)
	}
	return s
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails. Cancellation triggers a graceful
// shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 2)
	var wg sync.WaitGroup

	if s.httpServer != nil {
		lis, err := net.Listen("tcp", s.httpAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
		}
		s.mu.Lock()
		s.httpLis = lis
		s.mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.log.Info("HTTP server listening", "addr", lis.Addr().String())
			if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	if s.grpcServer != nil {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			s.closeHTTP()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		s.mu.Lock()
		s.grpcLis = lis
		s.mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.log.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	wg.Wait()
	return runErr
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		if e := s.httpServer.Shutdown(ctx); e != nil {
			err = fmt.Errorf("HTTP shutdown: %w", e)
		}
	}
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
	s.log.Info("API server stopped")
	return err
}

// HTTPAddr returns the bound HTTP address once listening, else the
// configured one.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLis != nil {
		return s.httpLis.Addr().String()
	}
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address once listening, else the
// configured one.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcLis != nil {
		return s.grpcLis.Addr().String()
	}
	return s.grpcAddr
}

func (s *Server) closeHTTP() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}
