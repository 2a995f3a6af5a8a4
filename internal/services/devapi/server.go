package devapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/louisbranch/adminhub/internal/platform/timeouts"
	"github.com/louisbranch/adminhub/internal/services/devapi/storage/sqlite"
)

// Config configures the reference backend server.
type Config struct {
	HTTPAddr string
	DBPath   string
	Seed     bool
	Logger   *log.Logger
}

// Server runs the reference backend over HTTP.
type Server struct {
	httpAddr   string
	httpServer *http.Server
	store      *sqlite.Store
	logger     *log.Logger
}

// NewServer opens the record store and builds the HTTP server.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	store, err := sqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if config.Seed {
		if err := Seed(ctx, store); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed record store: %w", err)
		}
	}

	return &Server{
		httpAddr: httpAddr,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           NewHandler(store, logger),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store:  store,
		logger: logger,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("devapi server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	s.logger.Printf("devapi listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases the record store.
func (s *Server) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Printf("close record store: %v", err)
	}
}
