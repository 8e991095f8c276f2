package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cadre-oss/mneme/internal/companion"
	"github.com/cadre-oss/mneme/internal/config"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// Server is the mneme HTTP API server.
type Server struct {
	cfg     *config.Config
	svc     *companion.Service
	broker  *Broker
	logger  *telemetry.Logger
	started time.Time
}

// New creates a new server instance.
func New(cfg *config.Config, svc *companion.Service, logger *telemetry.Logger) *Server {
	broker := NewBroker(logger)
	// Register the broker as an event hook so memory events reach SSE and
	// WebSocket clients.
	svc.Bus().Register(broker)

	return &Server{
		cfg:     cfg,
		svc:     svc,
		broker:  broker,
		logger:  logger,
		started: time.Now(),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.setupRoutes())
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting mneme API", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.svc.Bus().Unregister(s.broker.Name())
		s.broker.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Memories
	mux.HandleFunc("GET /api/memories", s.handleListMemories)
	mux.HandleFunc("POST /api/memories", s.handleAddMemory)
	mux.HandleFunc("PUT /api/memories/{title}", s.handleUpdateMemory)
	mux.HandleFunc("DELETE /api/memories/{title}", s.handleDeleteMemory)
	mux.HandleFunc("POST /api/memories/clear", s.handleClearMemories)
	mux.HandleFunc("POST /api/memories/search", s.handleSearchMemories)
	mux.HandleFunc("POST /api/memories/extract", s.handleExtract)

	// Chat
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("DELETE /api/chat/{session}", s.handleResetChat)

	// Event streams
	mux.HandleFunc("GET /api/events", s.handleSSEEvents)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	return mux
}

// corsMiddleware adds CORS headers for development mode.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
