// Package web serves the engine over a small JSON API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/emiliopalmerini/abassign/internal/adapters/logging"
	"github.com/emiliopalmerini/abassign/internal/engine"
	"github.com/emiliopalmerini/abassign/internal/ports"
	"github.com/emiliopalmerini/abassign/internal/shared/middleware"
)

type Server struct {
	router          *http.ServeMux
	port            int
	engine          *engine.Engine
	metrics         http.Handler
	logger          ports.Logger
	shutdownTimeout time.Duration
}

type Options struct {
	Port int
	// Metrics is mounted on GET /metrics when set.
	Metrics         http.Handler
	Logger          ports.Logger
	ShutdownTimeout time.Duration
}

func NewServer(eng *engine.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		router:          http.NewServeMux(),
		port:            opts.Port,
		engine:          eng,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}

	// Experiments
	s.router.HandleFunc("GET /api/experiments", s.handleListExperiments)
	s.router.HandleFunc("POST /api/experiments", s.handleCreateExperiment)
	s.router.HandleFunc("GET /api/experiments/{id}", s.handleGetExperiment)
	s.router.HandleFunc("DELETE /api/experiments/{id}", s.handleDeleteExperiment)
	s.router.HandleFunc("POST /api/experiments/{id}/activate", s.handleActivateExperiment)
	s.router.HandleFunc("POST /api/experiments/{id}/complete", s.handleCompleteExperiment)
	s.router.HandleFunc("POST /api/experiments/{id}/stop", s.handleStopExperiment)
	s.router.HandleFunc("GET /api/experiments/{id}/stats", s.handleExperimentStats)
	s.router.HandleFunc("GET /api/experiments/{id}/events", s.handleExperimentEvents)
	s.router.HandleFunc("GET /api/experiments/{id}/audit/{user}", s.handleAudit)

	// Variants
	s.router.HandleFunc("POST /api/experiments/{id}/variants", s.handleAddVariant)
	s.router.HandleFunc("PATCH /api/experiments/{id}/variants/{variant}", s.handleUpdateVariant)
	s.router.HandleFunc("DELETE /api/experiments/{id}/variants/{variant}", s.handleRemoveVariant)

	// Collaborator surface
	s.router.HandleFunc("POST /api/resolve", s.handleResolve)
	s.router.HandleFunc("POST /api/outcomes", s.handleOutcome)
	s.router.HandleFunc("DELETE /api/users/{id}", s.handleEraseUser)
}

// Handler returns the router wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	return middleware.Chain(s.router,
		middleware.RequestID,
		middleware.Logger(s.logger),
		middleware.Recoverer(s.logger),
	)
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", "addr", server.Addr)

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil // Graceful shutdown
	}
	return err
}
