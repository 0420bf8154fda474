package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/industriverse/industriverse-sub007/internal/shell/api"
	"github.com/industriverse/industriverse-sub007/internal/shell/apply"
	"github.com/industriverse/industriverse-sub007/internal/shell/engine"
	"github.com/industriverse/industriverse-sub007/internal/shell/probe"
	"github.com/industriverse/industriverse-sub007/internal/shell/rollback"
	"github.com/industriverse/industriverse-sub007/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 3
)

// =============================================================================
// Server
// =============================================================================

// Server represents the rollout coordinator server.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Validate rollback strategy up front
	var strategy rollback.Strategy
	switch cfg.Rollback.Strategy {
	case "", string(rollback.StrategyPhaseByPhase):
		strategy = rollback.StrategyPhaseByPhase
	case string(rollback.StrategyCascade):
		strategy = rollback.StrategyCascade
	default:
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      fmt.Errorf("unknown rollback strategy %q", cfg.Rollback.Strategy),
			ExitCode: ExitConfigError,
		}
	}

	// Deployment backend client
	var applier engine.Applier
	if cfg.Backend.URL != "" {
		applier = apply.NewHTTPApplier(apply.Config{
			BaseURL: cfg.Backend.URL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: cfg.Backend.Timeout,
		})
		logger.Info("deployment backend configured", "url", cfg.Backend.URL)
	} else {
		applier = apply.NewNoOpApplier()
		logger.Warn("no deployment backend configured, using no-op applier")
	}

	prober := probe.NewHTTPProber(probe.Config{
		RequestTimeout: cfg.Probe.RequestTimeout,
	}, logger)

	rb := rollback.NewManager(applier, rollback.Config{
		Strategy:   strategy,
		Timeout:    cfg.Rollback.Timeout,
		MaxRetries: cfg.Rollback.MaxRetries,
		RetryDelay: cfg.Rollback.RetryDelay,
	}, logger)

	eng := engine.New(applier, prober, rb, store.NewRecorder(s), engine.Config{
		MaxConcurrent:  cfg.Engine.MaxConcurrent,
		MaxAttempts:    cfg.Engine.MaxAttempts,
		RetryBaseDelay: cfg.Engine.RetryBaseDelay,
		ApplyTimeout:   cfg.Engine.ApplyTimeout,
	}, logger)

	handler := api.NewHandler(s, eng, rb, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
