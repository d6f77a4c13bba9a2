// Package api provides HTTP API server implementation for the linetrace service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/linetrace/linetrace/internal/api/middleware"
	"github.com/linetrace/linetrace/internal/coordinator"
	"github.com/linetrace/linetrace/internal/ingestion"
	"github.com/linetrace/linetrace/internal/query"
	"github.com/linetrace/linetrace/internal/report"
	"github.com/linetrace/linetrace/internal/storage"
	"github.com/linetrace/linetrace/internal/watcher"
)

// Dependencies bundles everything NewServer needs beyond pure configuration.
// Following the dependency injection pattern, configuration (what) stays in
// ServerConfig while dependencies (how) are constructed by the caller
// (cmd/lineserver) and handed in explicitly.
type Dependencies struct {
	Catalog     *storage.CatalogStore
	Queries     *query.Service
	Collector   *report.Collector
	Coordinator *coordinator.Coordinator
	Watcher     *watcher.Watcher
	Bus         *watcher.Bus
	IngestStore ingestion.Store // Voltech schema: settings, errors, lock status
	RateLimiter middleware.RateLimiter
}

// userLookupAdapter bridges storage.CatalogStore.UserByUsername (returning
// storage.User) to middleware.UserLookup (expecting middleware.OperatorUser),
// so internal/api/middleware never needs to import internal/storage.
type userLookupAdapter struct {
	catalog *storage.CatalogStore
}

func (a userLookupAdapter) UserByUsername(ctx context.Context, username string) (middleware.OperatorUser, error) {
	u, err := a.catalog.UserByUsername(ctx, username)
	if err != nil {
		return middleware.OperatorUser{}, err
	}

	return middleware.OperatorUser{
		Name:        u.Name,
		Permissions: u.Permissions,
		PINHash:     u.PINHash,
	}, nil
}

// Server represents the HTTP API server for the watcher/settings/errors/
// lock/queries/reports command surface.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	startTime  time.Time

	catalog     *storage.CatalogStore
	queries     *query.Service
	collector   *report.Collector
	coord       *coordinator.Coordinator
	watcher     *watcher.Watcher
	bus         *watcher.Bus
	ingestStore ingestion.Store
	rateLimiter middleware.RateLimiter

	runMu     sync.Mutex
	runCancel context.CancelFunc
}

// NewServer creates a new HTTP server instance with structured logging and
// the middleware stack (correlation ID, recovery, operator auth, rate
// limit, request logging, CORS).
func NewServer(cfg *ServerConfig, deps Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})).With("component", "lineserver")

	if deps.Catalog == nil || deps.Queries == nil || deps.Collector == nil {
		logger.Error("catalog, query, and report dependencies are required")
		panic("linetrace: catalog/query/report dependencies cannot be nil - this indicates a configuration error")
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		catalog:     deps.Catalog,
		queries:     deps.Queries,
		collector:   deps.Collector,
		coord:       deps.Coordinator,
		watcher:     deps.Watcher,
		bus:         deps.Bus,
		ingestStore: deps.IngestStore,
		rateLimiter: deps.RateLimiter,
	}

	server.setupRoutes(mux)

	lookup := middleware.UserLookup(userLookupAdapter{catalog: deps.Catalog})

	logger.Info("operator authentication middleware enabled")

	if deps.RateLimiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("rate limiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. OperatorAuth - identify operator and set OperatorContext
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithOperatorAuth(lookup, logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting lineserver",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server and stops any running watcher loop.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	s.stopWatcherLoop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed", slog.String("error", err.Error()))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server shutdown completed successfully")

	return nil
}
