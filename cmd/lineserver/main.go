// Package main provides the lineserver HTTP API: the watcher/settings/
// errors/lock/queries/reports command surface operators and other tools
// drive over HTTP, backed by the same three SQLite stores linewatcher
// writes to.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/linetrace/linetrace/internal/api"
	"github.com/linetrace/linetrace/internal/api/middleware"
	"github.com/linetrace/linetrace/internal/coordinator"
	"github.com/linetrace/linetrace/internal/query"
	"github.com/linetrace/linetrace/internal/report"
	"github.com/linetrace/linetrace/internal/storage"
	"github.com/linetrace/linetrace/internal/watcher"
)

const (
	version = "1.0.0-dev"
	name    = "lineserver"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	})).With("component", name)

	logger.Info("starting lineserver",
		slog.String("version", version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
	)

	deps, stores, err := buildDependencies(&serverConfig, logger)
	if err != nil {
		logger.Error("failed to build dependencies", "error", err.Error())
		os.Exit(1)
	}

	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("failed to close stores cleanly", "error", err.Error())
		}
	}()

	server := api.NewServer(&serverConfig, deps)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", "error", err.Error())
		os.Exit(1)
	}

	logger.Info("lineserver stopped")
}

// buildDependencies opens all three stores and wires the services and
// watcher/coordinator pair lineserver's own /watcher/* commands drive.
func buildDependencies(cfg *api.ServerConfig, logger *slog.Logger) (api.Dependencies, *storage.Stores, error) {
	stores, err := storage.Open()
	if err != nil {
		return api.Dependencies{}, nil, fmt.Errorf("open stores: %w", err)
	}

	catalog := storage.NewCatalogStore(stores.Catalog)
	ingestStore := storage.NewIngestStore(stores.Voltech)
	voltechResults := storage.NewVoltechResultStore(stores.Voltech)

	queries := query.NewService(stores.Voltech)
	collector := report.NewCollector(catalog, stores.Voltech, stores.Manual)

	coord := coordinator.New(ingestStore, serverHolderIdentity())
	bus := watcher.NewBus(logger)
	watcherLoop := watcher.New(coord, ingestStore, voltechResults, bus)

	rateLimiterConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(rateLimiterConfig)

	deps := api.Dependencies{
		Catalog:     catalog,
		Queries:     queries,
		Collector:   collector,
		Coordinator: coord,
		Watcher:     watcherLoop,
		Bus:         bus,
		IngestStore: ingestStore,
		RateLimiter: rateLimiter,
	}

	return deps, stores, nil
}

// serverHolderIdentity names this process in the watcher_lock row when it
// acquires the lock itself via /watcher/start.
func serverHolderIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}

	return name + "@" + host
}
