// Package main runs the standalone linewatcher process: the single-writer
// Voltech scan loop plus an independent manual-CSV sweep, with no HTTP
// surface of its own. Operators control a running instance through
// lineserver's /watcher/* commands, which talk to the same three SQLite
// stores this process does.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linetrace/linetrace/internal/config"
	"github.com/linetrace/linetrace/internal/coordinator"
	"github.com/linetrace/linetrace/internal/storage"
	"github.com/linetrace/linetrace/internal/watcher"
)

const (
	version = "1.0.0-dev"
	name    = "linewatcher"

	manualSweepInterval = 2 * time.Minute
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", name)

	stores, err := storage.Open()
	if err != nil {
		logger.Error("failed to open stores", "error", err.Error())
		os.Exit(1)
	}

	defer stores.Close()

	holderName := holderIdentity()

	ingestStore := storage.NewIngestStore(stores.Voltech)
	voltechResults := storage.NewVoltechResultStore(stores.Voltech)
	manualFiles := storage.NewFileStore(stores.Manual)
	manualResults := storage.NewManualResultStore(stores.Manual)

	coord := coordinator.New(ingestStore, holderName)
	bus := watcher.NewBus(logger)

	if kafkaWriter := newKafkaMirror(); kafkaWriter != nil {
		bus.SetKafkaMirror(kafkaWriter)
		logger.Info("kafka progress-event mirroring enabled")
	}

	w := watcher.New(coord, ingestStore, voltechResults, bus)
	sweeper := watcher.NewManualSweeper(manualFiles, manualResults)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("acquiring watcher lock", "holder", holderName)

	state, err := coord.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire lock", "error", err.Error())
		os.Exit(1)
	}

	logger.Info("lock acquired", "state", string(state))

	go runManualSweepLoop(ctx, sweeper, logger)

	if state == coordinator.StateMaster {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watcher loop exited with error", "error", err.Error())
			os.Exit(1)
		}
	} else {
		logger.Info("acquired as follower; idling until process exit")
		<-ctx.Done()
	}

	logger.Info("linewatcher stopped")
}

// runManualSweepLoop sweeps the manual-CSV tree on a fixed interval.
// Independent of the Voltech single-writer lock: any process holding
// base_path may sweep concurrently with another workstation's watcher.
func runManualSweepLoop(ctx context.Context, sweeper *watcher.ManualSweeper, logger *slog.Logger) {
	ticker := time.NewTicker(manualSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := sweeper.Sweep(ctx)
			if err != nil {
				logger.Error("manual sweep failed", "error", err.Error())
				continue
			}

			if processed > 0 {
				logger.Info("manual sweep complete", "files_processed", processed)
			}
		}
	}
}

// holderIdentity names this process in the watcher_lock row: the OS
// username if available, falling back to hostname-pid.
func holderIdentity() string {
	if u := config.GetEnvStr("USER", ""); u != "" {
		return u
	}

	if u := config.GetEnvStr("USERNAME", ""); u != "" {
		return u
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}

	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
