package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linetrace/linetrace/internal/coordinator"
	"github.com/linetrace/linetrace/internal/ingestion"
	"github.com/linetrace/linetrace/internal/parser"
	"github.com/linetrace/linetrace/internal/storage"
)

// Timer periods from the scan/heartbeat/maintenance schedule.
const (
	PollInterval        = 10 * time.Second
	MaintenanceInterval = 7 * 24 * time.Hour

	serverPathSettingKey      = "server_path"
	lastMaintenanceSettingKey = "last_monthly_scan"
)

// retryLadder is the parse-and-insert retry schedule: delays before attempts
// 2, 3, and 4; attempt 5 and beyond fall back to the last entry.
var retryLadder = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second, 300 * time.Second}

// ErrServerPathNotConfigured is returned by an operator-triggered rescan
// when no server_path setting has been set yet.
var ErrServerPathNotConfigured = errors.New("watcher: server_path not configured")

// Command is sent on a Watcher's control channel.
type Command int

const (
	// Pause holds off all scans but keeps the heartbeat alive.
	Pause Command = iota
	// Resume lifts a prior Pause.
	Resume
	// Stop releases the lock and ends the Run loop.
	Stop
)

// retryState tracks a single failing file's position on the retry ladder
// across scan cycles so a blocked file never stalls the cooperative
// scheduler with an in-line sleep.
type retryState struct {
	attempts      int
	nextAttemptAt time.Time
}

// Watcher runs the Voltech scan loop while its Coordinator holds the
// single-writer lock. Manual-CSV ingestion has no lock of its own and is
// swept independently — see SweepManual.
type Watcher struct {
	coord   *coordinator.Coordinator
	store   ingestion.Store
	results *storage.VoltechResultStore
	bus     *Bus
	logger  *slog.Logger

	mu      sync.Mutex
	paused  bool
	retries map[string]*retryState

	cmd chan Command
}

// New builds a Watcher. store is the Voltech ingest store (processed_file,
// parse_error, watcher_lock); results is where parsed rows land.
func New(coord *coordinator.Coordinator, store ingestion.Store, results *storage.VoltechResultStore, bus *Bus) *Watcher {
	return &Watcher{
		coord:   coord,
		store:   store,
		results: results,
		bus:     bus,
		logger:  slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "watcher"),
		retries: make(map[string]*retryState),
		cmd:     make(chan Command, 1),
	}
}

// Control sends a Pause/Resume/Stop command to a running Run loop.
func (w *Watcher) Control(cmd Command) {
	w.cmd <- cmd
}

// Run drives the heartbeat/poll/maintenance timers until ctx is canceled or
// a Stop command arrives. The caller must already hold the Master role
// (coord.Acquire) before calling Run; Run returns once it demotes, is
// stopped, or ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	if w.coord.State() != coordinator.StateMaster {
		return coordinator.ErrNotMaster
	}

	heartbeat := time.NewTicker(coordinator.HeartbeatInterval)
	defer heartbeat.Stop()

	poll := time.NewTicker(PollInterval)
	defer poll.Stop()

	maintenance := time.NewTicker(MaintenanceInterval)
	defer maintenance.Stop()

	if err := w.runMaintenanceSweep(ctx); err != nil {
		w.logger.Error("eager first-run maintenance sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return w.coord.Release(context.Background())

		case cmd := <-w.cmd:
			switch cmd {
			case Pause:
				w.mu.Lock()
				w.paused = true
				w.mu.Unlock()

				w.bus.Publish(ctx, ProgressEvent{Type: EventPaused, OccurredAt: time.Now()})

			case Resume:
				w.mu.Lock()
				w.paused = false
				w.mu.Unlock()

				w.bus.Publish(ctx, ProgressEvent{Type: EventResumed, OccurredAt: time.Now()})

			case Stop:
				return w.coord.Release(ctx)
			}

		case <-heartbeat.C:
			state, err := w.coord.Heartbeat(ctx)
			if err != nil && !errors.Is(err, coordinator.ErrNotMaster) {
				w.logger.Error("heartbeat failed", "error", err)
				continue
			}

			if state != coordinator.StateMaster {
				w.logger.Warn("lost master role, ending watch loop")
				return nil
			}

		case <-poll.C:
			if w.isPaused() {
				continue
			}

			if err := w.runScanCycle(ctx); err != nil {
				w.logger.Error("scan cycle failed", "error", err)
			}

		case <-maintenance.C:
			if w.isPaused() {
				continue
			}

			if err := w.runMaintenanceSweep(ctx); err != nil {
				w.logger.Error("maintenance sweep failed", "error", err)
			}
		}
	}
}

func (w *Watcher) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.paused
}

// runScanCycle enumerates the configured server path, identifies candidates
// via NeedsProcessing, and attempts parse-and-insert per candidate with the
// retry ladder. A single progress event summarizes the whole cycle.
func (w *Watcher) runScanCycle(ctx context.Context) error {
	root, ok, err := w.store.GetSetting(ctx, serverPathSettingKey)
	if err != nil {
		return fmt.Errorf("load server_path setting: %w", err)
	}

	if !ok || root == "" {
		w.logger.Debug("server_path not configured, skipping scan cycle")
		return nil
	}

	return w.scanRoot(ctx, root, time.Now(), false)
}

// FullImport forces a complete re-scan of the configured server path,
// bypassing NeedsProcessing so every matching file is re-parsed regardless
// of its recorded size/mtime. Safe to call outside the poll loop (an
// operator-triggered command): ON CONFLICT DO NOTHING at the store layer
// makes the re-insert a no-op wherever a row already exists.
func (w *Watcher) FullImport(ctx context.Context) error {
	root, ok, err := w.store.GetSetting(ctx, serverPathSettingKey)
	if err != nil {
		return fmt.Errorf("load server_path setting: %w", err)
	}

	if !ok || root == "" {
		return ErrServerPathNotConfigured
	}

	return w.scanRoot(ctx, root, time.Now(), true)
}

// ImportRange forces the same complete re-scan FullImport runs. The serial
// range itself is not a file-level filter — Voltech files carry many serial
// numbers each, and which ones land inside a file isn't known without
// parsing it — so the range is only written to the log, not used to skip
// files in the walk.
func (w *Watcher) ImportRange(ctx context.Context, from, to string) error {
	if err := w.FullImport(ctx); err != nil {
		return err
	}

	w.logger.Info("import_range completed via forced full rescan", "from", from, "to", to)

	return nil
}

// runMaintenanceSweep re-runs the same full recursive walk as a poll cycle.
// Per-file idempotency already comes from size/mtime comparison against
// ProcessedFile, so there's no separate 30-day cutoff to apply here: a file
// untouched since long before any outage is just as cheap to re-stat as one
// from yesterday, and skipping it by age would risk missing exactly the
// file this timer exists to catch. last_monthly_scan is persisted purely as
// an audit trail of when the sweep last completed.
func (w *Watcher) runMaintenanceSweep(ctx context.Context) error {
	root, ok, err := w.store.GetSetting(ctx, serverPathSettingKey)
	if err != nil {
		return fmt.Errorf("load server_path setting: %w", err)
	}

	if !ok || root == "" {
		return nil
	}

	now := time.Now()

	if err := w.scanRoot(ctx, root, now, false); err != nil {
		return err
	}

	return w.store.SetSetting(ctx, lastMaintenanceSettingKey, now.Format(time.RFC3339))
}

// scanRoot walks root, collects Voltech candidates needing processing (or,
// when force is true, every matching file regardless of NeedsProcessing),
// and runs each through parseAndInsertWithRetry in enumeration order.
func (w *Watcher) scanRoot(ctx context.Context, root string, now time.Time, force bool) error {
	var (
		filesProcessed  int
		recordsInserted int
		failures        []string
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err //nolint:wrapcheck
		}

		if d.IsDir() || !parser.IsVoltechFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: stat failed: %v", path, err))
			return nil
		}

		if !force {
			needs, err := w.store.NeedsProcessing(ctx, path, info.Size(), info.ModTime())
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: needs_processing check failed: %v", path, err))
				return nil
			}

			if !needs {
				return nil
			}
		}

		if w.retryBlocked(path, now) {
			return nil
		}

		inserted, procErr := w.parseAndInsert(ctx, path, info)
		filesProcessed++

		if procErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, procErr))
			return nil
		}

		recordsInserted += inserted

		return nil
	})
	if err != nil {
		return fmt.Errorf("walk server path %q: %w", root, err)
	}

	w.bus.Publish(ctx, ProgressEvent{
		Type:            EventBatchProgress,
		FilesProcessed:  filesProcessed,
		RecordsInserted: recordsInserted,
		Errors:          failures,
		OccurredAt:      now,
	})

	return nil
}

// retryBlocked reports whether path failed recently enough that its next
// retry slot, per the ladder, hasn't arrived yet.
func (w *Watcher) retryBlocked(path string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.retries[path]

	return ok && now.Before(state.nextAttemptAt)
}

// recordAttempt advances path's retry state after a failed attempt,
// scheduling the next eligible time per the ladder.
func (w *Watcher) recordAttempt(path string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.retries[path]
	if !ok {
		state = &retryState{}
		w.retries[path] = state
	}

	delay := retryLadder[len(retryLadder)-1]
	if state.attempts < len(retryLadder) {
		delay = retryLadder[state.attempts]
	}

	state.attempts++
	state.nextAttemptAt = now.Add(delay)
}

// clearRetryState drops path's retry bookkeeping after a successful
// parse-and-insert.
func (w *Watcher) clearRetryState(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.retries, path)
}

// parseAndInsert decodes path and writes its rows in one transaction. On
// success the ProcessedFile bookkeeping is updated and retry state cleared;
// on failure the error is logged to ParseError and the retry ladder
// advances for the next cycle.
func (w *Watcher) parseAndInsert(ctx context.Context, path string, info os.FileInfo) (int, error) {
	results, rowErrors, err := parser.ParseVoltechFile(ctx, path)
	if err != nil {
		w.recordAttempt(path, time.Now())

		if _, logErr := w.store.LogParseError(ctx, path, err.Error(), nil); logErr != nil {
			w.logger.Error("failed to log parse error", "file_path", path, "error", logErr)
		}

		return 0, fmt.Errorf("parse failed: %w", err)
	}

	for _, rowErr := range rowErrors {
		w.logger.Warn("skipped malformed voltech row",
			"file_path", path, "line", rowErr.LineNumber, "message", rowErr.Message)
	}

	inserted, err := w.results.InsertBatch(ctx, results)
	if err != nil {
		w.recordAttempt(path, time.Now())

		if _, logErr := w.store.LogParseError(ctx, path, err.Error(), nil); logErr != nil {
			w.logger.Error("failed to log insert error", "file_path", path, "error", logErr)
		}

		return 0, fmt.Errorf("insert failed: %w", err)
	}

	if err := w.store.MarkFileProcessed(ctx, path, info.Size(), info.ModTime(), len(results)); err != nil {
		return inserted, fmt.Errorf("mark processed failed: %w", err)
	}

	w.clearRetryState(path)

	return inserted, nil
}
