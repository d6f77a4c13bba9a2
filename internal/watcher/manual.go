package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/linetrace/linetrace/internal/ingestion"
	"github.com/linetrace/linetrace/internal/parser"
	"github.com/linetrace/linetrace/internal/storage"
)

// ManualSweeper ingests manual CSV files under <base_path>/<fg>/*.csv. Unlike
// the Voltech Watcher, it carries no single-writer lock: the Manual schema
// has no watcher_lock table, and concurrent idempotent inserts across
// workstations are already safe via the (file_path, result) unique
// constraint, so any process holding the setting may sweep independently.
type ManualSweeper struct {
	files   ingestion.FileTrackingStore
	results *storage.ManualResultStore
	logger  *slog.Logger
}

// NewManualSweeper builds a ManualSweeper. files is the Manual FileStore
// (processed_file + settings); results is where parsed rows land.
func NewManualSweeper(files ingestion.FileTrackingStore, results *storage.ManualResultStore) *ManualSweeper {
	return &ManualSweeper{
		files:   files,
		results: results,
		logger:  slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "manual_sweeper"),
	}
}

const basePathSettingKey = "base_path"

// Sweep walks <base_path>/*/*.csv, parsing and inserting every candidate
// that NeedsProcessing reports as changed. It returns the count of files
// successfully processed; per-file failures are logged and skipped rather
// than aborting the whole sweep.
func (s *ManualSweeper) Sweep(ctx context.Context) (int, error) {
	root, ok, err := s.files.GetSetting(ctx, basePathSettingKey)
	if err != nil {
		return 0, fmt.Errorf("load base_path setting: %w", err)
	}

	if !ok || root == "" {
		s.logger.Debug("base_path not configured, skipping manual sweep")
		return 0, nil
	}

	processed := 0

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr //nolint:wrapcheck
		}

		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".csv") {
			return nil
		}

		// Only <base_path>/<fg>/*.csv: exactly one directory level below root.
		if rel, relErr := filepath.Rel(root, path); relErr != nil || strings.Count(filepath.ToSlash(rel), "/") != 1 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Error("stat failed", "file_path", path, "error", err)
			return nil
		}

		needs, err := s.files.NeedsProcessing(ctx, path, info.Size(), info.ModTime())
		if err != nil {
			s.logger.Error("needs_processing check failed", "file_path", path, "error", err)
			return nil
		}

		if !needs {
			return nil
		}

		results, rowErrors, err := parser.ParseManualFile(ctx, path)
		if err != nil {
			s.logger.Error("parse failed", "file_path", path, "error", err)
			return nil
		}

		for _, rowErr := range rowErrors {
			s.logger.Warn("skipped malformed manual row", "file_path", path, "line", rowErr.LineNumber, "message", rowErr.Message)
		}

		if _, err := s.results.InsertBatch(ctx, results); err != nil {
			s.logger.Error("insert failed", "file_path", path, "error", err)
			return nil
		}

		if err := s.files.MarkFileProcessed(ctx, path, info.Size(), info.ModTime(), len(results)); err != nil {
			s.logger.Error("mark processed failed", "file_path", path, "error", err)
			return nil
		}

		processed++

		return nil
	})
	if err != nil {
		return processed, fmt.Errorf("walk base path %q: %w", root, err)
	}

	return processed, nil
}
