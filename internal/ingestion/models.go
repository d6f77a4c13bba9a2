// Package ingestion provides the idempotency, error-logging, settings, and
// advisory-lock primitives shared by the Voltech and Manual measurement
// stores.
package ingestion

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	// ProcessedFile records that a file has been ingested, keyed by its
	// path (or, when RelativePath is set, the path relative to a
	// configured watch root that can move between workstations).
	//
	// A file needs reprocessing iff no ProcessedFile row exists for it, or
	// its stored Size/ModifiedAt differ from what's on disk now.
	ProcessedFile struct {
		FilePath     string
		RelativePath string
		Size         int64
		ModifiedAt   time.Time
		RecordCount  int
		ProcessedAt  time.Time
	}

	// ParseError records a file this watcher could not parse. Errors are
	// append-only until acknowledged; an admin retention policy deletes
	// acknowledged errors older than a configured number of days.
	ParseError struct {
		ID             int64
		FilePath       string
		Message        string
		LineNumber     *int
		OccurredAt     time.Time
		Acknowledged   bool
		AcknowledgedAt *time.Time
	}

	// Setting is one key/value row in the generic runtime-configuration
	// store (server_path, db_path, base_path, last_monthly_scan, ...).
	Setting struct {
		Key       string
		Value     string
		UpdatedAt time.Time
	}

	// WatcherLock is the single-row advisory lock coordinating Master and
	// Follower watcher instances across workstations sharing the fileshare.
	// The row is lazily created on first acquire.
	WatcherLock struct {
		HolderID        string
		HolderName      string
		IsActive        bool
		AcquiredAt      time.Time
		LastHeartbeatAt time.Time
	}
)

// StaleThreshold is the age past which a lock's heartbeat is considered
// stale and eligible for takeover.
const StaleThreshold = 120 * time.Second

// Sentinel errors for ingest-operations validation.
var (
	ErrFilePathEmpty  = errors.New("file path cannot be empty")
	ErrMessageEmpty   = errors.New("parse error message cannot be empty")
	ErrSettingKeyEmpty = errors.New("setting key cannot be empty")
	ErrHolderNameEmpty = errors.New("holder name cannot be empty")
)

// Validate checks that a ProcessedFile has the fields required to upsert it.
func (f *ProcessedFile) Validate() error {
	if strings.TrimSpace(f.FilePath) == "" {
		return ErrFilePathEmpty
	}

	if f.Size < 0 {
		return fmt.Errorf("file size cannot be negative: got %d", f.Size)
	}

	return nil
}

// NeedsProcessing reports whether a file with the given size/mtime differs
// from what was last recorded, per the needs_processing contract. A nil
// receiver (no prior ProcessedFile row) always needs processing.
func (f *ProcessedFile) NeedsProcessing(size int64, modifiedAt time.Time) bool {
	if f == nil {
		return true
	}

	return f.Size != size || !f.ModifiedAt.Equal(modifiedAt)
}

// IsStale reports whether the lock's last heartbeat is older than
// StaleThreshold, i.e. whether an Acquire attempt should take it over.
func (l *WatcherLock) IsStale(now time.Time) bool {
	if l == nil {
		return true
	}

	if !l.IsActive {
		return true
	}

	return now.Sub(l.LastHeartbeatAt) > StaleThreshold
}
