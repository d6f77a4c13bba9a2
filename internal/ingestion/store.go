package ingestion

import (
	"context"
	"time"
)

// FileTrackingStore defines the idempotency and settings operations both
// measurement stores support. The Manual store implements only this
// interface: Manual carries no ParseError log or WatcherLock of its
// own.
type FileTrackingStore interface {
	// NeedsProcessing reports whether the named file (absolute path) must
	// be (re)parsed, per its current size/mtime against the last recorded
	// ProcessedFile.
	NeedsProcessing(ctx context.Context, filePath string, size int64, modifiedAt time.Time) (bool, error)

	// MarkFileProcessed upserts the ProcessedFile row for filePath.
	MarkFileProcessed(ctx context.Context, filePath string, size int64, modifiedAt time.Time, recordCount int) error

	// NeedsProcessingRelative is NeedsProcessing keyed by a path relative
	// to a configured watch root, for roots that can be remounted under a
	// different local path across workstations.
	NeedsProcessingRelative(ctx context.Context, relativePath string, size int64, modifiedAt time.Time) (bool, error)

	// MarkFileProcessedRelative is MarkFileProcessed keyed by relative path.
	MarkFileProcessedRelative(ctx context.Context, relativePath string, size int64, modifiedAt time.Time, recordCount int) error

	// GetSetting returns the value for key, or ("", false, nil) if unset.
	GetSetting(ctx context.Context, key string) (string, bool, error)

	// SetSetting upserts key/value.
	SetSetting(ctx context.Context, key, value string) error

	// GetAllSettings returns every setting row.
	GetAllSettings(ctx context.Context) ([]Setting, error)

	// DeleteSetting removes a setting. No error if it doesn't exist.
	DeleteSetting(ctx context.Context, key string) error
}

// Store is the full set of ingest operations the Voltech store supports:
// FileTrackingStore plus error logging and the advisory lock the
// Coordinator (C3) and Watcher Loop (C4) operate against.
type Store interface {
	FileTrackingStore

	// LogParseError appends a ParseError row and returns its id.
	LogParseError(ctx context.Context, filePath, message string, lineNumber *int) (int64, error)

	// GetErrors returns ParseError rows, optionally filtered by
	// acknowledgement state and/or file path. A nil acknowledged filter
	// returns both acknowledged and unacknowledged rows.
	GetErrors(ctx context.Context, acknowledged *bool, filePath string) ([]ParseError, error)

	// AcknowledgeErrors marks the given ParseError ids acknowledged.
	AcknowledgeErrors(ctx context.Context, ids []int64) error

	// AcknowledgeFileErrors marks every ParseError for filePath acknowledged.
	AcknowledgeFileErrors(ctx context.Context, filePath string) error

	// CleanupOldErrors deletes acknowledged errors older than the given
	// number of days.
	CleanupOldErrors(ctx context.Context, days int) (int64, error)

	// AcquireLock implements the Acquire protocol: takes the lock if
	// absent, inactive, or stale, otherwise observes the current holder.
	// Returns the resulting lock row and whether the caller became Master.
	AcquireLock(ctx context.Context, holderName string) (lock WatcherLock, acquired bool, err error)

	// UpdateHeartbeat refreshes last_heartbeat_at for holderID, but only
	// while it is still the active holder. Returns false if zero rows were
	// affected (the caller has lost the lock and must demote).
	UpdateHeartbeat(ctx context.Context, holderID string) (bool, error)

	// ReleaseLock clears is_active for holderID on clean shutdown.
	ReleaseLock(ctx context.Context, holderID string) error

	// CheckStaleLock reports whether the current lock row (if any) is
	// stale per StaleThreshold.
	CheckStaleLock(ctx context.Context) (bool, error)

	// GetLockInfo returns the current lock row, or (zero value, false, nil)
	// if no lock row exists yet.
	GetLockInfo(ctx context.Context) (WatcherLock, bool, error)

	// ForceReleaseLock clears is_active unconditionally (admin-only at the
	// command layer; this method performs no authorization itself).
	ForceReleaseLock(ctx context.Context) error
}
