package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/linetrace/linetrace/internal/ingestion"
)

// sqliteTimeFormat matches the default `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`
// column default used throughout the migrations, so values round-trip
// through time.Parse(time.RFC3339Nano, ...) after SQLite's %f truncation.
const sqliteTimeFormat = "2006-01-02T15:04:05.000Z"

// FileStore implements ingestion.FileTrackingStore against a processed_file
// + settings table pair. Both the Voltech and Manual schemas have this
// shape, so one implementation serves both via embedding.
type FileStore struct {
	conn   *Connection
	logger *slog.Logger
}

// IngestStore implements ingestion.Store: FileStore plus parse_error and
// watcher_lock, which only the Voltech schema carries.
type IngestStore struct {
	FileStore
}

// NewFileStore builds a FileStore over conn (Manual schema).
func NewFileStore(conn *Connection) *FileStore {
	return &FileStore{
		conn:   conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("schema", conn.Schema),
	}
}

// NewIngestStore builds the full IngestStore over conn (Voltech schema).
func NewIngestStore(conn *Connection) *IngestStore {
	return &IngestStore{FileStore: *NewFileStore(conn)}
}

func (s *FileStore) NeedsProcessing(ctx context.Context, filePath string, size int64, modifiedAt time.Time) (bool, error) {
	var (
		existingSize  int64
		existingMtime string
	)

	row := s.conn.QueryRowContext(ctx,
		`SELECT file_size, file_mtime FROM processed_file WHERE file_path = ?`, filePath)

	err := row.Scan(&existingSize, &existingMtime)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("needs_processing lookup failed: %w", err)
	}

	existing, err := time.Parse(sqliteTimeFormat, existingMtime)
	if err != nil {
		return false, fmt.Errorf("needs_processing: malformed stored mtime: %w", err)
	}

	return existingSize != size || !existing.Equal(modifiedAt.UTC()), nil
}

func (s *FileStore) MarkFileProcessed(
	ctx context.Context, filePath string, size int64, modifiedAt time.Time, recordCount int,
) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO processed_file (file_path, file_size, file_mtime, record_count, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (file_path) DO UPDATE SET
			file_size = excluded.file_size,
			file_mtime = excluded.file_mtime,
			record_count = excluded.record_count,
			processed_at = excluded.processed_at
	`, filePath, size, modifiedAt.UTC().Format(sqliteTimeFormat), recordCount, time.Now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return fmt.Errorf("mark_file_processed failed: %w", err)
	}

	return nil
}

func (s *FileStore) NeedsProcessingRelative(
	ctx context.Context, relativePath string, size int64, modifiedAt time.Time,
) (bool, error) {
	var (
		existingSize  int64
		existingMtime string
	)

	row := s.conn.QueryRowContext(ctx,
		`SELECT file_size, file_mtime FROM processed_file WHERE relative_path = ?`, relativePath)

	err := row.Scan(&existingSize, &existingMtime)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("needs_processing_relative lookup failed: %w", err)
	}

	existing, err := time.Parse(sqliteTimeFormat, existingMtime)
	if err != nil {
		return false, fmt.Errorf("needs_processing_relative: malformed stored mtime: %w", err)
	}

	return existingSize != size || !existing.Equal(modifiedAt.UTC()), nil
}

func (s *FileStore) MarkFileProcessedRelative(
	ctx context.Context, relativePath string, size int64, modifiedAt time.Time, recordCount int,
) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO processed_file (file_path, relative_path, file_size, file_mtime, record_count, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_path) DO UPDATE SET
			file_size = excluded.file_size,
			file_mtime = excluded.file_mtime,
			record_count = excluded.record_count,
			processed_at = excluded.processed_at
	`, relativePath, relativePath, size, modifiedAt.UTC().Format(sqliteTimeFormat),
		recordCount, time.Now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return fmt.Errorf("mark_file_processed_relative failed: %w", err)
	}

	return nil
}

func (s *FileStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := s.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("get_setting failed: %w", err)
	}

	return value, true, nil
}

func (s *FileStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return fmt.Errorf("set_setting failed: %w", err)
	}

	return nil
}

func (s *FileStore) GetAllSettings(ctx context.Context) ([]ingestion.Setting, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("get_all_settings failed: %w", err)
	}
	defer rows.Close()

	var settings []ingestion.Setting

	for rows.Next() {
		var (
			s2        ingestion.Setting
			updatedAt string
		)

		if err := rows.Scan(&s2.Key, &s2.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("get_all_settings scan failed: %w", err)
		}

		s2.UpdatedAt, _ = time.Parse(sqliteTimeFormat, updatedAt)
		settings = append(settings, s2)
	}

	return settings, rows.Err()
}

func (s *FileStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete_setting failed: %w", err)
	}

	return nil
}

func (s *IngestStore) LogParseError(ctx context.Context, filePath, message string, lineNumber *int) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `
		INSERT INTO parse_error (file_path, message, line_number, occurred_at, acknowledged)
		VALUES (?, ?, ?, ?, 0)
	`, filePath, message, lineNumber, time.Now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return 0, fmt.Errorf("log_parse_error failed: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("log_parse_error: failed to read inserted id: %w", err)
	}

	return id, nil
}

func (s *IngestStore) GetErrors(
	ctx context.Context, acknowledged *bool, filePath string,
) ([]ingestion.ParseError, error) {
	query := `SELECT id, file_path, message, line_number, occurred_at, acknowledged, acknowledged_at
		FROM parse_error WHERE 1=1`

	var args []interface{}

	if acknowledged != nil {
		query += ` AND acknowledged = ?`

		args = append(args, boolToInt(*acknowledged))
	}

	if filePath != "" {
		query += ` AND file_path = ?`

		args = append(args, filePath)
	}

	query += ` ORDER BY occurred_at DESC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get_errors failed: %w", err)
	}
	defer rows.Close()

	var errs []ingestion.ParseError

	for rows.Next() {
		var (
			e              ingestion.ParseError
			occurredAt     string
			acknowledgedAt sql.NullString
			ackInt         int
		)

		if err := rows.Scan(&e.ID, &e.FilePath, &e.Message, &e.LineNumber,
			&occurredAt, &ackInt, &acknowledgedAt); err != nil {
			return nil, fmt.Errorf("get_errors scan failed: %w", err)
		}

		e.OccurredAt, _ = time.Parse(sqliteTimeFormat, occurredAt)
		e.Acknowledged = ackInt != 0

		if acknowledgedAt.Valid {
			t, _ := time.Parse(sqliteTimeFormat, acknowledgedAt.String)
			e.AcknowledgedAt = &t
		}

		errs = append(errs, e)
	}

	return errs, rows.Err()
}

func (s *IngestStore) AcknowledgeErrors(ctx context.Context, ids []int64) error {
	now := time.Now().UTC().Format(sqliteTimeFormat)

	for _, id := range ids {
		if _, err := s.conn.ExecContext(ctx, `
			UPDATE parse_error SET acknowledged = 1, acknowledged_at = ? WHERE id = ?
		`, now, id); err != nil {
			return fmt.Errorf("acknowledge_errors failed for id %d: %w", id, err)
		}
	}

	return nil
}

func (s *IngestStore) AcknowledgeFileErrors(ctx context.Context, filePath string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE parse_error SET acknowledged = 1, acknowledged_at = ? WHERE file_path = ? AND acknowledged = 0
	`, time.Now().UTC().Format(sqliteTimeFormat), filePath)
	if err != nil {
		return fmt.Errorf("acknowledge_file_errors failed: %w", err)
	}

	return nil
}

func (s *IngestStore) CleanupOldErrors(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(sqliteTimeFormat)

	result, err := s.conn.ExecContext(ctx, `
		DELETE FROM parse_error WHERE acknowledged = 1 AND occurred_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup_old_errors failed: %w", err)
	}

	return result.RowsAffected()
}

// AcquireLock implements the Acquire protocol. The upsert races safely
// across processes: SQLite serializes writers, so only one caller's upsert
// observes the absent/stale row and wins; the other reads back the winner's
// row and becomes Follower.
func (s *IngestStore) AcquireLock(ctx context.Context, holderName string) (ingestion.WatcherLock, bool, error) {
	current, exists, err := s.GetLockInfo(ctx)
	if err != nil {
		return ingestion.WatcherLock{}, false, err
	}

	now := time.Now().UTC()

	if exists && !current.IsStale(now) {
		return current, false, nil
	}

	lock := ingestion.WatcherLock{
		HolderID:        uuid.NewString(),
		HolderName:      holderName,
		IsActive:        true,
		AcquiredAt:      now,
		LastHeartbeatAt: now,
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO watcher_lock (id, holder_id, holder_name, is_active, acquired_at, last_heartbeat_at)
		VALUES (1, ?, ?, 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			holder_id = excluded.holder_id,
			holder_name = excluded.holder_name,
			is_active = 1,
			acquired_at = excluded.acquired_at,
			last_heartbeat_at = excluded.last_heartbeat_at
		WHERE watcher_lock.is_active = 0
		   OR watcher_lock.last_heartbeat_at < ?
	`, lock.HolderID, lock.HolderName, now.Format(sqliteTimeFormat), now.Format(sqliteTimeFormat),
		now.Add(-ingestion.StaleThreshold).Format(sqliteTimeFormat))
	if err != nil {
		return ingestion.WatcherLock{}, false, fmt.Errorf("acquire_lock upsert failed: %w", err)
	}

	winner, _, err := s.GetLockInfo(ctx)
	if err != nil {
		return ingestion.WatcherLock{}, false, err
	}

	s.logger.Info("lock acquire attempt",
		"holder_name", holderName,
		"won", winner.HolderID == lock.HolderID,
	)

	return winner, winner.HolderID == lock.HolderID, nil
}

func (s *IngestStore) UpdateHeartbeat(ctx context.Context, holderID string) (bool, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE watcher_lock SET last_heartbeat_at = ?
		WHERE id = 1 AND holder_id = ? AND is_active = 1
	`, time.Now().UTC().Format(sqliteTimeFormat), holderID)
	if err != nil {
		return false, fmt.Errorf("update_heartbeat failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update_heartbeat: failed to read rows affected: %w", err)
	}

	return rows > 0, nil
}

func (s *IngestStore) ReleaseLock(ctx context.Context, holderID string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE watcher_lock SET is_active = 0 WHERE id = 1 AND holder_id = ?
	`, holderID)
	if err != nil {
		return fmt.Errorf("release_lock failed: %w", err)
	}

	return nil
}

func (s *IngestStore) CheckStaleLock(ctx context.Context) (bool, error) {
	lock, exists, err := s.GetLockInfo(ctx)
	if err != nil {
		return false, err
	}

	if !exists {
		return false, nil
	}

	return lock.IsStale(time.Now().UTC()), nil
}

func (s *IngestStore) GetLockInfo(ctx context.Context) (ingestion.WatcherLock, bool, error) {
	var (
		lock              ingestion.WatcherLock
		isActive          int
		acquiredAt        string
		lastHeartbeatAt   string
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT holder_id, holder_name, is_active, acquired_at, last_heartbeat_at
		FROM watcher_lock WHERE id = 1
	`).Scan(&lock.HolderID, &lock.HolderName, &isActive, &acquiredAt, &lastHeartbeatAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ingestion.WatcherLock{}, false, nil
	case err != nil:
		return ingestion.WatcherLock{}, false, fmt.Errorf("get_lock_info failed: %w", err)
	}

	lock.IsActive = isActive != 0
	lock.AcquiredAt, _ = time.Parse(sqliteTimeFormat, acquiredAt)
	lock.LastHeartbeatAt, _ = time.Parse(sqliteTimeFormat, lastHeartbeatAt)

	return lock, true, nil
}

func (s *IngestStore) ForceReleaseLock(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `UPDATE watcher_lock SET is_active = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("force_release_lock failed: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
