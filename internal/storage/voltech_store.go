package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/linetrace/linetrace/internal/parser"
)

// ErrVoltechBatchFailed is returned when a batch insert could not be
// committed. Individual duplicate rows within a batch are not errors — see
// VoltechResultStore.InsertBatch.
var ErrVoltechBatchFailed = errors.New("voltech batch insert failed")

// VoltechResultStore persists parsed .atr rows against the test_result
// table. All writes for one file go through InsertBatch inside a single
// transaction, matching the watcher's all-or-none-per-file contract.
type VoltechResultStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewVoltechResultStore builds a VoltechResultStore over conn (Voltech
// schema).
func NewVoltechResultStore(conn *Connection) *VoltechResultStore {
	return &VoltechResultStore{
		conn:   conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("schema", conn.Schema),
	}
}

// InsertBatch writes results in one transaction with an ON CONFLICT
// (file_path, result_num) DO NOTHING policy, so re-running the parser on an
// already-ingested file never produces duplicates. Returns the count of
// rows actually inserted (duplicates are silently skipped, not errors).
func (s *VoltechResultStore) InsertBatch(ctx context.Context, results []parser.VoltechResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %w", ErrVoltechBatchFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO test_result (
			part, operator, batch, date, normalized_date, serial_num,
			result_num, pass_fail, time, retries, file_path, measurements
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_path, result_num) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare: %w", ErrVoltechBatchFailed, err)
	}
	defer stmt.Close()

	inserted := 0

	for _, r := range results {
		normalizedDate, err := parser.NormalizeVoltechDate(r.Date)
		if err != nil {
			s.logger.Warn("could not normalize voltech date, storing raw",
				"file_path", r.FilePath, "result_num", r.ResultNum, "date", r.Date)

			normalizedDate = ""
		}

		measurementsJSON, err := json.Marshal(r.Measurements)
		if err != nil {
			return inserted, fmt.Errorf("%w: marshal measurements for result %d: %w", ErrVoltechBatchFailed, r.ResultNum, err)
		}

		res, err := stmt.ExecContext(ctx,
			r.Part, r.Operator, r.Batch, r.Date, nullableString(normalizedDate), r.SerialNum,
			r.ResultNum, r.PassFail, r.Time, r.Retries, r.FilePath, string(measurementsJSON),
		)
		if err != nil {
			return inserted, fmt.Errorf("%w: insert result %d: %w", ErrVoltechBatchFailed, r.ResultNum, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("%w: rows affected: %w", ErrVoltechBatchFailed, err)
		}

		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrVoltechBatchFailed, err)
	}

	s.logger.Info("voltech batch inserted",
		"file_path", results[0].FilePath, "rows", len(results), "inserted", inserted)

	return inserted, nil
}

// ByPart returns every test_result row whose part matches exactly, most
// recent first, optionally bounded by a date range (empty strings mean
// unbounded).
func (s *VoltechResultStore) ByPart(ctx context.Context, part, dateFrom, dateTo string) ([]VoltechTestResultRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, part, operator, batch, date, normalized_date, serial_num,
		       result_num, pass_fail, time, retries, file_path, measurements, created_at
		FROM test_result
		WHERE part = ?
		  AND (? = '' OR normalized_date >= ?)
		  AND (? = '' OR normalized_date <= ?)
		ORDER BY created_at DESC
	`, part, dateFrom, dateFrom, dateTo, dateTo)
	if err != nil {
		return nil, fmt.Errorf("by_part query failed: %w", err)
	}
	defer rows.Close()

	return scanVoltechRows(rows)
}

// VoltechTestResultRow is a fully materialized test_result row, including
// the decoded Measurements map.
type VoltechTestResultRow struct {
	ID             int64
	Part           string
	Operator       string
	Batch          string
	Date           string
	NormalizedDate string
	SerialNum      string
	ResultNum      int
	PassFail       string
	Time           string
	Retries        int
	FilePath       string
	Measurements   map[string]interface{}
	CreatedAt      string
}

func scanVoltechRows(rows *sql.Rows) ([]VoltechTestResultRow, error) {
	var out []VoltechTestResultRow

	for rows.Next() {
		var (
			row              VoltechTestResultRow
			normalizedDate   sql.NullString
			measurementsJSON string
		)

		if err := rows.Scan(
			&row.ID, &row.Part, &row.Operator, &row.Batch, &row.Date, &normalizedDate,
			&row.SerialNum, &row.ResultNum, &row.PassFail, &row.Time, &row.Retries,
			&row.FilePath, &measurementsJSON, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan test_result row: %w", err)
		}

		row.NormalizedDate = normalizedDate.String

		if err := json.Unmarshal([]byte(measurementsJSON), &row.Measurements); err != nil {
			return nil, fmt.Errorf("unmarshal measurements for result %d: %w", row.ID, err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test_result rows: %w", err)
	}

	return out, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}
