package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/linetrace/linetrace/internal/parser"
)

// ErrManualBatchFailed is returned when a manual batch insert could not be
// committed.
var ErrManualBatchFailed = errors.New("manual batch insert failed")

// ManualResultStore persists parsed manual-CSV rows against the
// manual_test_result table, one transaction per file.
type ManualResultStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewManualResultStore builds a ManualResultStore over conn (Manual schema).
func NewManualResultStore(conn *Connection) *ManualResultStore {
	return &ManualResultStore{
		conn:   conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("schema", conn.Schema),
	}
}

// InsertBatch writes results in one transaction with an ON CONFLICT
// (file_path, result) DO NOTHING policy, mirroring the Voltech store's
// idempotent re-ingest contract.
func (s *ManualResultStore) InsertBatch(ctx context.Context, results []parser.ManualResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %w", ErrManualBatchFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO manual_test_result (
			result, test, fg, rev, batch, operator, date, normalized_date,
			time, sn, passfail, minimum, reading, maximum, uom, file_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_path, result) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare: %w", ErrManualBatchFailed, err)
	}
	defer stmt.Close()

	inserted := 0

	for _, r := range results {
		normalizedDate, err := parser.NormalizeManualDate(r.Date)
		if err != nil {
			s.logger.Warn("could not normalize manual date, storing raw",
				"file_path", r.FilePath, "result", r.Result, "date", r.Date)

			normalizedDate = ""
		}

		res, err := stmt.ExecContext(ctx,
			r.Result, r.Test, r.FG, r.Rev, r.Batch, r.Operator, r.Date, nullableString(normalizedDate),
			r.Time, r.SN, r.PassFail, r.Minimum, r.Reading, r.Maximum, r.UOM, r.FilePath,
		)
		if err != nil {
			return inserted, fmt.Errorf("%w: insert result %d: %w", ErrManualBatchFailed, r.Result, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("%w: rows affected: %w", ErrManualBatchFailed, err)
		}

		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrManualBatchFailed, err)
	}

	s.logger.Info("manual batch inserted",
		"file_path", results[0].FilePath, "rows", len(results), "inserted", inserted)

	return inserted, nil
}

// BySerial returns manual_test_result rows whose test matches (exact or
// suffix) and whose sn is in [minSerial, maxSerial] by both string and
// numeric comparison, most recent first.
func (s *ManualResultStore) BySerial(ctx context.Context, test, minSerial, maxSerial string) ([]ManualTestResultRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, result, test, fg, rev, batch, operator, date, normalized_date,
		       time, sn, passfail, minimum, reading, maximum, uom, file_path, created_at
		FROM manual_test_result
		WHERE (test = ? OR test LIKE '%' || ?)
		  AND (
		        (sn BETWEEN ? AND ?)
		        OR (
		             CAST(sn AS INTEGER) BETWEEN CAST(? AS INTEGER) AND CAST(? AS INTEGER)
		             AND sn GLOB '[0-9]*'
		        )
		      )
		ORDER BY created_at DESC
	`, test, test, minSerial, maxSerial, minSerial, maxSerial)
	if err != nil {
		return nil, fmt.Errorf("by_serial query failed: %w", err)
	}
	defer rows.Close()

	return scanManualRows(rows)
}

// ManualTestResultRow is a fully materialized manual_test_result row.
type ManualTestResultRow struct {
	ID             int64
	Result         int
	Test           string
	FG             string
	Rev            string
	Batch          string
	Operator       string
	Date           string
	NormalizedDate string
	Time           string
	SN             string
	PassFail       string
	Minimum        string
	Reading        string
	Maximum        string
	UOM            string
	FilePath       string
	CreatedAt      string
}

func scanManualRows(rows *sql.Rows) ([]ManualTestResultRow, error) {
	var out []ManualTestResultRow

	for rows.Next() {
		var (
			row            ManualTestResultRow
			normalizedDate sql.NullString
		)

		if err := rows.Scan(
			&row.ID, &row.Result, &row.Test, &row.FG, &row.Rev, &row.Batch, &row.Operator,
			&row.Date, &normalizedDate, &row.Time, &row.SN, &row.PassFail, &row.Minimum,
			&row.Reading, &row.Maximum, &row.UOM, &row.FilePath, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan manual_test_result row: %w", err)
		}

		row.NormalizedDate = normalizedDate.String
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manual_test_result rows: %w", err)
	}

	return out, nil
}
