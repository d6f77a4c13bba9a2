package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SerialRangeRow is one deduplicated test_result row returned by a serial
// range lookup.
type SerialRangeRow struct {
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
	FilePath       string
	Measurements   map[string]interface{}
	CreatedAt      string
}

// BySerialRange returns, for the given part, the most recent test_result
// row for every serial number whose value falls in [fromSerial, toSerial]
// by either string comparison or (when the serial is purely numeric)
// integer comparison — mirroring the production line's mix of numeric and
// alphanumeric serial formats. Results are deduplicated to one row per
// serial_num (most recent created_at wins, matching how a re-tested unit
// supersedes its earlier attempt) and returned in ascending numeric serial
// order.
//
// The window-function dedup requires SQLite's ROW_NUMBER, available since
// 3.25 and bundled by the driver this module uses.
func (s *Service) BySerialRange(ctx context.Context, part, fromSerial, toSerial string) ([]SerialRangeRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		WITH candidates AS (
			SELECT
				id, part, operator, batch, date, normalized_date, serial_num,
				result_num, pass_fail, time, file_path, measurements, created_at,
				ROW_NUMBER() OVER (PARTITION BY serial_num ORDER BY created_at DESC) AS rn
			FROM test_result
			WHERE part = ?
			  AND (
			        (serial_num BETWEEN ? AND ?)
			        OR (
			             serial_num GLOB '[0-9]*'
			             AND CAST(serial_num AS INTEGER) BETWEEN CAST(? AS INTEGER) AND CAST(? AS INTEGER)
			        )
			      )
		)
		SELECT id, part, operator, batch, date, normalized_date, serial_num,
		       result_num, pass_fail, time, file_path, measurements, created_at
		FROM candidates
		WHERE rn = 1
		ORDER BY CAST(serial_num AS INTEGER) ASC
	`, part, fromSerial, toSerial, fromSerial, toSerial)
	if err != nil {
		return nil, fmt.Errorf("serial range query: %w", err)
	}
	defer rows.Close()

	var out []SerialRangeRow

	for rows.Next() {
		var (
			row            SerialRangeRow
			normalizedDate sql.NullString
			measurements   string
		)

		if err := rows.Scan(
			&row.ID, &row.Part, &row.Operator, &row.Batch, &row.Date, &normalizedDate,
			&row.SerialNum, &row.ResultNum, &row.PassFail, &row.Time, &row.FilePath,
			&measurements, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan serial range row: %w", err)
		}

		row.NormalizedDate = normalizedDate.String

		if err := json.Unmarshal([]byte(measurements), &row.Measurements); err != nil {
			return nil, fmt.Errorf("decode measurements for result %d: %w", row.ResultNum, err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate serial range rows: %w", err)
	}

	return out, nil
}
