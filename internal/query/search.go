package query

import (
	"context"
	"fmt"
	"strings"
)

// SearchTests returns test_result rows matching every non-zero field of
// filter, most recent first. With a zero-value filter this returns the
// whole table ordered by recency, so callers should paginate.
func (s *Service) SearchTests(ctx context.Context, filter SearchFilter, limit, offset int) ([]SearchResultRow, error) {
	baseQuery := `
		SELECT id, part, operator, batch, normalized_date, serial_num, result_num, pass_fail, created_at
		FROM test_result
	`

	conditions, args := buildSearchConditions(filter)

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.conn.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search tests query: %w", err)
	}
	defer rows.Close()

	var out []SearchResultRow

	for rows.Next() {
		var row SearchResultRow

		if err := rows.Scan(
			&row.ID, &row.Part, &row.Operator, &row.Batch, &row.NormalizedDate,
			&row.SerialNum, &row.ResultNum, &row.PassFail, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan search result row: %w", err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search result rows: %w", err)
	}

	return out, nil
}

// buildSearchConditions extracts filter conditions from a SearchFilter.
// Serial range gets the same dual lexicographic/numeric treatment as
// BySerialRange; every other field is a straight equality or range match.
func buildSearchConditions(filter SearchFilter) ([]string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.Part != "" {
		conditions = append(conditions, "part = ?")
		args = append(args, filter.Part)
	}

	if filter.Batch != "" {
		conditions = append(conditions, "batch = ?")
		args = append(args, filter.Batch)
	}

	if filter.Operator != "" {
		conditions = append(conditions, "operator = ?")
		args = append(args, filter.Operator)
	}

	if filter.PassFail != "" {
		conditions = append(conditions, "UPPER(pass_fail) = UPPER(?)")
		args = append(args, filter.PassFail)
	}

	if filter.DateFrom != "" {
		conditions = append(conditions, "normalized_date >= ?")
		args = append(args, filter.DateFrom)
	}

	if filter.DateTo != "" {
		conditions = append(conditions, "normalized_date <= ?")
		args = append(args, filter.DateTo)
	}

	if filter.SerialFrom != "" && filter.SerialTo != "" {
		conditions = append(conditions, `(
			(serial_num BETWEEN ? AND ?)
			OR (
			     serial_num GLOB '[0-9]*'
			     AND CAST(serial_num AS INTEGER) BETWEEN CAST(? AS INTEGER) AND CAST(? AS INTEGER)
			)
		)`)
		args = append(args, filter.SerialFrom, filter.SerialTo, filter.SerialFrom, filter.SerialTo)
	}

	return conditions, args
}
