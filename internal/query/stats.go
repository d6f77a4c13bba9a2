package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DailyStats aggregates pass/fail counts per normalized_date, optionally
// restricted to a single part and/or a normalized_date range, most recent
// date first.
func (s *Service) DailyStats(ctx context.Context, part, dateFrom, dateTo string) ([]DailyStatRow, error) {
	query := `
		SELECT
			normalized_date,
			COUNT(*) AS total,
			SUM(CASE WHEN ` + passExpr + ` THEN 1 ELSE 0 END) AS pass_count
		FROM test_result
		WHERE normalized_date IS NOT NULL AND normalized_date != ''
	`

	args := []interface{}{}

	if part != "" {
		query += " AND part = ?"
		args = append(args, part)
	}

	conditions, dateArgs := dateRangeConditions(dateFrom, dateTo)
	for _, cond := range conditions {
		query += " AND " + cond
	}

	args = append(args, dateArgs...)

	query += " GROUP BY normalized_date ORDER BY normalized_date DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily stats query: %w", err)
	}
	defer rows.Close()

	var out []DailyStatRow

	for rows.Next() {
		var (
			row       DailyStatRow
			passCount int
		)

		if err := rows.Scan(&row.Date, &row.Total, &passCount); err != nil {
			return nil, fmt.Errorf("scan daily stat row: %w", err)
		}

		row.PassCount = passCount
		row.FailCount = row.Total - passCount
		row.PassRatePercent = passRate(row.Total, passCount)
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily stat rows: %w", err)
	}

	return out, nil
}

// OperatorStats aggregates pass/fail counts per operator, optionally
// restricted to a single part and/or a normalized_date range, highest
// volume first.
func (s *Service) OperatorStats(ctx context.Context, part, dateFrom, dateTo string) ([]OperatorStatRow, error) {
	query := `
		SELECT
			operator,
			COUNT(*) AS total,
			SUM(CASE WHEN ` + passExpr + ` THEN 1 ELSE 0 END) AS pass_count
		FROM test_result
		WHERE operator != ''
	`

	args := []interface{}{}

	if part != "" {
		query += " AND part = ?"
		args = append(args, part)
	}

	conditions, dateArgs := dateRangeConditions(dateFrom, dateTo)
	for _, cond := range conditions {
		query += " AND " + cond
	}

	args = append(args, dateArgs...)

	query += " GROUP BY operator ORDER BY total DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("operator stats query: %w", err)
	}
	defer rows.Close()

	var out []OperatorStatRow

	for rows.Next() {
		var (
			row       OperatorStatRow
			passCount int
		)

		if err := rows.Scan(&row.Operator, &row.Total, &passCount); err != nil {
			return nil, fmt.Errorf("scan operator stat row: %w", err)
		}

		row.PassCount = passCount
		row.FailCount = row.Total - passCount
		row.PassRatePercent = passRate(row.Total, passCount)
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operator stat rows: %w", err)
	}

	return out, nil
}

// OverallStats aggregates pass/fail counts and the date span across the
// entire store, optionally restricted to a normalized_date range.
func (s *Service) OverallStats(ctx context.Context, dateFrom, dateTo string) (OverallStatRow, error) {
	sqlQuery := `
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN ` + passExpr + ` THEN 1 ELSE 0 END) AS pass_count,
			MIN(normalized_date) AS first_date,
			MAX(normalized_date) AS last_date
		FROM test_result
	`

	conditions, args := dateRangeConditions(dateFrom, dateTo)
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	row := s.conn.QueryRowContext(ctx, sqlQuery, args...)

	var (
		total, passCount    int
		firstDate, lastDate sql.NullString
	)

	if err := row.Scan(&total, &passCount, &firstDate, &lastDate); err != nil {
		return OverallStatRow{}, fmt.Errorf("overall stats query: %w", err)
	}

	return OverallStatRow{
		Total:           total,
		PassCount:       passCount,
		FailCount:       total - passCount,
		PassRatePercent: passRate(total, passCount),
		FirstDate:       firstDate.String,
		LastDate:        lastDate.String,
	}, nil
}

// PartStats aggregates pass/fail counts per part, optionally restricted to
// a normalized_date range, highest volume first — the per-part breakdown
// used by the overview dashboard.
func (s *Service) PartStats(ctx context.Context, dateFrom, dateTo string) ([]PartSummaryRow, error) {
	sqlQuery := `
		SELECT
			part,
			COUNT(*) AS total,
			COUNT(DISTINCT batch) AS distinct_batches,
			SUM(CASE WHEN ` + passExpr + ` THEN 1 ELSE 0 END) AS pass_count,
			MIN(normalized_date) AS first_date,
			MAX(normalized_date) AS last_date
		FROM test_result
	`

	conditions, args := dateRangeConditions(dateFrom, dateTo)
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	sqlQuery += " GROUP BY part ORDER BY total DESC"

	rows, err := s.conn.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("part stats query: %w", err)
	}
	defer rows.Close()

	var out []PartSummaryRow

	for rows.Next() {
		var (
			row                 PartSummaryRow
			passCount           int
			firstDate, lastDate sql.NullString
		)

		if err := rows.Scan(&row.Part, &row.TotalTests, &row.DistinctBatches, &passCount, &firstDate, &lastDate); err != nil {
			return nil, fmt.Errorf("scan part stat row: %w", err)
		}

		row.PassCount = passCount
		row.FailCount = row.TotalTests - passCount
		row.PassRatePercent = passRate(row.TotalTests, passCount)
		row.FirstDate = firstDate.String
		row.LastDate = lastDate.String
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate part stat rows: %w", err)
	}

	return out, nil
}
