package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/linetrace/linetrace/internal/storage"
)

// passExpr is the case-insensitive pass predicate shared by every
// aggregation that buckets rows into pass/fail: a row counts as passing
// when pass_fail reads "Pass" in any casing the instrument or an operator
// happened to type it in.
const passExpr = "UPPER(pass_fail) = 'PASS'"

// dateRangeConditions builds the optional normalized_date >= ?/<= ? clauses
// shared by every aggregation that accepts a date_from/date_to scope.
func dateRangeConditions(dateFrom, dateTo string) ([]string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if dateFrom != "" {
		conditions = append(conditions, "normalized_date >= ?")
		args = append(args, dateFrom)
	}

	if dateTo != "" {
		conditions = append(conditions, "normalized_date <= ?")
		args = append(args, dateTo)
	}

	return conditions, args
}

// Service runs read-only aggregations against the Voltech test_result
// table. It holds no lock and performs no writes, so it is safe to call
// from a Follower process as well as the Master.
type Service struct {
	conn *storage.Connection
}

// NewService builds a Service over conn (Voltech schema).
func NewService(conn *storage.Connection) *Service {
	return &Service{conn: conn}
}

// PartList returns every distinct part with its running totals, most
// recently touched part first. dateFrom/dateTo optionally restrict the
// rows counted to a normalized_date range.
func (s *Service) PartList(ctx context.Context, dateFrom, dateTo string) ([]PartListRow, error) {
	sqlQuery := `
		SELECT part, COUNT(*) AS total, MAX(created_at) AS most_recent
		FROM test_result
	`

	conditions, args := dateRangeConditions(dateFrom, dateTo)
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	sqlQuery += " GROUP BY part ORDER BY most_recent DESC"

	rows, err := s.conn.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("part list query: %w", err)
	}
	defer rows.Close()

	var out []PartListRow

	for rows.Next() {
		var row PartListRow

		if err := rows.Scan(&row.Part, &row.TotalTests, &row.MostRecent); err != nil {
			return nil, fmt.Errorf("scan part list row: %w", err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate part list rows: %w", err)
	}

	return out, nil
}

// PartSummary aggregates totals, pass rate, distinct batch count, and date
// span for a single part, optionally restricted to a normalized_date range.
// ok is false when the part has no rows in scope.
func (s *Service) PartSummary(ctx context.Context, part, dateFrom, dateTo string) (PartSummaryRow, bool, error) {
	conditions, args := dateRangeConditions(dateFrom, dateTo)
	conditions = append([]string{"part = ?"}, conditions...)
	args = append([]interface{}{part}, args...)

	sqlQuery := `
		SELECT
			COUNT(*) AS total,
			COUNT(DISTINCT batch) AS distinct_batches,
			SUM(CASE WHEN ` + passExpr + ` THEN 1 ELSE 0 END) AS pass_count,
			MIN(normalized_date) AS first_date,
			MAX(normalized_date) AS last_date
		FROM test_result
		WHERE ` + strings.Join(conditions, " AND ")

	row := s.conn.QueryRowContext(ctx, sqlQuery, args...)

	var (
		total, distinctBatches, passCount int
		firstDate, lastDate               sql.NullString
	)

	if err := row.Scan(&total, &distinctBatches, &passCount, &firstDate, &lastDate); err != nil {
		return PartSummaryRow{}, false, fmt.Errorf("part summary query: %w", err)
	}

	if total == 0 {
		return PartSummaryRow{}, false, nil
	}

	return PartSummaryRow{
		Part:            part,
		TotalTests:      total,
		DistinctBatches: distinctBatches,
		PassCount:       passCount,
		FailCount:       total - passCount,
		PassRatePercent: passRate(total, passCount),
		FirstDate:       firstDate.String,
		LastDate:        lastDate.String,
	}, true, nil
}

// BatchList returns every batch recorded for part, most recently touched
// batch first, optionally restricted to a normalized_date range.
func (s *Service) BatchList(ctx context.Context, part, dateFrom, dateTo string) ([]BatchListRow, error) {
	conditions, args := dateRangeConditions(dateFrom, dateTo)
	conditions = append([]string{"part = ?"}, conditions...)
	args = append([]interface{}{part}, args...)

	sqlQuery := `
		SELECT
			batch,
			COUNT(*) AS total,
			SUM(CASE WHEN ` + passExpr + ` THEN 1 ELSE 0 END) AS pass_count,
			MAX(created_at) AS most_recent
		FROM test_result
		WHERE ` + strings.Join(conditions, " AND ") + `
		GROUP BY batch
		ORDER BY most_recent DESC`

	rows, err := s.conn.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("batch list query: %w", err)
	}
	defer rows.Close()

	var out []BatchListRow

	for rows.Next() {
		var (
			row       BatchListRow
			passCount int
		)

		if err := rows.Scan(&row.Batch, &row.TotalTests, &passCount, &row.MostRecent); err != nil {
			return nil, fmt.Errorf("scan batch list row: %w", err)
		}

		row.PassCount = passCount
		row.FailCount = row.TotalTests - passCount
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch list rows: %w", err)
	}

	return out, nil
}

// BatchDetail adds the first/last test time within part+batch to the
// BatchList aggregation, optionally restricted to a normalized_date range.
// ok is false when no rows match.
func (s *Service) BatchDetail(ctx context.Context, part, batch, dateFrom, dateTo string) (BatchDetailRow, bool, error) {
	conditions, args := dateRangeConditions(dateFrom, dateTo)
	conditions = append([]string{"part = ?", "batch = ?"}, conditions...)
	args = append([]interface{}{part, batch}, args...)

	sqlQuery := `
		SELECT
			COUNT(*) AS total,
			SUM(CASE WHEN ` + passExpr + ` THEN 1 ELSE 0 END) AS pass_count,
			MAX(created_at) AS most_recent,
			MIN(time) AS first_time,
			MAX(time) AS last_time
		FROM test_result
		WHERE ` + strings.Join(conditions, " AND ")

	row := s.conn.QueryRowContext(ctx, sqlQuery, args...)

	var (
		total, passCount                int
		mostRecent, firstTime, lastTime sql.NullString
	)

	if err := row.Scan(&total, &passCount, &mostRecent, &firstTime, &lastTime); err != nil {
		return BatchDetailRow{}, false, fmt.Errorf("batch detail query: %w", err)
	}

	if total == 0 {
		return BatchDetailRow{}, false, nil
	}

	return BatchDetailRow{
		BatchListRow: BatchListRow{
			Batch:      batch,
			TotalTests: total,
			PassCount:  passCount,
			FailCount:  total - passCount,
			MostRecent: mostRecent.String,
		},
		FirstTestTime: firstTime.String,
		LastTestTime:  lastTime.String,
	}, true, nil
}
