package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/linetrace/linetrace/internal/query"
	"github.com/linetrace/linetrace/internal/storage"
)

// Collector resolves a Report into a ReportData aggregate by joining the
// Catalog's Test definitions against whichever measurement store each
// test's source_type names.
type Collector struct {
	catalog *storage.CatalogStore
	voltech *storage.Connection
	manual  *storage.Connection
}

// NewCollector builds a Collector over the three store connections.
func NewCollector(catalog *storage.CatalogStore, voltech, manual *storage.Connection) *Collector {
	return &Collector{catalog: catalog, voltech: voltech, manual: manual}
}

type voltechCandidate struct {
	serialNum      string
	batch          string
	date           string
	normalizedDate string
	passFail       string
	createdAt      string
	measurements   map[string]interface{}
}

type manualCandidate struct {
	sn             string
	test           string
	batch          string
	date           string
	normalizedDate string
	passFail       string
	minimum        string
	reading        string
	maximum        string
	uom            string
}

// Collect resolves params into a ReportData. mode must match the FG's
// Serialized flag: ModeSerialized expects SerialFrom/SerialTo, ModeBatch
// expects Batch (and optionally SelectedDates).
func (c *Collector) Collect(ctx context.Context, mode Mode, params CollectParams) (ReportData, error) {
	report, err := c.catalog.ReportByID(ctx, params.ReportID)
	if err != nil {
		return ReportData{}, fmt.Errorf("load report: %w", err)
	}

	fg, err := c.catalog.FGByID(ctx, report.FGID)
	if err != nil {
		return ReportData{}, fmt.Errorf("load fg: %w", err)
	}

	tests, err := c.catalog.TestsByReport(ctx, params.ReportID)
	if err != nil {
		return ReportData{}, fmt.Errorf("load tests: %w", err)
	}

	fgPrefix := fg.Code + fg.Rev

	voltechRows, err := c.fetchVoltechCandidates(ctx, fgPrefix, mode, params)
	if err != nil {
		return ReportData{}, fmt.Errorf("fetch voltech candidates: %w", err)
	}

	manualRows, err := c.fetchManualCandidates(ctx, mode, params)
	if err != nil {
		return ReportData{}, fmt.Errorf("fetch manual candidates: %w", err)
	}

	resultSets := make([]TestResultSet, 0, len(tests))

	for _, t := range tests {
		var results []ResultRow

		switch t.SourceType {
		case "voltech":
			results = matchVoltech(t, voltechRows, mode)
		case "manual":
			results = matchManual(t, manualRows)
		default:
			// source_type "other": value entered manually downstream, no
			// measurement-store lookup to perform.
		}

		resultSets = append(resultSets, TestResultSet{Test: t, Results: results})
	}

	return ReportData{FG: fg, Report: report, Mode: mode, Tests: resultSets}, nil
}

// fetchVoltechCandidates loads TestResult rows in scope for the report:
// part prefix-matched against fg+rev, pass_fail == "Pass", and either a
// serial range or a batch (+selected dates).
func (c *Collector) fetchVoltechCandidates(
	ctx context.Context, fgPrefix string, mode Mode, params CollectParams,
) ([]voltechCandidate, error) {
	sqlQuery := `
		SELECT serial_num, batch, date, normalized_date, pass_fail, created_at, measurements
		FROM test_result
		WHERE part LIKE ? || '%' AND UPPER(pass_fail) = 'PASS'
	`
	args := []interface{}{fgPrefix}

	switch mode {
	case ModeSerialized:
		sqlQuery += ` AND (
			(serial_num BETWEEN ? AND ?)
			OR (
			     serial_num GLOB '[0-9]*'
			     AND CAST(serial_num AS INTEGER) BETWEEN CAST(? AS INTEGER) AND CAST(? AS INTEGER)
			)
		)`
		args = append(args, params.SerialFrom, params.SerialTo, params.SerialFrom, params.SerialTo)
	case ModeBatch:
		sqlQuery += " AND batch = ?"
		args = append(args, params.Batch)

		if len(params.SelectedDates) > 0 {
			placeholders := make([]string, len(params.SelectedDates))
			for i, d := range params.SelectedDates {
				placeholders[i] = "?"
				args = append(args, d)
			}

			sqlQuery += " AND normalized_date IN (" + strings.Join(placeholders, ",") + ")"
		}
	}

	rows, err := c.voltech.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("voltech candidate query: %w", err)
	}
	defer rows.Close()

	var out []voltechCandidate

	for rows.Next() {
		var (
			row            voltechCandidate
			normalizedDate sql.NullString
			measurements   string
		)

		if err := rows.Scan(
			&row.serialNum, &row.batch, &row.date, &normalizedDate,
			&row.passFail, &row.createdAt, &measurements,
		); err != nil {
			return nil, fmt.Errorf("scan voltech candidate: %w", err)
		}

		row.normalizedDate = normalizedDate.String

		if err := json.Unmarshal([]byte(measurements), &row.measurements); err != nil {
			return nil, fmt.Errorf("decode measurements: %w", err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voltech candidates: %w", err)
	}

	return out, nil
}

// fetchManualCandidates loads ManualTestResult rows in scope for the
// report: either a serial range or a batch (+selected dates). test-name
// matching is applied per-Test in matchManual since the candidate set here
// is shared across every manual-source test in the report.
func (c *Collector) fetchManualCandidates(ctx context.Context, mode Mode, params CollectParams) ([]manualCandidate, error) {
	sqlQuery := `
		SELECT sn, batch, date, normalized_date, passfail, minimum, reading, maximum, uom, test
		FROM manual_test_result
		WHERE 1 = 1
	`
	args := []interface{}{}

	switch mode {
	case ModeSerialized:
		sqlQuery += ` AND (
			(sn BETWEEN ? AND ?)
			OR (
			     sn GLOB '[0-9]*'
			     AND CAST(sn AS INTEGER) BETWEEN CAST(? AS INTEGER) AND CAST(? AS INTEGER)
			)
		)`
		args = append(args, params.SerialFrom, params.SerialTo, params.SerialFrom, params.SerialTo)
	case ModeBatch:
		sqlQuery += " AND batch = ?"
		args = append(args, params.Batch)

		if len(params.SelectedDates) > 0 {
			placeholders := make([]string, len(params.SelectedDates))
			for i, d := range params.SelectedDates {
				placeholders[i] = "?"
				args = append(args, d)
			}

			sqlQuery += " AND normalized_date IN (" + strings.Join(placeholders, ",") + ")"
		}
	}

	rows, err := c.manual.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("manual candidate query: %w", err)
	}
	defer rows.Close()

	var out []manualCandidate

	for rows.Next() {
		var (
			row            manualCandidate
			normalizedDate sql.NullString
		)

		if err := rows.Scan(
			&row.sn, &row.batch, &row.date, &normalizedDate, &row.passFail,
			&row.minimum, &row.reading, &row.maximum, &row.uom, &row.test,
		); err != nil {
			return nil, fmt.Errorf("scan manual candidate: %w", err)
		}

		row.normalizedDate = normalizedDate.String
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manual candidates: %w", err)
	}

	return out, nil
}

// matchVoltech applies the measurement-key lookup per test against every
// candidate row, keeping rows where the key is present. In serialized mode
// results are deduplicated to one row per serial, most-recent first.
func matchVoltech(t storage.Test, candidates []voltechCandidate, mode Mode) []ResultRow {
	candidateKeys := lookupCandidates(t)

	matched := make(map[string]voltechCandidate)
	matchedValue := make(map[string]interface{})
	matchedKeyName := make(map[string]string)

	var order []string

	for _, row := range candidates {
		key, value, ok := lookupMeasurement(row.measurements, candidateKeys)
		if !ok {
			continue
		}

		rowKey := row.serialNum

		if mode != ModeSerialized {
			rowKey = row.serialNum + "|" + row.createdAt

			order = append(order, rowKey)
			matched[rowKey] = row
			matchedValue[rowKey] = value
			matchedKeyName[rowKey] = key

			continue
		}

		existing, seen := matched[rowKey]
		if !seen || row.createdAt > existing.createdAt {
			if !seen {
				order = append(order, rowKey)
			}

			matched[rowKey] = row
			matchedValue[rowKey] = value
			matchedKeyName[rowKey] = key
		}
	}

	out := make([]ResultRow, 0, len(order))

	for _, key := range order {
		row := matched[key]
		out = append(out, ResultRow{
			Serial:           row.serialNum,
			Batch:            row.batch,
			Date:             row.normalizedDate,
			PassFail:         row.passFail,
			Measurements:     map[string]interface{}{matchedKeyName[key]: matchedValue[key]},
			MeasurementValue: matchedValue[key],
		})
	}

	return out
}

// matchManual filters candidates by test-name match (exact or suffix) and
// synthesizes a measurements map from minimum/reading/maximum/uom.
func matchManual(t storage.Test, candidates []manualCandidate) []ResultRow {
	normalizedAssociated := query.NormalizeKey(t.AssociatedTest)

	out := make([]ResultRow, 0, len(candidates))

	for _, row := range candidates {
		normalizedTest := query.NormalizeKey(row.test)
		if normalizedTest != normalizedAssociated && !strings.HasSuffix(normalizedTest, normalizedAssociated) {
			continue
		}

		out = append(out, ResultRow{
			Serial:   row.sn,
			Batch:    row.batch,
			Date:     row.normalizedDate,
			PassFail: row.passFail,
			Measurements: map[string]interface{}{
				"minimum": row.minimum,
				"reading": row.reading,
				"maximum": row.maximum,
				"uom":     row.uom,
			},
		})
	}

	return out
}

// lookupCandidates builds the candidate key list the measurement-key
// lookup algorithm searches: normalized associated_test first, then
// normalized test_type.
func lookupCandidates(t storage.Test) []string {
	return []string{query.NormalizeKey(t.AssociatedTest), query.NormalizeKey(t.TestType)}
}

// lookupMeasurement searches measurements for the first candidate key that
// matches, by exact match first and substring match (either direction)
// second. Returns the matched key, its value, and whether anything matched.
func lookupMeasurement(measurements map[string]interface{}, candidateKeys []string) (string, interface{}, bool) {
	normalizedMeasurements := make(map[string]string, len(measurements))

	keys := make([]string, 0, len(measurements))
	for k := range measurements {
		keys = append(keys, k)
	}

	sort.Strings(keys) // deterministic scan order for substring fallback

	for _, k := range keys {
		normalizedMeasurements[k] = query.NormalizeKey(k)
	}

	for _, candidate := range candidateKeys {
		if candidate == "" {
			continue
		}

		for _, k := range keys {
			if normalizedMeasurements[k] == candidate {
				return k, measurements[k], true
			}
		}
	}

	for _, candidate := range candidateKeys {
		if candidate == "" {
			continue
		}

		for _, k := range keys {
			nk := normalizedMeasurements[k]
			if strings.Contains(nk, candidate) || strings.Contains(candidate, nk) {
				return k, measurements[k], true
			}
		}
	}

	return "", nil, false
}
