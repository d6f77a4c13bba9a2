// Package report resolves a catalog Report definition into the measurement
// data backing it, drawn from whichever of the Voltech or Manual stores a
// given Test's source_type names, and validates that every test in the
// report has data before a workbook is rendered from it.
package report

import "github.com/linetrace/linetrace/internal/storage"

// Mode selects how result rows are scoped to a report run.
type Mode int

const (
	// ModeSerialized scopes results to a serial range within one FG+rev.
	ModeSerialized Mode = iota
	// ModeBatch scopes results to one batch, optionally further restricted
	// to a set of normalized dates.
	ModeBatch
)

// CollectParams selects what Collect resolves. Exactly one of
// (SerialFrom/SerialTo) or Batch must be set, matching the FG's
// Serialized flag — the caller decides which before calling Collect.
type CollectParams struct {
	ReportID      int64
	SerialFrom    string
	SerialTo      string
	Batch         string
	SelectedDates []string
}

// ResultRow is one matched measurement, trimmed to what the renderer needs.
// MeasurementValue holds the single value lookupMeasurement matched against
// the test's associated_test/test_type for voltech-sourced rows, and for
// those rows Measurements holds only that one matched key. Manual-sourced
// rows synthesize a small fixed set of keys in Measurements rather than
// matching one out of many.
type ResultRow struct {
	Serial           string
	Batch            string
	Date             string
	PassFail         string
	Measurements     map[string]interface{}
	MeasurementValue interface{}
}

// TestResultSet pairs one catalog Test definition with the rows collected
// for it.
type TestResultSet struct {
	Test    storage.Test
	Results []ResultRow
}

// ReportData is Collect's output: every test in the report paired with
// whatever measurement rows matched it.
type ReportData struct {
	FG     storage.FG
	Report storage.Report
	Mode   Mode
	Tests  []TestResultSet
}

// SessionKey groups candidate rows by date+batch for batch-mode
// availability reporting.
type SessionKey struct {
	NormalizedDate string
	Batch          string
}

// TestValidation is Validate's per-test result.
type TestValidation struct {
	Test              storage.Test
	HasData           bool
	RecordCount       int
	AvailableSessions []SessionKey
}

// ValidationResult is Validate's output. Complete is true iff every test
// has data.
type ValidationResult struct {
	Tests    []TestValidation
	Complete bool
}
