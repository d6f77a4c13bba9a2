// Package excel renders a collected report into a styled Excel workbook:
// a header block describing each test, followed by one row per serial
// with per-test measurement cells. It performs
// no database I/O — report.ReportData is its only input.
package excel

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/linetrace/linetrace/internal/report"
	"github.com/linetrace/linetrace/internal/storage"
)

const (
	sheetName = "Report"

	// serialCol is the fixed row-labels-in-header / serial-numbers-in-data
	// column (spec's "column 0").
	serialCol = 1

	// firstTestCol is where the first test's measurement column starts.
	firstTestCol = 2

	// Header block occupies rows 1-13 (spec's 0-indexed rows 0-12).
	headerRows = 13

	rowTitle     = 1
	rowCustomer  = 2
	rowJobSplit  = 3
	rowTestName  = 4
	rowSource    = 5
	rowLevel     = 6
	rowFrequency = 7
	rowMinimum   = 8
	rowMaximum   = 9
	rowUOM       = 10
	rowPins      = 11
	rowNotes     = 12
	rowSN        = 13

	firstDataRow = headerRows + 1

	pageMarginInches = 0.3
)

// rowLabels gives the column-A caption for every header row, in the order
// spec.md's header block lists them.
var rowLabels = map[int]string{
	rowTestName:  "Test",
	rowSource:    "Source",
	rowLevel:     "Level",
	rowFrequency: "Frequency",
	rowMinimum:   "Minimum",
	rowMaximum:   "Maximum",
	rowUOM:       "UoM",
	rowPins:      "Pins",
	rowNotes:     "Notes",
	rowSN:        "SN",
}

// RenderOptions carries the header-block text that isn't part of
// report.ReportData (title/customer/job metadata are workbook-level
// concerns, not measurement data).
type RenderOptions struct {
	Title       string
	Customer    string
	JobSplit    string
	DateCode    string
	StartSerial int
	EndSerial   int
}

// Render materializes data into a workbook buffer ready to be written to
// disk or served over HTTP.
func Render(data report.ReportData, opts RenderOptions) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename default sheet: %w", err)
	}

	if err := applyPageLayout(f, len(data.Tests)); err != nil {
		return nil, err
	}

	if err := writeHeaderBlock(f, opts, data.Tests); err != nil {
		return nil, fmt.Errorf("write header block: %w", err)
	}

	if err := writeDataRows(f, data, opts); err != nil {
		return nil, fmt.Errorf("write data rows: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}

	return buf, nil
}

// applyPageLayout sets landscape orientation, 0.3in margins, and marks
// rows 1-13 plus column A as print titles, so the header block and serial
// column repeat on every printed page once a report spans more than one
// page of test columns (spec's "every 10 test columns" requirement,
// realized through Excel's own repeating-header mechanism rather than
// duplicating cell content at fixed column intervals).
func applyPageLayout(f *excelize.File, testCount int) error {
	orientation := "landscape"

	if err := f.SetPageLayout(sheetName, &excelize.PageLayoutOptions{Orientation: &orientation}); err != nil {
		return fmt.Errorf("set page layout: %w", err)
	}

	margin := pageMarginInches

	if err := f.SetPageMargins(sheetName, &excelize.PageLayoutMarginsOptions{
		Top: &margin, Bottom: &margin, Left: &margin, Right: &margin,
	}); err != nil {
		return fmt.Errorf("set page margins: %w", err)
	}

	if err := f.SetDefinedName(&excelize.DefinedName{
		Name:     "Print_Titles",
		RefersTo: fmt.Sprintf("%s!$A:$A,%s!$1:$%d", sheetName, sheetName, headerRows),
		Scope:    sheetName,
	}); err != nil {
		return fmt.Errorf("set print titles: %w", err)
	}

	_ = testCount // width of the printed range, not needed beyond documenting intent above

	return nil
}

// writeHeaderBlock writes the title/customer/job-metadata rows, the
// row-labels column, and every test's header values in its own column.
func writeHeaderBlock(f *excelize.File, opts RenderOptions, tests []report.TestResultSet) error {
	lastCol := serialCol
	if len(tests) > 0 {
		lastCol = firstTestCol + len(tests) - 1
	}

	if err := mergeAndSet(f, rowTitle, serialCol, lastCol, opts.Title); err != nil {
		return err
	}

	if err := mergeAndSet(f, rowCustomer, serialCol, lastCol, opts.Customer); err != nil {
		return err
	}

	jobLine := strings.Join(nonEmpty(opts.JobSplit, opts.DateCode), "  ·  ")
	if err := mergeAndSet(f, rowJobSplit, serialCol, lastCol, jobLine); err != nil {
		return err
	}

	for row, label := range rowLabels {
		if err := setCell(f, row, serialCol, label); err != nil {
			return err
		}
	}

	for i, ts := range tests {
		col := firstTestCol + i

		rows := map[int]interface{}{
			rowTestName:  ts.Test.TestType,
			rowSource:    ts.Test.SourceType,
			rowLevel:     ts.Test.Voltage,
			rowFrequency: ts.Test.Frequency,
			rowMinimum:   ts.Test.Minimum,
			rowMaximum:   ts.Test.Maximum,
			rowUOM:       ts.Test.UOM,
			rowPins:      pinLabel(ts.Test.PinPositive, ts.Test.PinNegative),
			rowNotes:     noteFor(ts.Test),
		}

		for row, value := range rows {
			if err := setCell(f, row, col, value); err != nil {
				return err
			}
		}
	}

	return nil
}

func pinLabel(positive, negative string) string {
	if positive == "" && negative == "" {
		return ""
	}

	return positive + " / " + negative
}

func noteFor(t storage.Test) string {
	if t.ManualOverride {
		return "manual override"
	}

	return ""
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// writeDataRows writes one row per serial (serialized mode) keyed off
// opts.StartSerial/EndSerial, or one row per distinct serial seen in the
// results otherwise,
// with the per-test measurement cell written at the test's column and the
// serial/result label in column A.
func writeDataRows(f *excelize.File, data report.ReportData, opts RenderOptions) error {
	serials := collectSerials(data, opts)

	for rowOffset, serial := range serials {
		row := firstDataRow + rowOffset

		if err := setCell(f, row, serialCol, serial); err != nil {
			return err
		}

		for i, ts := range data.Tests {
			col := firstTestCol + i

			value, valid := cellFor(ts, serial)
			if !valid {
				continue
			}

			if err := setCell(f, row, col, value); err != nil {
				return err
			}
		}
	}

	return nil
}

// collectSerials returns the ordered set of row keys (serial numbers) the
// data rows iterate over: the explicit start/end range when given, else
// every distinct serial seen across the report's results.
func collectSerials(data report.ReportData, opts RenderOptions) []string {
	if opts.StartSerial > 0 && opts.EndSerial >= opts.StartSerial {
		out := make([]string, 0, opts.EndSerial-opts.StartSerial+1)
		for s := opts.StartSerial; s <= opts.EndSerial; s++ {
			out = append(out, strconv.Itoa(s))
		}

		return out
	}

	seen := make(map[string]bool)

	var out []string

	for _, ts := range data.Tests {
		for _, r := range ts.Results {
			if !seen[r.Serial] {
				seen[r.Serial] = true

				out = append(out, r.Serial)
			}
		}
	}

	return out
}

// cellFor resolves the measurement value to write for serial within ts,
// and whether the cell counts as "valid" per spec.md §4.6: the row must be
// Pass (manual-source rows are a case-insensitive PASS check by
// construction, since matchManual never filters on pass_fail and the
// comparison here is the same EqualFold test for both sources).
func cellFor(ts report.TestResultSet, serial string) (interface{}, bool) {
	for _, r := range ts.Results {
		if r.Serial != serial {
			continue
		}

		if !strings.EqualFold(r.PassFail, "Pass") {
			return nil, false
		}

		return measurementValue(ts, r), true
	}

	return nil, false
}

func measurementValue(ts report.TestResultSet, r report.ResultRow) interface{} {
	if ts.Test.SourceType == "manual" {
		return r.Measurements["reading"]
	}

	return r.MeasurementValue
}

func mergeAndSet(f *excelize.File, row, startCol, endCol int, value string) error {
	startName, err := excelize.CoordinatesToCellName(startCol, row)
	if err != nil {
		return fmt.Errorf("resolve cell name: %w", err)
	}

	endName, err := excelize.CoordinatesToCellName(endCol, row)
	if err != nil {
		return fmt.Errorf("resolve cell name: %w", err)
	}

	if startCol != endCol {
		if err := f.MergeCell(sheetName, startName, endName); err != nil {
			return fmt.Errorf("merge %s:%s: %w", startName, endName, err)
		}
	}

	if err := f.SetCellValue(sheetName, startName, value); err != nil {
		return fmt.Errorf("set cell %s: %w", startName, err)
	}

	return nil
}

func setCell(f *excelize.File, row, col int, value interface{}) error {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("resolve cell name: %w", err)
	}

	if err := f.SetCellValue(sheetName, name, value); err != nil {
		return fmt.Errorf("set cell %s: %w", name, err)
	}

	return nil
}
