package parser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotVoltechFile is returned when the caller hands ParseVoltechFile a
// path whose base name doesn't match the Voltech naming convention.
var ErrNotVoltechFile = errors.New("file does not match voltech naming convention")

const (
	filDateStart = 13
	filDateEnd   = 20 // half-open; covers "MMDD YY" (7 bytes)
)

// ParseVoltechFile reads one .atr instrument dump and returns the rows it
// could decode plus any non-fatal row errors encountered along the way.
// File-level problems (name mismatch, open failure) are returned as the
// error result; row-level problems never halt the scan.
func ParseVoltechFile(ctx context.Context, path string) ([]VoltechResult, []RowError, error) {
	if !IsVoltechFile(filepath.Base(path)) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotVoltechFile, path)
	}

	f, err := OpenWithRetry(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		part, operator, batch, rawDate string
		primary                        []string
		results                        []VoltechResult
		rowErrors                      []RowError
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := splitVoltechLine(line)
		first := strings.TrimSpace(fields[0])

		switch {
		case first == "Part #":
			part = voltechField(fields, 1)
			continue
		case first == "Operator":
			operator = voltechField(fields, 1)
			continue
		case first == "Batch #":
			batch = voltechField(fields, 1)
			continue
		case first == "Result #":
			row1 := fields

			if !scanner.Scan() {
				rowErrors = append(rowErrors, RowError{LineNumber: lineNo, Message: "Result # header missing continuation line"})
				continue
			}

			lineNo++
			row2 := splitVoltechLine(scanner.Text())
			primary = primaryColumnNames(row1, row2)

			continue
		case strings.HasPrefix(first, "Fil"):
			rawDate = extractFilDate(line)
			continue
		case strings.HasPrefix(first, "Test Date"):
			if idx := strings.Index(line, ":"); idx >= 0 {
				rawDate = strings.TrimSpace(line[idx+1:])
			}

			continue
		case first != "" && first[0] >= '0' && first[0] <= '9':
			result, rowErr := bindVoltechRow(fields, primary, part, operator, batch, rawDate, path, lineNo)
			if rowErr != nil {
				rowErrors = append(rowErrors, *rowErr)
				continue
			}

			results = append(results, *result)
		}
	}

	if err := scanner.Err(); err != nil {
		return results, rowErrors, fmt.Errorf("scan %s: %w", path, err)
	}

	return results, rowErrors, nil
}

func splitVoltechLine(line string) []string {
	return strings.Split(line, ",")
}

func voltechField(fields []string, idx int) string {
	if idx >= len(fields) {
		return ""
	}

	return strings.TrimSpace(fields[idx])
}

// extractFilDate pulls the encoded "MMDD YY" date out of a Fil-prefixed
// line at its fixed byte offsets and reformats it to "DD-MM-YY".
func extractFilDate(line string) string {
	end := filDateEnd
	if end > len(line) {
		end = len(line)
	}

	if filDateStart >= end {
		return ""
	}

	raw := line[filDateStart:end]
	digits := strings.Fields(raw)

	var mmdd, yy string

	switch {
	case len(digits) >= 2:
		mmdd, yy = digits[0], digits[1]
	case len(raw) >= 6:
		mmdd, yy = raw[0:4], raw[len(raw)-2:]
	default:
		return ""
	}

	if len(mmdd) < 4 {
		return ""
	}

	mm, dd := mmdd[0:2], mmdd[2:4]

	return fmt.Sprintf("%s-%s-%s", dd, mm, yy)
}

// bindVoltechRow binds one data line to a VoltechResult. Field 1 (0-based)
// is the result ordinal, field 2 is the serial ("NONE" when blank), field
// 3 is the overall pass/fail, field 4 is a legacy column dropped before
// binding the remaining cells to primary (the per-column names computed
// from the combined header).
func bindVoltechRow(fields, primary []string, part, operator, batch, rawDate, path string, lineNo int) (*VoltechResult, *RowError) {
	if len(fields) < 5 {
		return nil, &RowError{LineNumber: lineNo, Message: fmt.Sprintf("data row has only %d fields, want at least 5", len(fields))}
	}

	resultNum, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, &RowError{LineNumber: lineNo, Message: fmt.Sprintf("malformed result ordinal %q: %v", fields[1], err)}
	}

	serial := strings.TrimSpace(fields[2])
	if serial == "" {
		serial = "NONE"
	}

	passFail := strings.TrimSpace(fields[3])

	trimmedFields := dropIndex(fields, 4)
	trimmedPrimary := dropIndex(primary, 4)

	measurements := make(map[string]interface{})

	n := len(trimmedFields)
	if len(trimmedPrimary) < n {
		n = len(trimmedPrimary)
	}

	for i := 4; i < n; i++ {
		name := trimmedPrimary[i]
		if name == "" {
			continue
		}

		measurements[name] = ParseValue(strings.TrimSpace(trimmedFields[i]))
	}

	retries := 0
	if v, ok := measurements["Retries"]; ok {
		if n, ok := v.(int64); ok {
			retries = int(n)
		}

		delete(measurements, "Retries")
	}

	return &VoltechResult{
		Part:         part,
		Operator:     operator,
		Batch:        batch,
		Date:         rawDate,
		SerialNum:    serial,
		ResultNum:    resultNum,
		PassFail:     passFail,
		Time:         strings.TrimSpace(fields[0]),
		Retries:      retries,
		FilePath:     path,
		Measurements: measurements,
	}, nil
}

func dropIndex(s []string, idx int) []string {
	if idx >= len(s) {
		return s
	}

	out := make([]string, 0, len(s)-1)
	out = append(out, s[:idx]...)
	out = append(out, s[idx+1:]...)

	return out
}
