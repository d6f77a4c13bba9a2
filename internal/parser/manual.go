package parser

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
)

const manualFieldCount = 14

// ParseManualFile reads one manual-entry CSV file and returns the rows it
// could decode plus any non-fatal row errors. Comment lines (leading '#')
// and blank lines are skipped; rows short of the 14-field schema are
// logged as row errors and skipped, never aborting the file.
func ParseManualFile(ctx context.Context, path string) ([]ManualResult, []RowError, error) {
	f, err := OpenWithRetry(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		results   []ManualResult
		rowErrors []RowError
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) < manualFieldCount {
			rowErrors = append(rowErrors, RowError{
				LineNumber: lineNo,
				Message:    fmt.Sprintf("row has %d fields, want %d", len(fields), manualFieldCount),
			})

			continue
		}

		result, err := bindManualRow(fields, path)
		if err != nil {
			rowErrors = append(rowErrors, RowError{LineNumber: lineNo, Message: err.Error()})
			continue
		}

		results = append(results, *result)
	}

	if err := scanner.Err(); err != nil {
		return results, rowErrors, fmt.Errorf("scan %s: %w", path, err)
	}

	return results, rowErrors, nil
}

func bindManualRow(fields []string, path string) (*ManualResult, error) {
	trim := func(i int) string { return strings.TrimSpace(fields[i]) }

	result, err := strconv.Atoi(trim(0))
	if err != nil {
		return nil, fmt.Errorf("malformed result ordinal %q: %w", fields[0], err)
	}

	return &ManualResult{
		Result:   result,
		Test:     trim(1),
		FG:       trim(2),
		Rev:      trim(3),
		Batch:    trim(4),
		Operator: trim(5),
		Date:     trim(6),
		Time:     trim(7),
		SN:       trim(8),
		PassFail: trim(9),
		Minimum:  trim(10),
		Reading:  trim(11),
		Maximum:  trim(12),
		UOM:      trim(13),
		FilePath: path,
	}, nil
}
