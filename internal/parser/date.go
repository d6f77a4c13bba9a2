package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// voltechTwoDigitYearPivot: two-digit years strictly greater than this pivot
// are assumed 19xx, otherwise 20xx — covers legacy instrument dumps that
// predate the Y2K rollover in their date field.
const voltechTwoDigitYearPivot = 69

// NormalizeVoltechDate converts a raw "DD-MM-YY" Voltech date into ISO
// YYYY-MM-DD. Returns the input unchanged if it doesn't match the expected
// shape (non-fatal — the caller logs and continues).
func NormalizeVoltechDate(raw string) (string, error) {
	parts := strings.Split(raw, "-")
	if len(parts) != 3 {
		return raw, fmt.Errorf("malformed voltech date %q", raw)
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return raw, fmt.Errorf("malformed voltech date day %q: %w", raw, err)
	}

	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return raw, fmt.Errorf("malformed voltech date month %q: %w", raw, err)
	}

	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return raw, fmt.Errorf("malformed voltech date year %q: %w", raw, err)
	}

	fullYear := year + 2000
	if year > voltechTwoDigitYearPivot {
		fullYear = year + 1900
	}

	return fmt.Sprintf("%04d-%02d-%02d", fullYear, month, day), nil
}

// NormalizeManualDate converts a raw "MM/DD/YYYY" manual-CSV date into ISO
// YYYY-MM-DD.
func NormalizeManualDate(raw string) (string, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return raw, fmt.Errorf("malformed manual date %q", raw)
	}

	month, err := strconv.Atoi(parts[0])
	if err != nil {
		return raw, fmt.Errorf("malformed manual date month %q: %w", raw, err)
	}

	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return raw, fmt.Errorf("malformed manual date day %q: %w", raw, err)
	}

	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return raw, fmt.Errorf("malformed manual date year %q: %w", raw, err)
	}

	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
}
