package parser

import "strconv"

// ParseValue types a raw cell: integer first, then float via a
// digit/dot/sign/exponent fast-path scan, else the original string. The
// fast-path scan avoids strconv.ParseFloat's own error-path allocation cost
// on the overwhelmingly common case of plain text cells (operator names,
// pass/fail strings) that are never going to parse as numbers.
func ParseValue(raw string) interface{} {
	if raw == "" {
		return raw
	}

	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}

	if looksNumeric(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}

	return raw
}

// looksNumeric is a cheap byte scan admitting only characters that can
// appear in a float literal, so ParseFloat is only attempted on plausible
// candidates.
func looksNumeric(s string) bool {
	sawDigit := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case c >= '0' && c <= '9':
			sawDigit = true
		case c == '.' || c == '+' || c == '-' || c == 'e' || c == 'E':
			// allowed separators/exponent markers
		default:
			return false
		}
	}

	return sawDigit
}
