// Package query offers read-only aggregations over the Voltech measurement
// store: part/batch listings, search, and statistics. It performs no
// mutation and holds no lock — safe to call from both Master and Follower
// processes.
package query

import "strings"

// TestTypeDictionary maps a human-readable test type name to the pattern
// matched against Voltech measurement keys (JSON keys in `measurements`)
// or a Manual test-name suffix. This is the "full" dictionary: the
// authoritative table where a sparser legacy variant once existed.
var TestTypeDictionary = map[string]string{
	"Inductance":    "Inductance",
	"Leakage":       "Leakage",
	"DC Resistance": "DCR",
	"Turns Ratio":   "Turns Ratio",
	"Hipot":         "Hipot",
	"Ground Bond":   "Ground Bond",
	"Polarity":      "Polarity",
}

// NormalizeKey collapses runs of whitespace to a single space and trims the
// result, so "LS   002" and "LS 002" compare equal. Implemented directly on
// strings.Fields/strings.Join rather than a shared canonicalization
// package: the only two callers (this package and the report collector)
// need nothing more than this one rule.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// MatchesTestType reports whether candidate (a measurement key or Manual
// test-name) matches typeName's dictionary pattern, after normalizing both
// sides. Voltech measurement keys and Manual test-name suffixes are matched
// by whichever of exact-equality or substring (either direction) hits
// first, mirroring the lookup rule the report collector also uses.
func MatchesTestType(typeName, candidate string) bool {
	pattern, ok := TestTypeDictionary[typeName]
	if !ok {
		return false
	}

	normalizedPattern := NormalizeKey(pattern)
	normalizedCandidate := NormalizeKey(candidate)

	if normalizedPattern == normalizedCandidate {
		return true
	}

	return strings.Contains(normalizedCandidate, normalizedPattern) ||
		strings.Contains(normalizedPattern, normalizedCandidate)
}
