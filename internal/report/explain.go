package report

import (
	"sort"

	"github.com/linetrace/linetrace/internal/storage"
)

// KeyLookupTrace records which candidate keys the measurement-key lookup
// tried for one test against one row, and which (if any) matched.
type KeyLookupTrace struct {
	CandidateKeys []string
	MeasuredKeys  []string
	MatchedKey    string
	MatchedValue  interface{}
	Matched       bool
}

// Explain dumps the measurement-key lookup trace for one test against one
// already-fetched Voltech measurements map, without touching the database.
// It exists so an operator can see why a cell rendered blank: which keys
// were tried and what the row actually carried.
func Explain(t storage.Test, measurements map[string]interface{}) KeyLookupTrace {
	candidateKeys := lookupCandidates(t)

	measuredKeys := make([]string, 0, len(measurements))
	for k := range measurements {
		measuredKeys = append(measuredKeys, k)
	}

	sort.Strings(measuredKeys)

	matchedKey, matchedValue, matched := lookupMeasurement(measurements, candidateKeys)

	return KeyLookupTrace{
		CandidateKeys: candidateKeys,
		MeasuredKeys:  measuredKeys,
		MatchedKey:    matchedKey,
		MatchedValue:  matchedValue,
		Matched:       matched,
	}
}
