package report

import (
	"context"
	"fmt"
	"sort"
)

// Validate reports, per test, whether any data is available. It runs
// Collect over the same scope and then counts and groups the collected
// rows, so it costs as much as a Collect call.
func (c *Collector) Validate(ctx context.Context, mode Mode, params CollectParams) (ValidationResult, error) {
	data, err := c.Collect(ctx, mode, params)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("collect for validation: %w", err)
	}

	out := ValidationResult{Complete: true}

	for _, ts := range data.Tests {
		validation := TestValidation{Test: ts.Test}

		if ts.Test.SourceType == "other" {
			validation.HasData = true
			out.Tests = append(out.Tests, validation)

			continue
		}

		validation.RecordCount = len(ts.Results)
		validation.HasData = validation.RecordCount > 0

		if mode == ModeBatch {
			validation.AvailableSessions = sessionsFor(ts.Results)
		}

		if !validation.HasData {
			out.Complete = false
		}

		out.Tests = append(out.Tests, validation)
	}

	return out, nil
}

// sessionsFor groups results by (date, batch) and sorts the groups by date
// descending, for the batch-mode "which sessions have data" summary.
func sessionsFor(results []ResultRow) []SessionKey {
	seen := make(map[SessionKey]bool)

	var keys []SessionKey

	for _, r := range results {
		k := SessionKey{NormalizedDate: r.Date, Batch: r.Batch}
		if !seen[k] {
			seen[k] = true

			keys = append(keys, k)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].NormalizedDate > keys[j].NormalizedDate
	})

	return keys
}
