package query

// PartListRow is one row of the part-list aggregation: a distinct part with
// its running totals.
type PartListRow struct {
	Part       string
	TotalTests int
	MostRecent string
}

// PartSummaryRow is the per-part detail aggregation.
type PartSummaryRow struct {
	Part            string
	TotalTests      int
	DistinctBatches int
	PassCount       int
	FailCount       int
	PassRatePercent float64
	FirstDate       string
	LastDate        string
}

// BatchListRow is one batch within a part, ordered by recency.
type BatchListRow struct {
	Batch      string
	TotalTests int
	PassCount  int
	FailCount  int
	MostRecent string
}

// BatchDetailRow adds the batch's test-time span to BatchListRow.
type BatchDetailRow struct {
	BatchListRow
	FirstTestTime string
	LastTestTime  string
}

// SearchFilter selects TestResult rows by any combination of fields. A zero
// value field means "unfiltered" for that dimension. SerialFrom/SerialTo are
// either both set (range search, both lexicographic and numeric senses) or
// both empty.
type SearchFilter struct {
	Part       string
	Batch      string
	Operator   string
	PassFail   string
	DateFrom   string
	DateTo     string
	SerialFrom string
	SerialTo   string
}

// SearchResultRow is one matched TestResult, trimmed to the fields a search
// result needs (full Measurements are available via ByPart/BySerialRange
// when the caller needs them).
type SearchResultRow struct {
	ID             int64
	Part           string
	Operator       string
	Batch          string
	NormalizedDate string
	SerialNum      string
	ResultNum      int
	PassFail       string
	CreatedAt      string
}

// DailyStatRow aggregates pass/fail counts for one normalized_date.
type DailyStatRow struct {
	Date            string
	Total           int
	PassCount       int
	FailCount       int
	PassRatePercent float64
}

// OperatorStatRow aggregates pass/fail counts for one operator.
type OperatorStatRow struct {
	Operator        string
	Total           int
	PassCount       int
	FailCount       int
	PassRatePercent float64
}

// OverallStatRow aggregates pass/fail counts across the whole store.
type OverallStatRow struct {
	Total           int
	PassCount       int
	FailCount       int
	PassRatePercent float64
	FirstDate       string
	LastDate        string
}

func passRate(total, pass int) float64 {
	if total == 0 {
		return 0
	}

	return float64(pass) / float64(total) * 100
}
