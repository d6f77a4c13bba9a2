package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linetrace/linetrace/internal/config"
	"github.com/linetrace/linetrace/internal/parser"
	"github.com/linetrace/linetrace/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.VoltechResultStore) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := config.SetupTestDatabase(t, "voltech")
	t.Cleanup(func() { _ = testDB.Connection.Close() })

	conn := &storage.Connection{DB: testDB.Connection, Schema: storage.SchemaVoltech}

	return NewService(conn), storage.NewVoltechResultStore(conn)
}

func seedResults(t *testing.T, results *storage.VoltechResultStore, rows []parser.VoltechResult) {
	t.Helper()

	_, err := results.InsertBatch(context.Background(), rows)
	require.NoError(t, err)
}

func fixtureRows(part, batch, filePath string) []parser.VoltechResult {
	return []parser.VoltechResult{
		{
			Part: part, Operator: "jdoe", Batch: batch, Date: "14-03-26", SerialNum: "100",
			ResultNum: 1, PassFail: "Pass", Time: "09:00:00", FilePath: filePath,
			Measurements: map[string]interface{}{"002 LSReading": int64(12)},
		},
		{
			Part: part, Operator: "jdoe", Batch: batch, Date: "14-03-26", SerialNum: "101",
			ResultNum: 2, PassFail: "Fail", Time: "09:01:00", FilePath: filePath,
			Measurements: map[string]interface{}{"002 LSReading": int64(9)},
		},
		{
			Part: part, Operator: "asmith", Batch: batch, Date: "15-03-26", SerialNum: "102",
			ResultNum: 3, PassFail: "Pass", Time: "09:02:00", FilePath: filePath,
			Measurements: map[string]interface{}{"002 LSReading": int64(14)},
		},
	}
}

func TestService_PartListAndSummary(t *testing.T) {
	svc, results := newTestService(t)
	seedResults(t, results, fixtureRows("PN100-A", "B200", "/srv/PN100-A/f1.atr"))

	parts, err := svc.PartList(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, "PN100-A", parts[0].Part)
	require.Equal(t, 3, parts[0].TotalTests)

	summary, ok, err := svc.PartSummary(context.Background(), "PN100-A", "", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, summary.TotalTests)
	require.Equal(t, 2, summary.PassCount)
	require.Equal(t, 1, summary.FailCount)
	require.Equal(t, 1, summary.DistinctBatches)

	_, ok, err = svc.PartSummary(context.Background(), "does-not-exist", "", "")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestService_PartSummaryDateScoped verifies date_from/date_to narrow the
// aggregation to the rows normalized into that range.
func TestService_PartSummaryDateScoped(t *testing.T) {
	svc, results := newTestService(t)
	seedResults(t, results, fixtureRows("PN100-A", "B200", "/srv/PN100-A/f1.atr"))

	scoped, ok, err := svc.PartSummary(context.Background(), "PN100-A", "2026-03-14", "2026-03-14")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, scoped.TotalTests, "only the two tests normalized to 2026-03-14 are in scope")

	_, ok, err = svc.PartSummary(context.Background(), "PN100-A", "2026-03-16", "2026-03-31")
	require.NoError(t, err)
	require.False(t, ok, "no rows fall after the seeded date range")
}

func TestService_BatchListAndDetail(t *testing.T) {
	svc, results := newTestService(t)
	seedResults(t, results, fixtureRows("PN100-A", "B200", "/srv/PN100-A/f1.atr"))

	batches, err := svc.BatchList(context.Background(), "PN100-A", "", "")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "B200", batches[0].Batch)
	require.Equal(t, 3, batches[0].TotalTests)

	detail, ok, err := svc.BatchDetail(context.Background(), "PN100-A", "B200", "", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "09:00:00", detail.FirstTestTime)
	require.Equal(t, "09:02:00", detail.LastTestTime)
}

func TestService_BySerialRangeDeduplicatesAndSortsNumerically(t *testing.T) {
	svc, results := newTestService(t)

	seedResults(t, results, []parser.VoltechResult{
		{Part: "PN100-A", Batch: "B200", SerialNum: "9", ResultNum: 1, PassFail: "Fail", FilePath: "/srv/f1.atr"},
		{Part: "PN100-A", Batch: "B200", SerialNum: "10", ResultNum: 2, PassFail: "Pass", FilePath: "/srv/f1.atr"},
		{Part: "PN100-A", Batch: "B200", SerialNum: "100", ResultNum: 3, PassFail: "Pass", FilePath: "/srv/f1.atr"},
	})
	// A retest of serial 9 in a later file must supersede the first attempt.
	seedResults(t, results, []parser.VoltechResult{
		{Part: "PN100-A", Batch: "B200", SerialNum: "9", ResultNum: 1, PassFail: "Pass", FilePath: "/srv/f2.atr"},
	})

	rows, err := svc.BySerialRange(context.Background(), "PN100-A", "9", "100")
	require.NoError(t, err)
	require.Len(t, rows, 3, "one deduplicated row per serial number")

	require.Equal(t, "9", rows[0].SerialNum)
	require.Equal(t, "Pass", rows[0].PassFail, "retest result must win over the original")
	require.Equal(t, "10", rows[1].SerialNum)
	require.Equal(t, "100", rows[2].SerialNum, "numeric sort must place 100 after 10, not lexicographically before it")
}

func TestService_SearchTestsFiltersAndPaginates(t *testing.T) {
	svc, results := newTestService(t)
	seedResults(t, results, fixtureRows("PN100-A", "B200", "/srv/f1.atr"))

	passing, err := svc.SearchTests(context.Background(), SearchFilter{Part: "PN100-A", PassFail: "pass"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, passing, 2)

	byOperator, err := svc.SearchTests(context.Background(), SearchFilter{Operator: "asmith"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, byOperator, 1)
	require.Equal(t, "102", byOperator[0].SerialNum)

	page, err := svc.SearchTests(context.Background(), SearchFilter{Part: "PN100-A"}, 1, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestService_Stats(t *testing.T) {
	svc, results := newTestService(t)
	seedResults(t, results, fixtureRows("PN100-A", "B200", "/srv/f1.atr"))

	daily, err := svc.DailyStats(context.Background(), "", "", "")
	require.NoError(t, err)
	require.Len(t, daily, 2, "one bucket per normalized_date")

	operators, err := svc.OperatorStats(context.Background(), "", "", "")
	require.NoError(t, err)
	require.Len(t, operators, 2)

	overall, err := svc.OverallStats(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, 3, overall.Total)
	require.Equal(t, 2, overall.PassCount)

	perPart, err := svc.PartStats(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, perPart, 1)
	require.Equal(t, "PN100-A", perPart[0].Part)
}

// TestService_StatsDateScoped verifies DailyStats/OverallStats honor an
// explicit normalized_date range.
func TestService_StatsDateScoped(t *testing.T) {
	svc, results := newTestService(t)
	seedResults(t, results, fixtureRows("PN100-A", "B200", "/srv/f1.atr"))

	daily, err := svc.DailyStats(context.Background(), "", "2026-03-15", "2026-03-15")
	require.NoError(t, err)
	require.Len(t, daily, 1, "only the 2026-03-15 bucket is in scope")

	overall, err := svc.OverallStats(context.Background(), "2026-03-15", "2026-03-15")
	require.NoError(t, err)
	require.Equal(t, 1, overall.Total)
}
