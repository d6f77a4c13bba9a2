package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linetrace/linetrace/internal/config"
	"github.com/linetrace/linetrace/internal/parser"
	"github.com/linetrace/linetrace/internal/storage"
)

type testFixture struct {
	collector *Collector
	fgID      int64
	reportID  int64
}

func newTestFixture(t *testing.T, serialized bool) testFixture {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	catalogDB := config.SetupTestDatabase(t, "catalog")
	voltechDB := config.SetupTestDatabase(t, "voltech")
	manualDB := config.SetupTestDatabase(t, "manual")

	t.Cleanup(func() {
		_ = catalogDB.Connection.Close()
		_ = voltechDB.Connection.Close()
		_ = manualDB.Connection.Close()
	})

	catalogConn := &storage.Connection{DB: catalogDB.Connection, Schema: storage.SchemaCatalog}
	voltechConn := &storage.Connection{DB: voltechDB.Connection, Schema: storage.SchemaVoltech}
	manualConn := &storage.Connection{DB: manualDB.Connection, Schema: storage.SchemaManual}

	catalog := storage.NewCatalogStore(catalogConn)

	ctx := context.Background()

	serializedInt := 0
	if serialized {
		serializedInt = 1
	}

	res, err := catalogConn.ExecContext(ctx, `
		INSERT INTO fg (fg, rev, customer, serialized) VALUES ('PN100', 'A', 'Acme', ?)
	`, serializedInt)
	require.NoError(t, err)

	fgID, err := res.LastInsertId()
	require.NoError(t, err)

	res, err = catalogConn.ExecContext(ctx, `INSERT INTO report (fg_id, attributes) VALUES (?, '{}')`, fgID)
	require.NoError(t, err)

	reportID, err := res.LastInsertId()
	require.NoError(t, err)

	_, err = catalogConn.ExecContext(ctx, `
		INSERT INTO test (fg_id, report_id, test_type, source_type, associated_test, minimum, maximum, uo_m, sort_order)
		VALUES
			(?, ?, 'Inductance', 'voltech', '002 LSReading', '10', '20', 'mH', 1),
			(?, ?, 'Leakage', 'manual', 'LFT-LKG', '0', '5', 'mA', 2)
	`, fgID, reportID, fgID, reportID)
	require.NoError(t, err)

	voltechResults := storage.NewVoltechResultStore(voltechConn)
	_, err = voltechResults.InsertBatch(ctx, []parser.VoltechResult{
		{
			Part: "PN100A", Operator: "jdoe", Batch: "B200", Date: "14-03-26",
			SerialNum: "100", ResultNum: 1, PassFail: "Pass", Time: "09:00:00",
			FilePath: "/srv/f1.atr",
			Measurements: map[string]interface{}{"002 LSReading": int64(14)},
		},
		{
			Part: "PN100A", Operator: "jdoe", Batch: "B200", Date: "14-03-26",
			SerialNum: "101", ResultNum: 2, PassFail: "Fail", Time: "09:01:00",
			FilePath: "/srv/f1.atr",
			Measurements: map[string]interface{}{"002 LSReading": int64(3)},
		},
	})
	require.NoError(t, err)

	manualResults := storage.NewManualResultStore(manualConn)
	_, err = manualResults.InsertBatch(ctx, []parser.ManualResult{
		{
			Result: 1, Test: "PN100-LFT-LKG", FG: "PN100", Rev: "A", Batch: "B200",
			Operator: "jdoe", Date: "03/14/2026", Time: "09:05:00", SN: "100",
			PassFail: "PASS", Minimum: "0", Reading: "2", Maximum: "5", UOM: "mA",
			FilePath: "/srv/manual/f1.csv",
		},
	})
	require.NoError(t, err)

	return testFixture{
		collector: NewCollector(catalog, voltechConn, manualConn),
		fgID:      fgID,
		reportID:  reportID,
	}
}

func TestCollector_SerializedModeMatchesVoltechAndManual(t *testing.T) {
	fixture := newTestFixture(t, true)

	data, err := fixture.collector.Collect(context.Background(), ModeSerialized, CollectParams{
		ReportID: fixture.reportID, SerialFrom: "100", SerialTo: "101",
	})
	require.NoError(t, err)
	require.Len(t, data.Tests, 2)

	inductance := data.Tests[0]
	require.Equal(t, "Inductance", inductance.Test.TestType)
	require.Len(t, inductance.Results, 1, "only the passing serial should match")
	require.Equal(t, "100", inductance.Results[0].Serial)
	require.Equal(t, float64(14), inductance.Results[0].Measurements["002 LSReading"])

	leakage := data.Tests[1]
	require.Equal(t, "Leakage", leakage.Test.TestType)
	require.Len(t, leakage.Results, 1)
	require.Equal(t, "100", leakage.Results[0].Serial)
	require.Equal(t, "2", leakage.Results[0].Measurements["reading"])
}

func TestCollector_SerializedModeDedupesMostRecentPerSerial(t *testing.T) {
	fixture := newTestFixture(t, true)

	// A later file, still within a later fixture-seeded file path, re-tests
	// serial 100 with a new passing row — this must win over the first.
	voltechConn := fixture.collector.voltech
	_, err := voltechConn.ExecContext(context.Background(), `
		INSERT INTO test_result (part, operator, batch, date, serial_num, result_num,
			pass_fail, time, file_path, measurements, created_at)
		VALUES ('PN100A', 'jdoe', 'B200', '15-03-26', '100', 1, 'Pass', '10:00:00',
			'/srv/f2.atr', '{"002 LSReading": 18}', strftime('%Y-%m-%dT%H:%M:%fZ', 'now', '+1 minute'))
	`)
	require.NoError(t, err)

	data, err := fixture.collector.Collect(context.Background(), ModeSerialized, CollectParams{
		ReportID: fixture.reportID, SerialFrom: "100", SerialTo: "101",
	})
	require.NoError(t, err)

	inductance := data.Tests[0]
	require.Len(t, inductance.Results, 1)
	require.Equal(t, float64(18), inductance.Results[0].Measurements["002 LSReading"], "most recent row must win")
}

// TestCollector_MatchVoltechPicksOnlyMatchedMeasurement verifies that a
// voltech row carrying several measurement keys (the normal case given the
// parser's header fan-out) contributes only the one key that matched the
// test's associated_test, not an arbitrary entry from the row.
func TestCollector_MatchVoltechPicksOnlyMatchedMeasurement(t *testing.T) {
	fixture := newTestFixture(t, true)

	voltechConn := fixture.collector.voltech
	_, err := voltechConn.ExecContext(context.Background(), `
		UPDATE test_result
		SET measurements = '{"Polarity": "Pos", "002 LSReading": 14, "Maximum": 20}'
		WHERE serial_num = '100'
	`)
	require.NoError(t, err)

	data, err := fixture.collector.Collect(context.Background(), ModeSerialized, CollectParams{
		ReportID: fixture.reportID, SerialFrom: "100", SerialTo: "101",
	})
	require.NoError(t, err)

	inductance := data.Tests[0]
	require.Len(t, inductance.Results, 1)
	require.Equal(t, map[string]interface{}{"002 LSReading": float64(14)}, inductance.Results[0].Measurements,
		"only the matched key should survive, not the row's other measurement fields")
	require.Equal(t, float64(14), inductance.Results[0].MeasurementValue)
}

func TestCollector_Validate(t *testing.T) {
	fixture := newTestFixture(t, true)

	result, err := fixture.collector.Validate(context.Background(), ModeSerialized, CollectParams{
		ReportID: fixture.reportID, SerialFrom: "100", SerialTo: "101",
	})
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.Len(t, result.Tests, 2)

	for _, tv := range result.Tests {
		require.True(t, tv.HasData)
		require.Equal(t, 1, tv.RecordCount)
	}
}

func TestCollector_ValidateIncompleteWhenNoMatch(t *testing.T) {
	fixture := newTestFixture(t, true)

	result, err := fixture.collector.Validate(context.Background(), ModeSerialized, CollectParams{
		ReportID: fixture.reportID, SerialFrom: "900", SerialTo: "999",
	})
	require.NoError(t, err)
	require.False(t, result.Complete)

	for _, tv := range result.Tests {
		require.False(t, tv.HasData)
		require.Equal(t, 0, tv.RecordCount)
	}
}

func TestExplain_ReportsMatchedKey(t *testing.T) {
	fixture := newTestFixture(t, true)

	tests, err := fixture.collector.catalog.TestsByReport(context.Background(), fixture.reportID)
	require.NoError(t, err)

	trace := Explain(tests[0], map[string]interface{}{"002 LSReading": int64(14)})
	require.True(t, trace.Matched)
	require.Equal(t, "002 LSReading", trace.MatchedKey)
}
