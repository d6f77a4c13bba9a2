package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/linetrace/internal/config"
	"github.com/linetrace/linetrace/internal/parser"
)

func newVoltechResultStore(t *testing.T) *VoltechResultStore {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := config.SetupTestDatabase(t, "voltech")
	t.Cleanup(func() { _ = testDB.Connection.Close() })

	conn := &Connection{DB: testDB.Connection, Schema: SchemaVoltech}

	return NewVoltechResultStore(conn)
}

func sampleVoltechResults(filePath string) []parser.VoltechResult {
	return []parser.VoltechResult{
		{
			Part:      "PN100-A",
			Operator:  "jdoe",
			Batch:     "B200",
			Date:      "14-03-26",
			SerialNum: "100",
			ResultNum: 1,
			PassFail:  "Pass",
			Time:      "09:00:00",
			FilePath:  filePath,
			Measurements: map[string]interface{}{
				"002 LSReading": int64(12),
			},
		},
		{
			Part:      "PN100-A",
			Operator:  "jdoe",
			Batch:     "B200",
			Date:      "14-03-26",
			SerialNum: "101",
			ResultNum: 2,
			PassFail:  "Fail",
			Time:      "09:01:00",
			FilePath:  filePath,
			Measurements: map[string]interface{}{
				"002 LSReading": int64(9),
			},
		},
	}
}

func TestVoltechResultStore_InsertBatchIsIdempotent(t *testing.T) {
	store := newVoltechResultStore(t)
	ctx := context.Background()

	results := sampleVoltechResults("/share/C1012026.atr")

	inserted, err := store.InsertBatch(ctx, results)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-running the same batch (as a re-scanned, unchanged file would)
	// must insert zero additional rows.
	inserted, err = store.InsertBatch(ctx, results)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	rows, err := store.ByPart(ctx, "PN100-A", "", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestVoltechResultStore_ByPartDateRange(t *testing.T) {
	store := newVoltechResultStore(t)
	ctx := context.Background()

	results := sampleVoltechResults("/share/C1012027.atr")

	_, err := store.InsertBatch(ctx, results)
	require.NoError(t, err)

	rows, err := store.ByPart(ctx, "PN100-A", "2026-03-14", "2026-03-14")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = store.ByPart(ctx, "PN100-A", "2026-04-01", "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestVoltechResultStore_InsertBatchEmpty(t *testing.T) {
	store := newVoltechResultStore(t)

	inserted, err := store.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}
