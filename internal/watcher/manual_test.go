package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/linetrace/internal/config"
	"github.com/linetrace/linetrace/internal/storage"
)

const sampleManualFixture = `# comment line, ignored

1,FG-LFT-DCR1,FG100,A,B200,jdoe,03/14/2026,12:00:00,100,PASS,1.0,1.5,2.0,OHM
2,FG-LFT-DCR1,FG100,A,B200,jdoe,03/14/2026,12:01:00,101,FAIL,1.0,0.5,2.0,OHM
`

func newTestManualSweeper(t *testing.T) (*ManualSweeper, *storage.FileStore, *storage.ManualResultStore) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := config.SetupTestDatabase(t, "manual")
	t.Cleanup(func() { _ = testDB.Connection.Close() })

	conn := &storage.Connection{DB: testDB.Connection, Schema: storage.SchemaManual}
	files := storage.NewFileStore(conn)
	results := storage.NewManualResultStore(conn)

	return NewManualSweeper(files, results), files, results
}

func TestManualSweeper_SweepIngestsAndIsIdempotent(t *testing.T) {
	sweeper, files, results := newTestManualSweeper(t)
	ctx := context.Background()

	root := t.TempDir()
	fgDir := filepath.Join(root, "FG100")
	require.NoError(t, os.MkdirAll(fgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fgDir, "results.csv"), []byte(sampleManualFixture), 0o600))

	require.NoError(t, files.SetSetting(ctx, "base_path", root))

	processed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	rows, err := results.BySerial(ctx, "FG-LFT-DCR1", "100", "101")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	processed, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed, "unchanged file must not be reprocessed")
}

func TestManualSweeper_SweepNoopWhenBasePathUnset(t *testing.T) {
	sweeper, _, _ := newTestManualSweeper(t)

	processed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}
