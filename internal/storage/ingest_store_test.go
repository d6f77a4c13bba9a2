package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/linetrace/internal/config"
)

func newVoltechIngestStore(t *testing.T) *IngestStore {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := config.SetupTestDatabase(t, "voltech")
	t.Cleanup(func() { _ = testDB.Connection.Close() })

	conn := &Connection{DB: testDB.Connection, Schema: SchemaVoltech}

	return NewIngestStore(conn)
}

func TestFileStore_NeedsProcessing(t *testing.T) {
	store := newVoltechIngestStore(t)
	ctx := context.Background()

	mtime := time.Now().UTC().Truncate(time.Millisecond)

	needs, err := store.NeedsProcessing(ctx, "/share/C1191125.atr", 1024, mtime)
	require.NoError(t, err)
	assert.True(t, needs, "unseen file should need processing")

	require.NoError(t, store.MarkFileProcessed(ctx, "/share/C1191125.atr", 1024, mtime, 3))

	needs, err = store.NeedsProcessing(ctx, "/share/C1191125.atr", 1024, mtime)
	require.NoError(t, err)
	assert.False(t, needs, "identical (size, mtime) should not need reprocessing")

	needs, err = store.NeedsProcessing(ctx, "/share/C1191125.atr", 2048, mtime)
	require.NoError(t, err)
	assert.True(t, needs, "changed size should need reprocessing")
}

func TestFileStore_Settings(t *testing.T) {
	store := newVoltechIngestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetSetting(ctx, "server_path")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSetting(ctx, "server_path", `\\fileshare\voltech`))

	value, ok, err := store.GetSetting(ctx, "server_path")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `\\fileshare\voltech`, value)

	require.NoError(t, store.SetSetting(ctx, "last_monthly_scan", "1700000000"))

	all, err := store.GetAllSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.DeleteSetting(ctx, "server_path"))

	_, ok, err = store.GetSetting(ctx, "server_path")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIngestStore_ParseErrors(t *testing.T) {
	store := newVoltechIngestStore(t)
	ctx := context.Background()

	line := 42

	id, err := store.LogParseError(ctx, "/share/bad.atr", "unexpected column count", &line)
	require.NoError(t, err)
	assert.Positive(t, id)

	unacked := false

	errs, err := store.GetErrors(ctx, &unacked, "")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "/share/bad.atr", errs[0].FilePath)
	assert.False(t, errs[0].Acknowledged)

	require.NoError(t, store.AcknowledgeErrors(ctx, []int64{id}))

	acked := true

	errs, err = store.GetErrors(ctx, &acked, "")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Acknowledged)
}

func TestIngestStore_AcquireReleaseLock(t *testing.T) {
	store := newVoltechIngestStore(t)
	ctx := context.Background()

	lock, acquired, err := store.AcquireLock(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, "alice", lock.HolderName)
	assert.True(t, lock.IsActive)

	_, acquired, err = store.AcquireLock(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, acquired, "bob should observe alice's live lock as Follower")

	ok, err := store.UpdateHeartbeat(ctx, lock.HolderID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.ReleaseLock(ctx, lock.HolderID))

	info, exists, err := store.GetLockInfo(ctx)
	require.NoError(t, err)
	require.True(t, exists)
	assert.False(t, info.IsActive)
}

func TestIngestStore_StaleLockTakeover(t *testing.T) {
	store := newVoltechIngestStore(t)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-300 * time.Second).Format(sqliteTimeFormat)

	_, err := store.conn.ExecContext(ctx, `
		INSERT INTO watcher_lock (id, holder_id, holder_name, is_active, acquired_at, last_heartbeat_at)
		VALUES (1, 'ghost', 'ghost-holder', 1, ?, ?)
	`, stale, stale)
	require.NoError(t, err)

	isStale, err := store.CheckStaleLock(ctx)
	require.NoError(t, err)
	assert.True(t, isStale)

	lock, acquired, err := store.AcquireLock(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, "alice", lock.HolderName)
	assert.NotEqual(t, "ghost", lock.HolderID)
}

func TestIngestStore_ForceReleaseLock(t *testing.T) {
	store := newVoltechIngestStore(t)
	ctx := context.Background()

	_, _, err := store.AcquireLock(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, store.ForceReleaseLock(ctx))

	lock, acquired, err := store.AcquireLock(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, "alice", lock.HolderName)
}
