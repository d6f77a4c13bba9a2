package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linetrace/linetrace/internal/config"
)

func newCatalogStore(t *testing.T) *CatalogStore {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := config.SetupTestDatabase(t, "catalog")
	t.Cleanup(func() { _ = testDB.Connection.Close() })

	conn := &Connection{DB: testDB.Connection, Schema: SchemaCatalog}

	return NewCatalogStore(conn)
}

func seedCatalogFixture(t *testing.T, store *CatalogStore) (fgID, reportID int64) {
	t.Helper()

	ctx := context.Background()

	res, err := store.conn.ExecContext(ctx, `
		INSERT INTO fg (fg, rev, customer, serialized) VALUES ('PN100', 'A', 'Acme', 1)
	`)
	require.NoError(t, err)

	fgID, err = res.LastInsertId()
	require.NoError(t, err)

	res, err = store.conn.ExecContext(ctx, `
		INSERT INTO report (fg_id, attributes) VALUES (?, '{}')
	`, fgID)
	require.NoError(t, err)

	reportID, err = res.LastInsertId()
	require.NoError(t, err)

	_, err = store.conn.ExecContext(ctx, `
		INSERT INTO test (fg_id, report_id, test_type, source_type, associated_test, sort_order)
		VALUES (?, ?, 'Inductance', 'voltech', '002 LSReading', 1),
		       (?, ?, 'Leakage', 'manual', 'LFT-LKG', 2)
	`, fgID, reportID, fgID, reportID)
	require.NoError(t, err)

	return fgID, reportID
}

func TestCatalogStore_FGAndReportAndTests(t *testing.T) {
	store := newCatalogStore(t)
	fgID, reportID := seedCatalogFixture(t, store)

	fg, err := store.FGByID(context.Background(), fgID)
	require.NoError(t, err)
	require.Equal(t, "PN100", fg.Code)
	require.True(t, fg.Serialized)

	report, err := store.ReportByID(context.Background(), reportID)
	require.NoError(t, err)
	require.Equal(t, fgID, report.FGID)

	tests, err := store.TestsByReport(context.Background(), reportID)
	require.NoError(t, err)
	require.Len(t, tests, 2)
	require.Equal(t, "Inductance", tests[0].TestType)
	require.Equal(t, "voltech", tests[0].SourceType)
	require.Equal(t, "Leakage", tests[1].TestType)
}

func TestCatalogStore_FGByIDNotFound(t *testing.T) {
	store := newCatalogStore(t)

	_, err := store.FGByID(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogStore_UserByUsernameAndPermissions(t *testing.T) {
	store := newCatalogStore(t)

	_, err := store.conn.ExecContext(context.Background(), `
		INSERT INTO user (username, name, permissions, pin_hash)
		VALUES ('jdoe', 'Jane Doe', '["admin","operator"]', 'hashed-pin')
	`)
	require.NoError(t, err)

	u, err := store.UserByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", u.Name)
	require.True(t, u.HasPermission("admin"))
	require.False(t, u.HasPermission("superadmin"))
}

func TestCatalogStore_UserByUsernameNotFound(t *testing.T) {
	store := newCatalogStore(t)

	_, err := store.UserByUsername(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
