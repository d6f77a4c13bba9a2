package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linetrace/linetrace/internal/api/middleware"
	"github.com/linetrace/linetrace/internal/config"
	"github.com/linetrace/linetrace/internal/coordinator"
	"github.com/linetrace/linetrace/internal/query"
	"github.com/linetrace/linetrace/internal/report"
	"github.com/linetrace/linetrace/internal/storage"
	"github.com/linetrace/linetrace/internal/watcher"
)

// testServer builds a fully wired Server against temp-file SQLite stores for
// all three schemas, seeding one operator and one admin user in catalog.user.
func testServer(t *testing.T) http.Handler {
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

	seedUser(t, catalogDB.Connection, "jdoe", "Jane Doe", []string{})
	seedUser(t, catalogDB.Connection, "admin", "Admin Operator", []string{"admin"})

	catalog := storage.NewCatalogStore(catalogConn)
	ingestStore := storage.NewIngestStore(voltechConn)
	voltechResults := storage.NewVoltechResultStore(voltechConn)

	queries := query.NewService(voltechConn)
	collector := report.NewCollector(catalog, voltechConn, manualConn)
	coord := coordinator.New(ingestStore, "test-holder")
	bus := watcher.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	w := watcher.New(coord, ingestStore, voltechResults, bus)

	cfg := defaultTestConfig()

	server := NewServer(cfg, Dependencies{
		Catalog:     catalog,
		Queries:     queries,
		Collector:   collector,
		Coordinator: coord,
		Watcher:     w,
		Bus:         bus,
		IngestStore: ingestStore,
		RateLimiter: nil,
	})

	return server.httpServer.Handler
}

func defaultTestConfig() *ServerConfig {
	cfg := ServerConfig{
		Port:               8080,
		Host:               "127.0.0.1",
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		CORSAllowedHeaders: []string{"Content-Type", "X-Operator-Username", "X-Operator-Pin"},
	}

	return &cfg
}

// seedUser inserts a catalog.user row directly, bypassing CatalogStore
// since it exposes no writer for this table.
func seedUser(t *testing.T, db *sql.DB, username, name string, permissions []string) {
	t.Helper()

	permissionsJSON, err := json.Marshal(permissions)
	require.NoError(t, err)

	_, err = db.Exec(
		`INSERT INTO user (username, name, permissions) VALUES (?, ?, ?)`,
		username, name, string(permissionsJSON),
	)
	require.NoError(t, err)
}

// TestHealthEndpoint_RequiresOperatorIdentity verifies /healthz, like every
// route, rejects a request that carries no operator username.
func TestHealthEndpoint_RequiresOperatorIdentity(t *testing.T) {
	handler := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestHealthEndpoint_AuthenticatedOperator verifies a known operator can
// reach an ordinary route.
func TestHealthEndpoint_AuthenticatedOperator(t *testing.T) {
	handler := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.UsernameHeader, "jdoe")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
}

// TestSettingsRoundTrip exercises the Settings command group end to end
// against a real ingestion.Store.
func TestSettingsRoundTrip(t *testing.T) {
	handler := testServer(t)

	setBody, err := json.Marshal(setSettingRequest{Key: "server_path", Value: `\\fileshare\voltech`})
	require.NoError(t, err)

	setReq := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewReader(setBody))
	setReq.Header.Set(middleware.UsernameHeader, "jdoe")
	setRec := httptest.NewRecorder()
	handler.ServeHTTP(setRec, setReq)
	require.Equal(t, http.StatusOK, setRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/settings?key=server_path", nil)
	getReq.Header.Set(middleware.UsernameHeader, "jdoe")
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var got settingResponse
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&got))
	require.True(t, got.Found)
	require.Equal(t, `\\fileshare\voltech`, got.Value)
}

// TestCleanupOldErrors_RequiresAdminPermission verifies the admin-gated
// Errors command rejects an operator without the admin permission and
// accepts one with it.
func TestCleanupOldErrors_RequiresAdminPermission(t *testing.T) {
	handler := testServer(t)

	body, err := json.Marshal(cleanupOldRequest{Days: 30})
	require.NoError(t, err)

	deniedReq := httptest.NewRequest(http.MethodPost, "/errors/cleanup_old", bytes.NewReader(body))
	deniedReq.Header.Set(middleware.UsernameHeader, "jdoe")
	deniedRec := httptest.NewRecorder()
	handler.ServeHTTP(deniedRec, deniedReq)
	require.Equal(t, http.StatusUnauthorized, deniedRec.Code)

	allowedReq := httptest.NewRequest(http.MethodPost, "/errors/cleanup_old", bytes.NewReader(body))
	allowedReq.Header.Set(middleware.UsernameHeader, "admin")
	allowedRec := httptest.NewRecorder()
	handler.ServeHTTP(allowedRec, allowedReq)
	require.Equal(t, http.StatusOK, allowedRec.Code)
}

// TestWatcherStatus_NoLockRow verifies the watcher/status command tolerates
// an empty watcher_lock table (no process has ever acquired it).
func TestWatcherStatus_NoLockRow(t *testing.T) {
	handler := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/watcher/status", nil)
	req.Header.Set(middleware.UsernameHeader, "jdoe")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status watcherStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, "none", status.State)
	require.False(t, status.Running)
}
