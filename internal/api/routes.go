package api

import (
	"net/http"
	"time"

	"github.com/linetrace/linetrace/internal/api/middleware"
)

// setupRoutes registers every command-group handler onto mux. Routes that
// mutate shared coordination state (force_acquire_master, force_release)
// or bulk-delete history (cleanup_old) are wrapped with an admin
// permission check; everything else only requires an identified operator,
// enforced upstream by the OperatorAuth middleware.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	admin := middleware.RequirePermission("admin", s.logger)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Watcher
	mux.HandleFunc("POST /watcher/start", s.handleWatcherStart)
	mux.HandleFunc("POST /watcher/stop", s.handleWatcherStop)
	mux.HandleFunc("POST /watcher/pause", s.handleWatcherPause)
	mux.HandleFunc("POST /watcher/resume", s.handleWatcherResume)
	mux.HandleFunc("GET /watcher/status", s.handleWatcherStatus)
	mux.Handle("POST /watcher/force_acquire_master", admin(http.HandlerFunc(s.handleWatcherForceAcquireMaster)))
	mux.HandleFunc("POST /watcher/import_range", s.handleWatcherImportRange)
	mux.HandleFunc("POST /watcher/full_import", s.handleWatcherFullImport)

	// Settings
	mux.HandleFunc("GET /settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /settings", s.handleSettingsSet)
	mux.HandleFunc("GET /settings/all", s.handleSettingsGetAll)
	mux.HandleFunc("DELETE /settings", s.handleSettingsDelete)
	mux.HandleFunc("PUT /settings/server_path", s.handleSettingsUpdateServerPath)

	// Errors
	mux.HandleFunc("GET /errors", s.handleErrorsGet)
	mux.HandleFunc("POST /errors/acknowledge", s.handleErrorsAcknowledge)
	mux.HandleFunc("POST /errors/acknowledge_file", s.handleErrorsAcknowledgeFile)
	mux.Handle("POST /errors/cleanup_old", admin(http.HandlerFunc(s.handleErrorsCleanupOld)))

	// Lock
	mux.HandleFunc("GET /lock/status", s.handleLockStatus)
	mux.Handle("POST /lock/force_release", admin(http.HandlerFunc(s.handleLockForceRelease)))

	// Queries: parts
	mux.HandleFunc("GET /queries/parts", s.handleQueryPartList)
	mux.HandleFunc("GET /queries/parts/{part}/summary", s.handleQueryPartSummary)

	// Queries: batches
	mux.HandleFunc("GET /queries/parts/{part}/batches", s.handleQueryBatchList)
	mux.HandleFunc("GET /queries/parts/{part}/batches/{batch}", s.handleQueryBatchDetail)

	// Queries: tests
	mux.HandleFunc("GET /queries/parts/{part}/serial_range", s.handleQuerySerialRange)
	mux.HandleFunc("GET /queries/tests/search", s.handleQuerySearchTests)

	// Queries: stats
	mux.HandleFunc("GET /queries/stats/daily", s.handleQueryStatsDaily)
	mux.HandleFunc("GET /queries/stats/operator", s.handleQueryStatsOperator)
	mux.HandleFunc("GET /queries/stats/overall", s.handleQueryStatsOverall)
	mux.HandleFunc("GET /queries/stats/parts", s.handleQueryStatsParts)

	// Reports
	mux.HandleFunc("POST /reports/validate", s.handleReportsValidate)
	mux.HandleFunc("POST /reports/collect", s.handleReportsCollect)
	mux.HandleFunc("POST /reports/generate_excel", s.handleReportsGenerateExcel)
	mux.HandleFunc("POST /reports/save_excel", s.handleReportsSaveExcel)
	mux.HandleFunc("POST /reports/explain", s.handleReportsExplain)
}

// handleHealth is a liveness probe reporting uptime. Like every route it
// sits behind OperatorAuth, so it needs an operator username.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.logger, http.StatusOK, struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startTime).String(),
	})
}
