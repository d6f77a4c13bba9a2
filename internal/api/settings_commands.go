package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/linetrace/linetrace/internal/ingestion"
)

type settingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

type setSettingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type updateServerPathRequest struct {
	Path string `json:"path"`
}

// handleSettingsGet implements the `get` command: GET /settings?key=...
func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("key query parameter is required"))
		return
	}

	value, found, err := s.ingestStore.GetSetting(r.Context(), key)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("get setting: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, settingResponse{Key: key, Value: value, Found: found})
}

// handleSettingsSet implements the `set` command.
func (s *Server) handleSettingsSet(w http.ResponseWriter, r *http.Request) {
	var req setSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	if strings.TrimSpace(req.Key) == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("key is required"))
		return
	}

	if err := s.ingestStore.SetSetting(r.Context(), req.Key, req.Value); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("set setting: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "ok"})
}

// handleSettingsGetAll implements the `get_all` command.
func (s *Server) handleSettingsGetAll(w http.ResponseWriter, r *http.Request) {
	all, err := s.ingestStore.GetAllSettings(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("get all settings: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, struct {
		Settings []ingestion.Setting `json:"settings"`
	}{Settings: all})
}

// handleSettingsDelete implements the `delete` command: DELETE /settings?key=...
func (s *Server) handleSettingsDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("key query parameter is required"))
		return
	}

	if err := s.ingestStore.DeleteSetting(r.Context(), key); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("delete setting: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "ok"})
}

// handleSettingsUpdateServerPath implements the `update_server_path`
// command: validates the path is absolute or UNC before persisting it,
// since the watcher scans it directly.
func (s *Server) handleSettingsUpdateServerPath(w http.ResponseWriter, r *http.Request) {
	var req updateServerPathRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	if !isValidServerPath(req.Path) {
		WriteErrorResponse(w, r, s.logger, BadRequest("server_path must be an absolute local path or UNC path"))
		return
	}

	if err := s.ingestStore.SetSetting(r.Context(), "server_path", req.Path); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("update server_path: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "ok"})
}

// isValidServerPath reports whether path looks like a UNC path
// (\\server\share) or an absolute local path.
func isValidServerPath(path string) bool {
	if path == "" {
		return false
	}

	if strings.HasPrefix(path, `\\`) {
		return true
	}

	return filepath.IsAbs(path)
}
