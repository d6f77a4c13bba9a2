package api

import (
	"net/http"
	"strconv"

	"github.com/linetrace/linetrace/internal/ingestion"
)

type acknowledgeRequest struct {
	IDs []int64 `json:"ids"`
}

type acknowledgeFileRequest struct {
	FilePath string `json:"file_path"`
}

type cleanupOldRequest struct {
	Days int `json:"days"`
}

type cleanupOldResponse struct {
	Deleted int64 `json:"deleted"`
}

// handleErrorsGet implements the `get` command: GET
// /errors?acknowledged=true|false&file_path=...
func (s *Server) handleErrorsGet(w http.ResponseWriter, r *http.Request) {
	var acknowledged *bool

	if v := r.URL.Query().Get("acknowledged"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest("acknowledged must be true or false"))
			return
		}

		acknowledged = &parsed
	}

	filePath := r.URL.Query().Get("file_path")

	errs, err := s.ingestStore.GetErrors(r.Context(), acknowledged, filePath)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("get errors: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, struct {
		Errors []ingestion.ParseError `json:"errors"`
	}{Errors: errs})
}

// handleErrorsAcknowledge implements the `acknowledge` command.
func (s *Server) handleErrorsAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	if len(req.IDs) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("ids is required"))
		return
	}

	if err := s.ingestStore.AcknowledgeErrors(r.Context(), req.IDs); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("acknowledge errors: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "ok"})
}

// handleErrorsAcknowledgeFile implements the `acknowledge_file` command.
func (s *Server) handleErrorsAcknowledgeFile(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeFileRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	if req.FilePath == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("file_path is required"))
		return
	}

	if err := s.ingestStore.AcknowledgeFileErrors(r.Context(), req.FilePath); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("acknowledge file errors: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "ok"})
}

// handleErrorsCleanupOld implements the admin-gated `cleanup_old(days)` command.
func (s *Server) handleErrorsCleanupOld(w http.ResponseWriter, r *http.Request) {
	var req cleanupOldRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	if req.Days < 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("days must be non-negative"))
		return
	}

	deleted, err := s.ingestStore.CleanupOldErrors(r.Context(), req.Days)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("cleanup old errors: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, cleanupOldResponse{Deleted: deleted})
}
