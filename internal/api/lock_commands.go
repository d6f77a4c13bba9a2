package api

import "net/http"

type lockStatusResponse struct {
	HolderID        string `json:"holder_id,omitempty"`
	HolderName      string `json:"holder_name,omitempty"`
	IsActive        bool   `json:"is_active"`
	AcquiredAt      string `json:"acquired_at,omitempty"`
	LastHeartbeatAt string `json:"last_heartbeat_at,omitempty"`
	Exists          bool   `json:"exists"`
}

// handleLockStatus implements the `status` command of the Lock group,
// distinct from watcher/status: this reports only the advisory lock row,
// without the calling process's own run state.
func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	if s.ingestStore == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("ingest store not configured on this process"))
		return
	}

	lock, ok, err := s.ingestStore.GetLockInfo(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("get lock info: "+err.Error()))
		return
	}

	if !ok {
		writeJSON(w, r, s.logger, http.StatusOK, lockStatusResponse{Exists: false})
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, lockStatusResponse{
		Exists:          true,
		HolderID:        lock.HolderID,
		HolderName:      lock.HolderName,
		IsActive:        lock.IsActive,
		AcquiredAt:      lock.AcquiredAt.Format(httpTimeFormat),
		LastHeartbeatAt: lock.LastHeartbeatAt.Format(httpTimeFormat),
	})
}

// handleLockForceRelease implements the admin-gated `force_release`
// command: clears is_active unconditionally. Authorization is enforced by
// the RequirePermission("admin", ...) middleware wrapping this route.
func (s *Server) handleLockForceRelease(w http.ResponseWriter, r *http.Request) {
	if s.ingestStore == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("ingest store not configured on this process"))
		return
	}

	if err := s.ingestStore.ForceReleaseLock(r.Context()); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("force release lock: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "released"})
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"
