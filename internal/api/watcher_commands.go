package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/linetrace/linetrace/internal/coordinator"
	"github.com/linetrace/linetrace/internal/watcher"
)

// watcherStatusResponse reports the coordinator state and lock row backing
// the watcher/status command.
type watcherStatusResponse struct {
	State      string `json:"state"`
	HolderID   string `json:"holder_id,omitempty"`
	HolderName string `json:"holder_name,omitempty"`
	IsActive   bool   `json:"is_active"`
	Running    bool   `json:"running"`
}

// importRangeRequest carries the from/to dates for watcher/import_range.
type importRangeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// handleWatcherStart implements the `start` command: acquires the lock (as
// Master or Follower) and, if Master, runs the scan loop in a background
// goroutine until stopped.
func (s *Server) handleWatcherStart(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil || s.coord == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("watcher not configured on this process"))
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.runCancel != nil {
		writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "already running"})
		return
	}

	state, err := s.coord.Acquire(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("acquire lock: "+err.Error()))
		return
	}

	if state != coordinator.StateMaster {
		writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "started as follower"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel

	go func() {
		if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("watcher loop exited", slog.String("error", err.Error()))
		}
	}()

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "started as master"})
}

// handleWatcherStop implements the `stop` command: signals the run loop to
// stop (which releases the lock) and cancels its context.
func (s *Server) handleWatcherStop(w http.ResponseWriter, r *http.Request) {
	s.stopWatcherLoop()
	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "stopped"})
}

// stopWatcherLoop is the shared Stop implementation used both by the
// /watcher/stop command and server shutdown.
func (s *Server) stopWatcherLoop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.runCancel == nil {
		return
	}

	if s.watcher != nil {
		s.watcher.Control(watcher.Stop)
	}

	s.runCancel()
	s.runCancel = nil
}

// handleWatcherPause implements the `pause` command.
func (s *Server) handleWatcherPause(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("watcher not configured on this process"))
		return
	}

	s.watcher.Control(watcher.Pause)
	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "paused"})
}

// handleWatcherResume implements the `resume` command.
func (s *Server) handleWatcherResume(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("watcher not configured on this process"))
		return
	}

	s.watcher.Control(watcher.Resume)
	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "resumed"})
}

// handleWatcherStatus implements the `status` command.
func (s *Server) handleWatcherStatus(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("coordinator not configured on this process"))
		return
	}

	lock, ok, err := s.coord.LockInfo(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("lock info: "+err.Error()))
		return
	}

	resp := watcherStatusResponse{
		State: stateName(s.coord.State()),
	}

	s.runMu.Lock()
	resp.Running = s.runCancel != nil
	s.runMu.Unlock()

	if ok {
		resp.HolderID = lock.HolderID
		resp.HolderName = lock.HolderName
		resp.IsActive = lock.IsActive
	}

	writeJSON(w, r, s.logger, http.StatusOK, resp)
}

// handleWatcherForceAcquireMaster implements the admin-gated
// `force_acquire_master` command.
func (s *Server) handleWatcherForceAcquireMaster(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("coordinator not configured on this process"))
		return
	}

	if _, err := s.coord.ForceAcquire(r.Context()); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("force acquire: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "master"})
}

// handleWatcherImportRange implements the `import_range` command: a
// forced rescan of every file, bypassing the idempotency check. The
// [from, to] range is logged but does not narrow the scan.
func (s *Server) handleWatcherImportRange(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("watcher not configured on this process"))
		return
	}

	var req importRangeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))
		return
	}

	if req.From == "" || req.To == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("from and to are required"))
		return
	}

	if err := s.watcher.ImportRange(r.Context(), req.From, req.To); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("import range: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "import range complete"})
}

// handleWatcherFullImport implements the `full_import` command: a forced
// rescan of the entire configured root, bypassing NeedsProcessing.
func (s *Server) handleWatcherFullImport(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("watcher not configured on this process"))
		return
	}

	if err := s.watcher.FullImport(r.Context()); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("full import: "+err.Error()))
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, statusResponse{Status: "full import complete"})
}

func stateName(state coordinator.State) string {
	switch state {
	case coordinator.StateMaster:
		return "master"
	case coordinator.StateFollower:
		return "follower"
	default:
		return "none"
	}
}
