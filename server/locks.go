package server

import (
	"net/http"

	"go.uber.org/zap"
)

// handleListLocks returns every unexpired run lock.
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := s.coord.Locks().List(r.Context())
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	WriteSuccess(w, r, LockListResponse{Locks: locks, Count: len(locks)})
}

// handleForceRelease removes a run's lock without an ownership check and
// records the override as a high-risk audit entry.
func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if runID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, CodeInvalidRequest, "run id is required")
		return
	}

	var req ForceReleaseRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}

	tenantID, ok := s.resolveTenant(w, r, req.TenantID)
	if !ok {
		return
	}

	released, err := s.coord.Locks().ForceRelease(r.Context(), runID)
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	if released {
		s.coord.RecordForceRelease(r.Context(), tenantID, runID, req.Reason)
		s.logger.Warn("lock force-released",
			zap.String("run_id", runID),
			zap.String("tenant_id", tenantID),
			zap.String("reason", req.Reason),
		)
	}

	WriteSuccess(w, r, ForceReleaseResponse{RunID: runID, Released: released})
}
