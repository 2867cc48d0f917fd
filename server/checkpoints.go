package server

import (
	"net/http"

	"go.uber.org/zap"
)

// handleListCheckpoints returns all stored checkpoints.
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.coord.Checkpoints().List(r.Context())
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	// Authenticated requests only see their own tenant's runs.
	if tenant := TenantIDFromContext(r.Context()); tenant != "" {
		filtered := cps[:0]
		for _, cp := range cps {
			if cp.TenantID == tenant {
				filtered = append(filtered, cp)
			}
		}
		cps = filtered
	}

	WriteSuccess(w, r, CheckpointListResponse{Checkpoints: cps, Count: len(cps)})
}

// handleGetCheckpoint returns one run's checkpoint.
func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")

	cp, err := s.coord.Checkpoints().Get(r.Context(), runID)
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	if tenant := TenantIDFromContext(r.Context()); tenant != "" && cp.TenantID != tenant {
		WriteErrorMessage(w, r, http.StatusForbidden, CodeForbidden, "checkpoint belongs to another tenant")
		return
	}

	WriteSuccess(w, r, cp)
}

// handleDeleteCheckpoint drops a run's checkpoint so the next execution
// starts from scratch.
func (s *Server) handleDeleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")

	if tenant := TenantIDFromContext(r.Context()); tenant != "" {
		cp, err := s.coord.Checkpoints().Get(r.Context(), runID)
		if err != nil {
			WriteError(w, r, err, s.logger)
			return
		}
		if cp.TenantID != tenant {
			WriteErrorMessage(w, r, http.StatusForbidden, CodeForbidden, "checkpoint belongs to another tenant")
			return
		}
	}

	if err := s.coord.Checkpoints().Delete(r.Context(), runID); err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	s.logger.Info("checkpoint deleted", zap.String("run_id", runID))
	WriteSuccess(w, r, map[string]string{"run_id": runID})
}
