package server

import (
	"net/http"
	"strconv"

	"github.com/BaSui01/runledger/audit"
)

// parseQueryOptions builds audit query options from URL parameters.
func parseQueryOptions(r *http.Request, tenantID string) audit.QueryOptions {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	highRisk, _ := strconv.ParseBool(q.Get("high_risk_only"))

	return audit.QueryOptions{
		TenantID:       tenantID,
		ActorType:      q.Get("actor_type"),
		ActionCategory: q.Get("action_category"),
		OutcomeStatus:  q.Get("outcome_status"),
		HighRiskOnly:   highRisk,
		Limit:          limit,
		Offset:         offset,
		SortOrder:      q.Get("sort_order"),
	}
}

// handleQueryAudit returns a filtered, paginated slice of a tenant's
// audit chain.
func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.resolveTenant(w, r, r.URL.Query().Get("tenant_id"))
	if !ok {
		return
	}

	result, err := s.coord.Audit().Query(r.Context(), parseQueryOptions(r, tenantID))
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	WriteSuccess(w, r, result)
}

// handleGetAuditEntry returns one entry by ID.
func (s *Server) handleGetAuditEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entry, err := s.coord.Audit().GetEntry(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}
	if entry == nil {
		WriteErrorMessage(w, r, http.StatusNotFound, CodeNotFound, "audit entry not found")
		return
	}

	if tenant := TenantIDFromContext(r.Context()); tenant != "" && entry.Context.TenantID != tenant {
		WriteErrorMessage(w, r, http.StatusForbidden, CodeForbidden, "entry belongs to another tenant")
		return
	}

	WriteSuccess(w, r, entry)
}

// handleAuditMetadata summarizes a tenant's chain.
func (s *Server) handleAuditMetadata(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.resolveTenant(w, r, r.URL.Query().Get("tenant_id"))
	if !ok {
		return
	}

	meta, err := s.coord.Audit().GetMetadata(r.Context(), tenantID)
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	WriteSuccess(w, r, meta)
}

// handleVerifyAudit recomputes the hash chain over the requested range.
func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}

	tenantID, ok := s.resolveTenant(w, r, req.TenantID)
	if !ok {
		return
	}

	var rng *audit.SequenceRange
	if req.StartSequence != nil || req.EndSequence != nil {
		if req.StartSequence == nil || req.EndSequence == nil {
			WriteErrorMessage(w, r, http.StatusBadRequest, CodeInvalidRequest,
				"start_sequence and end_sequence must be given together")
			return
		}
		if *req.StartSequence < 0 || *req.EndSequence < 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, CodeInvalidRequest,
				"start_sequence and end_sequence must not be negative")
			return
		}
		rng = &audit.SequenceRange{Start: *req.StartSequence, End: *req.EndSequence}
	}

	result, err := s.coord.Audit().VerifyChainIntegrity(r.Context(), tenantID, rng)
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordAuditVerification(tenantID, result.Valid)
	}

	WriteSuccess(w, r, result)
}

// handleExportAudit renders a tenant's entries in the requested format
// and streams the raw payload. Export metadata and the optional detached
// signature travel in response headers so the body stays byte-exact for
// signature verification.
func (s *Server) handleExportAudit(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		return
	}

	tenantID, ok := s.resolveTenant(w, r, req.TenantID)
	if !ok {
		return
	}

	opts := audit.ExportOptions{
		QueryOptions: audit.QueryOptions{
			TenantID:       tenantID,
			ActorType:      req.ActorType,
			ActionCategory: req.ActionCategory,
			OutcomeStatus:  req.OutcomeStatus,
			HighRiskOnly:   req.HighRiskOnly,
			Limit:          req.Limit,
			Offset:         req.Offset,
		},
		Format:           req.Format,
		IncludeChainData: req.IncludeChainData,
		IncludeMetadata:  req.IncludeMetadata,
		Sign:             req.Sign,
		PrivateKey:       s.signingKey,
		KeyID:            s.signingKeyID,
	}

	result, err := s.coord.Audit().Export(r.Context(), opts)
	if err != nil {
		WriteError(w, r, err, s.logger)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordAuditExport(string(result.Metadata.Format), result.Signature != nil)
	}

	h := w.Header()
	h.Set("Content-Type", result.ContentType)
	h.Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	h.Set("X-Export-Entry-Count", strconv.Itoa(result.Metadata.EntryCount))
	if result.Signature != nil {
		h.Set("X-Export-Signature", result.Signature.Signature)
		h.Set("X-Export-Signature-Key-Id", result.Signature.KeyID)
		h.Set("X-Export-Signature-Algorithm", result.Signature.Algorithm)
		h.Set("X-Export-Content-Hash", result.Signature.ContentHash)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Content)
}
