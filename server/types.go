package server

import (
	"github.com/BaSui01/runledger/audit"
	"github.com/BaSui01/runledger/checkpoint"
	"github.com/BaSui01/runledger/lock"
)

// LockListResponse lists the currently held run locks.
type LockListResponse struct {
	Locks []*lock.RunLock `json:"locks"`
	Count int             `json:"count"`
}

// ForceReleaseRequest asks for an administrative lock release.
type ForceReleaseRequest struct {
	// TenantID scopes the audit record of the override.
	TenantID string `json:"tenant_id,omitempty"`

	// Reason is recorded on the audit entry.
	Reason string `json:"reason,omitempty"`
}

// ForceReleaseResponse reports whether a lock was actually removed.
type ForceReleaseResponse struct {
	RunID    string `json:"run_id"`
	Released bool   `json:"released"`
}

// VerifyRequest bounds a chain verification.
type VerifyRequest struct {
	TenantID string `json:"tenant_id,omitempty"`

	// StartSequence/EndSequence bound the verified range; both nil means
	// the full chain.
	StartSequence *int64 `json:"start_sequence,omitempty"`
	EndSequence   *int64 `json:"end_sequence,omitempty"`
}

// ExportRequest selects and renders a tenant's audit entries.
type ExportRequest struct {
	TenantID string `json:"tenant_id,omitempty"`

	Format audit.ExportFormat `json:"format"`

	ActorType      string `json:"actor_type,omitempty"`
	ActionCategory string `json:"action_category,omitempty"`
	OutcomeStatus  string `json:"outcome_status,omitempty"`
	HighRiskOnly   bool   `json:"high_risk_only,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`

	IncludeChainData bool `json:"include_chain_data,omitempty"`
	IncludeMetadata  bool `json:"include_metadata,omitempty"`

	// Sign requests a detached Ed25519 signature over the rendered
	// output, using the server's configured key.
	Sign bool `json:"sign,omitempty"`
}

// CheckpointListResponse lists stored checkpoints.
type CheckpointListResponse struct {
	Checkpoints []*checkpoint.Checkpoint `json:"checkpoints"`
	Count       int                      `json:"count"`
}
