// Package audit provides an append-only, per-tenant, hash-chained audit
// ledger. Every entry carries the content hash of its predecessor, so a
// retroactive edit anywhere in a tenant's chain is detectable by
// recomputation. Batched appends additionally carry a Merkle root over the
// batch's content hashes for batch-level integrity proofs. Entries can be
// queried with filters and exported in several SIEM formats with an
// optional detached Ed25519 signature.
package audit

import (
	"fmt"
	"sync"
	"time"
)

// Actor identifies who performed the audited action.
type Actor struct {
	// Type categorizes the actor: "user", "service", "worker", "system".
	Type string `json:"type"`

	// ID is the actor's identifier within its type.
	ID string `json:"id"`

	// Name is an optional display name.
	Name string `json:"name,omitempty"`
}

// Action describes what was done.
type Action struct {
	// Category groups related actions: "lock", "step", "approval",
	// "policy", "export".
	Category string `json:"category"`

	// Name is the specific action, e.g. "lock.acquired",
	// "step.completed", "policy.denied".
	Name string `json:"name"`
}

// Resource identifies what the action was performed on.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Outcome records how the action ended.
type Outcome struct {
	// Status is "success", "failure", or "denied".
	Status string `json:"status"`

	// Reason carries detail for non-success outcomes.
	Reason string `json:"reason,omitempty"`
}

// Context carries the execution context an entry was recorded in.
type Context struct {
	TenantID string `json:"tenant_id"`
	RunID    string `json:"run_id,omitempty"`
	StepID   string `json:"step_id,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	SourceIP string `json:"source_ip,omitempty"`
}

// Chain holds an entry's position in its tenant's hash chain. Sequence
// starts at 0 and increases by exactly 1 per entry; PrevHash is empty for
// the first entry and otherwise equals the previous entry's ContentHash.
type Chain struct {
	Sequence    int64  `json:"sequence"`
	PrevHash    string `json:"prev_hash,omitempty"`
	ContentHash string `json:"content_hash"`
}

// Entry is one immutable record in a tenant's audit chain. Entries are
// never updated or deleted once written.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     Actor          `json:"actor"`
	Action    Action         `json:"action"`
	Resource  Resource       `json:"resource"`
	Outcome   Outcome        `json:"outcome"`
	Context   Context        `json:"context"`
	Details   map[string]any `json:"details,omitempty"`
	HighRisk  bool           `json:"high_risk,omitempty"`
	Chain     Chain          `json:"chain"`
}

// Batch is a contiguous run of entries appended atomically, summarized by
// a Merkle root over the entries' content hashes.
type Batch struct {
	Entries       []*Entry `json:"entries"`
	MerkleRoot    string   `json:"merkle_root"`
	StartSequence int64    `json:"start_sequence"`
	EndSequence   int64    `json:"end_sequence"`
}

// ChainState summarizes the current tail of a tenant's chain.
type ChainState struct {
	TenantID     string    `json:"tenant_id"`
	NextSequence int64     `json:"next_sequence"`
	LastHash     string    `json:"last_hash,omitempty"`
	LastEntryID  string    `json:"last_entry_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Metadata summarizes a tenant's chain for introspection.
type Metadata struct {
	TenantID     string `json:"tenant_id"`
	EntryCount   int64  `json:"entry_count"`
	FirstEntryID string `json:"first_entry_id,omitempty"`
	LastEntryID  string `json:"last_entry_id,omitempty"`
	LastSequence int64  `json:"last_sequence"`
	LastHash     string `json:"last_hash,omitempty"`
}

// IntegrityError reports a broken hash chain. Once raised, the affected
// tenant's chain must be treated as untrustworthy until remediated
// out-of-band; the ledger offers no repair path.
type IntegrityError struct {
	TenantID string
	Sequence int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit chain for tenant %s is broken at sequence %d", e.TenantID, e.Sequence)
}

var auditIDCounter uint64
var auditIDMu sync.Mutex

// newEntryID returns a unique, roughly time-ordered entry identifier.
func newEntryID() string {
	auditIDMu.Lock()
	defer auditIDMu.Unlock()
	auditIDCounter++
	return fmt.Sprintf("audit_%d_%d", time.Now().UnixNano(), auditIDCounter)
}
