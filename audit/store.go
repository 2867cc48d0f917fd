package audit

import (
	"context"
	"time"
)

// QueryOptions filters and paginates entry queries.
type QueryOptions struct {
	// TenantID scopes the query to one tenant's chain. Required.
	TenantID string `json:"tenant_id"`

	// ActorType filters by Actor.Type when non-empty.
	ActorType string `json:"actor_type,omitempty"`

	// ActionCategory filters by Action.Category when non-empty.
	ActionCategory string `json:"action_category,omitempty"`

	// OutcomeStatus filters by Outcome.Status when non-empty.
	OutcomeStatus string `json:"outcome_status,omitempty"`

	// HighRiskOnly keeps only high-risk entries.
	HighRiskOnly bool `json:"high_risk_only,omitempty"`

	// Limit caps the number of returned entries. Zero means no cap.
	Limit int `json:"limit,omitempty"`

	// Offset skips that many matching entries.
	Offset int `json:"offset,omitempty"`

	// SortOrder is "desc" (default, newest first) or "asc".
	SortOrder string `json:"sort_order,omitempty"`
}

// QueryResult is the paginated outcome of a Query.
type QueryResult struct {
	Entries    []*Entry      `json:"entries"`
	TotalCount int64         `json:"total_count"`
	HasMore    bool          `json:"has_more"`
	Metadata   QueryMetadata `json:"metadata"`
}

// QueryMetadata reports the filters that were applied and how long the
// query took.
type QueryMetadata struct {
	AppliedFilters QueryOptions  `json:"applied_filters"`
	Duration       time.Duration `json:"duration"`
	ExecutedAt     time.Time     `json:"executed_at"`
}

// ChainFunc builds the entries for one atomic append. It receives the
// tenant chain's next free sequence and current tail hash, and returns
// fully chained entries occupying a contiguous sequence range starting at
// nextSeq.
type ChainFunc func(nextSeq int64, prevHash string) ([]*Entry, error)

// Store persists audit entries. Implementations must serialize concurrent
// AppendEntries calls for the same tenant through their transaction
// primitive so sequences never collide; appends to different tenants are
// independent. Entries are immutable once written: no store exposes an
// update or delete path.
type Store interface {
	// AppendEntries atomically appends the entries produced by build,
	// holding the tenant's chain tail stable for the duration.
	AppendEntries(ctx context.Context, tenantID string, build ChainFunc) ([]*Entry, error)

	// GetEntry returns the entry with the given ID, or nil when absent.
	GetEntry(ctx context.Context, id string) (*Entry, error)

	// GetEntryBySequence returns one entry of a tenant's chain, or nil
	// when the sequence is out of range.
	GetEntryBySequence(ctx context.Context, tenantID string, seq int64) (*Entry, error)

	// GetLatestEntry returns the tenant's highest-sequence entry, or
	// nil for an empty chain.
	GetLatestEntry(ctx context.Context, tenantID string) (*Entry, error)

	// GetChainSegment returns entries with startSeq <= sequence <= endSeq
	// in ascending order. Out-of-range bounds yield a shorter (possibly
	// empty) result, never an error.
	GetChainSegment(ctx context.Context, tenantID string, startSeq, endSeq int64) ([]*Entry, error)

	// Query returns matching entries plus the total match count before
	// pagination.
	Query(ctx context.Context, opts QueryOptions) ([]*Entry, int64, error)

	// GetChainState returns the tenant chain's tail state. An empty
	// chain yields NextSequence 0 and empty hashes.
	GetChainState(ctx context.Context, tenantID string) (*ChainState, error)

	// Close releases store resources.
	Close() error
}
