// Package idempotency records the outcome of at-most-once operations
// keyed by a deterministic composite key.
//
// Create is the correctness-critical primitive: inserting a record for an
// existing key never overwrites it and reports created=false, which is
// what prevents duplicate side-effect execution across worker retries.
//
// Supported backends:
// - Memory: for embedded use and testing
// - Redis: for distributed deployments
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/runledger/internal/canonical"
)

// Status represents the lifecycle of an idempotent operation.
type Status string

const (
	// StatusPending indicates the operation is executing or was
	// interrupted before reporting an outcome.
	StatusPending Status = "pending"

	// StatusCompleted indicates the operation finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the operation finished with an error.
	StatusFailed Status = "failed"
)

// Components are the logical inputs an idempotency key derives from.
type Components struct {
	// RunID is the run performing the operation.
	RunID string `json:"run_id"`

	// StepID is the step within the run.
	StepID string `json:"step_id"`

	// Operation names the side effect being guarded.
	Operation string `json:"operation"`

	// Input is the operation's logical input. It is hashed, not stored;
	// object field order does not affect the derived key.
	Input any `json:"input,omitempty"`
}

// StoredComponents is the persisted, hashed form of Components.
type StoredComponents struct {
	RunID     string `json:"run_id"`
	StepID    string `json:"step_id"`
	Operation string `json:"operation"`
	InputHash string `json:"input_hash"`
}

// Record is the stored outcome of one guarded operation.
type Record struct {
	// Key is the deterministic idempotency key.
	Key string `json:"key"`

	// Components are the hashed inputs the key was derived from.
	Components StoredComponents `json:"components"`

	// Status is the current record status.
	Status Status `json:"status"`

	// Result is the cached result (when completed).
	Result json.RawMessage `json:"result,omitempty"`

	// Error is the recorded error message (when failed).
	Error string `json:"error,omitempty"`

	// CreatedAt is when the record was first inserted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record last transitioned.
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerateKey derives the deterministic idempotency key for the given
// components. The input is hashed through a canonicalized, key-sorted
// JSON encoding, so {a:1,b:2} and {b:2,a:1} produce the identical key.
func GenerateKey(c Components) (string, *StoredComponents, error) {
	inputJSON, err := canonical.Marshal(c.Input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to canonicalize input: %w", err)
	}
	inputHash := sha256.Sum256(inputJSON)

	stored := &StoredComponents{
		RunID:     c.RunID,
		StepID:    c.StepID,
		Operation: c.Operation,
		InputHash: hex.EncodeToString(inputHash[:]),
	}

	componentJSON, err := canonical.Marshal(stored)
	if err != nil {
		return "", nil, fmt.Errorf("failed to canonicalize components: %w", err)
	}
	key := sha256.Sum256(componentJSON)
	return hex.EncodeToString(key[:]), stored, nil
}
