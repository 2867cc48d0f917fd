package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BaSui01/runledger/internal/canonical"
)

// entryContent is the hashed view of an entry: every stored field except
// the content hash itself, plus the predecessor's hash. Field-order
// independence comes from canonical.Marshal, which serializes with sorted
// keys.
type entryContent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     Actor          `json:"actor"`
	Action    Action         `json:"action"`
	Resource  Resource       `json:"resource"`
	Outcome   Outcome        `json:"outcome"`
	Context   Context        `json:"context"`
	Details   map[string]any `json:"details,omitempty"`
	HighRisk  bool           `json:"high_risk"`
	Sequence  int64          `json:"sequence"`
	PrevHash  string         `json:"prev_hash"`
}

// computeContentHash returns the hex SHA-256 over the entry's canonical
// content and the previous entry's content hash. The entry's Chain.Sequence
// must already be assigned.
func computeContentHash(e *Entry, prevHash string) (string, error) {
	data, err := canonical.Marshal(entryContent{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Action:    e.Action,
		Resource:  e.Resource,
		Outcome:   e.Outcome,
		Context:   e.Context,
		Details:   e.Details,
		HighRisk:  e.HighRisk,
		Sequence:  e.Chain.Sequence,
		PrevHash:  prevHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit entry: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// merkleRoot computes a binary Merkle root over the given hex-encoded
// leaf hashes. An odd node at any level is duplicated. A single leaf is
// its own root; the empty input yields an empty root.
func merkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}

	level := make([][]byte, 0, len(leaves))
	for _, leaf := range leaves {
		b, err := hex.DecodeString(leaf)
		if err != nil {
			// Leaves are produced by computeContentHash and are
			// always valid hex; fall back to raw bytes.
			b = []byte(leaf)
		}
		level = append(level, b)
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			sum := sha256.Sum256(append(append([]byte{}, level[i]...), level[i+1]...))
			next = append(next, sum[:])
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}
