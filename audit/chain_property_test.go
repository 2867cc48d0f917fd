package audit

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// Appending any number of entries in any batching always yields a chain
// with contiguous sequences from 0 that verifies end to end.
func TestChainIntegrityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l := NewLog(NewMemoryStore(zap.NewNop()), zap.NewNop())
		ctx := context.Background()

		total := 0
		batches := rapid.IntRange(1, 8).Draw(rt, "batches")
		for b := 0; b < batches; b++ {
			size := rapid.IntRange(1, 5).Draw(rt, "size")
			entries := make([]Entry, size)
			for i := range entries {
				entries[i] = Entry{
					Actor:    Actor{Type: "worker", ID: rapid.StringMatching(`w[0-9]{1,3}`).Draw(rt, "actor")},
					Action:   Action{Category: "step", Name: fmt.Sprintf("step.%d", total+i)},
					Resource: Resource{Type: "run", ID: "run-1"},
					Outcome:  Outcome{Status: "success"},
					HighRisk: rapid.Bool().Draw(rt, "high_risk"),
				}
			}

			batch, err := l.AppendBatch(ctx, "t1", entries)
			if err != nil {
				rt.Fatalf("append batch failed: %v", err)
			}
			if batch.StartSequence != int64(total) {
				rt.Fatalf("expected batch to start at %d, got %d", total, batch.StartSequence)
			}
			total += size
		}

		result, err := l.VerifyChainIntegrity(ctx, "t1", nil)
		if err != nil {
			rt.Fatalf("verify failed: %v", err)
		}
		if !result.Valid {
			rt.Fatalf("chain invalid at sequence %v", result.FailedSequence)
		}
		if result.EntriesVerified != int64(total) {
			rt.Fatalf("expected %d entries verified, got %d", total, result.EntriesVerified)
		}

		latest, err := l.GetLatestEntry(ctx, "t1")
		if err != nil || latest == nil {
			rt.Fatalf("latest entry missing: %v", err)
		}
		if latest.Chain.Sequence != int64(total-1) {
			rt.Fatalf("expected latest sequence %d, got %d", total-1, latest.Chain.Sequence)
		}
	})
}

// Mutating any single stored entry invalidates verification.
func TestChainTamperDetectionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := NewMemoryStore(zap.NewNop())
		l := NewLog(store, zap.NewNop())
		ctx := context.Background()

		count := rapid.IntRange(1, 10).Draw(rt, "count")
		for i := 0; i < count; i++ {
			if _, err := l.Append(ctx, "t1", Entry{
				Actor:   Actor{Type: "worker", ID: "w1"},
				Action:  Action{Category: "step", Name: "step.completed"},
				Outcome: Outcome{Status: "success"},
			}); err != nil {
				rt.Fatalf("append failed: %v", err)
			}
		}

		victim := rapid.IntRange(0, count-1).Draw(rt, "victim")
		store.mu.Lock()
		store.chains["t1"][victim].Actor.ID = "intruder"
		store.mu.Unlock()

		result, err := l.VerifyChainIntegrity(ctx, "t1", nil)
		if err != nil {
			rt.Fatalf("verify failed: %v", err)
		}
		if result.Valid {
			rt.Fatalf("tampered entry at sequence %d went undetected", victim)
		}
	})
}
