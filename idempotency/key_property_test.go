package idempotency

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_KeyDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("identical components always produce the same key", prop.ForAll(
		func(runID, stepID, operation string, a, b int) bool {
			c := Components{
				RunID:     runID,
				StepID:    stepID,
				Operation: operation,
				Input:     map[string]any{"a": a, "b": b},
			}
			key1, comp1, err := GenerateKey(c)
			if err != nil {
				t.Logf("GenerateKey failed: %v", err)
				return false
			}
			key2, comp2, err := GenerateKey(c)
			if err != nil {
				t.Logf("GenerateKey failed: %v", err)
				return false
			}
			return key1 == key2 && comp1.InputHash == comp2.InputHash
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Int(),
		gen.Int(),
	))

	properties.Property("map key insertion order does not affect the key", prop.ForAll(
		func(a, b, c int) bool {
			forward := map[string]any{"a": a, "b": b, "c": c}
			reversed := map[string]any{"c": c, "b": b, "a": a}

			key1, _, err := GenerateKey(Components{RunID: "r", StepID: "s", Operation: "op", Input: forward})
			if err != nil {
				return false
			}
			key2, _, err := GenerateKey(Components{RunID: "r", StepID: "s", Operation: "op", Input: reversed})
			if err != nil {
				return false
			}
			return key1 == key2
		},
		gen.Int(),
		gen.Int(),
		gen.Int(),
	))

	properties.Property("different inputs produce different keys", prop.ForAll(
		func(a, b int) bool {
			if a == b {
				return true
			}
			key1, _, err := GenerateKey(Components{RunID: "r", StepID: "s", Operation: "op", Input: a})
			if err != nil {
				return false
			}
			key2, _, err := GenerateKey(Components{RunID: "r", StepID: "s", Operation: "op", Input: b})
			if err != nil {
				return false
			}
			return key1 != key2
		},
		gen.Int(),
		gen.Int(),
	))

	properties.TestingRun(t)
}
