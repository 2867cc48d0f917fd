// Package canonical provides deterministic JSON encoding for hashing.
// This package is internal and should not be imported by external projects.
//
// encoding/json already emits struct fields in declaration order, but maps
// and nested any values carry no ordering guarantee across field-order
// permutations of the logical input. Marshal normalizes every map to
// key-sorted form so that logically equal values always produce identical
// bytes, which is required for idempotency keys and audit content hashes.
package canonical

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal encodes v as canonical JSON: all object keys sorted, no
// insignificant whitespace. Two logically equal values (same keys and
// values, any field order) always produce identical bytes.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	// Round-trip through any to discard source ordering, then re-encode
	// with sorted keys.
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("canonical normalize: %w", err)
	}

	return encode(decoded)
}

// encode writes a normalized value back to JSON with sorted object keys.
func encode(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			valJSON, err := encode(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, valJSON...)
		}
		return append(buf, '}'), nil

	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemJSON, err := encode(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemJSON...)
		}
		return append(buf, ']'), nil

	default:
		return json.Marshal(val)
	}
}
