package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Marshal
// =============================================================================

func TestMarshal_SortsMapKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(out))
}

func TestMarshal_NestedMaps(t *testing.T) {
	out, err := Marshal(map[string]any{
		"outer": map[string]any{"z": true, "a": "x"},
		"list":  []any{map[string]any{"b": 1, "a": 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[{"a":2,"b":1}],"outer":{"a":"x","z":true}}`, string(out))
}

func TestMarshal_StructFieldOrderIrrelevant(t *testing.T) {
	type first struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	type second struct {
		B string `json:"b"`
		A int    `json:"a"`
	}

	out1, err := Marshal(first{A: 1, B: "x"})
	require.NoError(t, err)
	out2, err := Marshal(second{A: 1, B: "x"})
	require.NoError(t, err)

	assert.Equal(t, string(out1), string(out2))
}

func TestMarshal_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "string", input: "hello", want: `"hello"`},
		{name: "number", input: 42, want: "42"},
		{name: "bool", input: true, want: "true"},
		{name: "null", input: nil, want: "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestMarshal_UnserializableInput(t *testing.T) {
	_, err := Marshal(make(chan int))
	assert.Error(t, err)
}
