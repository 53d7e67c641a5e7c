package jsonutil_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomic-update/au/pkg/jsonutil"
)

func TestCanonicalMarshal_SortsNestedKeys(t *testing.T) {
	out, err := jsonutil.CanonicalMarshal(map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"z": []any{3, "x"}, "a": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":null,"z":[3,"x"]},"zebra":1}`, string(out))
}

func TestCanonicalMarshal_StructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	type ba struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	x, err := jsonutil.CanonicalMarshal(ab{B: "root", A: 7})
	require.NoError(t, err)
	y, err := jsonutil.CanonicalMarshal(ba{A: 7, B: "root"})
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestCanonicalMarshal_StableAfterDecode(t *testing.T) {
	first, err := jsonutil.CanonicalMarshal(map[string]any{"id": 12345678901, "ratio": 0.5, "path": "/.snapshots/3"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(first, &decoded))
	second, err := jsonutil.CanonicalMarshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestCanonicalMarshal_Unmarshalable(t *testing.T) {
	_, err := jsonutil.CanonicalMarshal(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}
