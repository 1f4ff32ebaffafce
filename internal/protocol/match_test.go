package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesNestedPattern(t *testing.T) {
	pattern := map[string]any{"a": map[string]any{"b": 1}}

	assert.True(t, Matches(pattern, map[string]any{
		"a": map[string]any{"b": float64(1), "c": float64(2)},
	}))
	assert.False(t, Matches(pattern, map[string]any{
		"a": map[string]any{"b": float64(2)},
	}))
	assert.False(t, Matches(pattern, map[string]any{}))
}

func TestMatchesArrayAnyElement(t *testing.T) {
	pattern := map[string]any{"items": map[string]any{"id": 7}}
	candidate := map[string]any{
		"items": []any{
			map[string]any{"id": float64(3)},
			map[string]any{"id": float64(7), "extra": "x"},
		},
	}
	assert.True(t, Matches(pattern, candidate))

	miss := map[string]any{
		"items": []any{map[string]any{"id": float64(3)}},
	}
	assert.False(t, Matches(pattern, miss))
}

func TestMatchesScalarArray(t *testing.T) {
	pattern := map[string]any{"tags": "gold"}
	assert.True(t, Matches(pattern, map[string]any{
		"tags": []any{"silver", "gold"},
	}))
	assert.False(t, Matches(pattern, map[string]any{
		"tags": []any{"silver"},
	}))
}

func TestPayloadMatchesSpecs(t *testing.T) {
	payload := map[string]any{"KID": float64(12)}

	assert.True(t, PayloadMatches(nil, nil))
	assert.True(t, PayloadMatches(false, nil))
	assert.False(t, PayloadMatches(true, nil))
	assert.True(t, PayloadMatches(true, payload))
	assert.True(t, PayloadMatches(map[string]any{"KID": 12}, payload))
	assert.False(t, PayloadMatches(map[string]any{"KID": 13}, payload))
	assert.True(t, PayloadMatches("ok", "ok"))
	assert.False(t, PayloadMatches("ok", "nope"))
}

func TestSetPath(t *testing.T) {
	m := make(map[string]any)
	SetPath(m, "a.b.c", 5)
	SetPath(m, "a.d", "x")

	assert.Equal(t, map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 5},
			"d": "x",
		},
	}, m)
}

func TestGetPath(t *testing.T) {
	m := map[string]any{"a": map[string]any{"b": float64(9)}}

	v, ok := GetPath(m, "a.b")
	assert.True(t, ok)
	assert.Equal(t, float64(9), v)

	_, ok = GetPath(m, "a.b.c")
	assert.False(t, ok)
	_, ok = GetPath(m, "z")
	assert.False(t, ok)
}
