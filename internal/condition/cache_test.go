package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_EmptyConditionIsTrue(t *testing.T) {
	e := NewEvaluator(10)
	ok, err := e.Evaluate("", map[string]any{"value": 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_SimpleComparison(t *testing.T) {
	e := NewEvaluator(10)
	ok, err := e.Evaluate(`output.value > 0`, map[string]any{"value": 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(`output.value > 0`, map[string]any{"value": -1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluator_NonBooleanResultErrors(t *testing.T) {
	e := NewEvaluator(10)
	_, err := e.Evaluate(`output.value`, map[string]any{"value": 5})
	assert.Error(t, err)
}

func TestEvaluator_InvalidExpressionErrors(t *testing.T) {
	e := NewEvaluator(10)
	_, err := e.Evaluate(`output.value >>> 0`, map[string]any{"value": 5})
	assert.Error(t, err)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	e := NewEvaluator(2)

	_, _ = e.Evaluate(`output.a > 0`, map[string]any{"a": 1})
	_, _ = e.Evaluate(`output.b > 0`, map[string]any{"b": 1})
	assert.Equal(t, 2, e.cache.Len())

	_, _ = e.Evaluate(`output.c > 0`, map[string]any{"c": 1})
	assert.Equal(t, 2, e.cache.Len())

	_, ok := e.cache.Get(`output.a > 0`)
	assert.False(t, ok, "least-recently-used entry should have been evicted")
	_ = c
}

func TestCache_GetPutRoundTrip(t *testing.T) {
	c := NewCache(5)
	_, ok := c.Get("missing")
	assert.False(t, ok)

	program, err := c.CompileAndCache(`output.x == 1`, map[string]interface{}{"output": map[string]any{}})
	require.NoError(t, err)

	got, ok := c.Get(`output.x == 1`)
	assert.True(t, ok)
	assert.Same(t, program, got)
}
