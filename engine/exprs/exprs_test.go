package exprs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsidekick/cato/engine/exprs"
)

func newEvaluator(t *testing.T) *exprs.Evaluator {
	t.Helper()
	e, err := exprs.New()
	require.NoError(t, err)
	return e
}

func TestEvaluator_EvalBool(t *testing.T) {
	e := newEvaluator(t)
	t.Run("Should evaluate comparisons", func(t *testing.T) {
		ok, err := e.EvalBool(`"web01" == "web01"`)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = e.EvalBool("3 > 5")
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should evaluate boolean connectives", func(t *testing.T) {
		ok, err := e.EvalBool(`1 < 2 && "a" != "b"`)
		require.NoError(t, err)
		assert.True(t, ok)
	})
	t.Run("Should compare parsed dates", func(t *testing.T) {
		ok, err := e.EvalBool(`date("2024-01-02") > date("2024-01-01")`)
		require.NoError(t, err)
		assert.True(t, ok)
	})
	t.Run("Should reject a non-boolean result", func(t *testing.T) {
		_, err := e.EvalBool("1 + 1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not evaluate to a boolean")
	})
	t.Run("Should reject invalid syntax", func(t *testing.T) {
		_, err := e.EvalBool("1 ===")
		require.Error(t, err)
	})
}

func TestEvaluator_EvalString(t *testing.T) {
	e := newEvaluator(t)
	t.Run("Should render arithmetic results as text", func(t *testing.T) {
		out, err := e.EvalString("6 * 7")
		require.NoError(t, err)
		assert.Equal(t, "42", out)
	})
	t.Run("Should render string expressions", func(t *testing.T) {
		out, err := e.EvalString(`"pre-" + "fix"`)
		require.NoError(t, err)
		assert.Equal(t, "pre-fix", out)
	})
	t.Run("Should compute date differences in seconds", func(t *testing.T) {
		out, err := e.EvalString(`datediff("2024-01-01 01:00:00", "2024-01-01 00:00:00")`)
		require.NoError(t, err)
		assert.Equal(t, "3600", out)
	})
}
