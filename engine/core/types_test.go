package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsidekick/cato/engine/core"
)

func TestInstanceStatus_IsTerminal(t *testing.T) {
	t.Run("Should classify terminal statuses", func(t *testing.T) {
		assert.True(t, core.StatusCompleted.IsTerminal())
		assert.True(t, core.StatusError.IsTerminal())
		assert.True(t, core.StatusCancelled.IsTerminal())
	})
	t.Run("Should classify in-flight statuses as non-terminal", func(t *testing.T) {
		assert.False(t, core.StatusSubmitted.IsTerminal())
		assert.False(t, core.StatusProcessing.IsTerminal())
		assert.False(t, core.StatusAborting.IsTerminal())
	})
}

func TestInstanceStatus_CanTransition(t *testing.T) {
	t.Run("Should allow the normal lifecycle", func(t *testing.T) {
		assert.True(t, core.StatusSubmitted.CanTransition(core.StatusQueued))
		assert.True(t, core.StatusQueued.CanTransition(core.StatusProcessing))
		assert.True(t, core.StatusProcessing.CanTransition(core.StatusCompleted))
		assert.True(t, core.StatusProcessing.CanTransition(core.StatusError))
		assert.True(t, core.StatusProcessing.CanTransition(core.StatusAborting))
		assert.True(t, core.StatusAborting.CanTransition(core.StatusCancelled))
	})
	t.Run("Should refuse transitions out of a terminal status", func(t *testing.T) {
		assert.False(t, core.StatusCompleted.CanTransition(core.StatusProcessing))
		assert.False(t, core.StatusError.CanTransition(core.StatusSubmitted))
	})
	t.Run("Should refuse skipping backwards", func(t *testing.T) {
		assert.False(t, core.StatusProcessing.CanTransition(core.StatusSubmitted))
		assert.False(t, core.StatusAborting.CanTransition(core.StatusProcessing))
	})
}

func TestStepError(t *testing.T) {
	t.Run("Should carry the step identity in the message", func(t *testing.T) {
		err := core.NewStepError("s-9", "cmd_line", errors.New("boom"))
		assert.Contains(t, err.Error(), "s-9")
		assert.Contains(t, err.Error(), "cmd_line")
	})
	t.Run("Should unwrap to the cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := core.NewStepError("s-9", "cmd_line", cause)
		assert.True(t, errors.Is(err, cause))
		var se *core.StepError
		require.True(t, errors.As(error(err), &se))
		assert.Equal(t, "s-9", se.StepID)
	})
}

func TestNewID(t *testing.T) {
	t.Run("Should generate unique ids", func(t *testing.T) {
		assert.NotEqual(t, core.NewID(), core.NewID())
	})
	t.Run("Should strip separators from short ids", func(t *testing.T) {
		assert.NotContains(t, core.NewShortID(), "-")
	})
}
