package subst_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsidekick/cato/engine/subst"
	"github.com/cloudsidekick/cato/engine/variables"
)

const instancesXML = `<result>
  <instances>
    <instance><id>i-111</id><state>running</state></instance>
    <instance><id>i-222</id><state>stopped</state></instance>
  </instances>
</result>`

func xpathEngine(t *testing.T) *subst.Engine {
	t.Helper()
	vars := variables.NewStore()
	vars.Set("result", instancesXML)
	return subst.New(vars, nil, nil)
}

func TestEngine_ResolveXPath(t *testing.T) {
	t.Run("Should resolve the caret form against stored XML", func(t *testing.T) {
		e := xpathEngine(t)
		out, err := e.Resolve("[[result^instance/id]]")
		require.NoError(t, err)
		assert.Equal(t, "i-111", out)
	})
	t.Run("Should resolve the legacy dotted form", func(t *testing.T) {
		e := xpathEngine(t)
		out, err := e.Resolve("[[result.//instance[2]/state]]")
		require.NoError(t, err)
		assert.Equal(t, "stopped", out)
	})
	t.Run("Should answer count expressions with the node count", func(t *testing.T) {
		e := xpathEngine(t)
		out, err := e.Resolve("[[result^count(instance)]]")
		require.NoError(t, err)
		assert.Equal(t, "2", out)
	})
	t.Run("Should resolve a non-matching path to empty text", func(t *testing.T) {
		e := xpathEngine(t)
		out, err := e.Resolve("[[result^nonexistent]]")
		require.NoError(t, err)
		assert.Equal(t, "", out)
	})
}
