package subst_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsidekick/cato/engine/subst"
	"github.com/cloudsidekick/cato/engine/variables"
)

type fakeGlobals map[string]string

func (g fakeGlobals) Global(name string) (string, error) {
	v, ok := g[name]
	if !ok {
		return "", fmt.Errorf("unknown global [%s]", name)
	}
	return v, nil
}

type fakeHandles map[string]string

func (h fakeHandles) HandleProperty(handle, property string) (string, error) {
	v, ok := h[handle+"."+property]
	if !ok {
		return "", fmt.Errorf("task handle [%s] does not exist", handle)
	}
	return v, nil
}

func newEngine(t *testing.T) (*subst.Engine, *variables.Store) {
	t.Helper()
	vars := variables.NewStore()
	e := subst.New(vars, fakeGlobals{}, fakeHandles{})
	return e, vars
}

func TestEngine_Resolve(t *testing.T) {
	t.Run("Should pass through text with no references", func(t *testing.T) {
		e, _ := newEngine(t)
		out, err := e.Resolve("plain text")
		require.NoError(t, err)
		assert.Equal(t, "plain text", out)
	})
	t.Run("Should resolve both reference syntaxes", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("host", "web01")
		out, err := e.Resolve("legacy [[host]] and current [$host$]")
		require.NoError(t, err)
		assert.Equal(t, "legacy web01 and current web01", out)
	})
	t.Run("Should resolve a missing variable to empty text", func(t *testing.T) {
		e, _ := newEngine(t)
		out, err := e.Resolve(">[[nothing]]<")
		require.NoError(t, err)
		assert.Equal(t, "><", out)
	})
	t.Run("Should resolve nested references innermost first", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("n", "2")
		vars.SetIndex("servers", 2, "db02")
		out, err := e.Resolve("[[servers,[[n]]]]")
		require.NoError(t, err)
		assert.Equal(t, "db02", out)
	})
	t.Run("Should treat an unterminated marker as plain text", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("v", "x")
		out, err := e.Resolve("broken [[v and done")
		require.NoError(t, err)
		assert.Equal(t, "broken [[v and done", out)
	})
	t.Run("Should be stable once resolved", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("v", "value")
		once, err := e.Resolve("x [[v]] y")
		require.NoError(t, err)
		twice, err := e.Resolve(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})
	t.Run("Should fail when substitution never terminates", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("a", "[[a]]")
		_, err := e.Resolve("[[a]]")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not terminate")
	})
}

func TestEngine_ResolveArrays(t *testing.T) {
	t.Run("Should resolve an indexed element", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.SetIndex("servers", 1, "a")
		vars.SetIndex("servers", 2, "b")
		out, err := e.Resolve("[[servers,2]]")
		require.NoError(t, err)
		assert.Equal(t, "b", out)
	})
	t.Run("Should resolve the star suffix to the element count", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.SetIndex("servers", 4, "d")
		out, err := e.Resolve("[[servers,*]]")
		require.NoError(t, err)
		assert.Equal(t, "4", out)
	})
	t.Run("Should fail hard on a non-integer index", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.Resolve("[[servers,first]]")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be an integer or *")
	})
}

func TestEngine_ResolveGlobals(t *testing.T) {
	globals := fakeGlobals{
		"_TASK_NAME": "deploy",
		"_OPTIONS":   `{"region":"us-east-1","targets":["a","b","c"]}`,
	}
	t.Run("Should resolve a scalar global", func(t *testing.T) {
		e := subst.New(variables.NewStore(), globals, nil)
		out, err := e.Resolve("[$_TASK_NAME$]")
		require.NoError(t, err)
		assert.Equal(t, "deploy", out)
	})
	t.Run("Should drill into a structured global with a keypath", func(t *testing.T) {
		e := subst.New(variables.NewStore(), globals, nil)
		out, err := e.Resolve("[[_OPTIONS:region]]")
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", out)
	})
	t.Run("Should answer the star suffix with the list length", func(t *testing.T) {
		e := subst.New(variables.NewStore(), globals, nil)
		out, err := e.Resolve("[[_OPTIONS:targets,*]]")
		require.NoError(t, err)
		assert.Equal(t, "3", out)
	})
	t.Run("Should fail on an unknown global", func(t *testing.T) {
		e := subst.New(variables.NewStore(), globals, nil)
		_, err := e.Resolve("[[_BOGUS]]")
		require.Error(t, err)
	})
}

func TestEngine_ResolveHandles(t *testing.T) {
	handles := fakeHandles{"child.status": "Completed"}
	t.Run("Should resolve a handle property", func(t *testing.T) {
		e := subst.New(variables.NewStore(), nil, handles)
		out, err := e.Resolve("[[#child.status]]")
		require.NoError(t, err)
		assert.Equal(t, "Completed", out)
	})
	t.Run("Should fail on a malformed handle reference", func(t *testing.T) {
		e := subst.New(variables.NewStore(), nil, handles)
		_, err := e.Resolve("[[#child]]")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected #handle.property")
	})
	t.Run("Should fail on an unknown handle", func(t *testing.T) {
		e := subst.New(variables.NewStore(), nil, handles)
		_, err := e.Resolve("[[#ghost.status]]")
		require.Error(t, err)
	})
}

func TestEngine_ResolveObjects(t *testing.T) {
	t.Run("Should drill into a JSON variable with a keypath", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("doc", `{"name":"web01","tags":{"env":"prod"}}`)
		out, err := e.Resolve("[[$doc:tags.env]]")
		require.NoError(t, err)
		assert.Equal(t, "prod", out)
	})
	t.Run("Should address an indexed JSON element", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.SetIndex("rows", 1, `{"id":1}`)
		vars.SetIndex("rows", 2, `{"id":2}`)
		out, err := e.Resolve("[[$rows:id,2]]")
		require.NoError(t, err)
		assert.Equal(t, "2", out)
	})
	t.Run("Should fail when the value is not JSON", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("doc", "not json at all")
		_, err := e.Resolve("[[$doc:name]]")
		require.Error(t, err)
	})
	t.Run("Should resolve an object reference standing alone at offset zero", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("doc", `{"name":"web01"}`)
		out, err := e.Resolve("[[$doc:name]]")
		require.NoError(t, err)
		assert.Equal(t, "web01", out)
	})
	t.Run("Should resolve object references mixed with the current syntax", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("doc", `{"name":"web01"}`)
		vars.Set("env", "prod")
		out, err := e.Resolve("[[$doc:name]] in [$env$]")
		require.NoError(t, err)
		assert.Equal(t, "web01 in prod", out)
	})
	t.Run("Should reject a non-integer index suffix", func(t *testing.T) {
		e, vars := newEngine(t)
		vars.Set("doc", `{"name":"web01"}`)
		_, err := e.Resolve("[[$doc:name,first]]")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be an integer or *")
	})
}

func TestHasReference(t *testing.T) {
	t.Run("Should detect either opener", func(t *testing.T) {
		assert.True(t, subst.HasReference("x [[v]]"))
		assert.True(t, subst.HasReference("x [$v$]"))
		assert.False(t, subst.HasReference("x (v)"))
	})
}
