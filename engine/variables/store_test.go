package variables_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudsidekick/cato/engine/variables"
)

func TestStore_SetGet(t *testing.T) {
	t.Run("Should store and read back a scalar", func(t *testing.T) {
		s := variables.NewStore()
		s.Set("host", "web01")
		assert.Equal(t, "web01", s.Get("host"))
	})
	t.Run("Should treat names case-insensitively", func(t *testing.T) {
		s := variables.NewStore()
		s.Set("MyVar", "x")
		assert.Equal(t, "x", s.Get("myvar"))
		assert.Equal(t, "x", s.Get("MYVAR"))
		s.Set("MYVAR", "y")
		assert.Equal(t, "y", s.Get("MyVar"))
	})
	t.Run("Should return empty string for a missing name", func(t *testing.T) {
		s := variables.NewStore()
		assert.Equal(t, "", s.Get("nope"))
	})
	t.Run("Should overwrite an array with a scalar", func(t *testing.T) {
		s := variables.NewStore()
		s.SetIndex("v", 3, "c")
		s.Set("v", "scalar")
		assert.Equal(t, "scalar", s.Get("v"))
		assert.Equal(t, 1, s.Count("v"))
	})
}

func TestStore_Arrays(t *testing.T) {
	t.Run("Should store sparse 1-based elements", func(t *testing.T) {
		s := variables.NewStore()
		s.SetIndex("servers", 1, "a")
		s.SetIndex("servers", 5, "e")
		assert.Equal(t, "a", s.GetIndex("servers", 1))
		assert.Equal(t, "e", s.GetIndex("servers", 5))
		assert.Equal(t, "", s.GetIndex("servers", 3))
	})
	t.Run("Should report the highest assigned index as the count", func(t *testing.T) {
		s := variables.NewStore()
		s.SetIndex("servers", 2, "b")
		s.SetIndex("servers", 7, "g")
		assert.Equal(t, 7, s.Count("servers"))
	})
	t.Run("Should count a scalar as one and a missing name as zero", func(t *testing.T) {
		s := variables.NewStore()
		s.Set("one", "x")
		assert.Equal(t, 1, s.Count("one"))
		assert.Equal(t, 0, s.Count("missing"))
	})
	t.Run("Should ignore indices below one", func(t *testing.T) {
		s := variables.NewStore()
		s.SetIndex("v", 0, "zero")
		s.SetIndex("v", -2, "neg")
		assert.False(t, s.Exists("v"))
	})
	t.Run("Should return element one when reading an array as a scalar", func(t *testing.T) {
		s := variables.NewStore()
		s.SetIndex("v", 1, "first")
		s.SetIndex("v", 2, "second")
		assert.Equal(t, "first", s.Get("v"))
	})
}

func TestStore_Clear(t *testing.T) {
	t.Run("Should remove a name entirely", func(t *testing.T) {
		s := variables.NewStore()
		s.Set("v", "x")
		s.Clear("v")
		assert.False(t, s.Exists("v"))
	})
	t.Run("Should tolerate clearing a missing name", func(t *testing.T) {
		s := variables.NewStore()
		s.Clear("ghost")
		assert.False(t, s.Exists("ghost"))
	})
	t.Run("Should clear a single array slot without dropping the name", func(t *testing.T) {
		s := variables.NewStore()
		s.SetIndex("v", 1, "a")
		s.SetIndex("v", 2, "b")
		s.ClearIndex("v", 1)
		assert.Equal(t, "", s.GetIndex("v", 1))
		assert.Equal(t, "b", s.GetIndex("v", 2))
		assert.True(t, s.Exists("v"))
	})
}
