package connection_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsidekick/cato/engine/connection"
)

type fakeConn struct {
	name     string
	typ      connection.Type
	sys      *connection.System
	closed   bool
	closeErr error
}

func (c *fakeConn) Name() string               { return c.name }
func (c *fakeConn) Type() connection.Type      { return c.typ }
func (c *fakeConn) System() *connection.System { return c.sys }
func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func fakeDialer(conns *[]*fakeConn) connection.Dialer {
	return func(_ context.Context, name string, typ connection.Type, sys *connection.System) (connection.Connection, error) {
		c := &fakeConn{name: name, typ: typ, sys: sys}
		*conns = append(*conns, c)
		return c, nil
	}
}

func TestParseType(t *testing.T) {
	t.Run("Should normalize known types", func(t *testing.T) {
		typ, err := connection.ParseType("  SSH ")
		require.NoError(t, err)
		assert.Equal(t, connection.TypeSSH, typ)
		typ, err = connection.ParseType("ssh - ec2")
		require.NoError(t, err)
		assert.Equal(t, connection.TypeSSHEC2, typ)
	})
	t.Run("Should default an empty type to ssh", func(t *testing.T) {
		typ, err := connection.ParseType("")
		require.NoError(t, err)
		assert.Equal(t, connection.TypeSSH, typ)
	})
	t.Run("Should reject unknown types", func(t *testing.T) {
		_, err := connection.ParseType("gopher")
		require.Error(t, err)
	})
	t.Run("Should classify sql dialects", func(t *testing.T) {
		assert.True(t, connection.TypeOracle.IsSQL())
		assert.True(t, connection.TypeMySQL.IsSQL())
		assert.False(t, connection.TypeTelnet.IsSQL())
	})
}

func TestParseInlineSystem(t *testing.T) {
	t.Run("Should build a system from key=value text", func(t *testing.T) {
		sys, err := connection.ParseInlineSystem("address=10.0.0.5 port=2222 user=admin password=pw db=app")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5", sys.Address)
		assert.Equal(t, "2222", sys.Port)
		assert.Equal(t, "admin", sys.User)
		assert.Equal(t, "pw", sys.Password)
		assert.Equal(t, "app", sys.DBName)
	})
	t.Run("Should default the name to the address", func(t *testing.T) {
		sys, err := connection.ParseInlineSystem("address=host1")
		require.NoError(t, err)
		assert.Equal(t, "host1", sys.Name)
	})
	t.Run("Should require an address", func(t *testing.T) {
		_, err := connection.ParseInlineSystem("user=admin")
		require.Error(t, err)
	})
	t.Run("Should reject unknown keys", func(t *testing.T) {
		_, err := connection.ParseInlineSystem("address=h color=blue")
		require.Error(t, err)
	})
}

func TestManager_Open(t *testing.T) {
	ctx := context.Background()
	sys := &connection.System{Address: "h"}

	t.Run("Should register an opened connection under its name", func(t *testing.T) {
		var dialed []*fakeConn
		m := connection.NewManager()
		_, err := m.Open(ctx, "c1", connection.TypeSSH, sys, fakeDialer(&dialed))
		require.NoError(t, err)
		got, ok := m.Get("c1")
		require.True(t, ok)
		assert.Equal(t, "c1", got.Name())
	})
	t.Run("Should close and replace a connection with the same name", func(t *testing.T) {
		var dialed []*fakeConn
		m := connection.NewManager()
		_, err := m.Open(ctx, "c1", connection.TypeSSH, sys, fakeDialer(&dialed))
		require.NoError(t, err)
		_, err = m.Open(ctx, "c1", connection.TypeTelnet, sys, fakeDialer(&dialed))
		require.NoError(t, err)
		require.Len(t, dialed, 2)
		assert.True(t, dialed[0].closed)
		got, _ := m.Get("c1")
		assert.Equal(t, connection.TypeTelnet, got.Type())
	})
	t.Run("Should not register anything when dialing fails", func(t *testing.T) {
		m := connection.NewManager()
		boom := func(context.Context, string, connection.Type, *connection.System) (connection.Connection, error) {
			return nil, fmt.Errorf("no route")
		}
		_, err := m.Open(ctx, "c1", connection.TypeSSH, sys, boom)
		require.Error(t, err)
		_, ok := m.Get("c1")
		assert.False(t, ok)
	})
}

func TestManager_Drop(t *testing.T) {
	ctx := context.Background()
	sys := &connection.System{Address: "h"}

	t.Run("Should close and forget the named connection", func(t *testing.T) {
		var dialed []*fakeConn
		m := connection.NewManager()
		_, err := m.Open(ctx, "c1", connection.TypeSSH, sys, fakeDialer(&dialed))
		require.NoError(t, err)
		m.Drop(ctx, "c1")
		assert.True(t, dialed[0].closed)
		_, ok := m.Get("c1")
		assert.False(t, ok)
	})
	t.Run("Should tolerate dropping a missing name", func(t *testing.T) {
		m := connection.NewManager()
		assert.NotPanics(t, func() { m.Drop(ctx, "ghost") })
	})
	t.Run("Should forget a connection whose close fails", func(t *testing.T) {
		m := connection.NewManager()
		failing := &fakeConn{name: "c1", closeErr: errors.New("already gone")}
		dial := func(context.Context, string, connection.Type, *connection.System) (connection.Connection, error) {
			return failing, nil
		}
		_, err := m.Open(ctx, "c1", connection.TypeSSH, sys, dial)
		require.NoError(t, err)
		m.Drop(ctx, "c1")
		_, ok := m.Get("c1")
		assert.False(t, ok)
	})
}

func TestManager_ReleaseAll(t *testing.T) {
	t.Run("Should close every open connection", func(t *testing.T) {
		ctx := context.Background()
		var dialed []*fakeConn
		m := connection.NewManager()
		for _, name := range []string{"a", "b", "c"} {
			_, err := m.Open(ctx, name, connection.TypeSSH, &connection.System{Address: "h"}, fakeDialer(&dialed))
			require.NoError(t, err)
		}
		m.ReleaseAll(ctx)
		for _, c := range dialed {
			assert.True(t, c.closed)
		}
		assert.Empty(t, m.Names())
	})
}
