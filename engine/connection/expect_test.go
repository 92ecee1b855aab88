package connection

import (
	"bytes"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpecter(t *testing.T) {
	prompt := regexp.MustCompile(`\$\s*$`)

	t.Run("Should match a pattern already present in the stream", func(t *testing.T) {
		in := &bytes.Buffer{}
		pr, pw := io.Pipe()
		e := newExpecter(in, pr)
		go func() {
			pw.Write([]byte("login ok\nuser@host $ "))
		}()
		idx, out, err := e.expect(time.Second, prompt)
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
		assert.Contains(t, out, "login ok")
		pw.Close()
	})

	t.Run("Should return the index of the first matching pattern", func(t *testing.T) {
		in := &bytes.Buffer{}
		pr, pw := io.Pipe()
		e := newExpecter(in, pr)
		go func() {
			pw.Write([]byte("Password: "))
		}()
		idx, _, err := e.expect(time.Second, prompt, regexp.MustCompile(`Password:`))
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
		pw.Close()
	})

	t.Run("Should report EOF as index -1 with the residual output", func(t *testing.T) {
		in := &bytes.Buffer{}
		pr, pw := io.Pipe()
		e := newExpecter(in, pr)
		go func() {
			pw.Write([]byte("partial output"))
			pw.Close()
		}()
		idx, out, err := e.expect(time.Second, prompt)
		require.NoError(t, err)
		assert.Equal(t, -1, idx)
		assert.Equal(t, "partial output", out)
	})

	t.Run("Should time out when nothing matches", func(t *testing.T) {
		in := &bytes.Buffer{}
		pr, pw := io.Pipe()
		defer pw.Close()
		e := newExpecter(in, pr)
		idx, _, err := e.expect(20*time.Millisecond, prompt)
		require.ErrorIs(t, err, ErrExpectTimeout)
		assert.Equal(t, -1, idx)
	})

	t.Run("Should append a newline when sending", func(t *testing.T) {
		in := &bytes.Buffer{}
		pr, pw := io.Pipe()
		defer pw.Close()
		e := newExpecter(in, pr)
		require.NoError(t, e.send("uname -a"))
		assert.Equal(t, "uname -a\n", in.String())
	})

	t.Run("Should consume matched output so later expects see the rest", func(t *testing.T) {
		in := &bytes.Buffer{}
		pr, pw := io.Pipe()
		e := newExpecter(in, pr)
		go func() {
			pw.Write([]byte("first $ second $ "))
		}()
		_, out, err := e.expect(time.Second, regexp.MustCompile(`first \$`))
		require.NoError(t, err)
		assert.Equal(t, "first $", out)
		_, out, err = e.expect(time.Second, regexp.MustCompile(`second \$`))
		require.NoError(t, err)
		assert.Equal(t, " second $", out)
		pw.Close()
	})
}

func TestShellConnection_Close(t *testing.T) {
	t.Run("Should deliver EOF to a waiting expect", func(t *testing.T) {
		in := &bytes.Buffer{}
		pr, pw := io.Pipe()
		conn := &ShellConnection{name: "c1", typ: TypeSSH, exp: newExpecter(in, pr)}
		conn.closers = append(conn.closers, pw)
		require.NoError(t, conn.Close())
		idx, _, err := conn.exp.expect(time.Second, regexp.MustCompile(`never`))
		require.NoError(t, err)
		assert.Equal(t, -1, idx)
	})
}
