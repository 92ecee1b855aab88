package connection

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
)

// ErrExpectTimeout is returned when no pattern matched before the deadline.
var ErrExpectTimeout = errors.New("timed out waiting for remote output")

// expecter drives pattern-matched interaction with a remote shell stream. A
// single reader goroutine pumps the stream into a channel so matching can be
// bounded by a timeout; the engine itself stays synchronous around it.
type expecter struct {
	in     io.Writer
	chunks chan []byte
	errs   chan error
	buf    []byte
}

func newExpecter(in io.Writer, out io.Reader) *expecter {
	e := &expecter{
		in:     in,
		chunks: make(chan []byte, 16),
		errs:   make(chan error, 1),
	}
	go func() {
		b := make([]byte, 4096)
		for {
			n, err := out.Read(b)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, b[:n])
				e.chunks <- chunk
			}
			if err != nil {
				e.errs <- err
				return
			}
		}
	}()
	return e
}

// send writes a line to the remote side.
func (e *expecter) send(line string) error {
	_, err := io.WriteString(e.in, line+"\n")
	return err
}

// expect blocks until one of patterns matches the accumulated output, EOF is
// reached, or timeout elapses. It returns the index of the matching pattern
// and the output consumed up to and including the match. EOF is reported as
// index -1 with a nil error so callers can branch on it like any other
// pattern.
func (e *expecter) expect(timeout time.Duration, patterns ...*regexp.Regexp) (int, string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		for i, p := range patterns {
			if loc := p.FindIndex(e.buf); loc != nil {
				matched := string(e.buf[:loc[1]])
				e.buf = e.buf[loc[1]:]
				return i, matched, nil
			}
		}
		select {
		case chunk := <-e.chunks:
			e.buf = append(e.buf, chunk...)
		case err := <-e.errs:
			if errors.Is(err, io.EOF) {
				out := string(e.buf)
				e.buf = nil
				return -1, out, nil
			}
			return -1, string(e.buf), fmt.Errorf("reading remote output: %w", err)
		case <-deadline.C:
			return -1, string(e.buf), ErrExpectTimeout
		}
	}
}
