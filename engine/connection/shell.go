package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/cloudsidekick/cato/pkg/logger"
	"github.com/sethvargo/go-retry"
	"github.com/ziutek/telnet"
	"golang.org/x/crypto/ssh"
)

// The shell is normalized after login: prompt decoration disabled, a known
// sentinel prompt installed, terminal echo off, so command/response matching
// stays reliable regardless of the remote account's dotfiles.
const promptSentinel = "CATO-PROMPT>"

var (
	promptRe        = regexp.MustCompile(regexp.QuoteMeta(promptSentinel))
	loginRe         = regexp.MustCompile(`(?i)(login|username)\s*:`)
	passwordRe      = regexp.MustCompile(`(?i)password\s*:`)
	passwordWarnRe  = regexp.MustCompile(`(?i)password will expire`)
	authFailRe      = regexp.MustCompile(`(?i)(login incorrect|permission denied|authentication failed)`)
	defaultConnWait = 20 * time.Second
)

// hostUnreachableAttempts bounds the transient-failure retry loop: a fixed
// 20 second sleep between attempts, ten attempts total.
const hostUnreachableAttempts = 10

// ShellConnection is an interactive ssh or telnet login shell driven through
// the expect matcher.
type ShellConnection struct {
	name string
	typ  Type
	sys  *System
	exp  *expecter

	closers []io.Closer
}

func (c *ShellConnection) Name() string    { return c.name }
func (c *ShellConnection) Type() Type      { return c.typ }
func (c *ShellConnection) System() *System { return c.sys }

func (c *ShellConnection) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Exec runs one command in the normalized shell and returns everything the
// remote side printed before the next prompt.
func (c *ShellConnection) Exec(_ context.Context, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if err := c.exp.send(command); err != nil {
		return "", fmt.Errorf("sending command: %w", err)
	}
	idx, out, err := c.exp.expect(timeout, promptRe)
	if err != nil {
		return "", fmt.Errorf("waiting for command output: %w", err)
	}
	if idx == -1 {
		// EOF - the shell went away mid-command.
		return strings.TrimSpace(out), fmt.Errorf("connection [%s] closed while running command", c.name)
	}
	out = strings.TrimSuffix(out, promptSentinel)
	return strings.TrimSpace(out), nil
}

// isUnreachable classifies transient dial failures worth retrying.
func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"no route to host",
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"host is down",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// SSH
// -----------------------------------------------------------------------------

func sshAuthMethods(sys *System) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if sys.PrivateKey != "" {
		// The key stays in memory; nothing is ever written to disk.
		var signer ssh.Signer
		var err error
		if sys.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(sys.PrivateKey), []byte(sys.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(sys.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("parsing private key for [%s]: %w", sys.Name, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if sys.Password != "" {
		methods = append(methods, ssh.Password(sys.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("system [%s] has neither a password nor a private key", sys.Name)
	}
	return methods, nil
}

func dialSSH(ctx context.Context, name string, typ Type, sys *System) (Connection, error) {
	log := logger.FromContext(ctx)
	auth, err := sshAuthMethods(sys)
	if err != nil {
		return nil, err
	}
	port := sys.Port
	if port == "" {
		port = "22"
	}
	cfg := &ssh.ClientConfig{
		User: sys.User,
		Auth: auth,
		// Host keys are accepted the way the interactive client's
		// confirmation prompt would be answered: yes.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         defaultConnWait,
	}
	addr := net.JoinHostPort(sys.Address, port)

	var client *ssh.Client
	backoff := retry.WithMaxRetries(hostUnreachableAttempts-1, retry.NewConstant(defaultConnWait))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, dialErr := ssh.Dial("tcp", addr, cfg)
		if dialErr != nil {
			if isUnreachable(dialErr) {
				log.Warn("host unreachable, will retry", "name", name, "address", addr, "error", dialErr)
				return retry.RetryableError(dialErr)
			}
			return dialErr
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to [%s] as [%s]: %w", addr, sys.User, err)
	}

	conn := &ShellConnection{name: name, typ: typ, sys: sys}
	conn.closers = append(conn.closers, client)
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening session on [%s]: %w", addr, err)
	}
	conn.closers = append(conn.closers, session)

	modes := ssh.TerminalModes{ssh.ECHO: 0}
	if err := session.RequestPty("vt100", 24, 1024, modes); err != nil {
		conn.Close()
		return nil, fmt.Errorf("requesting pty on [%s]: %w", addr, err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("attaching stdin on [%s]: %w", addr, err)
	}
	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw
	// Closing the pipe writer is what delivers EOF to the expect reader
	// goroutine; the session alone will not.
	conn.closers = append(conn.closers, pw)
	conn.exp = newExpecter(stdin, pr)
	if err := session.Shell(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting shell on [%s]: %w", addr, err)
	}
	if err := normalizeShell(conn.exp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("normalizing shell on [%s]: %w", addr, err)
	}
	log.Info("shell connection established", "name", name, "type", typ, "address", addr)
	return conn, nil
}

// -----------------------------------------------------------------------------
// Telnet
// -----------------------------------------------------------------------------

func dialTelnet(ctx context.Context, name string, sys *System) (Connection, error) {
	log := logger.FromContext(ctx)
	port := sys.Port
	if port == "" {
		port = "23"
	}
	addr := net.JoinHostPort(sys.Address, port)

	var tc *telnet.Conn
	backoff := retry.WithMaxRetries(hostUnreachableAttempts-1, retry.NewConstant(defaultConnWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, dialErr := telnet.DialTimeout("tcp", addr, defaultConnWait)
		if dialErr != nil {
			if isUnreachable(dialErr) {
				log.Warn("host unreachable, will retry", "name", name, "address", addr, "error", dialErr)
				return retry.RetryableError(dialErr)
			}
			return dialErr
		}
		tc = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to [%s]: %w", addr, err)
	}

	conn := &ShellConnection{name: name, typ: TypeTelnet, sys: sys}
	conn.closers = append(conn.closers, tc)
	conn.exp = newExpecter(tc, tc)

	if err := telnetLogin(conn.exp, sys); err != nil {
		conn.Close()
		return nil, fmt.Errorf("logging in to [%s] as [%s]: %w", addr, sys.User, err)
	}
	if err := normalizeShell(conn.exp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("normalizing shell on [%s]: %w", addr, err)
	}
	log.Info("shell connection established", "name", name, "type", TypeTelnet, "address", addr)
	return conn, nil
}

// telnetLogin answers the interactive login and password prompts, branching
// per matched pattern the way an expect script would.
func telnetLogin(exp *expecter, sys *System) error {
	idx, out, err := exp.expect(defaultConnWait, loginRe, passwordRe)
	if err != nil {
		return err
	}
	if idx == 0 {
		if err := exp.send(sys.User); err != nil {
			return err
		}
		idx, out, err = exp.expect(defaultConnWait, passwordRe)
		if err != nil {
			return err
		}
	}
	if idx == -1 {
		return fmt.Errorf("remote closed during login: %s", strings.TrimSpace(out))
	}
	if err := exp.send(sys.Password); err != nil {
		return err
	}
	// Either a shell arrives or the login is rejected.
	idx, out, err = exp.expect(defaultConnWait, authFailRe, passwordWarnRe, regexp.MustCompile(`[$#>%]\s*$`))
	if err != nil {
		return err
	}
	switch idx {
	case 0:
		return fmt.Errorf("authentication failed: %s", strings.TrimSpace(out))
	case -1:
		return fmt.Errorf("remote closed after login: %s", strings.TrimSpace(out))
	}
	return nil
}

// normalizeShell installs the sentinel prompt and disables echo and prompt
// decoration, then drains output until the sentinel answers back.
func normalizeShell(exp *expecter) error {
	cmds := []string{
		"unset PROMPT_COMMAND",
		fmt.Sprintf("export PS1='%s'", promptSentinel),
		"stty -echo 2>/dev/null",
	}
	if err := exp.send(strings.Join(cmds, "; ")); err != nil {
		return err
	}
	idx, _, err := exp.expect(defaultConnWait, promptRe)
	if err != nil {
		return err
	}
	if idx == -1 {
		return fmt.Errorf("remote closed during shell setup")
	}
	// More sentinels may arrive (the echoed command plus the new prompt);
	// drain until the shell is quiet.
	for {
		idx, _, err := exp.expect(500*time.Millisecond, promptRe)
		if err == ErrExpectTimeout {
			return nil
		}
		if err != nil {
			return err
		}
		if idx == -1 {
			return fmt.Errorf("remote closed during shell setup")
		}
	}
}
