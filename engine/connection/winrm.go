package connection

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudsidekick/cato/pkg/logger"
	"github.com/masterzen/winrm"
)

// WinRMConnection wraps a Windows Remote Management endpoint.
type WinRMConnection struct {
	name   string
	sys    *System
	client *winrm.Client
}

func (c *WinRMConnection) Name() string    { return c.name }
func (c *WinRMConnection) Type() Type      { return TypeWinRM }
func (c *WinRMConnection) System() *System { return c.sys }

// Close is a no-op: WinRM is request/response, there is no session to tear
// down, but the handle still participates in the manager's lifecycle.
func (c *WinRMConnection) Close() error { return nil }

// Run executes a remote command and returns stdout, stderr, and the exit
// code.
func (c *WinRMConnection) Run(ctx context.Context, command string) (string, string, int, error) {
	stdout, stderr, code, err := c.client.RunWithContextWithString(ctx, command, "")
	if err != nil {
		return "", "", 0, fmt.Errorf("winrm command on [%s]: %w", c.sys.Address, err)
	}
	return stdout, stderr, code, nil
}

func dialWinRM(ctx context.Context, name string, sys *System) (Connection, error) {
	port := 5985
	if sys.Port != "" {
		p, err := strconv.Atoi(sys.Port)
		if err != nil {
			return nil, fmt.Errorf("system [%s]: port [%s] is not a number", sys.Name, sys.Port)
		}
		port = p
	}
	user := sys.User
	if sys.Domain != "" {
		user = sys.Domain + `\` + sys.User
	}
	endpoint := winrm.NewEndpoint(sys.Address, port, false, false, nil, nil, nil, defaultConnWait)
	client, err := winrm.NewClient(endpoint, user, sys.Password)
	if err != nil {
		return nil, fmt.Errorf("winrm client for [%s]: %w", sys.Address, err)
	}
	logger.FromContext(ctx).Info("winrm connection established", "name", name, "address", sys.Address, "port", port)
	return &WinRMConnection{name: name, sys: sys, client: client}, nil
}
