// Package connection establishes, tracks, and tears down the named remote
// connections of one task instance: interactive shells over ssh and telnet,
// WinRM endpoints, and several SQL dialects. Connections are process-local,
// owned by exactly one running engine, and never shared or persisted.
package connection

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudsidekick/cato/pkg/logger"
)

type Type string

const (
	TypeSSH         Type = "ssh"
	TypeTelnet      Type = "telnet"
	TypeSSHEC2      Type = "ssh - ec2"
	TypeWinRM       Type = "winrm"
	TypeMySQL       Type = "mysql"
	TypeSQLAnywhere Type = "sqlanywhere"
	TypeSQLServer   Type = "sqlserver"
	TypeOracle      Type = "oracle"
)

// ParseType normalizes a connection type string from a step document.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeSSH, TypeTelnet, TypeSSHEC2, TypeWinRM, TypeMySQL, TypeSQLAnywhere, TypeSQLServer, TypeOracle:
		return t, nil
	case "":
		return TypeSSH, nil
	default:
		return "", fmt.Errorf("unknown connection type [%s]", s)
	}
}

// IsSQL reports whether t connects through a database client.
func (t Type) IsSQL() bool {
	switch t {
	case TypeMySQL, TypeSQLAnywhere, TypeSQLServer, TypeOracle:
		return true
	default:
		return false
	}
}

// System is a resolved set of connection parameters, looked up from the asset
// store or assembled from inline key=value pairs on the command.
type System struct {
	Name       string
	Address    string
	Port       string
	User       string
	Password   string
	PrivateKey string // PEM text; parsed in memory, never written to disk
	Passphrase string
	DBName     string
	Domain     string // winrm
	Region     string // cloud context for ssh-ec2 resolution
}

// ParseInlineSystem builds a System from "key=value key=value" text.
func ParseInlineSystem(s string) (*System, error) {
	sys := &System{}
	for _, pair := range strings.Fields(s) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("inline system: [%s] is not key=value", pair)
		}
		switch strings.ToLower(k) {
		case "address", "host":
			sys.Address = v
		case "port":
			sys.Port = v
		case "user", "userid":
			sys.User = v
		case "password":
			sys.Password = v
		case "db", "dbname", "database":
			sys.DBName = v
		case "domain":
			sys.Domain = v
		case "name":
			sys.Name = v
		default:
			return nil, fmt.Errorf("inline system: unknown key [%s]", k)
		}
	}
	if sys.Address == "" {
		return nil, fmt.Errorf("inline system: no address")
	}
	if sys.Name == "" {
		sys.Name = sys.Address
	}
	return sys, nil
}

// Connection is a named handle to a remote system.
type Connection interface {
	Name() string
	Type() Type
	System() *System
	Close() error
}

// Manager owns every open connection of one engine instance, keyed by the
// user-chosen connection name.
type Manager struct {
	conns map[string]Connection
}

func NewManager() *Manager {
	return &Manager{conns: make(map[string]Connection)}
}

// Dialer opens one connection of a specific type; swapped out in tests.
type Dialer func(ctx context.Context, name string, typ Type, sys *System) (Connection, error)

// Open establishes a connection and registers it under name. Re-using a name
// that is already open is not an error: the prior connection is closed and
// replaced.
func (m *Manager) Open(ctx context.Context, name string, typ Type, sys *System, dial Dialer) (Connection, error) {
	log := logger.FromContext(ctx)
	if old, ok := m.conns[name]; ok {
		log.Info("connection name already in use, replacing", "name", name, "type", old.Type())
		if err := old.Close(); err != nil {
			log.Warn("closing replaced connection", "name", name, "error", err)
		}
		delete(m.conns, name)
	}
	if dial == nil {
		dial = Dial
	}
	conn, err := dial(ctx, name, typ, sys)
	if err != nil {
		return nil, err
	}
	m.conns[name] = conn
	return conn, nil
}

// Get returns the named connection.
func (m *Manager) Get(name string) (Connection, bool) {
	c, ok := m.conns[name]
	return c, ok
}

// Drop closes and forgets the named connection. A missing name or a failing
// close is logged and skipped: dropping reconciles possibly-already-gone
// state.
func (m *Manager) Drop(ctx context.Context, name string) {
	log := logger.FromContext(ctx)
	c, ok := m.conns[name]
	if !ok {
		log.Info("drop: connection not found, nothing to do", "name", name)
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("closing connection", "name", name, "error", err)
	}
	delete(m.conns, name)
}

// ReleaseAll closes every still-open connection at instance completion. One
// failing close never prevents attempting the rest.
func (m *Manager) ReleaseAll(ctx context.Context) {
	log := logger.FromContext(ctx)
	for name, c := range m.conns {
		if err := c.Close(); err != nil {
			log.Warn("releasing connection", "name", name, "error", err)
		}
		delete(m.conns, name)
	}
}

// Names lists open connection names, for diagnostics dumps.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.conns))
	for name := range m.conns {
		out = append(out, name)
	}
	return out
}

// Dial routes to the type-specific connector.
func Dial(ctx context.Context, name string, typ Type, sys *System) (Connection, error) {
	switch typ {
	case TypeSSH, TypeSSHEC2:
		return dialSSH(ctx, name, typ, sys)
	case TypeTelnet:
		return dialTelnet(ctx, name, sys)
	case TypeWinRM:
		return dialWinRM(ctx, name, sys)
	case TypeMySQL, TypeSQLAnywhere, TypeSQLServer, TypeOracle:
		return dialSQL(ctx, name, typ, sys)
	default:
		return nil, fmt.Errorf("unknown connection type [%s]", typ)
	}
}
