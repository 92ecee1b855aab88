package connection

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/sethvargo/go-retry"
	go_ora "github.com/sijms/go-ora/v2"

	"github.com/cloudsidekick/cato/pkg/logger"
)

// SQLConnection wraps a database/sql handle for one dialect.
type SQLConnection struct {
	name string
	typ  Type
	sys  *System
	db   *sql.DB
}

func (c *SQLConnection) Name() string    { return c.name }
func (c *SQLConnection) Type() Type      { return c.typ }
func (c *SQLConnection) System() *System { return c.sys }
func (c *SQLConnection) DB() *sql.DB     { return c.db }

func (c *SQLConnection) Close() error {
	return c.db.Close()
}

// oracleListenerAttempts bounds the "listener not ready" retry: incremental
// backoff of attempt*5+1 seconds, five attempts.
const oracleListenerAttempts = 5

func isOracleListenerError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "ORA-12514") || strings.Contains(msg, "ORA-12541")
}

func dsnFor(typ Type, sys *System) (driver, dsn string, err error) {
	port := sys.Port
	switch typ {
	case TypeMySQL:
		if port == "" {
			port = "3306"
		}
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s)/%s",
			sys.User, sys.Password, net.JoinHostPort(sys.Address, port), sys.DBName), nil
	case TypeSQLServer:
		if port == "" {
			port = "1433"
		}
		return "sqlserver", fmt.Sprintf("sqlserver://%s:%s@%s?database=%s",
			sys.User, sys.Password, net.JoinHostPort(sys.Address, port), sys.DBName), nil
	case TypeOracle:
		p := 1521
		if port != "" {
			n, convErr := strconv.Atoi(port)
			if convErr != nil {
				return "", "", fmt.Errorf("system [%s]: port [%s] is not a number", sys.Name, port)
			}
			p = n
		}
		return "oracle", go_ora.BuildUrl(sys.Address, p, sys.DBName, sys.User, sys.Password, nil), nil
	case TypeSQLAnywhere:
		// No native Go driver exists; SQL Anywhere rides on its ODBC driver.
		if port == "" {
			port = "2638"
		}
		dsn := fmt.Sprintf("Driver=SQL Anywhere;Host=%s:%s;DatabaseName=%s;UID=%s;PWD=%s",
			sys.Address, port, sys.DBName, sys.User, sys.Password)
		return "odbc", dsn, nil
	default:
		return "", "", fmt.Errorf("[%s] is not a sql connection type", typ)
	}
}

func dialSQL(ctx context.Context, name string, typ Type, sys *System) (Connection, error) {
	log := logger.FromContext(ctx)
	driver, dsn, err := dsnFor(typ, sys)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection to [%s]: %w", typ, sys.Address, err)
	}
	db.SetMaxOpenConns(1) // one instance, one statement at a time

	ping := func(ctx context.Context) error { return db.PingContext(ctx) }
	if typ == TypeOracle {
		attempt := 0
		ping = func(ctx context.Context) error {
			attempt++
			err := db.PingContext(ctx)
			if isOracleListenerError(err) && attempt < oracleListenerAttempts {
				wait := time.Duration(attempt*5+1) * time.Second
				log.Warn("oracle listener not ready, will retry", "name", name, "wait", wait, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
	}
	err = retry.Do(ctx, retry.WithMaxRetries(oracleListenerAttempts-1, oracleBackoff()), ping)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting %s to [%s] as [%s]: %w", typ, sys.Address, sys.User, err)
	}
	log.Info("sql connection established", "name", name, "type", typ, "address", sys.Address, "db", sys.DBName)
	return &SQLConnection{name: name, typ: typ, sys: sys, db: db}, nil
}

// oracleBackoff yields attempt*5+1 seconds per retry.
func oracleBackoff() retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt*5+1) * time.Second, false
	})
}
