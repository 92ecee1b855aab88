// Package store is the engine's bookkeeping surface: it reads task,
// codeblock, and step rows to build the executable graph and writes instance
// status and log rows back. It is the only state shared across engine
// processes.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudsidekick/cato/pkg/config"
	"github.com/cloudsidekick/cato/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBInterface is the minimal querying surface repositories need, satisfied by
// both pgxpool.Pool and pgxmock.
type DBInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type DB struct {
	pool *pgxpool.Pool
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	return db.pool.Begin(ctx)
}

// isSevered classifies a lost database connection, which earns exactly one
// reconnect-and-retry before the error propagates.
func isSevered(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"connection reset", "broken pipe", "conn closed", "unexpected EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withReconnect runs op, retrying it once when the connection was severed
// underneath it. Every repository statement goes through here.
func withReconnect(ctx context.Context, op func() error) error {
	err := op()
	if isSevered(err) {
		logger.FromContext(ctx).Warn("database connection severed, retrying once", "error", err)
		err = op()
	}
	return err
}

func connString(cfg *config.DatabaseConfig) string {
	if cfg.ConnString != "" {
		return cfg.ConnString
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

// NewDB opens a connection pool and verifies it with a bounded ping.
func NewDB(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	pc, err := pgxpool.ParseConfig(connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	// One engine process is single-threaded; a small pool is plenty.
	pc.MaxConns = 4
	pc.MinConns = 1
	pc.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	logger.FromContext(ctx).Info("database connection established",
		"host", cfg.Host, "db_name", cfg.Name)
	return &DB{pool: pool}, nil
}

func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	logger.FromContext(ctx).Debug("database connection pool closed")
}
