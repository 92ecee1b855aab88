package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/cloudsidekick/cato/pkg/config"
	"github.com/cloudsidekick/cato/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenStd opens a database/sql handle for goose; the engine's own queries go
// through the pgx pool instead.
func OpenStd(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening migration connection: %w", err)
	}
	return db, nil
}

var (
	migrationOnce sync.Once
	migrationErr  error
)

// RunMigrations applies the embedded schema, guarded by a Postgres advisory
// lock so concurrently starting engine processes do not race.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrationOnce.Do(func() {
		const lockID = 6502
		if _, err := db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
			migrationErr = fmt.Errorf("acquiring migration lock: %w", err)
			return
		}
		defer func() {
			if _, err := db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
				logger.FromContext(ctx).Error("releasing migration lock", "error", err)
			}
		}()
		goose.SetBaseFS(migrationsFS)
		if err := goose.SetDialect("postgres"); err != nil {
			migrationErr = fmt.Errorf("setting dialect: %w", err)
			return
		}
		if err := goose.Up(db, "migrations"); err != nil {
			migrationErr = fmt.Errorf("running migrations: %w", err)
			return
		}
	})
	return migrationErr
}
