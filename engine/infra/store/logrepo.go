package store

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/cloudsidekick/cato/engine/audit"
)

// LogRepo persists audit entries to task_instance_log. It satisfies
// audit.Writer.
type LogRepo struct {
	db DBInterface
}

func NewLogRepo(db DBInterface) *LogRepo {
	return &LogRepo{db: db}
}

func (r *LogRepo) WriteEntry(ctx context.Context, e *audit.Entry) error {
	sql, args, err := squirrel.Insert("task_instance_log").
		Columns("task_instance", "step_id", "entered_dt", "connection_name", "command_name", "log_text").
		Values(e.InstanceID, nullable(e.StepID), e.At, nullable(e.ConnName), nullable(e.Command), e.Body).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building log insert: %w", err)
	}
	return withReconnect(ctx, func() error {
		if _, err := r.db.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("inserting log entry: %w", err)
		}
		return nil
	})
}
