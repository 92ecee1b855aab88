package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/cloudsidekick/cato/engine/core"
	"github.com/cloudsidekick/cato/engine/task"
)

// ErrTaskNotFound is returned when no task row matches the lookup.
var ErrTaskNotFound = errors.New("task not found")

type TaskRepo struct {
	db DBInterface
}

func NewTaskRepo(db DBInterface) *TaskRepo {
	return &TaskRepo{db: db}
}

type taskRow struct {
	TaskID              string  `db:"task_id"`
	OriginalTaskID      string  `db:"original_task_id"`
	TaskName            string  `db:"task_name"`
	TaskCode            *string `db:"task_code"`
	Version             string  `db:"version"`
	TaskStatus          string  `db:"task_status"`
	DefaultVersion      bool    `db:"default_version"`
	ConcurrentInstances *int    `db:"concurrent_instances"`
	QueueDepth          *int    `db:"queue_depth"`
	OnError             *string `db:"on_error"`
	ParameterXML        *string `db:"parameter_xml"`
}

type stepRow struct {
	StepID        string `db:"step_id"`
	CodeblockName string `db:"codeblock_name"`
	StepOrder     int    `db:"step_order"`
	Commented     bool   `db:"commented"`
	FunctionName  string `db:"function_name"`
	FunctionXML   string `db:"function_xml"`
}

// GetByID loads a full task definition: the task row plus every step of
// every codeblock, in execution order.
func (r *TaskRepo) GetByID(ctx context.Context, taskID string) (*task.Task, error) {
	sql, args, err := squirrel.Select("*").
		From("task").
		Where(squirrel.Eq{"task_id": taskID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building task query: %w", err)
	}
	var row taskRow
	err = withReconnect(ctx, func() error {
		return pgxscan.Get(ctx, r.db, &row, sql, args...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task [%s]: %w", taskID, ErrTaskNotFound)
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	return r.build(ctx, &row)
}

// GetByOriginalID resolves a task by its original id and version. An empty
// version selects the default version.
func (r *TaskRepo) GetByOriginalID(ctx context.Context, originalID, version string) (*task.Task, error) {
	sb := squirrel.Select("*").
		From("task").
		Where(squirrel.Eq{"original_task_id": originalID}).
		PlaceholderFormat(squirrel.Dollar)
	if version == "" {
		sb = sb.Where(squirrel.Eq{"default_version": true})
	} else {
		sb = sb.Where(squirrel.Eq{"version": version})
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building task query: %w", err)
	}
	var row taskRow
	err = withReconnect(ctx, func() error {
		return pgxscan.Get(ctx, r.db, &row, sql, args...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task [%s] version [%s]: %w", originalID, version, ErrTaskNotFound)
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	return r.build(ctx, &row)
}

func (r *TaskRepo) build(ctx context.Context, row *taskRow) (*task.Task, error) {
	t := &task.Task{
		ID:             row.TaskID,
		OriginalID:     row.OriginalTaskID,
		Name:           row.TaskName,
		Version:        row.Version,
		Status:         core.TaskStatus(row.TaskStatus),
		DefaultVersion: row.DefaultVersion,
	}
	if row.TaskCode != nil {
		t.Code = *row.TaskCode
	}
	if row.ConcurrentInstances != nil {
		t.ConcurrentBy = *row.ConcurrentInstances
	}
	if row.QueueDepth != nil {
		t.QueueDepth = *row.QueueDepth
	}
	if row.OnError != nil {
		t.OnError = *row.OnError
	}
	if row.ParameterXML != nil {
		t.ParameterXML = *row.ParameterXML
	}

	sql, args, err := squirrel.
		Select("step_id", "codeblock_name", "step_order", "commented", "function_name", "function_xml").
		From("task_step").
		Where(squirrel.Eq{"task_id": row.TaskID}).
		OrderBy("codeblock_name", "step_order").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building step query: %w", err)
	}
	var steps []*stepRow
	err = withReconnect(ctx, func() error {
		return pgxscan.Select(ctx, r.db, &steps, sql, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning steps: %w", err)
	}
	for _, s := range steps {
		t.AddStep(&task.Step{
			ID:          s.StepID,
			Order:       s.StepOrder,
			Codeblock:   s.CodeblockName,
			Commented:   s.Commented,
			Function:    s.FunctionName,
			FunctionXML: s.FunctionXML,
		})
	}
	return t, nil
}
