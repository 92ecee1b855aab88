package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/cloudsidekick/cato/engine/core"
)

// ErrInstanceNotFound is returned when no task instance row matches.
var ErrInstanceNotFound = errors.New("task instance not found")

// Instance is one persisted execution of a task.
type Instance struct {
	ID               int64               `db:"task_instance"`
	TaskID           string              `db:"task_id"`
	Status           core.InstanceStatus `db:"task_status"`
	SubmittedBy      *string             `db:"submitted_by"`
	SubmittedByEmail *string             `db:"submitted_by_email"`
	SubmittedDT      time.Time           `db:"submitted_dt"`
	StartedDT        *time.Time          `db:"started_dt"`
	CompletedDT      *time.Time          `db:"completed_dt"`
	AssetID          *string             `db:"asset_id"`
	DebugLevel       int                 `db:"debug_level"`
	ParentInstance   *int64              `db:"parent_instance"`
	AccountID        *string             `db:"account_id"`
	CloudName        *string             `db:"cloud_name"`
	Options          *string             `db:"options"`
	ParameterXML     *string             `db:"parameter_xml"`
}

type InstanceRepo struct {
	db DBInterface
}

func NewInstanceRepo(db DBInterface) *InstanceRepo {
	return &InstanceRepo{db: db}
}

// Get loads one instance row.
func (r *InstanceRepo) Get(ctx context.Context, id int64) (*Instance, error) {
	sql, args, err := squirrel.Select("*").
		From("task_instance").
		Where(squirrel.Eq{"task_instance": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building instance query: %w", err)
	}
	var inst Instance
	err = withReconnect(ctx, func() error {
		return pgxscan.Get(ctx, r.db, &inst, sql, args...)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("instance [%d]: %w", id, ErrInstanceNotFound)
		}
		return nil, fmt.Errorf("scanning instance: %w", err)
	}
	return &inst, nil
}

// GetStatus reads only the status column, for polling loops.
func (r *InstanceRepo) GetStatus(ctx context.Context, id int64) (core.InstanceStatus, error) {
	sql, args, err := squirrel.Select("task_status").
		From("task_instance").
		Where(squirrel.Eq{"task_instance": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building status query: %w", err)
	}
	var status string
	err = withReconnect(ctx, func() error {
		return r.db.QueryRow(ctx, sql, args...).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("instance [%d]: %w", id, ErrInstanceNotFound)
		}
		return "", fmt.Errorf("reading status: %w", err)
	}
	return core.InstanceStatus(status), nil
}

// UpdateStatus transitions an instance, stamping started_dt on entering
// Processing and completed_dt on reaching a terminal status. Illegal
// transitions are rejected here rather than racing in the engine.
func (r *InstanceRepo) UpdateStatus(ctx context.Context, id int64, next core.InstanceStatus) error {
	current, err := r.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if current == next {
		return nil
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("instance [%d]: illegal status transition %s -> %s", id, current, next)
	}
	ub := squirrel.Update("task_instance").
		Set("task_status", string(next)).
		Where(squirrel.Eq{"task_instance": id}).
		PlaceholderFormat(squirrel.Dollar)
	if next == core.StatusProcessing {
		ub = ub.Set("started_dt", time.Now().UTC())
	}
	if next.IsTerminal() {
		ub = ub.Set("completed_dt", time.Now().UTC())
	}
	sql, args, err := ub.ToSql()
	if err != nil {
		return fmt.Errorf("building status update: %w", err)
	}
	return withReconnect(ctx, func() error {
		_, execErr := r.db.Exec(ctx, sql, args...)
		if execErr != nil {
			return fmt.Errorf("updating status: %w", execErr)
		}
		return nil
	})
}

// NewInstance is the submission payload for a child instance spawned by
// run_task.
type NewInstance struct {
	TaskID           string
	SubmittedBy      string
	SubmittedByEmail string
	AssetID          string
	DebugLevel       int
	ParentInstance   int64
	AccountID        string
	CloudName        string
	Options          string
	ParameterXML     string
}

// Create inserts a Submitted instance row and returns its id. The subscriber
// layer picks it up from there.
func (r *InstanceRepo) Create(ctx context.Context, n *NewInstance) (int64, error) {
	sb := squirrel.Insert("task_instance").
		Columns("task_id", "task_status", "submitted_by", "submitted_by_email",
			"asset_id", "debug_level", "parent_instance", "account_id", "cloud_name",
			"options", "parameter_xml").
		Values(n.TaskID, string(core.StatusSubmitted), nullable(n.SubmittedBy), nullable(n.SubmittedByEmail),
			nullable(n.AssetID), n.DebugLevel, nullableInt(n.ParentInstance), nullable(n.AccountID),
			nullable(n.CloudName), nullable(n.Options), nullable(n.ParameterXML)).
		Suffix("RETURNING task_instance").
		PlaceholderFormat(squirrel.Dollar)
	sql, args, err := sb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building instance insert: %w", err)
	}
	var id int64
	err = withReconnect(ctx, func() error {
		return r.db.QueryRow(ctx, sql, args...).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("inserting instance: %w", err)
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
