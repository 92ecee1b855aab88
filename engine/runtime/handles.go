package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudsidekick/cato/engine/core"
	"github.com/cloudsidekick/cato/engine/infra/store"
	"github.com/cloudsidekick/cato/pkg/logger"
)

// Handle is a named, process-local reference to a child task instance
// spawned by run_task. Other steps poll it via wait_for_tasks or read its
// properties through `#handle.property` substitutions.
type Handle struct {
	Name        string
	InstanceID  int64
	TaskID      string
	TaskName    string
	TaskVersion string
	Status      core.InstanceStatus
	SubmittedBy string
	SubmittedDT time.Time
	StartedDT   *time.Time
	CompletedDT *time.Time
}

// setHandle registers h, overwriting a still-tracked handle of the same name
// with a warning, mirroring the connection manager's replace semantics.
func (rt *Runtime) setHandle(ctx context.Context, h *Handle) {
	if _, ok := rt.handles[h.Name]; ok {
		logger.FromContext(ctx).Warn("task handle already exists, overwriting", "handle", h.Name)
		rt.log.Write(ctx, "", "", "run_task", fmt.Sprintf("Handle [%s] was already tracked; replaced.", h.Name))
	}
	rt.handles[h.Name] = h
}

// refreshHandle re-reads the child instance row into the handle. A child row
// that disappeared entirely is reported via ErrInstanceNotFound so waiters
// can treat it as nothing-to-wait-for.
func (rt *Runtime) refreshHandle(ctx context.Context, h *Handle) error {
	inst, err := rt.repos.Instances.Get(ctx, h.InstanceID)
	if err != nil {
		return err
	}
	h.Status = inst.Status
	h.SubmittedDT = inst.SubmittedDT
	h.StartedDT = inst.StartedDT
	h.CompletedDT = inst.CompletedDT
	if inst.SubmittedBy != nil {
		h.SubmittedBy = *inst.SubmittedBy
	}
	return nil
}

// HandleProperty implements subst.HandleResolver: `#handle.property` reads
// refresh the handle from the database first.
func (rt *Runtime) HandleProperty(handle, property string) (string, error) {
	h, ok := rt.handles[handle]
	if !ok {
		return "", fmt.Errorf("task handle [%s] does not exist", handle)
	}
	// The substitution engine has no context of its own; handle refreshes
	// ride on a bare background context.
	if err := rt.refreshHandle(context.Background(), h); err != nil && !errors.Is(err, store.ErrInstanceNotFound) {
		return "", fmt.Errorf("refreshing handle [%s]: %w", handle, err)
	}
	switch strings.ToLower(property) {
	case "instance", "task_instance":
		return strconv.FormatInt(h.InstanceID, 10), nil
	case "status":
		return string(h.Status), nil
	case "task_id":
		return h.TaskID, nil
	case "task_name", "name":
		return h.TaskName, nil
	case "version", "task_version":
		return h.TaskVersion, nil
	case "submitted_by":
		return h.SubmittedBy, nil
	case "submitted_dt":
		return h.SubmittedDT.UTC().Format(time.RFC3339), nil
	case "started_dt":
		return formatTimePtr(h.StartedDT), nil
	case "completed_dt":
		return formatTimePtr(h.CompletedDT), nil
	default:
		return "", fmt.Errorf("task handle [%s] has no property [%s]", handle, property)
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
