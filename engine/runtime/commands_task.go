package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudsidekick/cato/engine/infra/store"
	"github.com/cloudsidekick/cato/engine/task"
	"github.com/cloudsidekick/cato/pkg/logger"
)

// cmdRunTask submits another task as a child instance and registers a handle
// for it. The wait parameter selects the policy: 0 is fire-and-forget, a
// positive number of seconds waits that long at most, -1 waits until the
// child reaches a terminal status.
func cmdRunTask(ctx context.Context, rt *Runtime, st *task.Step) error {
	handleName, err := rt.resolveRequiredParam(st, "handle")
	if err != nil {
		return err
	}
	originalID, err := rt.resolveRequiredParam(st, "task_id")
	if err != nil {
		return err
	}
	version, err := rt.resolveParam(st, "version")
	if err != nil {
		return err
	}
	child, err := rt.repos.Tasks.GetByOriginalID(ctx, originalID, version)
	if err != nil {
		return err
	}

	// Submitted parameters override the child task's stored defaults per
	// parameter name; untouched defaults still apply.
	paramXML := st.Param("parameters")
	if paramXML != "" {
		if paramXML, err = rt.subst.Resolve(paramXML); err != nil {
			return err
		}
	}
	merged, err := task.MergeParameters(child.ParameterXML, paramXML)
	if err != nil {
		return fmt.Errorf("merging parameters for task [%s]: %w", child.Name, err)
	}

	n := &store.NewInstance{
		TaskID:         child.ID,
		DebugLevel:     rt.instance.DebugLevel,
		ParentInstance: rt.instance.ID,
		ParameterXML:   merged,
	}
	if rt.instance.SubmittedBy != nil {
		n.SubmittedBy = *rt.instance.SubmittedBy
	}
	if rt.instance.AccountID != nil {
		n.AccountID = *rt.instance.AccountID
	}
	if rt.instance.CloudName != nil {
		n.CloudName = *rt.instance.CloudName
	}
	if asset, err := rt.resolveParam(st, "asset"); err != nil {
		return err
	} else if asset != "" {
		n.AssetID = asset
	} else if rt.instance.AssetID != nil {
		n.AssetID = *rt.instance.AssetID
	}

	childID, err := rt.repos.Instances.Create(ctx, n)
	if err != nil {
		return err
	}
	rt.setHandle(ctx, &Handle{
		Name:        handleName,
		InstanceID:  childID,
		TaskID:      child.OriginalID,
		TaskName:    child.Name,
		TaskVersion: child.Version,
	})
	rt.log.Write(ctx, st.ID, "", st.Function,
		fmt.Sprintf("Task [%s] version [%s] submitted as instance [%d], handle [%s].",
			child.Name, child.Version, childID, handleName))

	waitS, err := rt.resolveParam(st, "wait")
	if err != nil {
		return err
	}
	if waitS == "" || waitS == "0" {
		return nil
	}
	waitSecs, err := strconv.Atoi(waitS)
	if err != nil {
		return fmt.Errorf("wait [%s] must be a number of seconds, 0, or -1", waitS)
	}
	// A positive wait is a fixed pause, not a poll: the parent continues
	// after the window whatever the child is doing.
	if waitSecs > 0 {
		rt.log.Write(ctx, st.ID, "", st.Function,
			fmt.Sprintf("Pausing [%d] seconds after submitting handle [%s].", waitSecs, handleName))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(waitSecs) * time.Second):
		}
		return nil
	}
	return rt.waitForHandles(ctx, []string{handleName})
}

// cmdWaitForTasks blocks until every named handle's instance reaches a
// terminal status.
func cmdWaitForTasks(ctx context.Context, rt *Runtime, st *task.Step) error {
	var names []string
	for _, node := range st.Nodes("handles/handle") {
		name, err := rt.subst.Resolve(strings.TrimSpace(node.InnerText()))
		if err != nil {
			return err
		}
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("wait_for_tasks: no handles named")
	}
	rt.log.Write(ctx, st.ID, "", st.Function,
		fmt.Sprintf("Waiting for handles [%s].", strings.Join(names, ", ")))
	return rt.waitForHandles(ctx, names)
}

// waitForHandles polls the named handles' instances until each is terminal.
// A name that was never registered, or whose instance row disappears, means
// there is nothing to wait for; neither blocks or fails the parent.
func (rt *Runtime) waitForHandles(ctx context.Context, names []string) error {
	log := logger.FromContext(ctx)
	pending := make(map[string]*Handle, len(names))
	for _, name := range names {
		h, ok := rt.handles[name]
		if !ok {
			log.Warn("task handle does not exist, nothing to wait for", "handle", name)
			rt.log.Write(ctx, "", "", "",
				fmt.Sprintf("Handle [%s] does not exist, nothing to wait for.", name))
			continue
		}
		pending[name] = h
	}
	for len(pending) > 0 {
		for name, h := range pending {
			if err := rt.refreshHandle(ctx, h); err != nil {
				if errors.Is(err, store.ErrInstanceNotFound) {
					log.Warn("handle instance row vanished, treating as finished", "handle", name, "instance", h.InstanceID)
					delete(pending, name)
					continue
				}
				return err
			}
			if h.Status.IsTerminal() {
				rt.log.Write(ctx, "", "", "",
					fmt.Sprintf("Handle [%s] instance [%d] finished with status [%s].", name, h.InstanceID, h.Status))
				delete(pending, name)
			}
		}
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rt.cfg.PollInterval):
		}
	}
	return nil
}
