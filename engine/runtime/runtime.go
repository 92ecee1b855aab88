// Package runtime is the task engine proper: one Runtime interprets one task
// instance, walking the MAIN codeblock depth-first, resolving variable
// references in step parameters, dispatching opcodes, and tracking execution
// state. A Runtime is single-threaded and owns all in-memory state for its
// instance; nothing here is shared across instances.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudsidekick/cato/engine/audit"
	"github.com/cloudsidekick/cato/engine/cloud"
	"github.com/cloudsidekick/cato/engine/connection"
	"github.com/cloudsidekick/cato/engine/core"
	"github.com/cloudsidekick/cato/engine/datastore"
	"github.com/cloudsidekick/cato/engine/exprs"
	"github.com/cloudsidekick/cato/engine/extension"
	"github.com/cloudsidekick/cato/engine/infra/store"
	"github.com/cloudsidekick/cato/engine/subst"
	"github.com/cloudsidekick/cato/engine/task"
	"github.com/cloudsidekick/cato/engine/variables"
	"github.com/cloudsidekick/cato/pkg/config"
	"github.com/cloudsidekick/cato/pkg/logger"
)

// errEndRequested unwinds the interpreter when an `end` step asks for a clean
// stop; it never surfaces as a failure.
var errEndRequested = errors.New("end requested")

// errAbortRequested unwinds the interpreter when an external stop request is
// seen between steps; the instance resolves to Cancelled, not Completed.
var errAbortRequested = errors.New("abort requested")

// Repos bundles the persistence surfaces the engine touches.
type Repos struct {
	Tasks     *store.TaskRepo
	Instances *store.InstanceRepo
	Logs      *store.LogRepo
	Assets    *store.AssetRepo
}

// Runtime is the execution context of one running task instance.
type Runtime struct {
	cfg      *config.Config
	repos    Repos
	instance *store.Instance
	task     *task.Task

	vars    *variables.Store
	conns   *connection.Manager
	handles map[string]*Handle
	log     *audit.Log
	subst   *subst.Engine
	exprs   *exprs.Evaluator
	cloud   *cloud.Caller
	data    *datastore.Store // lazily connected on first datastore_* step

	dial connection.Dialer // overridable in tests

	// One-shot interpreter flags consumed by the nearest enclosing construct.
	breakLoop bool

	httpResponse string
	summary      string
	depth        int
}

// maxCallDepth caps codeblock/subtask recursion so mutually recursive
// codeblocks fail with a clear error instead of exhausting the stack.
const maxCallDepth = 100

// New assembles a Runtime for the given instance id, loading the instance row
// and its task definition.
func New(ctx context.Context, cfg *config.Config, repos Repos, instanceID int64) (*Runtime, error) {
	inst, err := repos.Instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	t, err := repos.Tasks.GetByID(ctx, inst.TaskID)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		cfg:      cfg,
		repos:    repos,
		instance: inst,
		task:     t,
		vars:     variables.NewStore(),
		conns:    connection.NewManager(),
		handles:  make(map[string]*Handle),
		log:      audit.New(repos.Logs, instanceID),
	}
	rt.subst = subst.New(rt.vars, rt, rt)
	if rt.exprs, err = exprs.New(); err != nil {
		return nil, err
	}
	rt.cloud = cloud.NewCaller(&cfg.AWS)
	return rt, nil
}

// Vars exposes the runtime variable store (extension contract).
func (rt *Runtime) Vars() *variables.Store { return rt.vars }

// Resolve runs s through the substitution engine (extension contract).
func (rt *Runtime) Resolve(s string) (string, error) { return rt.subst.Resolve(s) }

// Audit appends one audit entry (extension contract).
func (rt *Runtime) Audit(ctx context.Context, stepID, connName, command, body string) {
	rt.log.Write(ctx, stepID, connName, command, body)
}

// AddSensitive registers a value for masking (extension contract).
func (rt *Runtime) AddSensitive(value string) { rt.log.AddSensitive(value) }

// Instance returns the numeric task instance id (extension contract).
func (rt *Runtime) Instance() int64 { return rt.instance.ID }

// Run executes the task instance end to end and leaves it in a terminal
// status. The caller only learns whether the terminal status was Completed.
func (rt *Runtime) Run(ctx context.Context) error {
	log := logger.FromContext(ctx).With("instance", rt.instance.ID, "task", rt.task.Name, "version", rt.task.Version)
	ctx = logger.ContextWith(ctx, log)

	if rt.instance.Status.IsTerminal() {
		return fmt.Errorf("instance [%d] is already %s", rt.instance.ID, rt.instance.Status)
	}
	if err := rt.setStatus(ctx, core.StatusProcessing); err != nil {
		return err
	}
	rt.log.Write(ctx, "", "", "", fmt.Sprintf("Task [%s] version [%s] starting.", rt.task.Name, rt.task.Version))
	if err := extension.Augment(rt); err != nil {
		return rt.fail(ctx, fmt.Errorf("extension startup: %w", err))
	}
	rt.loadInstanceParameters(ctx)

	runErr := rt.runCodeblock(ctx, task.MainCodeblock)
	aborted := errors.Is(runErr, errAbortRequested)
	if aborted || errors.Is(runErr, errEndRequested) {
		runErr = nil
	}
	rt.conns.ReleaseAll(ctx)
	if rt.data != nil {
		rt.data.Close(ctx)
	}

	if runErr != nil {
		return rt.fail(ctx, runErr)
	}
	if aborted {
		rt.log.Write(ctx, "", "", "", "Task cancelled by stop request.")
		return rt.setStatus(ctx, core.StatusCancelled)
	}
	rt.log.Write(ctx, "", "", "", "Task completed.")
	return rt.setStatus(ctx, core.StatusCompleted)
}

// fail drives the instance-abort path: status Error, audit entry, best-effort
// admin notification, optional replacement instance.
func (rt *Runtime) fail(ctx context.Context, cause error) error {
	log := logger.FromContext(ctx)
	log.Error("task instance failed", "error", cause)
	rt.log.Write(ctx, stepIDOf(cause), "", "", "ERROR: "+cause.Error())
	if err := rt.setStatus(ctx, core.StatusError); err != nil {
		log.Error("marking instance failed", "error", err)
	}
	rt.notifyFailure(ctx, cause)
	if strings.EqualFold(rt.task.OnError, "restart") {
		if id, err := rt.resubmit(ctx); err != nil {
			log.Error("resubmitting failed instance", "error", err)
		} else {
			rt.log.Write(ctx, "", "", "", fmt.Sprintf("On-error directive: submitted replacement instance [%d].", id))
		}
	}
	return cause
}

func stepIDOf(err error) string {
	var se *core.StepError
	if errors.As(err, &se) {
		return se.StepID
	}
	return ""
}

// resubmit creates a fresh Submitted instance copying this one's parameters.
func (rt *Runtime) resubmit(ctx context.Context) (int64, error) {
	n := &store.NewInstance{
		TaskID:         rt.instance.TaskID,
		DebugLevel:     rt.instance.DebugLevel,
		ParentInstance: rt.instance.ID,
	}
	if rt.instance.SubmittedBy != nil {
		n.SubmittedBy = *rt.instance.SubmittedBy
	}
	if rt.instance.AssetID != nil {
		n.AssetID = *rt.instance.AssetID
	}
	if rt.instance.AccountID != nil {
		n.AccountID = *rt.instance.AccountID
	}
	if rt.instance.CloudName != nil {
		n.CloudName = *rt.instance.CloudName
	}
	if rt.instance.ParameterXML != nil {
		n.ParameterXML = *rt.instance.ParameterXML
	}
	return rt.repos.Instances.Create(ctx, n)
}

func (rt *Runtime) setStatus(ctx context.Context, status core.InstanceStatus) error {
	if err := rt.repos.Instances.UpdateStatus(ctx, rt.instance.ID, status); err != nil {
		return err
	}
	rt.instance.Status = status
	extension.NotifyStatus(ctx, rt.instance.ID, string(status))
	return nil
}

// aborting re-reads persisted status and reports whether an external stop
// request arrived. Checked between steps: one step is the smallest unit of
// cancellation.
func (rt *Runtime) aborting(ctx context.Context) bool {
	status, err := rt.repos.Instances.GetStatus(ctx, rt.instance.ID)
	if err != nil {
		logger.FromContext(ctx).Warn("reading status for abort check", "error", err)
		return false
	}
	return status == core.StatusAborting
}

// loadInstanceParameters seeds runtime variables from the instance's parsed
// input parameter document.
func (rt *Runtime) loadInstanceParameters(ctx context.Context) {
	if rt.instance.ParameterXML == nil || *rt.instance.ParameterXML == "" {
		return
	}
	doc, err := task.ParseParameterDoc(*rt.instance.ParameterXML)
	if err != nil {
		logger.FromContext(ctx).Warn("instance parameter document does not parse, ignoring", "error", err)
		return
	}
	for _, p := range doc.Parameters {
		if p.Encrypt() {
			for _, v := range p.Values.Value {
				rt.log.AddSensitive(v.Text)
			}
		}
		switch len(p.Values.Value) {
		case 0:
		case 1:
			rt.vars.Set(p.Name, p.Values.Value[0].Text)
		default:
			for i, v := range p.Values.Value {
				rt.vars.SetIndex(p.Name, i+1, v.Text)
			}
		}
	}
}

// runCodeblock executes every non-commented step of the named codeblock in
// ascending order.
func (rt *Runtime) runCodeblock(ctx context.Context, name string) error {
	cb, ok := rt.task.Codeblock(name)
	if !ok {
		return fmt.Errorf("codeblock [%s] is not defined in task [%s]", name, rt.task.Name)
	}
	rt.depth++
	defer func() { rt.depth-- }()
	if rt.depth > maxCallDepth {
		return fmt.Errorf("codeblock call depth exceeded %d, recursive codeblocks?", maxCallDepth)
	}
	return rt.runSteps(ctx, cb.Steps)
}

// runSteps is the shared walker for codeblocks and embedded action bodies.
func (rt *Runtime) runSteps(ctx context.Context, steps []*task.Step) error {
	for _, st := range steps {
		if st.Commented {
			continue
		}
		if rt.aborting(ctx) {
			return errAbortRequested
		}
		if err := rt.execStep(ctx, st); err != nil {
			return err
		}
		if rt.breakLoop {
			return nil
		}
	}
	return nil
}

// execStep dispatches one step through the opcode registry.
func (rt *Runtime) execStep(ctx context.Context, st *task.Step) error {
	if err := st.Parse(); err != nil {
		return core.NewStepError(st.ID, st.Function, err)
	}
	log := logger.FromContext(ctx)
	log.Debug("executing step", "step", st.ID, "function", st.Function)
	fn, err := rt.lookup(st)
	if err != nil {
		return core.NewStepError(st.ID, st.Function, err)
	}
	if err := fn(ctx, rt, st); err != nil {
		if errors.Is(err, errEndRequested) || errors.Is(err, errAbortRequested) {
			return err
		}
		var se *core.StepError
		if errors.As(err, &se) {
			return err
		}
		return core.NewStepError(st.ID, st.Function, err)
	}
	return nil
}

// resolveParam reads a step parameter and passes it through the substitution
// engine; every textual parameter takes this path before use.
func (rt *Runtime) resolveParam(st *task.Step, path string) (string, error) {
	return rt.subst.Resolve(st.Param(path))
}

// resolveRequiredParam is resolveParam for parameters that must be present.
func (rt *Runtime) resolveRequiredParam(st *task.Step, path string) (string, error) {
	v, err := st.RequiredParam(path)
	if err != nil {
		return "", err
	}
	return rt.subst.Resolve(v)
}
