package runtime

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/cloudsidekick/cato/engine/task"
	"github.com/cloudsidekick/cato/pkg/logger"
)

// evalTest prepares and evaluates one boolean test expression: HTML entities
// are decoded (the editor stores eval attributes entity-escaped), variable
// references substituted, and the result handed to the restricted evaluator.
func (rt *Runtime) evalTest(expr string) (bool, error) {
	resolved, err := rt.subst.Resolve(html.UnescapeString(expr))
	if err != nil {
		return false, err
	}
	return rt.exprs.EvalBool(resolved)
}

func cmdIf(ctx context.Context, rt *Runtime, st *task.Step) error {
	p, err := task.ParseIf(st)
	if err != nil {
		return err
	}
	for i, branch := range p.Tests {
		ok, err := rt.evalTest(branch.Eval)
		if err != nil {
			return err
		}
		if ok {
			logger.FromContext(ctx).Debug("if: test matched", "step", st.ID, "test", i+1)
			return rt.runSteps(ctx, branch.Steps)
		}
	}
	if p.Else != nil {
		logger.FromContext(ctx).Debug("if: no test matched, taking else", "step", st.ID)
		return rt.runSteps(ctx, p.Else)
	}
	// No test matched and no else: nothing executes, and that is fine.
	return nil
}

func cmdWhile(ctx context.Context, rt *Runtime, st *task.Step) error {
	p, err := task.ParseWhile(st)
	if err != nil {
		return err
	}
	for {
		// The test is substituted fresh every pass; the body may have
		// changed the variables it reads.
		ok, err := rt.evalTest(p.Test)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := rt.runSteps(ctx, p.Body); err != nil {
			return err
		}
		if rt.breakLoop {
			rt.breakLoop = false
			return nil
		}
	}
}

func compareCounter(counter, op, compareTo string) (bool, error) {
	a, errA := strconv.ParseFloat(counter, 64)
	b, errB := strconv.ParseFloat(compareTo, 64)
	numeric := errA == nil && errB == nil
	switch op {
	case "==":
		if numeric {
			return a == b, nil
		}
		return counter == compareTo, nil
	case "!=":
		if numeric {
			return a != b, nil
		}
		return counter != compareTo, nil
	case "<=":
		return numeric && a <= b, nil
	case "<":
		return numeric && a < b, nil
	case ">=":
		return numeric && a >= b, nil
	case ">":
		return numeric && a > b, nil
	default:
		return false, fmt.Errorf("unknown comparison operator [%s]", op)
	}
}

func cmdLoop(ctx context.Context, rt *Runtime, st *task.Step) error {
	p, err := task.ParseLoop(st)
	if err != nil {
		return err
	}
	counter, err := rt.subst.Resolve(p.Counter)
	if err != nil {
		return err
	}
	startS, err := rt.subst.Resolve(p.Start)
	if err != nil {
		return err
	}
	start, err := strconv.Atoi(strings.TrimSpace(startS))
	if err != nil {
		return fmt.Errorf("loop start [%s] is not an integer", startS)
	}
	incS, err := rt.subst.Resolve(p.Increment)
	if err != nil {
		return err
	}
	increment := 1
	if strings.TrimSpace(incS) != "" {
		if increment, err = strconv.Atoi(strings.TrimSpace(incS)); err != nil {
			return fmt.Errorf("loop increment [%s] is not an integer", incS)
		}
	}
	maxIter := 0
	if p.Max != "" {
		maxS, err := rt.subst.Resolve(p.Max)
		if err != nil {
			return err
		}
		if maxIter, err = strconv.Atoi(strings.TrimSpace(maxS)); err != nil {
			return fmt.Errorf("loop max [%s] is not an integer", maxS)
		}
	}

	// The counter is an ordinary task variable, visible to and mutable by
	// the body.
	rt.vars.Set(counter, strconv.Itoa(start))
	iterations := 0
	for {
		compareTo, err := rt.subst.Resolve(p.CompareTo)
		if err != nil {
			return err
		}
		ok, err := compareCounter(rt.vars.Get(counter), p.Test, strings.TrimSpace(compareTo))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if maxIter > 0 && iterations >= maxIter {
			logger.FromContext(ctx).Warn("loop: max iteration cap reached", "step", st.ID, "max", maxIter)
			return nil
		}
		if err := rt.runSteps(ctx, p.Body); err != nil {
			return err
		}
		iterations++
		if rt.breakLoop {
			rt.breakLoop = false
			return nil
		}
		// Re-read before incrementing: the body may have moved the counter.
		cur, err := strconv.Atoi(strings.TrimSpace(rt.vars.Get(counter)))
		if err != nil {
			return fmt.Errorf("loop counter [%s] no longer holds an integer: [%s]", counter, rt.vars.Get(counter))
		}
		rt.vars.Set(counter, strconv.Itoa(cur+increment))
	}
}

// isTruthy mirrors the engine's notion of a "true" variable value.
func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func cmdExists(ctx context.Context, rt *Runtime, st *task.Step) error {
	p, err := task.ParseExists(st)
	if err != nil {
		return err
	}
	all := true
	for _, check := range p.Checks {
		name, err := rt.subst.Resolve(check.Name)
		if err != nil {
			return err
		}
		ok := rt.vars.Exists(name)
		if ok && check.IsTrue {
			ok = isTruthy(rt.vars.Get(name))
		}
		if ok && check.HasData {
			ok = strings.TrimSpace(rt.vars.Get(name)) != ""
		}
		if !ok {
			all = false
			break
		}
	}
	if all {
		return rt.runSteps(ctx, p.Positive)
	}
	return rt.runSteps(ctx, p.Negative)
}

func cmdCodeblock(ctx context.Context, rt *Runtime, st *task.Step) error {
	name, err := rt.resolveRequiredParam(st, "codeblock")
	if err != nil {
		return err
	}
	rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Entering codeblock [%s]...", name))
	return rt.runCodeblock(ctx, name)
}

// cmdSubtask executes another task inline: same process, same runtime state,
// synchronous. Contrast with run_task, which spawns an independently tracked
// instance.
func cmdSubtask(ctx context.Context, rt *Runtime, st *task.Step) error {
	originalID, err := rt.resolveRequiredParam(st, "original_task_id")
	if err != nil {
		return err
	}
	version, err := rt.resolveParam(st, "version")
	if err != nil {
		return err
	}
	sub, err := rt.repos.Tasks.GetByOriginalID(ctx, originalID, version)
	if err != nil {
		return err
	}
	rt.log.Write(ctx, st.ID, "", st.Function,
		fmt.Sprintf("Running subtask [%s] version [%s] inline...", sub.Name, sub.Version))

	prev := rt.task
	rt.task = sub
	defer func() { rt.task = prev }()
	return rt.runCodeblock(ctx, task.MainCodeblock)
}
