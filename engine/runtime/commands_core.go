package runtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudsidekick/cato/engine/task"
	"github.com/cloudsidekick/cato/pkg/logger"
)

// setVar writes a possibly index-suffixed variable name ("NAME" or "NAME,3").
func (rt *Runtime) setVar(name, value string) error {
	if comma := strings.LastIndex(name, ","); comma >= 0 {
		idx := strings.TrimSpace(name[comma+1:])
		n, err := strconv.Atoi(idx)
		if err != nil {
			return fmt.Errorf("variable [%s]: index [%s] must be an integer", name[:comma], idx)
		}
		rt.vars.SetIndex(strings.TrimSpace(name[:comma]), n, value)
		return nil
	}
	rt.vars.Set(name, value)
	return nil
}

func cmdSetVariable(ctx context.Context, rt *Runtime, st *task.Step) error {
	items, err := task.ParseSetVariable(st)
	if err != nil {
		return err
	}
	for _, item := range items {
		name, err := rt.subst.Resolve(item.Name)
		if err != nil {
			return err
		}
		value, err := rt.subst.Resolve(item.Value)
		if err != nil {
			return err
		}
		if value, err = applyModifier(rt, item.Modifier, value); err != nil {
			return err
		}
		if err := rt.setVar(name, value); err != nil {
			return err
		}
		rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Variable [%s] set to [%s]", name, value))
	}
	return nil
}

func applyModifier(rt *Runtime, modifier, value string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(modifier)) {
	case "":
		return value, nil
	case "TO_UPPER":
		return strings.ToUpper(value), nil
	case "TO_LOWER":
		return strings.ToLower(value), nil
	case "TO_BASE64":
		return base64.StdEncoding.EncodeToString([]byte(value)), nil
	case "FROM_BASE64":
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return "", fmt.Errorf("value is not valid base64: %w", err)
		}
		return string(b), nil
	case "TRIM":
		return strings.TrimSpace(value), nil
	case "EVAL":
		return rt.exprs.EvalString(value)
	default:
		return "", fmt.Errorf("unknown value modifier [%s]", modifier)
	}
}

func cmdClearVariable(ctx context.Context, rt *Runtime, st *task.Step) error {
	cleared := 0
	for _, node := range st.Nodes("variables/variable") {
		name := node.SelectAttr("name")
		if name == "" {
			name = strings.TrimSpace(node.InnerText())
		}
		if name == "" {
			continue
		}
		resolved, err := rt.subst.Resolve(name)
		if err != nil {
			return err
		}
		rt.vars.Clear(resolved)
		cleared++
	}
	if cleared == 0 {
		return fmt.Errorf("no variables to clear")
	}
	rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Cleared %d variable(s).", cleared))
	return nil
}

func cmdSubstring(ctx context.Context, rt *Runtime, st *task.Step) error {
	target, err := st.RequiredParam("variable_name")
	if err != nil {
		return err
	}
	source, err := rt.resolveParam(st, "source")
	if err != nil {
		return err
	}
	startS, err := rt.resolveParam(st, "start")
	if err != nil {
		return err
	}
	endS, err := rt.resolveParam(st, "end")
	if err != nil {
		return err
	}
	start := 0
	if startS != "" {
		if start, err = strconv.Atoi(startS); err != nil {
			return fmt.Errorf("start [%s] is not an integer", startS)
		}
	}
	end := len(source)
	if endS != "" {
		if end, err = strconv.Atoi(endS); err != nil {
			return fmt.Errorf("end [%s] is not an integer", endS)
		}
	}
	if start < 0 {
		start = 0
	}
	if end > len(source) {
		end = len(source)
	}
	if start > end {
		start = end
	}
	out := source[start:end]
	rt.vars.Set(target, out)
	rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Variable [%s] set to [%s]", target, out))
	return nil
}

func cmdSleep(ctx context.Context, rt *Runtime, st *task.Step) error {
	secsS, err := rt.resolveRequiredParam(st, "seconds")
	if err != nil {
		return err
	}
	secs, err := strconv.Atoi(secsS)
	if err != nil {
		return fmt.Errorf("seconds [%s] is not an integer", secsS)
	}
	rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Sleeping [%d] seconds...", secs))
	select {
	case <-time.After(time.Duration(secs) * time.Second):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cmdLogMsg(ctx context.Context, rt *Runtime, st *task.Step) error {
	msg, err := rt.resolveParam(st, "message")
	if err != nil {
		return err
	}
	rt.log.Write(ctx, st.ID, "", st.Function, msg)
	return nil
}

func cmdAddToSensitive(ctx context.Context, rt *Runtime, st *task.Step) error {
	value, err := rt.resolveRequiredParam(st, "value")
	if err != nil {
		return err
	}
	rt.log.AddSensitive(value)
	// The value itself obviously never goes to the log.
	rt.log.Write(ctx, st.ID, "", st.Function, "Value added to sensitive list.")
	return nil
}

func cmdSetDebugLevel(ctx context.Context, rt *Runtime, st *task.Step) error {
	levelS, err := rt.resolveRequiredParam(st, "debug_level")
	if err != nil {
		return err
	}
	level, err := strconv.Atoi(levelS)
	if err != nil {
		return fmt.Errorf("debug_level [%s] is not an integer", levelS)
	}
	rt.instance.DebugLevel = level
	logger.FromContext(ctx).Info("debug level changed", "level", level)
	return nil
}

func cmdSetSummary(ctx context.Context, rt *Runtime, st *task.Step) error {
	text, err := rt.resolveRequiredParam(st, "summary")
	if err != nil {
		return err
	}
	rt.summary = text
	rt.log.Write(ctx, st.ID, "", st.Function, "Result summary set.")
	return nil
}

func cmdEnd(ctx context.Context, rt *Runtime, st *task.Step) error {
	msg, err := rt.resolveParam(st, "message")
	if err != nil {
		return err
	}
	status, err := rt.resolveParam(st, "status")
	if err != nil {
		return err
	}
	if msg != "" {
		rt.log.Write(ctx, st.ID, "", st.Function, msg)
	}
	if strings.EqualFold(status, "error") {
		return fmt.Errorf("task ended with error status: %s", msg)
	}
	return errEndRequested
}

func cmdBreakLoop(ctx context.Context, rt *Runtime, st *task.Step) error {
	rt.breakLoop = true
	rt.log.Write(ctx, st.ID, "", st.Function, "Break - exiting enclosing loop after this iteration.")
	return nil
}
