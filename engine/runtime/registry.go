package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudsidekick/cato/engine/extension"
	"github.com/cloudsidekick/cato/engine/task"
)

// CommandFunc executes one step against the runtime.
type CommandFunc func(ctx context.Context, rt *Runtime, st *task.Step) error

// builtins is the engine's instruction-dispatch table. It is populated in
// init because the control-flow commands refer back to the table through the
// dispatcher, which a package-level composite literal cannot express.
var builtins map[string]CommandFunc

func init() {
	builtins = map[string]CommandFunc{
		"set_variable":     cmdSetVariable,
		"clear_variable":   cmdClearVariable,
		"substring":        cmdSubstring,
		"sleep":            cmdSleep,
		"log_msg":          cmdLogMsg,
		"add_to_sensitive": cmdAddToSensitive,
		"set_debug_level":  cmdSetDebugLevel,
		"set_summary":      cmdSetSummary,
		"end":              cmdEnd,
		"break_loop":       cmdBreakLoop,

		"if":        cmdIf,
		"while":     cmdWhile,
		"loop":      cmdLoop,
		"exists":    cmdExists,
		"codeblock": cmdCodeblock,
		"subtask":   cmdSubtask,

		"new_connection":  cmdNewConnection,
		"drop_connection": cmdDropConnection,
		"cmd_line":        cmdCmdLine,
		"sql_exec":        cmdSQLExec,
		"winrm_cmd":       cmdWinRMCmd,
		"http":            cmdHTTP,
		"send_email":      cmdSendEmail,

		"run_task":       cmdRunTask,
		"wait_for_tasks": cmdWaitForTasks,

		"datastore_insert": cmdDatastoreInsert,
		"datastore_query":  cmdDatastoreQuery,
		"datastore_update": cmdDatastoreUpdate,
		"datastore_delete": cmdDatastoreDelete,
	}
}

// cloudPrefixes route unrecognized function names to the generic cloud API
// caller: "aws_ec2_DescribeInstances" becomes product ec2, action
// DescribeInstances.
const cloudPrefix = "aws_"

// lookup routes a function name to a built-in, the generic cloud caller, or a
// registered extension, in that order.
func (rt *Runtime) lookup(st *task.Step) (CommandFunc, error) {
	name := st.Function
	if fn, ok := builtins[name]; ok {
		return fn, nil
	}
	if strings.HasPrefix(name, cloudPrefix) {
		return cmdCloudCall, nil
	}
	module := st.RootAttr("extension")
	if module == "" {
		return nil, fmt.Errorf("function [%s] is not a built-in command and names no extension module", name)
	}
	if !rt.extensionAllowed(module) {
		return nil, fmt.Errorf("extension module [%s] is not in the configured allow list", module)
	}
	ext, ok := extension.Lookup(module, name)
	if !ok {
		return nil, fmt.Errorf("extension module [%s] has no function [%s] (is the module compiled in and allowed?)", module, name)
	}
	return func(ctx context.Context, rt *Runtime, st *task.Step) error {
		return ext(ctx, rt, st)
	}, nil
}

// extensionAllowed applies the configured module allow list; an empty list
// allows every compiled-in module.
func (rt *Runtime) extensionAllowed(module string) bool {
	if len(rt.cfg.Extensions) == 0 {
		return true
	}
	for _, m := range rt.cfg.Extensions {
		if strings.EqualFold(m, module) {
			return true
		}
	}
	return false
}
