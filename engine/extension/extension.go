// Package extension is the pluggable opcode registry. An extension is a
// compiled-in package that registers its functions at init; the `extension`
// attribute on a step's function document selects the module by name. This
// mirrors the database/sql driver-registration idiom rather than loading code
// at runtime.
package extension

import (
	"context"
	"sync"

	"github.com/cloudsidekick/cato/engine/task"
	"github.com/cloudsidekick/cato/engine/variables"
)

// Engine is the slice of the runtime an extension function may drive: full
// access to substitution, variables, and audit logging.
type Engine interface {
	Instance() int64
	Vars() *variables.Store
	Resolve(s string) (string, error)
	Audit(ctx context.Context, stepID, connName, command, body string)
	AddSensitive(value string)
}

// Func implements one extension opcode.
type Func func(ctx context.Context, e Engine, st *task.Step) error

// Augmenter runs once per engine start, before any step executes, for modules
// that add engine-level behavior.
type Augmenter func(e Engine) error

// StatusHook observes every instance status transition. Hook failures are the
// hook's problem; they are invoked without error returns.
type StatusHook func(ctx context.Context, instanceID int64, status string)

type module struct {
	funcs     map[string]Func
	augmenter Augmenter
}

var (
	mu      sync.RWMutex
	modules = make(map[string]module)
	hooks   []StatusHook
)

// Register installs a module's functions under its name. Registering the same
// module twice replaces it; last writer wins, as with template redefinition.
func Register(name string, funcs map[string]Func) {
	RegisterWithAugmenter(name, funcs, nil)
}

func RegisterWithAugmenter(name string, funcs map[string]Func, aug Augmenter) {
	mu.Lock()
	defer mu.Unlock()
	modules[name] = module{funcs: funcs, augmenter: aug}
}

// RegisterStatusHook adds an update_status observer.
func RegisterStatusHook(h StatusHook) {
	mu.Lock()
	defer mu.Unlock()
	hooks = append(hooks, h)
}

// Lookup finds a function in a registered module.
func Lookup(moduleName, funcName string) (Func, bool) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := modules[moduleName]
	if !ok {
		return nil, false
	}
	f, ok := m.funcs[funcName]
	return f, ok
}

// Augment runs every registered augmenter against a starting engine.
func Augment(e Engine) error {
	mu.RLock()
	defer mu.RUnlock()
	for _, m := range modules {
		if m.augmenter == nil {
			continue
		}
		if err := m.augmenter(e); err != nil {
			return err
		}
	}
	return nil
}

// NotifyStatus fans a status transition out to every registered hook.
// Modules without a hook simply never registered one.
func NotifyStatus(ctx context.Context, instanceID int64, status string) {
	mu.RLock()
	defer mu.RUnlock()
	for _, h := range hooks {
		h(ctx, instanceID, status)
	}
}
