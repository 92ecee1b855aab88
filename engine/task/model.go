// Package task models the executable form of a stored automation task: named
// codeblocks of ordered steps, each step carrying an opcode and its function
// XML document. Documents are parsed once at the boundary; the interpreter
// works against typed accessors, never against raw XML strings.
package task

import (
	"sort"
	"strings"

	"github.com/cloudsidekick/cato/engine/core"
)

// MainCodeblock is the mandatory entry codeblock of every task.
const MainCodeblock = "MAIN"

type Task struct {
	ID             string
	OriginalID     string
	Name           string
	Code           string
	Version        string
	Status         core.TaskStatus
	DefaultVersion bool
	ConcurrentBy   int
	QueueDepth     int
	ParameterXML   string
	OnError        string // "restart" re-submits a fresh instance on failure
	Codeblocks     map[string]*Codeblock
}

type Codeblock struct {
	Name  string
	Steps []*Step // ascending Order
}

// Codeblock returns the named codeblock, case-insensitively.
func (t *Task) Codeblock(name string) (*Codeblock, bool) {
	cb, ok := t.Codeblocks[strings.ToUpper(name)]
	return cb, ok
}

// AddStep places st into its owning codeblock, creating the codeblock on
// first use and keeping steps sorted by order.
func (t *Task) AddStep(st *Step) {
	if t.Codeblocks == nil {
		t.Codeblocks = make(map[string]*Codeblock)
	}
	name := strings.ToUpper(st.Codeblock)
	cb, ok := t.Codeblocks[name]
	if !ok {
		cb = &Codeblock{Name: name}
		t.Codeblocks[name] = cb
	}
	cb.Steps = append(cb.Steps, st)
	sort.SliceStable(cb.Steps, func(i, j int) bool {
		return cb.Steps[i].Order < cb.Steps[j].Order
	})
}
