package subst

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudsidekick/cato/engine/variables"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// Two reference syntaxes coexist in stored task definitions: the legacy
// [[ref]] form and the current [$ref$] form. Both resolve inner-to-outer so a
// reference may be built from the value of another reference.
const (
	legacyOpen   = "[["
	legacyClose  = "]]"
	currentOpen  = "[$"
	currentClose = "$]"
)

// maxIterations bounds resolution so a reference that never reduces to a
// terminal string fails with a clear error instead of looping forever.
const maxIterations = 100

// GlobalResolver supplies the values behind `_NAME` references. The raw value
// of a list/mapping global is its JSON text, so keypath and count suffixes
// can drill into it.
type GlobalResolver interface {
	Global(name string) (string, error)
}

// HandleResolver supplies `#handle.property` values, refreshing the handle
// from the database before reading.
type HandleResolver interface {
	HandleProperty(handle, property string) (string, error)
}

// Engine resolves variable references embedded in free text.
type Engine struct {
	Vars    *variables.Store
	Globals GlobalResolver
	Handles HandleResolver
}

func New(vars *variables.Store, globals GlobalResolver, handles HandleResolver) *Engine {
	return &Engine{Vars: vars, Globals: globals, Handles: handles}
}

// HasReference reports whether s contains any reference markers.
func HasReference(s string) bool {
	return strings.Contains(s, legacyOpen) || strings.Contains(s, currentOpen)
}

// Resolve replaces every reference in s with its string value, innermost
// first, and returns the fully resolved text. Once no markers remain the
// result is stable: resolving it again returns it unchanged.
func (e *Engine) Resolve(s string) (string, error) {
	if !HasReference(s) {
		return s, nil
	}
	for i := 0; i < maxIterations; i++ {
		open, syntax := innermostOpen(s)
		if open < 0 {
			return s, nil
		}
		closeTok := legacyClose
		if syntax == currentOpen {
			closeTok = currentClose
		}
		end := strings.Index(s[open+2:], closeTok)
		if end < 0 {
			// An unterminated marker is plain text, not a reference.
			return s, nil
		}
		end += open + 2
		body := strings.TrimSpace(s[open+2 : end])
		val, err := e.resolveRef(body, syntax == legacyOpen)
		if err != nil {
			return "", err
		}
		s = s[:open] + val + s[end+2:]
		if !HasReference(s) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unresolvable variable reference: substitution did not terminate after %d passes", maxIterations)
}

// innermostOpen finds the rightmost opening delimiter of either syntax. The
// two openers overlap in "[[$...": the "[$" there is the tail of a legacy
// open whose body starts with '$', so it only counts as a current-syntax open
// when it stands clear of a "[[".
func innermostOpen(s string) (int, string) {
	li := strings.LastIndex(s, legacyOpen)
	ci := strings.LastIndex(s, currentOpen)
	if ci >= 0 && ci != li+1 && ci > li {
		return ci, currentOpen
	}
	if li >= 0 {
		return li, legacyOpen
	}
	if ci >= 0 {
		return ci, currentOpen
	}
	return -1, ""
}

func (e *Engine) resolveRef(body string, legacy bool) (string, error) {
	switch {
	case body == "":
		return "", nil
	case strings.HasPrefix(body, "_"):
		return e.resolveGlobal(body)
	case strings.HasPrefix(body, "#"):
		return e.resolveHandle(body)
	case strings.Contains(body, "^"):
		name, expr, _ := strings.Cut(body, "^")
		return e.resolveXPath(strings.TrimSpace(name), strings.TrimSpace(expr))
	case legacy && strings.HasPrefix(body, "$"):
		return e.resolveObject(body[1:])
	case legacy && looksLikeXPath(body):
		name, expr, _ := strings.Cut(body, ".")
		return e.resolveXPath(strings.TrimSpace(name), strings.TrimSpace(expr))
	default:
		return e.resolveVariable(body)
	}
}

// looksLikeXPath detects the legacy `var.xpath` form: a dot in the body with
// no index suffix before it. A trailing `,N`/`,*` marks a plain array read,
// which may legitimately contain dotted names on either side of the comma.
func looksLikeXPath(body string) bool {
	dot := strings.Index(body, ".")
	if dot < 0 {
		return false
	}
	comma := strings.Index(body, ",")
	return comma < 0 || dot < comma
}

// -----------------------------------------------------------------------------
// Plain runtime variables
// -----------------------------------------------------------------------------

func (e *Engine) resolveVariable(body string) (string, error) {
	name := body
	if comma := strings.LastIndex(body, ","); comma >= 0 {
		name = strings.TrimSpace(body[:comma])
		idx := strings.TrimSpace(body[comma+1:])
		if idx == "*" {
			return strconv.Itoa(e.Vars.Count(name)), nil
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			return "", fmt.Errorf("variable [%s]: index [%s] must be an integer or *", name, idx)
		}
		return e.Vars.GetIndex(name, n), nil
	}
	return e.Vars.Get(name), nil
}

// -----------------------------------------------------------------------------
// Globals
// -----------------------------------------------------------------------------

func (e *Engine) resolveGlobal(body string) (string, error) {
	if e.Globals == nil {
		return "", fmt.Errorf("global reference [%s]: no global resolver attached", body)
	}
	name := body
	wantCount := false
	if strings.HasSuffix(name, ",*") {
		wantCount = true
		name = strings.TrimSuffix(name, ",*")
	}
	keypath := ""
	if colon := strings.Index(name, ":"); colon >= 0 {
		keypath = name[colon+1:]
		name = name[:colon]
	}
	raw, err := e.Globals.Global(strings.TrimSpace(name))
	if err != nil {
		return "", err
	}
	if !wantCount && keypath == "" {
		return raw, nil
	}
	parsed := gjson.Parse(raw)
	if keypath != "" {
		parsed = parsed.Get(keypath)
	}
	if wantCount {
		if parsed.IsArray() {
			return strconv.Itoa(len(parsed.Array())), nil
		}
		if !parsed.Exists() {
			return "0", nil
		}
		return "1", nil
	}
	return resultString(parsed), nil
}

// -----------------------------------------------------------------------------
// Task handles
// -----------------------------------------------------------------------------

func (e *Engine) resolveHandle(body string) (string, error) {
	if e.Handles == nil {
		return "", fmt.Errorf("handle reference [%s]: no handle resolver attached", body)
	}
	ref := strings.TrimPrefix(body, "#")
	handle, prop, ok := strings.Cut(ref, ".")
	if !ok || handle == "" || prop == "" {
		return "", fmt.Errorf("handle reference [%s]: expected #handle.property", body)
	}
	return e.Handles.HandleProperty(strings.TrimSpace(handle), strings.TrimSpace(prop))
}

// -----------------------------------------------------------------------------
// Object / JSON-path lookups (legacy `$var:keypath,index`)
// -----------------------------------------------------------------------------

func (e *Engine) resolveObject(body string) (string, error) {
	name := body
	keypath := ""
	index := 1
	if comma := strings.LastIndex(name, ","); comma >= 0 {
		idx := strings.TrimSpace(name[comma+1:])
		if idx == "*" {
			return strconv.Itoa(e.Vars.Count(objectName(name[:comma]))), nil
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			return "", fmt.Errorf("object reference [$%s]: index [%s] must be an integer or *", body, idx)
		}
		index = n
		name = name[:comma]
	}
	if colon := strings.Index(name, ":"); colon >= 0 {
		keypath = strings.TrimSpace(name[colon+1:])
		name = name[:colon]
	}
	name = strings.TrimSpace(name)
	val := e.Vars.GetIndex(name, index)
	if val == "" && index == 1 {
		val = e.Vars.Get(name)
	}
	if keypath == "" {
		return val, nil
	}
	parsed := gjson.Parse(val)
	if !parsed.Exists() {
		return "", fmt.Errorf("object reference [$%s]: value is not valid JSON", body)
	}
	return resultString(parsed.Get(keypath)), nil
}

func objectName(s string) string {
	if colon := strings.Index(s, ":"); colon >= 0 {
		s = s[:colon]
	}
	return strings.TrimSpace(s)
}

// resultString renders a gjson result: scalars as-is, composites as
// pretty-printed JSON, missing values as empty text.
func resultString(r gjson.Result) string {
	if !r.Exists() {
		return ""
	}
	if r.IsArray() || r.IsObject() {
		return strings.TrimSpace(string(pretty.Pretty([]byte(r.Raw))))
	}
	return r.String()
}
