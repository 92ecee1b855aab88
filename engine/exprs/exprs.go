// Package exprs evaluates the boolean tests carried by if/while/exists steps
// and the Eval modifier of set_variable. Expressions are compiled against a
// closed CEL environment: no host evaluation, no variable bindings (references
// are substituted to literals before the expression reaches this package), and
// only a small whitelist of date helpers beyond the CEL standard library.
package exprs

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// dateLayouts are tried in order when parsing a date helper argument.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

type Evaluator struct {
	env *cel.Env
}

func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Function("date",
			cel.Overload("date_string", []*cel.Type{cel.StringType}, cel.TimestampType,
				cel.UnaryBinding(parseDate))),
		cel.Function("now",
			cel.Overload("now", nil, cel.TimestampType,
				cel.FunctionBinding(func(...ref.Val) ref.Val {
					return types.Timestamp{Time: time.Now()}
				}))),
		cel.Function("datediff",
			cel.Overload("datediff_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.IntType,
				cel.BinaryBinding(dateDiff))),
	)
	if err != nil {
		return nil, fmt.Errorf("building expression environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

func parseDate(v ref.Val) ref.Val {
	s, ok := v.Value().(string)
	if !ok {
		return types.NewErr("date: argument must be a string")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return types.Timestamp{Time: t}
		}
	}
	return types.NewErr("date: cannot parse %q", s)
}

// dateDiff returns whole seconds from b to a, so a later left operand yields
// a positive result.
func dateDiff(a, b ref.Val) ref.Val {
	ta := parseDate(a)
	if types.IsError(ta) {
		return ta
	}
	tb := parseDate(b)
	if types.IsError(tb) {
		return tb
	}
	d := ta.(types.Timestamp).Time.Sub(tb.(types.Timestamp).Time)
	return types.Int(int64(d.Seconds()))
}

func (e *Evaluator) eval(expr string) (ref.Val, error) {
	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid expression [%s]: %w", expr, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid expression [%s]: %w", expr, err)
	}
	out, _, err := prg.Eval(cel.NoVars())
	if err != nil {
		return nil, fmt.Errorf("evaluating expression [%s]: %w", expr, err)
	}
	return out, nil
}

// EvalBool evaluates expr and requires a boolean result.
func (e *Evaluator) EvalBool(expr string) (bool, error) {
	out, err := e.eval(expr)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression [%s] did not evaluate to a boolean (got %T)", expr, out.Value())
	}
	return b, nil
}

// EvalString evaluates expr and renders the result as text, for the
// set_variable Eval modifier.
func (e *Evaluator) EvalString(expr string) (string, error) {
	out, err := e.eval(expr)
	if err != nil {
		return "", err
	}
	switch v := out.Value().(type) {
	case string:
		return v, nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
