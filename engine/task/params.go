package task

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Typed views over the opcode-specific function document schemas. Each parser
// reads the XML tree exactly once; the interpreter then works with plain
// structs.

// IfBranch is one eval expression and the sub-steps it guards.
type IfBranch struct {
	Eval  string
	Steps []*Step
}

type IfParams struct {
	Tests []IfBranch
	Else  []*Step // nil when no else branch is present
}

func ParseIf(s *Step) (*IfParams, error) {
	if err := s.ensureParsed(); err != nil {
		return nil, err
	}
	p := &IfParams{}
	for _, test := range s.Nodes("tests/test") {
		eval := test.SelectAttr("eval")
		if eval == "" {
			return nil, fmt.Errorf("step %s (if): test without an eval expression", s.ID)
		}
		wrapper := &Step{ID: s.ID, Codeblock: s.Codeblock, Function: s.Function, doc: test}
		steps, err := wrapper.EmbeddedFunctions("action")
		if err != nil {
			return nil, err
		}
		p.Tests = append(p.Tests, IfBranch{Eval: eval, Steps: steps})
	}
	if len(s.Nodes("else")) > 0 {
		steps, err := s.EmbeddedFunctions("else")
		if err != nil {
			return nil, err
		}
		p.Else = steps
		if p.Else == nil {
			p.Else = []*Step{}
		}
	}
	return p, nil
}

type WhileParams struct {
	Test string
	Body []*Step
}

func ParseWhile(s *Step) (*WhileParams, error) {
	if err := s.ensureParsed(); err != nil {
		return nil, err
	}
	test := s.Param("test")
	if test == "" {
		test = s.RootAttr("test")
	}
	if test == "" {
		return nil, fmt.Errorf("step %s (while): no test expression", s.ID)
	}
	body, err := s.EmbeddedFunctions("action")
	if err != nil {
		return nil, err
	}
	return &WhileParams{Test: test, Body: body}, nil
}

type LoopParams struct {
	Counter   string
	Start     string
	Increment string
	Test      string // one of == != <= < >= >
	CompareTo string
	Max       string // optional iteration cap
	Body      []*Step
}

func ParseLoop(s *Step) (*LoopParams, error) {
	if err := s.ensureParsed(); err != nil {
		return nil, err
	}
	p := &LoopParams{
		Counter:   s.Param("counter"),
		Start:     s.Param("start"),
		Increment: s.Param("increment"),
		Test:      s.Param("test"),
		CompareTo: s.Param("compare_to"),
		Max:       s.Param("max"),
	}
	if p.Counter == "" {
		return nil, fmt.Errorf("step %s (loop): no counter variable name", s.ID)
	}
	if p.Test == "" {
		return nil, fmt.Errorf("step %s (loop): no comparison operator", s.ID)
	}
	body, err := s.EmbeddedFunctions("action")
	if err != nil {
		return nil, err
	}
	p.Body = body
	return p, nil
}

// ExistsCheck is one variable test: existence, optionally refined to "is
// true" or "has data".
type ExistsCheck struct {
	Name    string
	IsTrue  bool
	HasData bool
}

type ExistsParams struct {
	Checks   []ExistsCheck
	Positive []*Step
	Negative []*Step
}

func ParseExists(s *Step) (*ExistsParams, error) {
	if err := s.ensureParsed(); err != nil {
		return nil, err
	}
	p := &ExistsParams{}
	for _, v := range s.Nodes("variables/variable") {
		name := v.SelectAttr("name")
		if name == "" {
			name = strings.TrimSpace(v.InnerText())
		}
		if name == "" {
			continue
		}
		p.Checks = append(p.Checks, ExistsCheck{
			Name:    name,
			IsTrue:  v.SelectAttr("is_true") == "1",
			HasData: v.SelectAttr("has_data") == "1",
		})
	}
	if len(p.Checks) == 0 {
		return nil, fmt.Errorf("step %s (exists): no variables to test", s.ID)
	}
	var err error
	if p.Positive, err = s.EmbeddedFunctions("actions/positive_action"); err != nil {
		return nil, err
	}
	if p.Negative, err = s.EmbeddedFunctions("actions/negative_action"); err != nil {
		return nil, err
	}
	return p, nil
}

// SetVarItem is one name/value pair with an optional value modifier.
type SetVarItem struct {
	Name     string
	Value    string
	Modifier string // TO_UPPER, TO_LOWER, TO_BASE64, FROM_BASE64, TRIM, Eval
}

func ParseSetVariable(s *Step) ([]SetVarItem, error) {
	if err := s.ensureParsed(); err != nil {
		return nil, err
	}
	var items []SetVarItem
	for _, v := range s.Nodes("variables/variable") {
		name := ""
		value := ""
		modifier := ""
		for child := v.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != xmlquery.ElementNode {
				continue
			}
			switch child.Data {
			case "name":
				name = strings.TrimSpace(child.InnerText())
			case "value":
				value = child.InnerText()
			case "modifier":
				modifier = strings.TrimSpace(child.InnerText())
			}
		}
		if name == "" {
			return nil, fmt.Errorf("step %s (set_variable): variable without a name", s.ID)
		}
		items = append(items, SetVarItem{Name: name, Value: value, Modifier: modifier})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("step %s (set_variable): no variables to set", s.ID)
	}
	return items, nil
}
