package task

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Step is one instruction: an opcode plus its function XML document. Steps
// that implement structured control flow carry embedded function documents,
// making the step graph a tree.
type Step struct {
	ID        string
	Order     int
	Codeblock string
	Commented bool
	Function  string

	FunctionXML string
	doc         *xmlquery.Node
}

// Parse decodes the function XML document. It is called once when the task
// definition is loaded; a document that does not parse aborts the instance
// with the offending step id in the error.
func (s *Step) Parse() error {
	doc, err := xmlquery.Parse(strings.NewReader(s.FunctionXML))
	if err != nil {
		return fmt.Errorf("step %s: function xml does not parse: %w", s.ID, err)
	}
	root := doc.SelectElement("function")
	if root == nil {
		return fmt.Errorf("step %s: function xml has no <function> root", s.ID)
	}
	if s.Function == "" {
		s.Function = root.SelectAttr("name")
	}
	s.doc = root
	return nil
}

func (s *Step) ensureParsed() error {
	if s.doc == nil {
		return s.Parse()
	}
	return nil
}

// RootAttr returns an attribute of the function root element, such as
// parse_method, row_delimiter, col_delimiter, or extension.
func (s *Step) RootAttr(name string) string {
	if s.ensureParsed() != nil {
		return ""
	}
	return s.doc.SelectAttr(name)
}

// Param returns the trimmed inner text of the first element at the relative
// path, or "" when absent.
func (s *Step) Param(path string) string {
	if s.ensureParsed() != nil {
		return ""
	}
	node := xmlquery.FindOne(s.doc, path)
	if node == nil {
		return ""
	}
	return strings.TrimSpace(node.InnerText())
}

// RequiredParam is Param with a descriptive error when the element is absent
// or empty: authoring mistakes surface immediately, not as empty side effects.
func (s *Step) RequiredParam(path string) (string, error) {
	v := s.Param(path)
	if v == "" {
		return "", fmt.Errorf("step %s (%s): required parameter [%s] is missing or empty", s.ID, s.Function, path)
	}
	return v, nil
}

// ParamAttr returns an attribute of the first element at the relative path.
func (s *Step) ParamAttr(path, attr string) string {
	if s.ensureParsed() != nil {
		return ""
	}
	node := xmlquery.FindOne(s.doc, path)
	if node == nil {
		return ""
	}
	return node.SelectAttr(attr)
}

// Nodes returns every element at the relative path, for array-shaped
// parameter groups.
func (s *Step) Nodes(path string) []*xmlquery.Node {
	if s.ensureParsed() != nil {
		return nil
	}
	return xmlquery.Find(s.doc, path)
}

// Root exposes the parsed document root for callers that walk the tree, such
// as the generic cloud parameter builder.
func (s *Step) Root() *xmlquery.Node {
	if err := s.ensureParsed(); err != nil {
		return nil
	}
	return s.doc
}

// EmbeddedFunctions extracts the <function> sub-documents nested under the
// relative path, in document order, as executable sub-steps owned by the same
// codeblock and step id.
func (s *Step) EmbeddedFunctions(path string) ([]*Step, error) {
	if err := s.ensureParsed(); err != nil {
		return nil, err
	}
	var out []*Step
	for i, node := range xmlquery.Find(s.doc, path+"/function") {
		sub := &Step{
			ID:          s.ID,
			Order:       i + 1,
			Codeblock:   s.Codeblock,
			Function:    node.SelectAttr("name"),
			FunctionXML: node.OutputXML(true),
			doc:         node,
		}
		out = append(out, sub)
	}
	return out, nil
}
