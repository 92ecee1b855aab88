package subst

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

// resolveXPath evaluates an XPath-like expression against the XML text stored
// under name. A `count(...)` wrapper returns the matching node count instead
// of node text. XML that does not parse is a hard error: the author asked for
// a structural lookup and got garbage input.
func (e *Engine) resolveXPath(name, expr string) (string, error) {
	raw := e.Vars.Get(name)
	doc, err := xmlquery.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("variable [%s]: value is not parsable XML: %w", name, err)
	}
	if inner, ok := countExpr(expr); ok {
		nodes, err := xmlquery.QueryAll(doc, normalizePath(inner))
		if err != nil {
			return "", fmt.Errorf("variable [%s]: invalid xpath [%s]: %w", name, inner, err)
		}
		return strconv.Itoa(len(nodes)), nil
	}
	node, err := xmlquery.Query(doc, normalizePath(expr))
	if err != nil {
		return "", fmt.Errorf("variable [%s]: invalid xpath [%s]: %w", name, expr, err)
	}
	if node == nil {
		return "", nil
	}
	return node.InnerText(), nil
}

func countExpr(expr string) (string, bool) {
	if strings.HasPrefix(expr, "count(") && strings.HasSuffix(expr, ")") {
		return expr[len("count(") : len(expr)-1], true
	}
	return "", false
}

// normalizePath makes relative step expressions search the whole document,
// matching how stored tasks address nodes without a leading slash.
func normalizePath(expr string) string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "/") || strings.HasPrefix(expr, ".") {
		return expr
	}
	return "//" + expr
}
