package runtime

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudsidekick/cato/engine/core"
)

// Global resolves the `_NAME` pseudo-variables of the substitution language.
// List/mapping-valued globals answer with their JSON text so keypath and
// count suffixes can drill in.
func (rt *Runtime) Global(name string) (string, error) {
	switch strings.ToUpper(name) {
	case "_TASK_INSTANCE":
		return strconv.FormatInt(rt.instance.ID, 10), nil
	case "_TASK_ID":
		return rt.task.ID, nil
	case "_TASK_NAME":
		return rt.task.Name, nil
	case "_TASK_VERSION":
		return rt.task.Version, nil
	case "_CLOUD_NAME":
		return deref(rt.instance.CloudName), nil
	case "_CLOUD_PROVIDER":
		return "aws", nil
	case "_CLOUD_LOGIN_ID":
		return rt.cfg.AWS.AccessKeyID, nil
	case "_CLOUD_LOGIN_PASS":
		return rt.cfg.AWS.SecretAccessKey, nil
	case "_SUBMITTED_BY":
		return deref(rt.instance.SubmittedBy), nil
	case "_SUBMITTED_BY_EMAIL":
		return deref(rt.instance.SubmittedByEmail), nil
	case "_HTTP_RESPONSE":
		return rt.httpResponse, nil
	case "_ASSET":
		return deref(rt.instance.AssetID), nil
	case "_OPTIONS":
		return deref(rt.instance.Options), nil
	case "_SUMMARY":
		return rt.summary, nil
	case "_UUID":
		return core.NewID(), nil
	case "_UUID2":
		return core.NewShortID(), nil
	case "_DEBUG":
		return rt.debugDump(), nil
	default:
		return "", fmt.Errorf("unknown global variable [%s]", name)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// debugDump renders engine internals for troubleshooting from inside a task.
func (rt *Runtime) debugDump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "instance=%d task=%s version=%s status=%s\n",
		rt.instance.ID, rt.task.Name, rt.task.Version, rt.instance.Status)

	names := rt.vars.Names()
	sort.Strings(names)
	b.WriteString("variables:\n")
	for _, n := range names {
		count := rt.vars.Count(n)
		if count > 1 {
			fmt.Fprintf(&b, "  %s (array, count=%d)\n", n, count)
			continue
		}
		fmt.Fprintf(&b, "  %s=%s\n", n, rt.log.Redact(rt.vars.Get(n)))
	}

	conns := rt.conns.Names()
	sort.Strings(conns)
	b.WriteString("connections:\n")
	for _, n := range conns {
		c, _ := rt.conns.Get(n)
		fmt.Fprintf(&b, "  %s (%s)\n", n, c.Type())
	}

	handles := make([]string, 0, len(rt.handles))
	for n := range rt.handles {
		handles = append(handles, n)
	}
	sort.Strings(handles)
	b.WriteString("handles:\n")
	for _, n := range handles {
		h := rt.handles[n]
		fmt.Fprintf(&b, "  %s -> instance %d (%s)\n", n, h.InstanceID, h.Status)
	}
	return b.String()
}
