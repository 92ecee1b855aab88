package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/cloudsidekick/cato/engine/connection"
	"github.com/cloudsidekick/cato/engine/task"
)

// cmdCloudCall is the generic cloud opcode: a function named
// aws_<product>_<Action> turns into one signed query-API call, with every
// child element of the function document flattened into request parameters.
func cmdCloudCall(ctx context.Context, rt *Runtime, st *task.Step) error {
	product, action, err := splitCloudFunction(st.Function)
	if err != nil {
		return err
	}
	params, err := rt.cloudParams(st)
	if err != nil {
		return err
	}
	body, err := rt.cloud.Call(ctx, product, action, params)
	if err != nil {
		return err
	}
	rt.storeCommandOutput(st, st.Param("result_name"), body)
	rt.log.Write(ctx, st.ID, "", st.Function, body)
	return nil
}

func splitCloudFunction(name string) (product, action string, err error) {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("cloud function [%s] is not of the form aws_<product>_<Action>", name)
	}
	return parts[1], parts[2], nil
}

// cloudParams flattens the function document into query-API parameters.
// Leaf elements map name to resolved text; nested element groups join their
// path segments with dots and number repeated siblings, producing the
// Filter.1.Name style AWS expects.
func (rt *Runtime) cloudParams(st *task.Step) (map[string]string, error) {
	root := st.Root()
	if root == nil {
		return nil, fmt.Errorf("step %s: function xml does not parse", st.ID)
	}
	params := make(map[string]string)
	if err := rt.flattenCloudParams(root, "", params); err != nil {
		return nil, err
	}
	delete(params, "result_name")
	return params, nil
}

func (rt *Runtime) flattenCloudParams(parent *xmlquery.Node, prefix string, params map[string]string) error {
	counts := make(map[string]int)
	for child := parent.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != xmlquery.ElementNode {
			continue
		}
		name := child.Data
		if hasElementChildren(child) {
			counts[name]++
			group := keyOrName(prefix, fmt.Sprintf("%s.%d", name, counts[name]))
			if err := rt.flattenCloudParams(child, group, params); err != nil {
				return err
			}
			continue
		}
		value, err := rt.subst.Resolve(strings.TrimSpace(child.InnerText()))
		if err != nil {
			return err
		}
		if value != "" {
			params[keyOrName(prefix, name)] = value
		}
	}
	return nil
}

func keyOrName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func hasElementChildren(n *xmlquery.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return true
		}
	}
	return false
}

// resolveEC2System turns an EC2 instance id into shell connection parameters
// by asking the cloud API for the instance's address. The connecting user and
// key still come from an asset or inline text carried in the same parameter,
// separated by whitespace: "i-0abc user=ec2-user".
func (rt *Runtime) resolveEC2System(ctx context.Context, asset string) (*connection.System, error) {
	fields := strings.Fields(asset)
	if len(fields) == 0 {
		return nil, fmt.Errorf("ssh - ec2 connection: no instance id given")
	}
	instanceID := fields[0]
	sys := &connection.System{Name: instanceID, Region: rt.cfg.AWS.Region}
	for _, pair := range fields[1:] {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("ssh - ec2 connection: [%s] is not key=value", pair)
		}
		switch strings.ToLower(k) {
		case "user", "userid":
			sys.User = v
		case "password":
			sys.Password = v
		case "keyname", "asset":
			lookup, err := rt.repos.Assets.GetSystem(ctx, v)
			if err != nil {
				return nil, err
			}
			sys.User = lookup.User
			sys.Password = lookup.Password
			sys.PrivateKey = lookup.PrivateKey
			sys.Passphrase = lookup.Passphrase
		default:
			return nil, fmt.Errorf("ssh - ec2 connection: unknown key [%s]", k)
		}
	}

	body, err := rt.cloud.Call(ctx, "ec2", "DescribeInstances", map[string]string{
		"InstanceId.1": instanceID,
	})
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("describe-instances response does not parse: %w", err)
	}
	for _, path := range []string{"//instancesSet/item/dnsName", "//instancesSet/item/ipAddress", "//instancesSet/item/privateIpAddress"} {
		if node := xmlquery.FindOne(doc, path); node != nil && strings.TrimSpace(node.InnerText()) != "" {
			sys.Address = strings.TrimSpace(node.InnerText())
			break
		}
	}
	if sys.Address == "" {
		return nil, fmt.Errorf("instance [%s] has no reachable address yet", instanceID)
	}
	return sys, nil
}
