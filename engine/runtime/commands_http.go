package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cloudsidekick/cato/engine/task"
)

// httpClient is shared across steps of one process; per-step state rides the
// request, not the client.
var httpClient = resty.New().SetTimeout(2 * time.Minute)

// cmdHTTP performs one HTTP request. The response body lands in the named
// result variable and in the _HTTP_RESPONSE global, which always reflects the
// most recent call.
func cmdHTTP(ctx context.Context, rt *Runtime, st *task.Step) error {
	method, err := rt.resolveParam(st, "type")
	if err != nil {
		return err
	}
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)
	url, err := rt.resolveRequiredParam(st, "url")
	if err != nil {
		return err
	}
	payload, err := rt.resolveParam(st, "payload")
	if err != nil {
		return err
	}

	req := httpClient.R().SetContext(ctx)
	for _, node := range st.Nodes("headers/header") {
		name := node.SelectAttr("name")
		if name == "" {
			continue
		}
		value, err := rt.subst.Resolve(strings.TrimSpace(node.InnerText()))
		if err != nil {
			return err
		}
		req.SetHeader(name, value)
	}
	if payload != "" {
		req.SetBody(payload)
	}

	var resp *resty.Response
	switch method {
	case "GET":
		resp, err = req.Get(url)
	case "POST":
		resp, err = req.Post(url)
	case "PUT":
		resp, err = req.Put(url)
	case "DELETE":
		resp, err = req.Delete(url)
	case "PATCH":
		resp, err = req.Patch(url)
	case "HEAD":
		resp, err = req.Head(url)
	default:
		return fmt.Errorf("http method [%s] is not supported", method)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}

	body := resp.String()
	rt.httpResponse = body
	if v := st.Param("result_variable"); v != "" {
		rt.vars.Set(v, body)
	}
	if v := st.Param("status_variable"); v != "" {
		rt.vars.Set(v, fmt.Sprintf("%d", resp.StatusCode()))
	}
	rt.log.Write(ctx, st.ID, "", st.Function,
		fmt.Sprintf("%s %s -> %d\n%s", method, url, resp.StatusCode(), body))
	if resp.IsError() && !strings.EqualFold(st.Param("on_error"), "continue") {
		return fmt.Errorf("%s %s returned status %d", method, url, resp.StatusCode())
	}
	return nil
}
