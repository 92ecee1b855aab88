package runtime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudsidekick/cato/engine/datastore"
	"github.com/cloudsidekick/cato/engine/task"
)

// ensureDatastore connects to the document store on first use; most tasks
// never touch it and should not pay the connection.
func (rt *Runtime) ensureDatastore(ctx context.Context) (*datastore.Store, error) {
	if rt.data != nil {
		return rt.data, nil
	}
	data, err := datastore.Connect(ctx, &rt.cfg.Datastore)
	if err != nil {
		return nil, err
	}
	rt.data = data
	return data, nil
}

func cmdDatastoreInsert(ctx context.Context, rt *Runtime, st *task.Step) error {
	data, err := rt.ensureDatastore(ctx)
	if err != nil {
		return err
	}
	collection, err := rt.resolveRequiredParam(st, "collection")
	if err != nil {
		return err
	}
	doc, err := rt.resolveRequiredParam(st, "document")
	if err != nil {
		return err
	}
	id, err := data.Insert(ctx, collection, doc)
	if err != nil {
		return err
	}
	if v := st.Param("result_variable"); v != "" {
		rt.vars.Set(v, id)
	}
	rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Inserted document [%s] into [%s].", id, collection))
	return nil
}

func cmdDatastoreQuery(ctx context.Context, rt *Runtime, st *task.Step) error {
	data, err := rt.ensureDatastore(ctx)
	if err != nil {
		return err
	}
	collection, err := rt.resolveRequiredParam(st, "collection")
	if err != nil {
		return err
	}
	filter, err := rt.resolveParam(st, "filter")
	if err != nil {
		return err
	}
	if filter == "" {
		filter = "{}"
	}
	out, err := data.Query(ctx, collection, filter)
	if err != nil {
		return err
	}
	v, err := st.RequiredParam("result_variable")
	if err != nil {
		return err
	}
	rt.vars.Set(v, out)
	rt.log.Write(ctx, st.ID, "", st.Function, out)
	return nil
}

func cmdDatastoreUpdate(ctx context.Context, rt *Runtime, st *task.Step) error {
	data, err := rt.ensureDatastore(ctx)
	if err != nil {
		return err
	}
	collection, err := rt.resolveRequiredParam(st, "collection")
	if err != nil {
		return err
	}
	filter, err := rt.resolveRequiredParam(st, "filter")
	if err != nil {
		return err
	}
	update, err := rt.resolveRequiredParam(st, "update")
	if err != nil {
		return err
	}
	n, err := data.Update(ctx, collection, filter, update)
	if err != nil {
		return err
	}
	if v := st.Param("result_variable"); v != "" {
		rt.vars.Set(v, strconv.FormatInt(n, 10))
	}
	rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Updated [%d] document(s) in [%s].", n, collection))
	return nil
}

func cmdDatastoreDelete(ctx context.Context, rt *Runtime, st *task.Step) error {
	data, err := rt.ensureDatastore(ctx)
	if err != nil {
		return err
	}
	collection, err := rt.resolveRequiredParam(st, "collection")
	if err != nil {
		return err
	}
	filter, err := rt.resolveRequiredParam(st, "filter")
	if err != nil {
		return err
	}
	n, err := data.Delete(ctx, collection, filter)
	if err != nil {
		return err
	}
	if v := st.Param("result_variable"); v != "" {
		rt.vars.Set(v, strconv.FormatInt(n, 10))
	}
	rt.log.Write(ctx, st.ID, "", st.Function, fmt.Sprintf("Deleted [%d] document(s) from [%s].", n, collection))
	return nil
}
