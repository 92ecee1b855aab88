package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cloudsidekick/cato/engine/connection"
	"github.com/cloudsidekick/cato/engine/task"
)

// resolveSystem builds the System descriptor for new_connection: inline
// key=value text, a cloud instance id for ssh-ec2, or an asset lookup.
func (rt *Runtime) resolveSystem(ctx context.Context, typ connection.Type, asset string) (*connection.System, error) {
	if strings.Contains(asset, "=") {
		return connection.ParseInlineSystem(asset)
	}
	if typ == connection.TypeSSHEC2 {
		return rt.resolveEC2System(ctx, asset)
	}
	sys, err := rt.repos.Assets.GetSystem(ctx, asset)
	if err != nil {
		return nil, err
	}
	return sys, nil
}

func cmdNewConnection(ctx context.Context, rt *Runtime, st *task.Step) error {
	name, err := rt.resolveRequiredParam(st, "conn_name")
	if err != nil {
		return err
	}
	typeS, err := rt.resolveParam(st, "conn_type")
	if err != nil {
		return err
	}
	typ, err := connection.ParseType(typeS)
	if err != nil {
		return err
	}
	asset, err := rt.resolveRequiredParam(st, "asset")
	if err != nil {
		return err
	}
	sys, err := rt.resolveSystem(ctx, typ, asset)
	if err != nil {
		return err
	}
	// Credentials travel through audit redaction from here on.
	rt.log.AddSensitive(sys.Password)
	rt.log.AddSensitive(sys.PrivateKey)

	if _, err := rt.conns.Open(ctx, name, typ, sys, rt.dial); err != nil {
		return err
	}
	rt.log.Write(ctx, st.ID, name, st.Function,
		fmt.Sprintf("Connection [%s] (%s) to [%s] established.", name, typ, sys.Address))
	return nil
}

func cmdDropConnection(ctx context.Context, rt *Runtime, st *task.Step) error {
	name, err := rt.resolveRequiredParam(st, "conn_name")
	if err != nil {
		return err
	}
	rt.conns.Drop(ctx, name)
	rt.log.Write(ctx, st.ID, name, st.Function, fmt.Sprintf("Connection [%s] dropped.", name))
	return nil
}

// storeCommandOutput captures a command's output into variables, honoring the
// parse attributes on the function document: row_delimiter splits the output
// into 1-based array elements, col_delimiter further splits each row across a
// comma-separated list of target variables.
func (rt *Runtime) storeCommandOutput(st *task.Step, varSpec, output string) {
	if varSpec == "" {
		return
	}
	rowD := st.RootAttr("row_delimiter")
	colD := st.RootAttr("col_delimiter")
	targets := strings.Split(varSpec, ",")
	for i := range targets {
		targets[i] = strings.TrimSpace(targets[i])
	}
	if rowD == "" {
		rt.vars.Set(targets[0], output)
		return
	}
	for _, t := range targets {
		rt.vars.Clear(t)
	}
	rows := strings.Split(output, rowD)
	for i, row := range rows {
		if colD == "" {
			rt.vars.SetIndex(targets[0], i+1, row)
			continue
		}
		cols := strings.Split(row, colD)
		for j, col := range cols {
			if j >= len(targets) {
				break
			}
			rt.vars.SetIndex(targets[j], i+1, col)
		}
	}
}

func cmdCmdLine(ctx context.Context, rt *Runtime, st *task.Step) error {
	name, err := rt.resolveRequiredParam(st, "conn_name")
	if err != nil {
		return err
	}
	command, err := rt.resolveRequiredParam(st, "command")
	if err != nil {
		return err
	}
	conn, ok := rt.conns.Get(name)
	if !ok {
		return fmt.Errorf("connection [%s] is not open", name)
	}
	shell, ok := conn.(*connection.ShellConnection)
	if !ok {
		return fmt.Errorf("connection [%s] (%s) is not an interactive shell", name, conn.Type())
	}
	timeout := 2 * time.Minute
	if timeoutS, err := rt.resolveParam(st, "timeout"); err != nil {
		return err
	} else if timeoutS != "" {
		d, parseErr := time.ParseDuration(timeoutS + "s")
		if parseErr != nil {
			return fmt.Errorf("timeout [%s] is not a number of seconds", timeoutS)
		}
		timeout = d
	}
	out, err := shell.Exec(ctx, command, timeout)
	if err != nil {
		return err
	}
	rt.storeCommandOutput(st, st.Param("result_variable"), out)
	rt.log.Write(ctx, st.ID, name, st.Function, fmt.Sprintf("%s\n%s", command, out))
	return nil
}

func cmdSQLExec(ctx context.Context, rt *Runtime, st *task.Step) error {
	name, err := rt.resolveRequiredParam(st, "conn_name")
	if err != nil {
		return err
	}
	statement, err := rt.resolveRequiredParam(st, "sql")
	if err != nil {
		return err
	}
	conn, ok := rt.conns.Get(name)
	if !ok {
		return fmt.Errorf("connection [%s] is not open", name)
	}
	sqlConn, ok := conn.(*connection.SQLConnection)
	if !ok {
		return fmt.Errorf("connection [%s] (%s) is not a sql connection", name, conn.Type())
	}
	mode, err := rt.resolveParam(st, "mode")
	if err != nil {
		return err
	}
	isQuery := strings.EqualFold(mode, "query") ||
		(mode == "" && strings.HasPrefix(strings.ToLower(strings.TrimSpace(statement)), "select"))

	if !isQuery {
		res, err := sqlConn.DB().ExecContext(ctx, statement)
		if err != nil {
			return fmt.Errorf("sql statement failed: %w", err)
		}
		affected, _ := res.RowsAffected()
		rt.log.Write(ctx, st.ID, name, st.Function,
			fmt.Sprintf("%s\n[%d] row(s) affected.", statement, affected))
		return nil
	}

	out, err := queryToText(ctx, sqlConn.DB(), statement)
	if err != nil {
		return err
	}
	rt.storeCommandOutput(st, st.Param("result_variable"), out)
	rt.log.Write(ctx, st.ID, name, st.Function, fmt.Sprintf("%s\n%s", statement, out))
	return nil
}

// queryToText renders a result set as tab-separated columns and newline-
// separated rows, the shape storeCommandOutput's default delimiters expect.
func queryToText(ctx context.Context, db *sql.DB, statement string) (string, error) {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return "", fmt.Errorf("sql query failed: %w", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("reading result columns: %w", err)
	}
	var b strings.Builder
	values := make([]any, len(cols))
	for i := range values {
		values[i] = new(sql.NullString)
	}
	first := true
	for rows.Next() {
		if err := rows.Scan(values...); err != nil {
			return "", fmt.Errorf("scanning result row: %w", err)
		}
		if !first {
			b.WriteString("\n")
		}
		first = false
		for i, v := range values {
			if i > 0 {
				b.WriteString("\t")
			}
			ns := v.(*sql.NullString)
			if ns.Valid {
				b.WriteString(ns.String)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating result rows: %w", err)
	}
	return b.String(), nil
}

func cmdWinRMCmd(ctx context.Context, rt *Runtime, st *task.Step) error {
	name, err := rt.resolveRequiredParam(st, "conn_name")
	if err != nil {
		return err
	}
	command, err := rt.resolveRequiredParam(st, "command")
	if err != nil {
		return err
	}
	conn, ok := rt.conns.Get(name)
	if !ok {
		return fmt.Errorf("connection [%s] is not open", name)
	}
	wc, ok := conn.(*connection.WinRMConnection)
	if !ok {
		return fmt.Errorf("connection [%s] (%s) is not a winrm connection", name, conn.Type())
	}
	stdout, stderr, code, err := wc.Run(ctx, command)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("winrm command exited [%d]: %s", code, strings.TrimSpace(stderr))
	}
	rt.storeCommandOutput(st, st.Param("result_variable"), stdout)
	rt.log.Write(ctx, st.ID, name, st.Function, fmt.Sprintf("%s\n%s", command, stdout))
	return nil
}
