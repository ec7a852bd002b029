// Package query implements Bedrock's minimal built-in plugin: just enough
// of a data plugin to exercise the database.Database/Tx seam end to end
// (select via Peek, insert via Process). It is not a query language (see
// SPEC_FULL.md Non-goals) — "table"/"action"/"id"/"columns" are plain
// request fields, not parsed SQL.
package query

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
	"github.com/bedrockdb/bedrock/plugin"
)

const (
	fieldAction  = "action"
	fieldTable   = "table"
	fieldID      = "id"
	fieldColumns = "columns"

	actionSelect = "select"
	actionInsert = "insert"
)

// Plugin answers "Query" commands: action=select reads a table in Peek
// (read-only, never touches Process); action=insert writes a row in
// Process under the open transaction.
type Plugin struct {
	plugin.BasePlugin
	node plugin.NodeRef
}

// New is a plugin.Factory.
func New(n plugin.NodeRef) plugin.Plugin {
	return &Plugin{node: n}
}

func (p *Plugin) Name() string { return "query" }

func (p *Plugin) Peek(db database.Database, cmd *core.Command) (bool, error) {
	if cmd.Request[core.HeaderMethodLine] != "Query" {
		return false, nil
	}
	if cmd.Request[fieldAction] != actionSelect {
		return false, nil
	}

	table, abortErr := plugin.VerifyAttributeSize(cmd.Request, fieldTable, 1, 128)
	if abortErr != nil {
		return false, abortErr
	}

	rows, err := db.Query(context.Background(), table)
	if err != nil {
		return false, err
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return false, err
	}
	cmd.Response.Status = core.StatusOK
	cmd.Response.Body = body
	return true, nil
}

func (p *Plugin) Process(tx database.Tx, cmd *core.Command) (bool, error) {
	if cmd.Request[core.HeaderMethodLine] != "Query" {
		return false, nil
	}
	if cmd.Request[fieldAction] != actionInsert {
		return false, nil
	}

	table, abortErr := plugin.VerifyAttributeSize(cmd.Request, fieldTable, 1, 128)
	if abortErr != nil {
		return false, abortErr
	}
	id, abortErr := plugin.VerifyAttributeSize(cmd.Request, fieldID, 1, 256)
	if abortErr != nil {
		return false, abortErr
	}

	row := database.Row{"id": id}
	for _, kv := range strings.Split(cmd.Request[fieldColumns], ",") {
		if kv == "" {
			continue
		}
		k, v, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		row[k] = v
	}

	if _, err := tx.Exec(context.Background(), table, row); err != nil {
		return false, err
	}
	cmd.Response.Status = core.StatusOK
	return true, nil
}

// ShouldEnableQueryRewriting installs a trivial normalizer: lowercases and
// trims the incoming table name. Exists to exercise the hook, not to be a
// real rewriter.
func (p *Plugin) ShouldEnableQueryRewriting() (plugin.RewriteHandler, bool) {
	return func(q string) (string, error) {
		return strings.TrimSpace(strings.ToLower(q)), nil
	}, true
}
