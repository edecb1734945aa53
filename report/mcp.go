package report

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagecheck/kit"
)

type runsRequest struct {
	Limit int `json:"limit"`
}

type runRequest struct {
	RunID string `json:"run_id"`
}

// RegisterMCP exposes run history as MCP tools:
//
//	pagecheck_runs  recent runs, newest first
//	pagecheck_run   one run with its steps
func RegisterMCP(srv *mcp.Server, store *Store) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagecheck_runs",
		Description: "List recent pagecheck runs, newest first, with their verdicts.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum number of runs (default 20)"},
		}, nil),
	}, kit.Chain(kit.Logging(nil, "pagecheck_runs"))(func(ctx context.Context, req any) (any, error) {
		r := req.(*runsRequest)
		runs, err := store.ListRuns(ctx, r.Limit)
		if err != nil {
			return nil, err
		}
		if runs == nil {
			runs = []*Run{}
		}
		return runs, nil
	}), kit.DecodeJSON[runsRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagecheck_run",
		Description: "Get one pagecheck run with the result of every step and its artifact paths.",
		InputSchema: kit.InputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run identifier"},
		}, []string{"run_id"}),
	}, kit.Chain(kit.Logging(nil, "pagecheck_run"))(func(ctx context.Context, req any) (any, error) {
		r := req.(*runRequest)
		return store.GetRun(ctx, r.RunID)
	}), kit.DecodeJSON[runRequest]())
}
