package suite

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagecheck/horosafe"
	"github.com/hazyhaar/pagecheck/kit"
)

// RunnerFactory builds a Runner for targetURL ("" = configured target).
type RunnerFactory func(targetURL string) (*Runner, error)

type runRequest struct {
	TargetURL string `json:"target_url"`
}

// RegisterMCP exposes the suite as the pagecheck_execute tool. A failed run is a
// normal result carrying its failed steps; only a run that could not execute
// is a tool error.
func RegisterMCP(srv *mcp.Server, factory RunnerFactory) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagecheck_execute",
		Description: "Run the pagecheck suite (navigate, extract, observe, screenshots, self-healing action) against a URL and return the step results.",
		InputSchema: kit.InputSchema(map[string]any{
			"target_url": map[string]any{"type": "string", "description": "URL to check (default: configured target)"},
		}, nil),
	}, kit.Chain(kit.Logging(nil, "pagecheck_execute"))(func(ctx context.Context, req any) (any, error) {
		r := req.(*runRequest)
		if r.TargetURL != "" {
			if err := horosafe.ValidateTargetURL(r.TargetURL); err != nil {
				return nil, err
			}
		}
		runner, err := factory(r.TargetURL)
		if err != nil {
			return nil, err
		}
		run, err := runner.Run(ctx)
		if err != nil && !errors.Is(err, ErrRunFailed) {
			return nil, err
		}
		return run, nil
	}), kit.DecodeJSON[runRequest]())
}

