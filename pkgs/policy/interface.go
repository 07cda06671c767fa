package policy

import (
	"context"

	"github.com/gatelet/gatelet/pkgs/mcp"
	"github.com/gatelet/gatelet/pkgs/policy/api"
)

// An Evaluator is the interface of objects that can decide the fate
// of one tool call. Implementations must be safe for concurrent use
// and must honor context cancellation: a non-responding evaluator is
// an evaluator error, never a silent allow.
type Evaluator interface {
	Evaluate(context.Context, api.Request) (api.Response, error)
}

// A Dispatcher is the call surface the gateway forwards allowed
// calls to. The compositor implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error)
}
