package backend

import (
	"context"

	"github.com/gatelet/gatelet/pkgs/mcp"
)

// A Backend is the call surface of one mounted tool provider.
type Backend interface {

	// CallTool invokes the given local (unprefixed) tool.
	CallTool(ctx context.Context, tool string, args map[string]any) (*mcp.CallResult, error)

	// ListTools returns the tools the backend exposes.
	ListTools(ctx context.Context) (mcp.Tools, error)
}

// Handlers receive raw child notifications from a backend, before
// any origin attribution.
type Handlers struct {
	OnResourceUpdated func(uri string)
	OnListChanged     func()
}
