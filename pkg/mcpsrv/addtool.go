package mcpsrv

import (
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/internal/mcp/tools"
)

// AddTool registers a tool after checking that the zero value of Out passes
// the output schema the SDK infers for it. A nil slice or map field marshals
// to null and would fail every call at runtime; AddTool panics at startup
// instead, naming the field to mark omitzero or omitempty.
//
// Custom tools passed to WithTool and WithDepsTool go through this check.
func AddTool[In, Out any](srv *sdkmcp.Server, t *sdkmcp.Tool, h sdkmcp.ToolHandlerFor[In, Out]) {
	tools.AddTool(srv, t, h)
}
