package mcpsrv

import (
	"context"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/internal/config"
	"github.com/usestring/trafficlab/pkg/client"
)

// Executor sends replayed requests. *client.Client implements it.
type Executor interface {
	Do(ctx context.Context, req client.Request) (*client.Response, error)
}

// serverConfig holds configuration built from options.
type serverConfig struct {
	config *config.Config

	// Logging overrides
	logLevel string
	logFile  string

	// Component overrides
	executor Executor

	// Extension toggles
	disableBuiltinTools   bool
	disableBuiltinPrompts bool
	disableHTTP           bool

	// Custom extensions - registration callbacks that preserve generic type info
	toolRegistrations     []func(*mcp.Server)
	promptRegistrations   []func(*mcp.Server)
	resourceRegistrations []func(*mcp.Server)

	// Deferred tool registrations that need access to Deps
	deferredToolRegistrations []func(*mcp.Server, *Deps)
}

// Option configures the server.
type Option func(*serverConfig)

// WithLogLevel sets the log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(cfg *serverConfig) {
		cfg.logLevel = level
	}
}

// WithLogFile sets the log file path.
// If empty, logs are written to stderr only.
func WithLogFile(path string) Option {
	return func(cfg *serverConfig) {
		cfg.logFile = path
	}
}

// WithCertDir overrides CERT_DIR.
func WithCertDir(dir string) Option {
	return func(cfg *serverConfig) {
		cfg.config.CertDir = dir
	}
}

// WithStorageDSN overrides STORAGE_DSN. A file path or ":memory:" enables the
// session archive.
func WithStorageDSN(dsn string) Option {
	return func(cfg *serverConfig) {
		cfg.config.StorageDSN = dsn
	}
}

// WithHTTPAddr overrides HTTP_ADDR, the listen address of the side channel.
func WithHTTPAddr(addr string) Option {
	return func(cfg *serverConfig) {
		cfg.config.HTTPAddr = addr
	}
}

// WithoutHTTP disables the side channel even when HTTP_ADDR is set.
func WithoutHTTP() Option {
	return func(cfg *serverConfig) {
		cfg.disableHTTP = true
	}
}

// WithReplayExecutor replaces the HTTP client used for replays.
func WithReplayExecutor(x Executor) Option {
	return func(cfg *serverConfig) {
		cfg.executor = x
	}
}

// WithoutBuiltinTools disables all builtin trafficlab tools and resources.
// Use this if you want to register only your own tools.
func WithoutBuiltinTools() Option {
	return func(cfg *serverConfig) {
		cfg.disableBuiltinTools = true
	}
}

// WithoutBuiltinPrompts disables all builtin trafficlab prompts.
func WithoutBuiltinPrompts() Option {
	return func(cfg *serverConfig) {
		cfg.disableBuiltinPrompts = true
	}
}

// WithTool registers a custom tool with the server.
//
// The handler signature must match the MCP SDK pattern:
//
//	func(ctx context.Context, req *mcp.CallToolRequest, input T) (*mcp.CallToolResult, Out, error)
//
// Where T is the input type (will be unmarshaled from JSON) and Out is the
// output type (will be marshaled to JSON).
//
// Example:
//
//	type PingInput struct {
//	    Host string `json:"host"`
//	}
//
//	type PingOutput struct {
//	    Reachable bool `json:"reachable"`
//	}
//
//	func ping(ctx context.Context, req *mcp.CallToolRequest, input PingInput) (*mcp.CallToolResult, PingOutput, error) {
//	    return nil, PingOutput{Reachable: true}, nil
//	}
//
//	mcpsrv.WithTool(&mcp.Tool{Name: "ping", Description: "Check a host"}, ping)
func WithTool[In, Out any](tool *mcp.Tool, handler func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error)) Option {
	return func(cfg *serverConfig) {
		cfg.toolRegistrations = append(cfg.toolRegistrations, func(srv *mcp.Server) {
			AddTool(srv, tool, handler)
		})
	}
}

// WithDepsTool registers a custom tool that has access to Deps.
// Use this when your tool needs the capture store, replay engine, or other
// infrastructure.
//
// The builder receives Deps and returns a handler function.
//
// Example:
//
//	mcpsrv.WithDepsTool(
//	    &mcp.Tool{Name: "cached_count", Description: "Count cached events"},
//	    func(d *mcpsrv.Deps) func(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, CountOutput, error) {
//	        return func(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, CountOutput, error) {
//	            return nil, CountOutput{Count: d.Cache.Len()}, nil
//	        }
//	    },
//	)
func WithDepsTool[In, Out any](tool *mcp.Tool, builder func(*Deps) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error)) Option {
	return func(cfg *serverConfig) {
		cfg.deferredToolRegistrations = append(cfg.deferredToolRegistrations, func(srv *mcp.Server, deps *Deps) {
			AddTool(srv, tool, builder(deps))
		})
	}
}

// WithPrompt registers a custom prompt with the server.
//
// The handler signature matches the MCP SDK pattern:
//
//	func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
func WithPrompt(prompt *mcp.Prompt, handler func(context.Context, *mcp.GetPromptRequest) (*mcp.GetPromptResult, error)) Option {
	return func(cfg *serverConfig) {
		cfg.promptRegistrations = append(cfg.promptRegistrations, func(srv *mcp.Server) {
			srv.AddPrompt(prompt, handler)
		})
	}
}

// WithResourceTemplate registers a custom resource template with the server.
//
// The handler signature matches the MCP SDK pattern:
//
//	func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
func WithResourceTemplate(template *mcp.ResourceTemplate, handler func(context.Context, *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)) Option {
	return func(cfg *serverConfig) {
		cfg.resourceRegistrations = append(cfg.resourceRegistrations, func(srv *mcp.Server) {
			srv.AddResourceTemplate(template, handler)
		})
	}
}
