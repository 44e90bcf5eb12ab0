package prompts

import (
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Register registers all prompts with the MCP server.
func Register(srv *sdkmcp.Server, cfg *Config) {
	srv.AddPrompt(&sdkmcp.Prompt{
		Name:        "debug_replay_drift",
		Description: "RECOMMENDED: Find out why an endpoint behaves differently than when it was captured. Walks through search, replay, compare and schema drift with the tool calls to make.",
		Arguments: []*sdkmcp.PromptArgument{
			{
				Name:        "query",
				Description: "Search terms for the captured request (e.g. 'api users')",
				Required:    false,
			},
			{
				Name:        "capture_id",
				Description: "Captured event ID, if already known",
				Required:    false,
			},
			{
				Name:        "target",
				Description: "Replay target: original, a URL, or an environment name (e.g. 'staging')",
				Required:    false,
			},
		},
	}, HandleDebugReplayDrift(cfg))

	srv.AddPrompt(&sdkmcp.Prompt{
		Name:        "setup_interception",
		Description: "Set up HTTPS interception: create and trust the root CA, then start an intercepting capture.",
		Arguments: []*sdkmcp.PromptArgument{
			{
				Name:        "domain",
				Description: "Domain to capture (e.g. 'api.example.com' or '*.example.com')",
				Required:    false,
			},
			{
				Name:        "listen_port",
				Description: "Proxy listen port (default 8080)",
				Required:    false,
			},
		},
	}, HandleSetupInterception(cfg))
}
