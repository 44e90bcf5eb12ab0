package prompts

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// HandleSetupInterception implements the HTTPS interception setup workflow.
func HandleSetupInterception(cfg *Config) func(ctx context.Context, req *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
	return func(ctx context.Context, req *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
		args := req.Params.Arguments
		domain := args["domain"]
		port := args["listen_port"]
		if port == "" {
			port = "8080"
		}

		var sb strings.Builder

		sb.WriteString("# Set Up HTTPS Interception\n\n")
		sb.WriteString("Intercepting HTTPS needs a root CA that clients trust and an intercepting proxy that signs host certificates with it. ")
		sb.WriteString(fmt.Sprintf("Certificates live in `%s`.\n\n", cfg.CertDir))

		sb.WriteString("## Workflow Steps\n\n")
		sb.WriteString("1. **Check the CA**: `cert_status`. Skip to step 3 when the state is `trusted`\n")
		sb.WriteString("2. **Create the CA** when the state is `not_generated` or `expired`\n")
		sb.WriteString("   - If the result says `degraded`, openssl was missing: install it and generate again before trusting\n")
		sb.WriteString("3. **Trust the CA** with `cert_trust`\n")
		sb.WriteString("   - Failure usually means missing privileges; the error includes the trust tool's output\n")
		sb.WriteString("   - For a single client, `cert_export` the PEM and configure that client instead\n")
		sb.WriteString("4. **Start the proxy** with `capture_start(tool=\"mitmdump\")`\n")
		sb.WriteString(fmt.Sprintf("5. **Point the client** at `http://127.0.0.1:%s` as its HTTP and HTTPS proxy\n", port))
		sb.WriteString("6. **Verify** with `capture_session_stats` after the client makes a request\n\n")

		sb.WriteString("## Suggested Tools\n\n")
		sb.WriteString("```\n")
		sb.WriteString("cert_status()\n")
		sb.WriteString("cert_generate_root(options={common_name: \"trafficlab CA\"})\n")
		sb.WriteString("cert_trust()\n")
		if domain != "" {
			sb.WriteString(fmt.Sprintf("capture_start(tool=\"mitmdump\", listen_port=%s, filter={domains: [\"%s\"]})\n", port, domain))
		} else {
			sb.WriteString(fmt.Sprintf("capture_start(tool=\"mitmdump\", listen_port=%s)\n", port))
		}
		sb.WriteString("capture_session_stats(session_id=\"<session_id>\")\n")
		sb.WriteString("```\n\n")

		sb.WriteString("## Troubleshooting\n\n")
		sb.WriteString("- `packets: 0` after traffic: the client is not using the proxy\n")
		sb.WriteString("- Packets but no events: the session filter excludes them. Check with `capture_update_filter(filter={})`\n")
		sb.WriteString("- TLS errors in the client: the CA is not trusted by that client. Some runtimes keep their own trust store\n")
		sb.WriteString("- Certificate pinning cannot be bypassed by a trusted CA\n")

		return &sdkmcp.GetPromptResult{
			Description: "HTTPS interception setup workflow",
			Messages: []*sdkmcp.PromptMessage{
				{
					Role:    "user",
					Content: &sdkmcp.TextContent{Text: sb.String()},
				},
			},
		}, nil
	}
}
