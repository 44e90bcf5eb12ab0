package prompts

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// HandleDebugReplayDrift implements the replay drift workflow.
func HandleDebugReplayDrift(cfg *Config) func(ctx context.Context, req *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
	return func(ctx context.Context, req *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
		args := req.Params.Arguments
		query := args["query"]
		captureID := args["capture_id"]
		target := args["target"]
		if target == "" {
			target = "original"
		}

		var sb strings.Builder

		sb.WriteString("# Debug Replay Drift\n\n")
		sb.WriteString("You are an HTTP debugging expert. A request that worked when it was captured now behaves differently. ")
		sb.WriteString("Your goal is to replay it, pin down exactly what changed in the response, and explain the cause.\n\n")

		sb.WriteString("## Context Usage Guide\n\n")
		sb.WriteString("- Tool outputs compact bodies (long arrays and strings trimmed). That is enough for most comparisons\n")
		sb.WriteString("- Read `trafficlab://event/{id}` or `trafficlab://replay/{id}` only when you need a complete body\n")
		sb.WriteString("- `replay_compare` and `replay_schema_drift` do the diffing for you; avoid comparing bodies by hand\n\n")

		sb.WriteString("## Workflow Steps\n\n")
		sb.WriteString("1. **Find the captured request**\n")
		if captureID != "" {
			sb.WriteString(fmt.Sprintf("   - Already known: `%s`. Skip to step 2.\n", captureID))
		} else {
			sb.WriteString("   - Prefer a 2xx capture; a failing capture has nothing useful to compare against\n")
			if !cfg.BodyIndexEnabled {
				sb.WriteString("   - Body indexing is off, so search by URL and header terms only\n")
			}
		}
		sb.WriteString("2. **Replay it** against the target\n")
		sb.WriteString("   - A failed replay (`success: false`) is a result, not an error: read its `error` field first\n")
		sb.WriteString("3. **Compare** the replayed response with the captured one\n")
		sb.WriteString("   - Start with `ignore_noise: true` so date, etag and request-id headers do not drown the signal\n")
		sb.WriteString("4. **Check structure** when the body differs\n")
		sb.WriteString("   - `valid: true` means only values changed; errors name the JSON pointer that no longer matches\n")
		sb.WriteString("5. **Drill into values** with `query_body` on both sides (`side: \"original\"` and `side: \"response\"`)\n")
		sb.WriteString("6. **Test a fix** by replaying with `header_overrides` or `body_patches` and comparing again\n\n")

		sb.WriteString("## Suggested Tools\n\n")
		sb.WriteString("```\n")
		sb.WriteString("# Step 1: Find the captured request\n")
		switch {
		case captureID != "":
			sb.WriteString(fmt.Sprintf("capture_get_event(event_id=\"%s\")\n", captureID))
		case query != "":
			sb.WriteString(fmt.Sprintf("capture_search(query=\"%s\", filter={status_codes: [200, 201, 204]})\n", query))
		default:
			sb.WriteString("capture_search(query=\"<path or host terms>\", filter={status_codes: [200, 201, 204]})\n")
		}
		sb.WriteString("\n")

		if captureID == "" {
			captureID = "<event_id>"
		}
		sb.WriteString("# Step 2: Replay\n")
		sb.WriteString(fmt.Sprintf("replay_request(capture_id=\"%s\", target=\"%s\")\n\n", captureID, target))

		sb.WriteString("# Step 3: Compare\n")
		sb.WriteString("replay_compare(replay_id=\"<replay_id>\", ignore_noise=true)\n\n")

		sb.WriteString("# Step 4: Structural drift\n")
		sb.WriteString("replay_schema_drift(replay_id=\"<replay_id>\")\n\n")

		sb.WriteString("# Step 5: Values on both sides\n")
		sb.WriteString("query_body(replay_id=\"<replay_id>\", side=\"original\", expression=\".data\")\n")
		sb.WriteString("query_body(replay_id=\"<replay_id>\", side=\"response\", expression=\".data\")\n\n")

		sb.WriteString("# Step 6: Retry with a fix\n")
		sb.WriteString(fmt.Sprintf("replay_request(capture_id=\"%s\", target=\"%s\", header_overrides={\"Authorization\": \"Bearer <token>\"})\n", captureID, target))
		sb.WriteString("```\n\n")

		sb.WriteString("## Reading the Diff\n\n")
		sb.WriteString("| Signal | Likely cause |\n")
		sb.WriteString("|--------|-------------|\n")
		sb.WriteString("| 401/403 where capture had 2xx | Expired credentials or cookies. Override `Authorization`/`Cookie` |\n")
		sb.WriteString("| 404 only on a non-original target | Path differs between environments. Check the environment base URL |\n")
		sb.WriteString("| Same status, `valid: false` | Response contract changed. Report the failing JSON pointers |\n")
		sb.WriteString("| Same status, `valid: true`, body differs | Data changed, not the API. Usually not a bug |\n")
		sb.WriteString("| Large `timing_diff_ms` | Backend slowness. Replay a few times before concluding |\n")
		sb.WriteString("| Headers added/removed only | Caching or proxy configuration differences |\n\n")

		sb.WriteString("## Expected Output Format\n\n")
		sb.WriteString("1. **Verdict**: one sentence (regression, environment difference, expected data change, or flaky)\n")
		sb.WriteString("2. **Evidence**: status change, the relevant header changes, and structural errors with their JSON pointers\n")
		sb.WriteString("3. **Fix**: the override or patch that made the replay match, if one was found\n")

		return &sdkmcp.GetPromptResult{
			Description: "Replay drift debugging workflow",
			Messages: []*sdkmcp.PromptMessage{
				{
					Role:    "user",
					Content: &sdkmcp.TextContent{Text: sb.String()},
				},
			},
		}, nil
	}
}
