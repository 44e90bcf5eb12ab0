package tools

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/internal/compare"
	"github.com/usestring/trafficlab/internal/replay"
	"github.com/usestring/trafficlab/pkg/jsoncompact"
	"github.com/usestring/trafficlab/pkg/types"
)

// ReplayRequestInput is the input for replay_request.
type ReplayRequestInput struct {
	CaptureID       string            `json:"capture_id" jsonschema:"ID of the captured event to replay"`
	Target          string            `json:"target,omitempty" jsonschema:"'original' (default), 'custom' (requires custom_url) or the name of an environment from replay_environments"`
	CustomURL       string            `json:"custom_url,omitempty" jsonschema:"Absolute URL for target=custom"`
	HeaderOverrides map[string]string `json:"header_overrides,omitempty" jsonschema:"Headers to set. An empty value removes the header."`
	Body            *string           `json:"body,omitempty" jsonschema:"Replacement request body"`
	BodyPatches     map[string]any    `json:"body_patches,omitempty" jsonschema:"JSON body edits keyed by path, e.g. {\"user.id\": 7, \"items.0.qty\": 2}"`
	TimeoutMs       int               `json:"timeout_ms,omitempty" jsonschema:"Request timeout in ms (default: REPLAY_TIMEOUT_MS)"`
	FollowRedirects *bool             `json:"follow_redirects,omitempty" jsonschema:"Follow redirects (default: true)"`
	ValidateSSL     *bool             `json:"validate_ssl,omitempty" jsonschema:"Verify TLS certificates (default: true)"`
	Auth            *types.AuthConfig `json:"auth,omitempty" jsonschema:"Credentials: type 'basic' with username/password or 'bearer' with token"`
	BodyMode        string            `json:"body_mode,omitempty" jsonschema:"'compact' (default) or 'full' for the response bodies in the output"`
}

func (in ReplayRequestInput) config() types.ReplayConfig {
	return types.ReplayConfig{
		CaptureID:       in.CaptureID,
		Target:          in.Target,
		CustomURL:       in.CustomURL,
		HeaderOverrides: in.HeaderOverrides,
		Body:            in.Body,
		BodyPatches:     in.BodyPatches,
		Timeout:         time.Duration(in.TimeoutMs) * time.Millisecond,
		FollowRedirects: in.FollowRedirects,
		ValidateSSL:     in.ValidateSSL,
		Auth:            in.Auth,
	}
}

// ReplayResultOutput is the output of the tools that return one replay.
type ReplayResultOutput struct {
	Result    *types.ReplayResult `json:"result,omitempty"`
	Diff      *types.ResponseDiff `json:"diff,omitempty"`
	Compacted bool                `json:"compacted,omitempty"`
	Resource  *types.ResourceRef  `json:"resource,omitempty"`
	Hint      string              `json:"hint,omitempty"`
}

// ReplayMultipleInput is the input for replay_multiple.
type ReplayMultipleInput struct {
	Requests        []ReplayRequestInput `json:"requests" jsonschema:"Replays to run in order"`
	Target          string               `json:"target,omitempty" jsonschema:"Target applied to requests that do not name one"`
	ContinueOnError *bool                `json:"continue_on_error,omitempty" jsonschema:"Keep going after a failed replay (default: true)"`
	DelayMs         int                  `json:"delay_ms,omitempty" jsonschema:"Pause between replays in ms"`
	TimeoutMs       int                  `json:"timeout_ms,omitempty" jsonschema:"Per-request timeout in ms for requests without their own"`
}

// ReplaySummary is the compact form of a replay result.
type ReplaySummary struct {
	ID         string `json:"id"`
	CaptureID  string `json:"capture_id"`
	Target     string `json:"target"`
	TargetURL  string `json:"target_url,omitempty"`
	Timestamp  string `json:"timestamp"`
	Success    bool   `json:"success"`
	Status     int    `json:"status,omitempty"`
	TimingMs   int64  `json:"timing_ms,omitempty"`
	StatusDiff bool   `json:"status_differs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReplayListOutput is the output of replay_multiple and replay_history.
type ReplayListOutput struct {
	Replays []ReplaySummary `json:"replays,omitzero"`
	Hint    string          `json:"hint,omitempty"`
}

// ReplayHistoryInput is the input for replay_history.
type ReplayHistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Newest results to return (default: 50)"`
}

// ReplayIDInput addresses one replay result.
type ReplayIDInput struct {
	ReplayID string `json:"replay_id" jsonschema:"Replay result ID"`
	BodyMode string `json:"body_mode,omitempty" jsonschema:"'compact' (default) or 'full'"`
}

// ReplayCompareInput is the input for replay_compare.
type ReplayCompareInput struct {
	ReplayID      string   `json:"replay_id" jsonschema:"Replay result ID"`
	IgnoreNoise   bool     `json:"ignore_noise,omitempty" jsonschema:"Skip headers that vary between identical responses (date, etag, request ids, ...)"`
	IgnoreHeaders []string `json:"ignore_headers,omitempty" jsonschema:"Additional header names to skip"`
}

// ReplayCompareOutput is the output for replay_compare.
type ReplayCompareOutput struct {
	Comparable bool                `json:"comparable"`
	Diff       *types.ResponseDiff `json:"diff,omitempty"`
	Hint       string              `json:"hint,omitempty"`
}

// ReplayDeleteInput is the input for replay_delete.
type ReplayDeleteInput struct {
	ReplayID string `json:"replay_id,omitempty" jsonschema:"Replay result ID to delete"`
	All      bool   `json:"all,omitempty" jsonschema:"Delete the whole replay history instead"`
}

// ReplayDeleteOutput is the output for replay_delete.
type ReplayDeleteOutput struct {
	Deleted int `json:"deleted"`
}

// ReplayEnvironmentsInput is the input for replay_environments.
type ReplayEnvironmentsInput struct {
	Set *types.Environment `json:"set,omitempty" jsonschema:"Add or replace an environment (kept in memory until the environments file changes)"`
}

// ReplayEnvironmentsOutput is the output for replay_environments.
type ReplayEnvironmentsOutput struct {
	Environments []types.Environment `json:"environments,omitzero"`
}

// ToolReplayRequest replays one captured request.
func ToolReplayRequest(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayRequestInput) (*sdkmcp.CallToolResult, ReplayResultOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayRequestInput) (*sdkmcp.CallToolResult, ReplayResultOutput, error) {
		res, err := d.Replay.Replay(ctx, input.config())
		if err != nil {
			return nil, ReplayResultOutput{}, WrapError(err)
		}
		out, err := d.replayOutput(res, input.BodyMode)
		if err != nil {
			return nil, ReplayResultOutput{}, err
		}
		return nil, out, nil
	}
}

// ToolReplayMultiple replays several captured requests in order.
func ToolReplayMultiple(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayMultipleInput) (*sdkmcp.CallToolResult, ReplayListOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayMultipleInput) (*sdkmcp.CallToolResult, ReplayListOutput, error) {
		if len(input.Requests) == 0 {
			return nil, ReplayListOutput{}, ErrInvalidInput("requests must not be empty")
		}
		configs := make([]types.ReplayConfig, len(input.Requests))
		for i, r := range input.Requests {
			configs[i] = r.config()
		}
		opts := types.BatchOptions{
			ContinueOnError: input.ContinueOnError,
			Delay:           time.Duration(input.DelayMs) * time.Millisecond,
			Timeout:         time.Duration(input.TimeoutMs) * time.Millisecond,
		}

		results, err := d.Replay.ReplayMultiple(ctx, configs, input.Target, opts)
		out := ReplayListOutput{Replays: summarizeReplays(results)}
		if err != nil && len(results) == 0 {
			return nil, ReplayListOutput{}, WrapError(err)
		}

		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}
		out.Hint = hintf("%d of %d replays succeeded.", len(results)-failed, len(input.Requests))
		if len(results) < len(input.Requests) {
			out.Hint += " The batch stopped early."
		}
		if failed < len(results) {
			out.Hint += " Use replay_compare with a replay id to diff against the capture."
		}
		return nil, out, nil
	}
}

// ToolReplayHistory lists recent replay results.
func ToolReplayHistory(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayHistoryInput) (*sdkmcp.CallToolResult, ReplayListOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayHistoryInput) (*sdkmcp.CallToolResult, ReplayListOutput, error) {
		limit := input.Limit
		if limit <= 0 && d.Config != nil {
			limit = d.Config.DefaultHistoryLimit
		}
		results := d.Replay.History(limit)
		out := ReplayListOutput{Replays: summarizeReplays(results)}
		if len(results) == 0 {
			out.Hint = "No replays yet. Use replay_request with a capture id from capture_search."
		}
		return nil, out, nil
	}
}

// ToolReplayGet returns one replay result.
func ToolReplayGet(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayIDInput) (*sdkmcp.CallToolResult, ReplayResultOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayIDInput) (*sdkmcp.CallToolResult, ReplayResultOutput, error) {
		res, err := d.Replay.Get(input.ReplayID)
		if err != nil {
			return nil, ReplayResultOutput{}, WrapError(err)
		}
		out, err := d.replayOutput(res, input.BodyMode)
		if err != nil {
			return nil, ReplayResultOutput{}, err
		}
		return nil, out, nil
	}
}

// ToolReplayCompare diffs a replay against the captured response.
func ToolReplayCompare(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayCompareInput) (*sdkmcp.CallToolResult, ReplayCompareOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayCompareInput) (*sdkmcp.CallToolResult, ReplayCompareOutput, error) {
		opts := compare.Options{IgnoreHeaders: input.IgnoreHeaders}
		if input.IgnoreNoise {
			opts.IgnoreHeaders = append(append([]string{}, compare.DefaultIgnoreHeaders...), input.IgnoreHeaders...)
		}
		diff, err := d.Replay.CompareWithOriginal(input.ReplayID, opts)
		if err != nil {
			return nil, ReplayCompareOutput{}, WrapError(err)
		}
		if diff == nil {
			return nil, ReplayCompareOutput{
				Hint: "Nothing to compare: the replay failed or the capture has no response. Replays to target=original carry no snapshot; use replay_get to inspect the response.",
			}, nil
		}
		return nil, ReplayCompareOutput{Comparable: true, Diff: diff, Hint: diffHint(diff)}, nil
	}
}

// ToolReplayDelete removes replay results.
func ToolReplayDelete(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayDeleteInput) (*sdkmcp.CallToolResult, ReplayDeleteOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayDeleteInput) (*sdkmcp.CallToolResult, ReplayDeleteOutput, error) {
		if input.All {
			return nil, ReplayDeleteOutput{Deleted: d.Replay.ClearHistory()}, nil
		}
		if input.ReplayID == "" {
			return nil, ReplayDeleteOutput{}, ErrInvalidInput("replay_id is required unless all is set")
		}
		if err := d.Replay.Delete(input.ReplayID); err != nil {
			return nil, ReplayDeleteOutput{}, WrapError(err)
		}
		return nil, ReplayDeleteOutput{Deleted: 1}, nil
	}
}

// ToolReplayEnvironments lists replay environments, optionally adding one.
func ToolReplayEnvironments(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayEnvironmentsInput) (*sdkmcp.CallToolResult, ReplayEnvironmentsOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ReplayEnvironmentsInput) (*sdkmcp.CallToolResult, ReplayEnvironmentsOutput, error) {
		envs := d.Replay.Environments()
		if input.Set != nil {
			if err := envs.Set(*input.Set); err != nil {
				return nil, ReplayEnvironmentsOutput{}, WrapError(err)
			}
		}
		return nil, ReplayEnvironmentsOutput{Environments: envs.List()}, nil
	}
}

// replayOutput builds the tool view of a result. Bodies are compacted on a
// copy; the stored result is never modified.
func (d *Deps) replayOutput(res *types.ReplayResult, bodyMode string) (ReplayResultOutput, error) {
	out := ReplayResultOutput{
		Resource: &types.ResourceRef{
			URI:  ReplayURI(res.ID),
			MIME: MimeJSON,
			Hint: "Full result without compaction",
		},
	}

	view := *res
	switch bodyMode {
	case "", "compact":
		opts := d.CompactOptions()
		var changed bool
		view.Response, changed = compactResponse(res.Response, opts)
		out.Compacted = out.Compacted || changed
		view.OriginalResponse, changed = compactResponse(res.OriginalResponse, opts)
		out.Compacted = out.Compacted || changed
		view.Request.Body, changed = jsoncompact.Body(res.Request.Body, opts)
		out.Compacted = out.Compacted || changed
	case "full":
	default:
		return ReplayResultOutput{}, ErrInvalidInput("body_mode must be 'compact' or 'full'")
	}
	out.Result = &view

	if diff := compare.Responses(res.ID, res.OriginalResponse, res.Response, compare.Options{}); diff != nil {
		out.Diff = diff
		out.Hint = diffHint(diff)
	}
	switch {
	case !res.Success && replay.IsTimeout(res):
		out.Hint = "The replay timed out. Retry with a larger timeout_ms."
	case !res.Success:
		out.Hint = "The replay failed before a response arrived; see result.error."
	}
	return out, nil
}

func compactResponse(r *types.ReplayResponse, opts jsoncompact.Options) (*types.ReplayResponse, bool) {
	if r == nil {
		return nil, false
	}
	cp := *r
	var changed bool
	cp.Body, changed = jsoncompact.Body(r.Body, opts)
	return &cp, changed
}

func summarizeReplays(results []*types.ReplayResult) []ReplaySummary {
	out := make([]ReplaySummary, 0, len(results))
	for _, r := range results {
		s := ReplaySummary{
			ID:        r.ID,
			CaptureID: r.CaptureID,
			Target:    r.Target,
			TargetURL: r.TargetURL,
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
			Success:   r.Success,
			Error:     r.Error,
		}
		if r.Response != nil {
			s.Status = r.Response.Status
			s.TimingMs = r.Response.TimingMs
			if r.OriginalResponse != nil {
				s.StatusDiff = r.OriginalResponse.Status != r.Response.Status
			}
		}
		out = append(out, s)
	}
	return out
}

func diffHint(diff *types.ResponseDiff) string {
	if diff.StatusMatch && diff.BodyMatch && diff.Headers.Empty() {
		return "The replayed response matches the capture."
	}
	var parts []string
	if !diff.StatusMatch {
		parts = append(parts, hintf("status %d became %d", diff.OriginalStatus, diff.ReplayStatus))
	}
	if !diff.BodyMatch {
		parts = append(parts, hintf("body differs (%+d bytes)", diff.BodySizeDelta))
	}
	if n := len(diff.Headers.Added) + len(diff.Headers.Removed) + len(diff.Headers.Changed); n > 0 {
		parts = append(parts, hintf("%d headers differ", n))
	}
	hint := "Drift: " + joinHint(parts) + "."
	if !diff.BodyMatch {
		hint += " Run replay_schema_drift to check whether the body structure changed."
	}
	return hint
}

func joinHint(parts []string) string {
	switch len(parts) {
	case 0:
		return "none"
	case 1:
		return parts[0]
	}
	out := parts[0]
	for _, p := range parts[1 : len(parts)-1] {
		out += ", " + p
	}
	return out + " and " + parts[len(parts)-1]
}
