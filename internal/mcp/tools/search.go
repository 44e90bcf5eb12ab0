package tools

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/pkg/jsoncompact"
	"github.com/usestring/trafficlab/pkg/types"
)

// CaptureSearchInput is the input for capture_search.
type CaptureSearchInput struct {
	SessionID    string              `json:"session_id,omitempty" jsonschema:"Restrict to one capture session (default: all sessions)"`
	Query        string              `json:"query,omitempty" jsonschema:"Free text search across URLs, headers and, when body indexing is enabled, bodies. Tokens are ANDed."`
	Filter       types.TrafficFilter `json:"filter,omitzero" jsonschema:"Structured filter with the same semantics as a session filter"`
	SinceMs      int64               `json:"since_ms,omitempty" jsonschema:"Unix timestamp (ms) lower bound"`
	UntilMs      int64               `json:"until_ms,omitempty" jsonschema:"Unix timestamp (ms) upper bound"`
	TimeWindowMs int64               `json:"time_window_ms,omitempty" jsonschema:"Relative time window (ms from now)"`
	Limit        int                 `json:"limit,omitempty" jsonschema:"Max results (default: 20, max: 100)"`
	Offset       int                 `json:"offset,omitempty" jsonschema:"Pagination offset"`
}

// CaptureSearchOutput is the output for capture_search.
type CaptureSearchOutput struct {
	Results       []types.SearchResult `json:"results,omitzero"`
	TotalHint     int                  `json:"total_hint,omitempty"`
	SearchedScope *types.SearchScope   `json:"searched_scope,omitempty"`
	Hint          string               `json:"hint,omitempty"`
}

// CaptureGetEventInput is the input for capture_get_event.
type CaptureGetEventInput struct {
	EventID  string `json:"event_id" jsonschema:"Captured event ID"`
	BodyMode string `json:"body_mode,omitempty" jsonschema:"'compact' (default) trims long arrays and strings, 'full' returns bodies unchanged"`
}

// CaptureGetEventOutput is the output for capture_get_event.
type CaptureGetEventOutput struct {
	Summary         *types.EventSummary `json:"summary,omitempty"`
	RequestHeaders  map[string]string   `json:"request_headers,omitempty"`
	RequestBody     string              `json:"request_body,omitempty"`
	ResponseHeaders map[string]string   `json:"response_headers,omitempty"`
	ResponseBody    string              `json:"response_body,omitempty"`
	Compacted       bool                `json:"compacted,omitempty"`
	Resource        *types.ResourceRef  `json:"resource,omitempty"`
}

// ToolCaptureSearch searches captured events.
func ToolCaptureSearch(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSearchInput) (*sdkmcp.CallToolResult, CaptureSearchOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSearchInput) (*sdkmcp.CallToolResult, CaptureSearchOutput, error) {
		searchReq := &types.SearchRequest{
			SessionID: input.SessionID,
			Query:     input.Query,
			Filter:    input.Filter,
			SinceMs:   input.SinceMs,
			UntilMs:   input.UntilMs,
			Limit:     input.Limit,
			Offset:    input.Offset,
		}
		if input.TimeWindowMs > 0 && searchReq.SinceMs == 0 {
			searchReq.SinceMs = time.Now().UnixMilli() - input.TimeWindowMs
		}

		resp, err := d.Search.Search(ctx, searchReq)
		if err != nil {
			return nil, CaptureSearchOutput{}, WrapError(err)
		}

		out := CaptureSearchOutput{
			Results:       resp.Results,
			TotalHint:     resp.TotalHint,
			SearchedScope: resp.Scope,
		}
		switch {
		case resp.TotalHint == 0 && d.Indexer.DocCount() == 0:
			out.Hint = "Nothing has been captured yet. Start a session with capture_start or load a HAR with import_har."
		case resp.TotalHint == 0:
			out.Hint = hintf("No match among %d indexed events. Loosen the filter or the query.", d.Indexer.DocCount())
		case resp.TotalHint > len(resp.Results)+searchReq.Offset:
			out.Hint = hintf("Showing %d of %d matches. Use offset to page.", len(resp.Results), resp.TotalHint)
		}
		if resp.Scope != nil && !resp.Scope.BodyIndexEnabled && input.Query != "" && out.Hint == "" {
			out.Hint = "Body text is not indexed (INDEX_BODY=false); the query matched URLs and headers only."
		}
		return nil, out, nil
	}
}

// ToolCaptureGetEvent returns one captured event with its bodies.
func ToolCaptureGetEvent(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureGetEventInput) (*sdkmcp.CallToolResult, CaptureGetEventOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureGetEventInput) (*sdkmcp.CallToolResult, CaptureGetEventOutput, error) {
		ev, err := d.FetchEvent(input.EventID)
		if err != nil {
			return nil, CaptureGetEventOutput{}, err
		}

		out := CaptureGetEventOutput{
			Summary:         Summarize(ev),
			RequestHeaders:  ev.RequestHeaders,
			RequestBody:     ev.RequestBody,
			ResponseHeaders: ev.ResponseHeaders,
			ResponseBody:    ev.ResponseBody,
			Resource: &types.ResourceRef{
				URI:  EventURI(ev.ID),
				MIME: MimeJSON,
				Hint: "Full event without compaction",
			},
		}
		switch input.BodyMode {
		case "", "compact":
			opts := d.CompactOptions()
			var reqChanged, respChanged bool
			out.RequestBody, reqChanged = jsoncompact.Body(ev.RequestBody, opts)
			out.ResponseBody, respChanged = jsoncompact.Body(ev.ResponseBody, opts)
			out.Compacted = reqChanged || respChanged
		case "full":
		default:
			return nil, CaptureGetEventOutput{}, ErrInvalidInput("body_mode must be 'compact' or 'full'")
		}
		return nil, out, nil
	}
}
