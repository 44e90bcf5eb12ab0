package tools

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/internal/compare"
	"github.com/usestring/trafficlab/pkg/bodyquery"
	"github.com/usestring/trafficlab/pkg/types"
)

// QueryBodyInput is the input for query_body.
type QueryBodyInput struct {
	EventID    string `json:"event_id,omitempty" jsonschema:"Captured event whose body to query"`
	ReplayID   string `json:"replay_id,omitempty" jsonschema:"Replay result whose body to query (instead of event_id)"`
	Side       string `json:"side,omitempty" jsonschema:"'response' (default), 'request', or 'original' for the captured response stored with a replay"`
	Expression string `json:"expression" jsonschema:"jq filter, CSS selector, XPath, regex or form key depending on mode"`
	Mode       string `json:"mode,omitempty" jsonschema:"jq, css, xpath, regex or form. Default depends on the body: jq for JSON/YAML, css for HTML, xpath for XML, form for urlencoded, regex otherwise"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Max values (default: 50)"`
}

// QueryBodyOutput is the output for query_body.
type QueryBodyOutput struct {
	Mode      string   `json:"mode"`
	Kind      string   `json:"kind"`
	Values    []any    `json:"values,omitzero"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Hint      string   `json:"hint,omitempty"`
}

// SchemaDriftInput is the input for replay_schema_drift.
type SchemaDriftInput struct {
	ReplayID      string `json:"replay_id" jsonschema:"Replay result ID"`
	IncludeSchema bool   `json:"include_schema,omitempty" jsonschema:"Return the schema inferred from the captured body"`
}

// SchemaDriftOutput is the output for replay_schema_drift.
type SchemaDriftOutput struct {
	Drift *types.SchemaDrift `json:"drift,omitempty"`
	Hint  string             `json:"hint,omitempty"`
}

const defaultQueryLimit = 50

// ToolQueryBody extracts values from a captured or replayed body.
func ToolQueryBody(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input QueryBodyInput) (*sdkmcp.CallToolResult, QueryBodyOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input QueryBodyInput) (*sdkmcp.CallToolResult, QueryBodyOutput, error) {
		body, contentType, err := d.resolveBody(input)
		if err != nil {
			return nil, QueryBodyOutput{}, err
		}
		limit := input.Limit
		if limit <= 0 {
			limit = defaultQueryLimit
		}

		res, err := d.BodyQuery.Query(bodyquery.Request{
			Body:        body,
			ContentType: contentType,
			Expression:  input.Expression,
			Mode:        bodyquery.Mode(input.Mode),
			Limit:       limit,
		})
		if err != nil {
			return nil, QueryBodyOutput{}, WrapError(err)
		}

		out := QueryBodyOutput{
			Mode:      string(res.Mode),
			Kind:      string(res.Kind),
			Values:    res.Values,
			Count:     res.Count,
			Truncated: res.Truncated,
			Errors:    res.Errors,
		}
		switch {
		case res.Truncated:
			out.Hint = hintf("Stopped at %d values. Raise limit or narrow the expression.", limit)
		case res.Count == 0 && len(body) == 0:
			out.Hint = "The body is empty."
		case res.Count == 0:
			out.Hint = hintf("No match in a %d byte %s body.", len(body), res.Kind)
		}
		return nil, out, nil
	}
}

// ToolSchemaDrift checks whether a replayed body still fits the structure of
// the captured one.
func ToolSchemaDrift(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input SchemaDriftInput) (*sdkmcp.CallToolResult, SchemaDriftOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input SchemaDriftInput) (*sdkmcp.CallToolResult, SchemaDriftOutput, error) {
		res, err := d.Replay.Get(input.ReplayID)
		if err != nil {
			return nil, SchemaDriftOutput{}, WrapError(err)
		}
		drift, err := compare.SchemaDrift(res)
		if err != nil {
			return nil, SchemaDriftOutput{}, WrapError(err)
		}
		if !input.IncludeSchema {
			drift.Schema = nil
		}

		out := SchemaDriftOutput{Drift: drift}
		switch {
		case !drift.Comparable:
			out.Hint = drift.Reason + "."
		case drift.Valid:
			out.Hint = "The replayed body has the same structure as the capture; differences are in values only."
		default:
			out.Hint = hintf("%d structural differences. Each error names the JSON pointer that no longer matches.", len(drift.Errors))
		}
		return nil, out, nil
	}
}

func (d *Deps) resolveBody(input QueryBodyInput) ([]byte, string, error) {
	switch {
	case input.ReplayID != "" && input.EventID != "":
		return nil, "", ErrInvalidInput("set either event_id or replay_id, not both")
	case input.ReplayID != "":
		res, err := d.Replay.Get(input.ReplayID)
		if err != nil {
			return nil, "", WrapError(err)
		}
		var resp *types.ReplayResponse
		switch input.Side {
		case "", "response":
			resp = res.Response
		case "original":
			resp = res.OriginalResponse
		case "request":
			ct, _ := types.HeaderValue(res.Request.Headers, "Content-Type")
			return []byte(res.Request.Body), ct, nil
		default:
			return nil, "", ErrInvalidInput("side must be 'response', 'request' or 'original'")
		}
		if resp == nil {
			return nil, "", &CodedError{Code: ErrCodePrecondition, Message: "replay has no " + sideName(input.Side) + " response"}
		}
		ct, _ := types.HeaderValue(resp.Headers, "Content-Type")
		return []byte(resp.Body), ct, nil
	case input.EventID != "":
		ev, err := d.FetchEvent(input.EventID)
		if err != nil {
			return nil, "", err
		}
		switch input.Side {
		case "", "response":
			ct, _ := types.HeaderValue(ev.ResponseHeaders, "Content-Type")
			return []byte(ev.ResponseBody), ct, nil
		case "request":
			ct, _ := types.HeaderValue(ev.RequestHeaders, "Content-Type")
			return []byte(ev.RequestBody), ct, nil
		default:
			return nil, "", ErrInvalidInput("side must be 'response' or 'request' for a captured event")
		}
	}
	return nil, "", ErrInvalidInput("event_id or replay_id is required")
}

func sideName(side string) string {
	if side == "original" {
		return "captured"
	}
	return "replayed"
}
