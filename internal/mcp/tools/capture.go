package tools

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/pkg/types"
)

// CaptureStartInput is the input for capture_start.
type CaptureStartInput struct {
	Tool           string              `json:"tool,omitempty" jsonschema:"Capture program: 'tshark' (packet capture, default) or 'mitmdump' (intercepting proxy)"`
	Interface      string              `json:"interface,omitempty" jsonschema:"Network interface for tshark (default from CAPTURE_INTERFACE)"`
	PortFilter     string              `json:"port_filter,omitempty" jsonschema:"Capture filter, e.g. 'tcp port 8080' or a bare port number"`
	ProtocolFilter string              `json:"protocol_filter,omitempty" jsonschema:"tshark display filter (default: http)"`
	ListenPort     int                 `json:"listen_port,omitempty" jsonschema:"Proxy listen port for mitmdump (default: 8080)"`
	Filter         types.TrafficFilter `json:"filter,omitzero" jsonschema:"Which events the session emits. Dimensions are ANDed, values within a dimension ORed."`
}

// CaptureSessionOutput is the output of the tools that return one session.
type CaptureSessionOutput struct {
	Session *types.CaptureSession `json:"session,omitempty"`
	Hint    string                `json:"hint,omitempty"`
}

// CaptureSessionIDInput is the input for tools that address one session.
type CaptureSessionIDInput struct {
	SessionID string `json:"session_id" jsonschema:"Capture session ID"`
}

// CaptureUpdateFilterInput is the input for capture_update_filter.
type CaptureUpdateFilterInput struct {
	SessionID string              `json:"session_id" jsonschema:"Capture session ID"`
	Filter    types.TrafficFilter `json:"filter" jsonschema:"Replacement filter. An empty filter emits every event."`
}

// CaptureListInput is the input for capture_active_sessions.
type CaptureListInput struct {
	IncludeStopped bool `json:"include_stopped,omitempty" jsonschema:"Also list stopped sessions still held in memory (newest first)"`
}

// CaptureListOutput is the output for capture_active_sessions.
type CaptureListOutput struct {
	Sessions []types.CaptureSession `json:"sessions,omitzero"`
}

// CaptureStatsOutput is the output for capture_session_stats.
type CaptureStatsOutput struct {
	Stats        *types.SessionStats `json:"stats,omitempty"`
	CachedEvents int                 `json:"cached_events"`
	Hint         string              `json:"hint,omitempty"`
}

// ToolCaptureStart starts a capture session.
func ToolCaptureStart(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureStartInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureStartInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
		cfg := types.CaptureConfig{
			Tool:           types.CaptureTool(input.Tool),
			Interface:      input.Interface,
			PortFilter:     input.PortFilter,
			ProtocolFilter: input.ProtocolFilter,
			ListenPort:     input.ListenPort,
			Filter:         input.Filter,
		}
		sess, err := d.Captures.Start(ctx, cfg)
		if err != nil {
			return nil, CaptureSessionOutput{}, WrapError(err)
		}

		hint := "Traffic is indexed as it arrives. Use capture_search to find events and replay_request to re-issue one."
		if sess.Config.Tool == types.ToolMitmdump {
			hint = "Point clients at the proxy port. For HTTPS, run cert_initialize and cert_trust first. " + hint
		}
		return nil, CaptureSessionOutput{Session: sess, Hint: hint}, nil
	}
}

// ToolCaptureStop stops a capture session.
func ToolCaptureStop(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
		if input.SessionID == "" {
			return nil, CaptureSessionOutput{}, ErrInvalidInput("session_id is required")
		}
		sess, err := d.Captures.Stop(ctx, input.SessionID)
		if err != nil {
			return nil, CaptureSessionOutput{}, WrapError(err)
		}
		out := CaptureSessionOutput{Session: sess}
		if stats, ok := d.Captures.Stats(sess.ID); ok {
			out.Hint = hintf("Captured %d packets (%d bytes), emitted %d events.",
				stats.TotalPackets, stats.TotalBytes, stats.EmittedEvents)
		}
		return nil, out, nil
	}
}

// ToolCapturePause pauses event emission for a session.
func ToolCapturePause(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
		sess, err := d.Captures.Pause(input.SessionID)
		if err != nil {
			return nil, CaptureSessionOutput{}, WrapError(err)
		}
		return nil, CaptureSessionOutput{
			Session: sess,
			Hint:    "The capture keeps running and counting packets; events are dropped until capture_resume.",
		}, nil
	}
}

// ToolCaptureResume resumes event emission for a paused session.
func ToolCaptureResume(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
		sess, err := d.Captures.Resume(input.SessionID)
		if err != nil {
			return nil, CaptureSessionOutput{}, WrapError(err)
		}
		return nil, CaptureSessionOutput{Session: sess}, nil
	}
}

// ToolCaptureUpdateFilter replaces the filter of a live session.
func ToolCaptureUpdateFilter(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureUpdateFilterInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureUpdateFilterInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
		sess, err := d.Captures.UpdateFilter(input.SessionID, input.Filter)
		if err != nil {
			return nil, CaptureSessionOutput{}, WrapError(err)
		}
		return nil, CaptureSessionOutput{
			Session: sess,
			Hint:    "The new filter applies to events parsed from now on. Already captured events are unchanged.",
		}, nil
	}
}

// ToolCaptureGetSession returns one session, live or archived.
func ToolCaptureGetSession(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureSessionOutput, error) {
		sess, err := d.Captures.Get(ctx, input.SessionID)
		if err != nil {
			return nil, CaptureSessionOutput{}, WrapError(err)
		}
		out := CaptureSessionOutput{Session: sess}
		if sess.StoppedAt != nil {
			out.Hint = hintf("Stopped after %s.", sess.StoppedAt.Sub(sess.StartedAt).Round(time.Millisecond))
		}
		return nil, out, nil
	}
}

// ToolCaptureActiveSessions lists live sessions.
func ToolCaptureActiveSessions(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureListInput) (*sdkmcp.CallToolResult, CaptureListOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureListInput) (*sdkmcp.CallToolResult, CaptureListOutput, error) {
		if input.IncludeStopped {
			return nil, CaptureListOutput{Sessions: d.Captures.List()}, nil
		}
		return nil, CaptureListOutput{Sessions: d.Captures.Active()}, nil
	}
}

// ToolCaptureSessionStats returns the counters of a session.
func ToolCaptureSessionStats(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureStatsOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CaptureSessionIDInput) (*sdkmcp.CallToolResult, CaptureStatsOutput, error) {
		stats, ok := d.Captures.Stats(input.SessionID)
		if !ok {
			return nil, CaptureStatsOutput{}, ErrNotFound("capture session", input.SessionID)
		}
		cached := len(d.Cache.Session(input.SessionID))
		out := CaptureStatsOutput{
			Stats:        &stats,
			CachedEvents: cached,
			Hint: hintf("%d packets, %d bytes. %d events emitted, %d filtered out, %d still cached.",
				stats.TotalPackets, stats.TotalBytes, stats.EmittedEvents, stats.FilteredEvents, cached),
		}
		return nil, out, nil
	}
}
