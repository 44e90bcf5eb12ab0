// Package mcpsrv provides an extensible MCP server for trafficlab.
//
// This package exposes a high-level API for creating and running an MCP server
// with all builtin capture, certificate, replay and export tools, prompts and
// resources. Users can extend the server with custom tools, prompts, and
// resources using functional options.
//
// # Basic Usage
//
// Create a server with configuration read from the environment:
//
//	server, err := mcpsrv.NewServer()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Close()
//	server.Run(ctx)
//
// # Extension
//
// Custom tools can reach the capture store, replay engine and the other
// components through Deps:
//
//	import mcp "github.com/modelcontextprotocol/go-sdk/mcp"
//
//	type SlowInput struct {
//	    MinMs int64 `json:"min_ms"`
//	}
//
//	type SlowOutput struct {
//	    EventIDs []string `json:"event_ids,omitzero"`
//	}
//
//	server, err := mcpsrv.NewServer(
//	    mcpsrv.WithDepsTool(
//	        &mcp.Tool{Name: "slow_replays", Description: "Replays slower than a threshold"},
//	        func(d *mcpsrv.Deps) func(context.Context, *mcp.CallToolRequest, SlowInput) (*mcp.CallToolResult, SlowOutput, error) {
//	            return func(ctx context.Context, req *mcp.CallToolRequest, in SlowInput) (*mcp.CallToolResult, SlowOutput, error) {
//	                var out SlowOutput
//	                for _, r := range d.Replay.History(0) {
//	                    if r.Response != nil && r.Response.TimingMs >= in.MinMs {
//	                        out.EventIDs = append(out.EventIDs, r.CaptureID)
//	                    }
//	                }
//	                return nil, out, nil
//	            }
//	        },
//	    ),
//	)
//
// # Configuration
//
// Environment variables cover every setting; options override the common ones:
//
//	server, err := mcpsrv.NewServer(
//	    mcpsrv.WithLogLevel("debug"),
//	    mcpsrv.WithLogFile("/var/log/trafficlab.log"),
//	    mcpsrv.WithStorageDSN("/var/lib/trafficlab/sessions.db"),
//	    mcpsrv.WithHTTPAddr("127.0.0.1:9464"),
//	)
//
// The side channel serves /healthz, /metrics, a websocket feed of capture,
// certificate and replay events at /events, and HAR or JSON exports of the
// capture cache at /export/har and /export/json.
package mcpsrv
