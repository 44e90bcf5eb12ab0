// Package tools contains MCP tool implementations for trafficlab.
package tools

import (
	"encoding/json"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/usestring/trafficlab/internal/indexer"
	"github.com/usestring/trafficlab/pkg/types"
)

// MIME type constant.
const MimeJSON = "application/json"

// printer formats counters in hints, e.g. "12,480 packets".
var printer = message.NewPrinter(language.English)

// hintf formats a human-readable hint with grouped digits.
func hintf(format string, args ...any) string {
	return printer.Sprintf(format, args...)
}

// MakeJSONToolResult creates a CallToolResult with JSON text content.
func MakeJSONToolResult(v any) (*sdkmcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{
			&sdkmcp.TextContent{Text: string(b)},
		},
	}, nil
}

// Summarize builds the compact form of an event.
func Summarize(ev *types.TrafficEvent) *types.EventSummary {
	return indexer.FromEvent(ev).ToSummary()
}

// ResourceScheme prefixes every resource URI served by trafficlab.
const ResourceScheme = "trafficlab://"

// EventURI returns the resource URI of a captured event.
func EventURI(id string) string { return ResourceScheme + "event/" + id }

// ReplayURI returns the resource URI of a replay result.
func ReplayURI(id string) string { return ResourceScheme + "replay/" + id }

// SessionURI returns the resource URI of a capture session's events.
func SessionURI(id string) string { return ResourceScheme + "session/" + id }
