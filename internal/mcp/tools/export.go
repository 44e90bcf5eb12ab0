package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/internal/filter"
	"github.com/usestring/trafficlab/internal/har"
	"github.com/usestring/trafficlab/pkg/types"
)

// ExportInput is the input for export_har and export_json.
type ExportInput struct {
	SessionID string              `json:"session_id,omitempty" jsonschema:"Capture session to export (default: every cached event)"`
	Filter    types.TrafficFilter `json:"filter,omitzero" jsonschema:"Only export events matching this filter"`
	Path      string              `json:"path,omitempty" jsonschema:"Write the export to this file instead of returning it inline"`
}

// ExportOutput is the output for export_har and export_json.
type ExportOutput struct {
	Events   int    `json:"events"`
	Path     string `json:"path,omitempty"`
	Bytes    int    `json:"bytes"`
	Document any    `json:"document,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// ImportHARInput is the input for import_har.
type ImportHARInput struct {
	Path      string `json:"path,omitempty" jsonschema:"HAR file to load"`
	Content   string `json:"content,omitempty" jsonschema:"HAR document text (instead of path)"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID to file the entries under (default: a new ID)"`
}

// ImportHAROutput is the output for import_har.
type ImportHAROutput struct {
	SessionID string                `json:"session_id"`
	Imported  int                   `json:"imported"`
	EventIDs  []string              `json:"event_ids,omitzero"`
	Sample    []*types.EventSummary `json:"sample,omitzero"`
	Hint      string                `json:"hint,omitempty"`
}

const importSampleSize = 5

// ToolExportHAR exports captured events as a HAR 1.2 archive.
func ToolExportHAR(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ExportInput) (*sdkmcp.CallToolResult, ExportOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ExportInput) (*sdkmcp.CallToolResult, ExportOutput, error) {
		return d.export(input, func(w io.Writer, events []*types.TrafficEvent) error {
			return har.Encode(w, events, har.DefaultCreator)
		})
	}
}

// ToolExportJSON exports captured events as a JSON array of records.
func ToolExportJSON(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ExportInput) (*sdkmcp.CallToolResult, ExportOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ExportInput) (*sdkmcp.CallToolResult, ExportOutput, error) {
		return d.export(input, har.EncodeJSON)
	}
}

func (d *Deps) export(input ExportInput, encode func(io.Writer, []*types.TrafficEvent) error) (*sdkmcp.CallToolResult, ExportOutput, error) {
	events, err := filter.Select(d.Cache.Session(input.SessionID), input.Filter)
	if err != nil {
		return nil, ExportOutput{}, WrapError(err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, events); err != nil {
		return nil, ExportOutput{}, fmt.Errorf("encoding export: %w", err)
	}
	out := ExportOutput{Events: len(events), Bytes: buf.Len()}

	if input.Path != "" {
		path, err := filepath.Abs(input.Path)
		if err != nil {
			return nil, ExportOutput{}, ErrInvalidInput(fmt.Sprintf("invalid path: %v", err))
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return nil, ExportOutput{}, WrapError(fmt.Errorf("writing export: %w", err))
		}
		out.Path = path
		out.Hint = hintf("Wrote %d events (%d bytes).", out.Events, out.Bytes)
		return nil, out, nil
	}

	var doc any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, ExportOutput{}, fmt.Errorf("decoding export: %w", err)
	}
	out.Document = doc
	if len(events) == 0 {
		out.Hint = "No cached events matched. Events evicted from the capture cache cannot be exported."
	}
	return nil, out, nil
}

// ToolImportHAR loads a HAR archive into the capture store so its entries
// can be searched and replayed.
func ToolImportHAR(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ImportHARInput) (*sdkmcp.CallToolResult, ImportHAROutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ImportHARInput) (*sdkmcp.CallToolResult, ImportHAROutput, error) {
		var data []byte
		switch {
		case input.Path != "" && input.Content != "":
			return nil, ImportHAROutput{}, ErrInvalidInput("set either path or content, not both")
		case input.Path != "":
			b, err := os.ReadFile(input.Path)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, ImportHAROutput{}, ErrNotFound("file", input.Path)
				}
				return nil, ImportHAROutput{}, WrapError(fmt.Errorf("reading HAR: %w", err))
			}
			data = b
		case input.Content != "":
			data = []byte(input.Content)
		default:
			return nil, ImportHAROutput{}, ErrInvalidInput("path or content is required")
		}

		doc, err := har.Decode(data)
		if err != nil {
			return nil, ImportHAROutput{}, WrapError(err)
		}

		sessionID := input.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		events := doc.Events(sessionID, uuid.NewString)

		out := ImportHAROutput{
			SessionID: sessionID,
			Imported:  len(events),
			EventIDs:  make([]string, 0, len(events)),
		}
		for _, ev := range events {
			d.Indexer.Index(ev)
			out.EventIDs = append(out.EventIDs, ev.ID)
			if len(out.Sample) < importSampleSize {
				out.Sample = append(out.Sample, Summarize(ev))
			}
		}
		out.Hint = hintf("Imported %d entries into session %s. Use capture_search with session_id to browse them.", len(events), sessionID)
		if len(events) > d.Cache.Capacity() {
			out.Hint += hintf(" Only the newest %d fit in the capture cache.", d.Cache.Capacity())
		}
		return nil, out, nil
	}
}
