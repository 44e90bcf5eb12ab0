package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/internal/capture"
	"github.com/usestring/trafficlab/internal/mcp/tools"
	"github.com/usestring/trafficlab/internal/replay"
	"github.com/usestring/trafficlab/pkg/types"
)

// Resource URI scheme: trafficlab://
// Supported URIs:
//   trafficlab://event/{id}
//   trafficlab://replay/{id}
//   trafficlab://session/{id}

// registerResources registers resource templates and handlers.
func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(&sdkmcp.ResourceTemplate{
		URITemplate: tools.ResourceScheme + "event/{id}",
		Name:        "Captured Event",
		Description: "Full captured event with uncompacted headers and bodies. Use capture_get_event first; it returns compact bodies at lower context cost.",
		MIMEType:    tools.MimeJSON,
		Annotations: &sdkmcp.Annotations{
			Audience: []sdkmcp.Role{"assistant"},
			Priority: 0.8,
		},
	}, s.handleResourceEvent)

	s.mcpServer.AddResourceTemplate(&sdkmcp.ResourceTemplate{
		URITemplate: tools.ResourceScheme + "replay/{id}",
		Name:        "Replay Result",
		Description: "Full replay result: request sent, response received and the captured response. High context cost - replay_get and replay_compare already summarize it.",
		MIMEType:    tools.MimeJSON,
		Annotations: &sdkmcp.Annotations{
			Audience: []sdkmcp.Role{"assistant"},
			Priority: 0.6,
		},
	}, s.handleResourceReplay)

	s.mcpServer.AddResourceTemplate(&sdkmcp.ResourceTemplate{
		URITemplate: tools.ResourceScheme + "session/{id}",
		Name:        "Capture Session",
		Description: "Capture session state with summaries of its cached events. Only fetch when capture_search does not give enough overview.",
		MIMEType:    tools.MimeJSON,
		Annotations: &sdkmcp.Annotations{
			Audience: []sdkmcp.Role{"assistant"},
			Priority: 0.4,
		},
	}, s.handleResourceSession)
}

// Resource handlers

func (s *Server) handleResourceEvent(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	params, err := parseResourceURI(req.Params.URI)
	if err != nil {
		return nil, err
	}

	ev, err := s.deps.FetchEvent(params["id"])
	if err != nil {
		return nil, resourceError(req.Params.URI, err)
	}
	return toResourceResult(req.Params.URI, ev)
}

func (s *Server) handleResourceReplay(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	params, err := parseResourceURI(req.Params.URI)
	if err != nil {
		return nil, err
	}

	res, err := s.deps.Replay.Get(params["id"])
	if err != nil {
		return nil, resourceError(req.Params.URI, err)
	}
	return toResourceResult(req.Params.URI, res)
}

// sessionResource is the content of a trafficlab://session/{id} resource.
type sessionResource struct {
	SessionID string                `json:"session_id"`
	Session   *types.CaptureSession `json:"session,omitempty"`
	Events    []*types.EventSummary `json:"events"`
}

func (s *Server) handleResourceSession(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	params, err := parseResourceURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	id := params["id"]

	events := s.deps.Cache.Session(id)
	content := sessionResource{
		SessionID: id,
		Events:    make([]*types.EventSummary, 0, len(events)),
	}
	for _, ev := range events {
		content.Events = append(content.Events, tools.Summarize(ev))
	}

	// Imported archives have events but no capture session.
	sess, err := s.deps.Captures.Get(ctx, id)
	switch {
	case err == nil:
		content.Session = sess
	case errors.Is(err, capture.ErrNotFound) && len(events) > 0:
	default:
		return nil, resourceError(req.Params.URI, err)
	}

	return toResourceResult(req.Params.URI, content)
}

// Helper functions

// resourceError maps lookup misses to the protocol's resource-not-found error.
func resourceError(uri string, err error) error {
	var coded *tools.CodedError
	if errors.As(err, &coded) && coded.Code == tools.ErrCodeNotFound {
		return sdkmcp.ResourceNotFoundError(uri)
	}
	if errors.Is(err, capture.ErrNotFound) || errors.Is(err, replay.ErrNotFound) {
		return sdkmcp.ResourceNotFoundError(uri)
	}
	return tools.WrapError(err)
}

// parseResourceURI extracts parameters from a trafficlab:// URI.
func parseResourceURI(uri string) (map[string]string, error) {
	if !strings.HasPrefix(uri, tools.ResourceScheme) {
		return nil, tools.ErrInvalidInput("invalid URI scheme: expected " + tools.ResourceScheme)
	}

	path := strings.TrimPrefix(uri, tools.ResourceScheme)
	parts := strings.Split(path, "/")

	resourceType := parts[0]
	switch resourceType {
	case "event", "replay", "session":
		if len(parts) < 2 || parts[1] == "" {
			return nil, tools.ErrInvalidInput(resourceType + " URI requires an ID")
		}
		return map[string]string{"type": resourceType, "id": parts[1]}, nil
	case "":
		return nil, tools.ErrInvalidInput("empty resource path")
	default:
		return nil, tools.ErrInvalidInput(fmt.Sprintf("unknown resource type: %s", resourceType))
	}
}

// toResourceResult serializes content to a ReadResourceResult.
func toResourceResult(uri string, content any) (*sdkmcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing resource: %w", err)
	}

	return &sdkmcp.ReadResourceResult{
		Contents: []*sdkmcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: tools.MimeJSON,
				Text:     string(data),
			},
		},
	}, nil
}
