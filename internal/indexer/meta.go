// Package indexer provides event metadata and indexing functionality.
package indexer

import (
	"github.com/usestring/trafficlab/pkg/types"
)

// HeaderValue represents a header name:value pair for indexing.
type HeaderValue struct {
	Name     string
	Value    string
	Response bool
}

// EventMeta holds searchable fields for one captured event.
// Bodies are not stored; only metadata needed for indexing and search.
type EventMeta struct {
	DocID            uint32
	EventID          string
	SessionID        string
	TsMs             int64
	Method           string
	URL              string
	Host             string
	Path             string
	Status           int
	DurationMs       int64
	IsWebSocket      bool
	HeaderNamesLower []string
	HeaderValues     []HeaderValue // Request then response headers (lowercase names)
	ReqContentType   string
	RespContentType  string

	ReqBodyBytes  int
	RespBodyBytes int
}

// ToSummary converts EventMeta to the summary returned by search.
func (m *EventMeta) ToSummary() *types.EventSummary {
	return &types.EventSummary{
		EventID:       m.EventID,
		SessionID:     m.SessionID,
		TsMs:          m.TsMs,
		Method:        m.Method,
		URL:           m.URL,
		Host:          m.Host,
		Path:          m.Path,
		PathTemplate:  NormalizePath(m.Path),
		Status:        m.Status,
		DurationMs:    m.DurationMs,
		IsWebSocket:   m.IsWebSocket,
		ReqBodyBytes:  m.ReqBodyBytes,
		RespBodyBytes: m.RespBodyBytes,
	}
}

// Event rebuilds a body-less event from metadata, for filtering events that
// are no longer cached.
func (m *EventMeta) Event() *types.TrafficEvent {
	ev := &types.TrafficEvent{
		ID:          m.EventID,
		SessionID:   m.SessionID,
		Method:      m.Method,
		URL:         m.URL,
		Host:        m.Host,
		Path:        m.Path,
		StatusCode:  m.Status,
		DurationMs:  m.DurationMs,
		IsWebSocket: m.IsWebSocket,
	}
	for _, hv := range m.HeaderValues {
		target := &ev.RequestHeaders
		if hv.Response {
			target = &ev.ResponseHeaders
		}
		if *target == nil {
			*target = make(map[string]string)
		}
		(*target)[hv.Name] = hv.Value
	}
	return ev
}
