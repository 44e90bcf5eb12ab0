package types

import (
	"strconv"
	"strings"
	"time"
)

// TrafficEvent is one normalized HTTP request or response observed by a
// capture session. Events are never mutated after they are emitted.
type TrafficEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	SourceIP string `json:"source_ip,omitempty"`
	DestIP   string `json:"dest_ip,omitempty"`
	SrcPort  int    `json:"src_port,omitempty"`
	DstPort  int    `json:"dst_port,omitempty"`

	Method         string            `json:"method,omitempty"`
	Scheme         string            `json:"scheme,omitempty"`
	Host           string            `json:"host,omitempty"`
	Path           string            `json:"path,omitempty"`
	URL            string            `json:"url,omitempty"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	RequestBody    string            `json:"request_body,omitempty"`

	StatusCode      int               `json:"status_code,omitempty"`
	ResponsePhrase  string            `json:"response_phrase,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`

	ByteLength  int   `json:"byte_length"`
	DurationMs  int64 `json:"duration_ms,omitempty"`
	IsWebSocket bool  `json:"is_websocket"`
}

// IsRequest reports whether the event carries a request line.
func (e *TrafficEvent) IsRequest() bool {
	return e.Method != ""
}

// HasResponse reports whether the event carries a response status.
func (e *TrafficEvent) HasResponse() bool {
	return e.StatusCode > 0
}

// FullURL returns the absolute URL of the request. Packet captures only carry
// host and path, so the scheme is derived from the destination port.
func (e *TrafficEvent) FullURL() string {
	if e.URL != "" {
		return e.URL
	}
	if e.Host == "" {
		return e.Path
	}
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
		if e.DstPort == 443 {
			scheme = "https"
		}
	}
	host := e.Host
	if e.DstPort != 0 && e.DstPort != 80 && e.DstPort != 443 && !strings.Contains(host, ":") {
		host += ":" + strconv.Itoa(e.DstPort)
	}
	path := e.Path
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// HeaderPredicateOp selects how a header predicate compares values.
type HeaderPredicateOp string

const (
	HeaderOpExists   HeaderPredicateOp = "exists"
	HeaderOpEquals   HeaderPredicateOp = "equals"
	HeaderOpContains HeaderPredicateOp = "contains"
)

// HeaderPredicate constrains a request header. Name matching is case-insensitive.
type HeaderPredicate struct {
	Name  string            `json:"name"`
	Value string            `json:"value,omitempty"`
	Op    HeaderPredicateOp `json:"op,omitempty"` // Default "exists" when Value is empty, else "equals"
}

// TrafficFilter selects which events a session emits. Dimensions are ANDed,
// values within a dimension are ORed, and empty dimensions are unconstrained.
type TrafficFilter struct {
	Domains     []string          `json:"domains,omitempty"`
	Methods     []string          `json:"methods,omitempty"`
	StatusCodes []int             `json:"status_codes,omitempty"`
	Headers     []HeaderPredicate `json:"headers,omitempty"`
	Expr        string            `json:"expr,omitempty"` // jq boolean expression over the event JSON
}

// IsEmpty reports whether the filter has no constrained dimension.
func (f TrafficFilter) IsEmpty() bool {
	return len(f.Domains) == 0 && len(f.Methods) == 0 && len(f.StatusCodes) == 0 &&
		len(f.Headers) == 0 && strings.TrimSpace(f.Expr) == ""
}
