package types

// SearchRequest contains parameters for a search over captured events.
type SearchRequest struct {
	SessionID string        // Restrict to one capture session
	Query     string        // Free text query over URL, header and body tokens
	Filter    TrafficFilter // Same semantics as a session filter
	SinceMs   int64         // Unix timestamp in ms
	UntilMs   int64         // Unix timestamp in ms
	Limit     int           // Default 20, max 100
	Offset    int           // Pagination offset
}

// EventSummary is the compact form of a captured event.
type EventSummary struct {
	EventID       string `json:"event_id"`
	SessionID     string `json:"session_id,omitempty"`
	TsMs          int64  `json:"ts_ms"`
	Method        string `json:"method,omitempty"`
	URL           string `json:"url"`
	Host          string `json:"host,omitempty"`
	Path          string `json:"path,omitempty"`
	PathTemplate  string `json:"path_template,omitempty"`
	Status        int    `json:"status,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	IsWebSocket   bool   `json:"is_websocket,omitempty"`
	ReqBodyBytes  int    `json:"req_body_bytes"`
	RespBodyBytes int    `json:"resp_body_bytes"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Summary   *EventSummary `json:"summary"`
	MatchedIn []string      `json:"matched_in,omitempty"` // "url", "header", "body"
}

// SearchScope reports how much of the data a search could inspect.
type SearchScope struct {
	BodyIndexEnabled bool `json:"body_index_enabled"`
	// EvictedCandidates counts events whose bodies were no longer cached
	// when header or expression predicates were evaluated.
	EvictedCandidates int `json:"evicted_candidates,omitempty"`
}

// SearchResponse contains the search results, newest first.
type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	TotalHint int            `json:"total_hint"`
	Scope     *SearchScope   `json:"scope,omitempty"`
}
