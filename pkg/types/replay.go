package types

import "time"

// Replay target names with fixed meaning. Any other name refers to an
// environment mapping.
const (
	TargetOriginal = "original"
	TargetCustom   = "custom"
)

// Environment maps a named target to a base URL and extra headers.
type Environment struct {
	Name    string            `json:"name" toml:"-"`
	BaseURL string            `json:"base_url" toml:"base_url"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers"`
}

// AuthConfig carries credentials applied by the request executor.
type AuthConfig struct {
	Type     string `json:"type"` // "basic" or "bearer"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// ReplayConfig describes one replay.
type ReplayConfig struct {
	CaptureID string `json:"capture_id"`
	// Capture is used instead of looking up CaptureID when set.
	Capture         *TrafficEvent     `json:"-"`
	Target          string            `json:"target,omitempty"` // Default "original"
	CustomURL       string            `json:"custom_url,omitempty"`
	HeaderOverrides map[string]string `json:"header_overrides,omitempty"`
	Body            *string           `json:"body,omitempty"`
	BodyPatches     map[string]any    `json:"body_patches,omitempty"` // gjson path -> value
	Timeout         time.Duration     `json:"-"`
	FollowRedirects *bool             `json:"follow_redirects,omitempty"`
	ValidateSSL     *bool             `json:"validate_ssl,omitempty"`
	Auth            *AuthConfig       `json:"auth,omitempty"`
}

// ReplayRequest echoes the request that was actually sent.
type ReplayRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Cookie is a cookie set by a replayed response.
type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	HTTPOnly bool       `json:"http_only,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
}

// ReplayResponse is a response snapshot, either replayed or original.
type ReplayResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"status_text,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Size       int               `json:"size"`
	TimingMs   int64             `json:"timing_ms"`
	Cookies    []Cookie          `json:"cookies,omitempty"`
}

// ReplayResult records one replay attempt, successful or not.
type ReplayResult struct {
	ID               string          `json:"id"`
	CaptureID        string          `json:"capture_id"`
	Target           string          `json:"target"`
	TargetURL        string          `json:"target_url"`
	Timestamp        time.Time       `json:"timestamp"`
	Success          bool            `json:"success"`
	Error            string          `json:"error,omitempty"`
	Request          ReplayRequest   `json:"request"`
	Response         *ReplayResponse `json:"response,omitempty"`
	OriginalResponse *ReplayResponse `json:"original_response,omitempty"`
}

// BatchOptions controls ReplayMultiple.
type BatchOptions struct {
	ContinueOnError *bool         `json:"continue_on_error,omitempty"` // Default true
	Delay           time.Duration `json:"-"`
	Timeout         time.Duration `json:"-"`
}

// HeaderChange is a header present on both sides with different values.
type HeaderChange struct {
	Name     string `json:"name"`
	Original string `json:"original"`
	Replay   string `json:"replay"`
}

// HeaderDiff partitions header differences between two responses.
type HeaderDiff struct {
	Added   []string       `json:"added"`
	Removed []string       `json:"removed"`
	Changed []HeaderChange `json:"changed"`
	// Ignored lists differing headers skipped by the noise filter.
	Ignored []string `json:"ignored,omitempty"`
}

// Empty reports whether no header differs.
func (d HeaderDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ResponseDiff compares a replayed response with the original one.
type ResponseDiff struct {
	ReplayID       string     `json:"replay_id"`
	StatusMatch    bool       `json:"status_match"`
	OriginalStatus int        `json:"original_status"`
	ReplayStatus   int        `json:"replay_status"`
	Headers        HeaderDiff `json:"headers"`
	BodyMatch      bool       `json:"body_match"`
	BodySizeDelta  int        `json:"body_size_delta"`
	TimingDiffMs   int64      `json:"timing_diff_ms"` // Replayed minus original, may be negative
}
