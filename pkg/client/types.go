package client

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Auth types for Request.Auth.
const (
	AuthBasic  = "basic"
	AuthBearer = "bearer"
)

// ErrTimeout is returned when a request exceeds its deadline.
var ErrTimeout = errors.New("request timed out")

// Headers is an ordered slice of header key-value pairs.
type Headers [][]string

// Get returns the first value for the given header name (case-insensitive).
// Returns an empty string if the header is not found.
func (h Headers) Get(name string) string {
	name = strings.ToLower(name)
	for _, pair := range h {
		if len(pair) >= 2 && strings.ToLower(pair[0]) == name {
			return pair[1]
		}
	}
	return ""
}

// Values returns all values for the given header name (case-insensitive).
func (h Headers) Values(name string) []string {
	name = strings.ToLower(name)
	var values []string
	for _, pair := range h {
		if len(pair) >= 2 && strings.ToLower(pair[0]) == name {
			values = append(values, pair[1])
		}
	}
	return values
}

// Map flattens the headers, joining repeated names with ", ". Keys keep the
// case they were received with.
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h))
	for _, pair := range h {
		if len(pair) < 2 {
			continue
		}
		if prev, ok := out[pair[0]]; ok {
			out[pair[0]] = prev + ", " + pair[1]
			continue
		}
		out[pair[0]] = pair[1]
	}
	return out
}

// headersFromHTTP converts h to pairs sorted by name, keeping the order of
// repeated values.
func headersFromHTTP(h http.Header) Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(Headers, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, []string{name, v})
		}
	}
	return out
}

// Auth carries credentials applied to a request.
type Auth struct {
	Type     string // AuthBasic or AuthBearer
	Username string
	Password string
	Token    string
}

// Request is one HTTP request to execute.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Timeout overrides the client default when positive.
	Timeout time.Duration
	// FollowRedirects defaults to true when nil.
	FollowRedirects *bool
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
	Auth               *Auth
}

// Timings breaks down where the request spent its time.
type Timings struct {
	DNSMs       int64 `json:"dns_ms"`
	ConnectMs   int64 `json:"connect_ms"`
	TLSMs       int64 `json:"tls_ms"`
	FirstByteMs int64 `json:"first_byte_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// Response is the result of a completed request.
type Response struct {
	StatusCode int
	StatusText string
	Proto      string
	Headers    Headers
	Body       []byte
	// Truncated is set when the body exceeded the client's limit.
	Truncated bool
	Cookies   []*http.Cookie
	Timings   Timings
	// FinalURL differs from the request URL when redirects were followed.
	FinalURL string
}
