package indexer

import (
	"mime"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

var (
	uuidPattern    = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	numericPattern = regexp.MustCompile(`^\d+$`)
	hexPattern     = regexp.MustCompile(`^[0-9a-f]{8,}$`)
)

// tokenDelimiters defines characters that separate tokens
const tokenDelimiters = "/?&=.-_:,;\"'{}[]()<>"

// Tokenize splits a string into searchable tokens.
// Lowercases all tokens, drops tokens < 2 chars.
func Tokenize(s string) []string {
	s = strings.ToLower(s)

	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(tokenDelimiters, r) || unicode.IsSpace(r)
	})

	result := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len(t) >= 2 {
			result = append(result, t)
		}
	}
	return result
}

// NormalizePathSegment replaces identifier-like segments with placeholders:
// numeric -> "{id}", UUID -> "{uuid}", 8+ hex chars -> "{hex}".
func NormalizePathSegment(segment string) string {
	lower := strings.ToLower(segment)

	if uuidPattern.MatchString(lower) {
		return "{uuid}"
	}
	if numericPattern.MatchString(segment) {
		return "{id}"
	}
	if hexPattern.MatchString(lower) {
		return "{hex}"
	}
	return segment
}

// TokenizeURL extracts tokens from a full URL (host + path + query keys).
// Query keys are visited in sorted order.
func TokenizeURL(rawURL string) []string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Tokenize(rawURL)
	}

	var parts []string
	if parsed.Host != "" {
		parts = append(parts, parsed.Host)
	}
	if parsed.Path != "" {
		parts = append(parts, parsed.Path)
	}

	query := parsed.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts = append(parts, keys...)

	return Tokenize(strings.Join(parts, " "))
}

// TokenizePath extracts tokens from just the path portion.
func TokenizePath(path string) []string {
	return Tokenize(path)
}

// NormalizePath normalizes a full path by normalizing each segment.
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg != "" {
			segments[i] = NormalizePathSegment(seg)
		}
	}
	return strings.Join(segments, "/")
}

// TokenizeHeaders tokenizes full header fields ("name: value"), deduplicated.
func TokenizeHeaders(headers []HeaderValue) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, hv := range headers {
		for _, tok := range Tokenize(hv.Name + ": " + hv.Value) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

// TokenizeBody tokenizes at most maxBytes of a body. JSON bodies contribute
// their keys and scalar values; textual bodies are split as plain text.
// Binary content types yield nothing.
func TokenizeBody(contentType string, body []byte, maxBytes int) []string {
	if len(body) == 0 {
		return nil
	}
	if maxBytes > 0 && len(body) > maxBytes {
		body = body[:maxBytes]
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	isJSON := strings.HasSuffix(mediaType, "json") || (mediaType == "" && gjson.ValidBytes(body))

	var raw []string
	switch {
	case isJSON && gjson.ValidBytes(body):
		walkJSON(gjson.ParseBytes(body), func(s string) {
			raw = append(raw, Tokenize(s)...)
		})
	case isTextual(mediaType):
		raw = Tokenize(string(body))
	default:
		return nil
	}

	seen := make(map[string]struct{}, len(raw))
	out := raw[:0]
	for _, tok := range raw {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func walkJSON(v gjson.Result, emit func(string)) {
	switch {
	case v.IsObject():
		v.ForEach(func(key, value gjson.Result) bool {
			emit(key.String())
			walkJSON(value, emit)
			return true
		})
	case v.IsArray():
		v.ForEach(func(_, value gjson.Result) bool {
			walkJSON(value, emit)
			return true
		})
	case v.Type == gjson.String || v.Type == gjson.Number:
		emit(v.String())
	}
}

func isTextual(mediaType string) bool {
	if mediaType == "" {
		return true
	}
	return strings.HasPrefix(mediaType, "text/") ||
		strings.HasSuffix(mediaType, "xml") ||
		strings.HasSuffix(mediaType, "javascript") ||
		mediaType == "application/x-www-form-urlencoded" ||
		mediaType == "application/graphql"
}
