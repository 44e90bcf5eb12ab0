package indexer

import (
	"net/url"
	"sort"
	"strings"

	"github.com/usestring/trafficlab/pkg/types"
)

// FromEvent creates EventMeta from a captured event.
func FromEvent(ev *types.TrafficEvent) *EventMeta {
	full := ev.FullURL()
	meta := &EventMeta{
		EventID:     ev.ID,
		SessionID:   ev.SessionID,
		TsMs:        ev.Timestamp.UnixMilli(),
		Method:      strings.ToUpper(ev.Method),
		URL:         full,
		Host:        normalizeHost(ev.Host),
		Path:        ev.Path,
		Status:      ev.StatusCode,
		DurationMs:  ev.DurationMs,
		IsWebSocket: ev.IsWebSocket,
	}
	if meta.Host == "" {
		meta.Host = extractHost(full)
	}
	if meta.Path == "" {
		meta.Path = extractPath(full)
	} else if i := strings.IndexByte(meta.Path, '?'); i >= 0 {
		meta.Path = meta.Path[:i]
	}

	meta.HeaderNamesLower = extractHeaderNames(ev.RequestHeaders, ev.ResponseHeaders)
	meta.HeaderValues = append(extractHeaderValues(ev.RequestHeaders, false), extractHeaderValues(ev.ResponseHeaders, true)...)
	meta.ReqContentType, _ = types.HeaderValue(ev.RequestHeaders, "Content-Type")
	meta.RespContentType, _ = types.HeaderValue(ev.ResponseHeaders, "Content-Type")

	meta.ReqBodyBytes = len(ev.RequestBody)
	meta.RespBodyBytes = len(ev.ResponseBody)

	return meta
}

// normalizeHost lowercases a host and strips a port.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, ok := strings.Cut(host, ":"); ok && !strings.Contains(host, "]") {
		return h
	}
	return host
}

// extractHost parses host from URL.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// extractPath parses path from URL.
func extractPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Path
}

// extractHeaderNames gets unique lowercase header names, sorted.
func extractHeaderNames(sets ...map[string]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, headers := range sets {
		for name := range headers {
			lower := strings.ToLower(name)
			if _, exists := seen[lower]; !exists {
				seen[lower] = struct{}{}
				result = append(result, lower)
			}
		}
	}
	sort.Strings(result)
	return result
}

// extractHeaderValues gets all header name:value pairs with lowercase names.
func extractHeaderValues(headers map[string]string, response bool) []HeaderValue {
	result := make([]HeaderValue, 0, len(headers))
	for name, value := range headers {
		result = append(result, HeaderValue{
			Name:     strings.ToLower(name),
			Value:    value,
			Response: response,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
