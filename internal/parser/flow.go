package parser

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/usestring/trafficlab/pkg/types"
)

// requestLine matches the "METHOD URL" lines a proxy prints per flow. A
// leading "client:port: " prefix and trailing text (protocol, status, size)
// are allowed.
var requestLine = regexp.MustCompile(`^(?:[\w.\[\]:-]+:\s+)?([A-Z]+)\s+(\S+)`)

// drainFlows decodes proxy output: JSON arrays flushed in one piece,
// one-flow-per-line JSON objects, or plain "METHOD URL" lines.
func (p *Parser) drainFlows(final bool) []types.TrafficEvent {
	var events []types.TrafficEvent
	for {
		p.buf = bytes.TrimLeft(p.buf, " \t\r\n")
		if len(p.buf) == 0 {
			break
		}

		if p.buf[0] == '[' {
			end, complete := scanJSONValue(p.buf)
			if !complete {
				break
			}
			doc := p.buf[:end]
			p.buf = p.buf[end:]
			if !gjson.ValidBytes(doc) {
				p.skip("invalid flow array", len(doc))
				continue
			}
			for _, item := range gjson.ParseBytes(doc).Array() {
				if ev, ok := decodeFlow(item); ok {
					p.stamp(&ev)
					events = append(events, ev)
				}
			}
			continue
		}

		line, ok := p.nextLine(final)
		if !ok {
			break
		}
		if len(line) == 0 {
			continue
		}
		if line[0] == '{' {
			if !gjson.ValidBytes(line) {
				p.skip("invalid flow json", len(line))
				continue
			}
			if ev, ok := decodeFlow(gjson.ParseBytes(line)); ok {
				p.stamp(&ev)
				events = append(events, ev)
			}
			continue
		}
		if ev, ok := decodeRequestLine(string(line)); ok {
			p.stamp(&ev)
			events = append(events, ev)
		}
	}
	return events
}

// scanJSONValue finds the end of the array or object starting at buf[0].
// It tracks string literals so brackets inside strings are ignored.
func scanJSONValue(buf []byte) (end int, complete bool) {
	depth := 0
	inString := false
	escaped := false
	for i, c := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func decodeRequestLine(line string) (types.TrafficEvent, bool) {
	m := requestLine.FindStringSubmatch(line)
	if m == nil {
		return types.TrafficEvent{}, false
	}
	if _, ok := httpMethods[m[1]]; !ok {
		return types.TrafficEvent{}, false
	}
	ev := types.TrafficEvent{Method: m[1], URL: m[2]}
	ev.Scheme, ev.Host, ev.Path = splitURL(m[2])
	if ev.Host == "" {
		ev.URL = ""
	}
	return ev, true
}

// decodeFlow maps a proxy flow object to an event. Both the nested
// request/response layout and a flat layout are accepted.
func decodeFlow(f gjson.Result) (types.TrafficEvent, bool) {
	if !f.IsObject() {
		return types.TrafficEvent{}, false
	}

	req := f.Get("request")
	if !req.Exists() {
		req = f
	}
	resp := f.Get("response")
	if !resp.Exists() {
		resp = f
	}

	ev := types.TrafficEvent{
		Method:     strings.ToUpper(firstOf(req, "method").String()),
		StatusCode: toInt(firstOf(resp, "status_code", "statusCode", "status")),
	}
	if ev.Method == "" && ev.StatusCode == 0 {
		return types.TrafficEvent{}, false
	}

	ev.URL = firstOf(req, "url", "pretty_url").String()
	ev.Scheme = firstOf(req, "scheme").String()
	ev.Host = firstOf(req, "pretty_host", "host").String()
	ev.Path = firstOf(req, "path").String()
	if ev.URL != "" {
		scheme, host, path := splitURL(ev.URL)
		if ev.Scheme == "" {
			ev.Scheme = scheme
		}
		if ev.Host == "" {
			ev.Host = host
		}
		if ev.Path == "" {
			ev.Path = path
		}
	}
	ev.DstPort = toInt(firstOf(req, "port"))

	ev.RequestHeaders = parseHeaders(lookup(req, "headers", "request_headers"))
	ev.RequestBody = firstOf(req, "content", "text", "body").String()
	ev.ResponsePhrase = firstOf(resp, "reason", "status_text", "statusText").String()
	if ev.StatusCode > 0 {
		ev.ResponseHeaders = parseHeaders(lookup(resp, "headers", "response_headers"))
		ev.ResponseBody = firstOf(resp, "content", "text", "body").String()
	}
	if ev.Host == "" {
		ev.Host, _ = types.HeaderValue(ev.RequestHeaders, "Host")
	}

	if addr := lookup(f, "client_conn.address", "client_conn.peername").Array(); len(addr) >= 2 {
		ev.SourceIP = addr[0].String()
		ev.SrcPort = toInt(addr[1])
	}
	if addr := lookup(f, "server_conn.address", "server_conn.ip_address").Array(); len(addr) >= 2 {
		ev.DestIP = addr[0].String()
		if ev.DstPort == 0 {
			ev.DstPort = toInt(addr[1])
		}
	}

	start := epochTime(firstOf(req, "timestamp_start", "timestamp"))
	end := epochTime(firstOf(resp, "timestamp_end"))
	ev.Timestamp = start
	if !start.IsZero() && !end.IsZero() && end.After(start) {
		ev.DurationMs = end.Sub(start).Milliseconds()
	}
	if d := toInt(firstOf(f, "duration_ms", "duration")); ev.DurationMs == 0 && d > 0 {
		ev.DurationMs = int64(d)
	}

	ev.ByteLength = toInt(firstOf(f, "size", "byte_length"))
	if ev.ByteLength == 0 {
		ev.ByteLength = len(ev.RequestBody) + len(ev.ResponseBody)
	}

	ev.IsWebSocket = isWebSocketUpgrade(ev.RequestHeaders) || f.Get("websocket").IsObject()
	return ev, true
}
