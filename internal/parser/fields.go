package parser

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// first unwraps single-element arrays, which tshark emits for repeated fields.
func first(r gjson.Result) gjson.Result {
	if r.IsArray() {
		arr := r.Array()
		if len(arr) == 0 {
			return gjson.Result{}
		}
		return arr[0]
	}
	return r
}

// lookup returns the first existing path under r, unchanged.
func lookup(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// firstOf is lookup for scalar fields.
func firstOf(r gjson.Result, paths ...string) gjson.Result {
	return first(lookup(r, paths...))
}

// toInt coerces numbers and numeric strings. Anything else yields 0.
func toInt(r gjson.Result) int {
	switch r.Type {
	case gjson.Number:
		return int(r.Int())
	case gjson.String:
		return int(parseNumber(r.Str))
	default:
		return 0
	}
}

// toFloat coerces numbers and numeric strings. Anything else yields 0.
func toFloat(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		return parseNumber(r.Str)
	default:
		return 0
	}
}

func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}

// epochTime converts an epoch value in seconds or milliseconds. Zero or
// unparseable values yield the zero time.
func epochTime(r gjson.Result) time.Time {
	f := toFloat(r)
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return time.Time{}
	}
	// Values past year 2286 in seconds are treated as milliseconds.
	if f > 1e10 {
		return time.UnixMilli(int64(f))
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// parseHeaders accepts the header shapes the capture tools emit:
// an object of name -> value, an array of [name, value] pairs, or an array of
// raw "Name: value\r\n" lines.
func parseHeaders(r gjson.Result) map[string]string {
	if !r.Exists() {
		return nil
	}
	h := make(map[string]string)
	switch {
	case r.IsObject():
		r.ForEach(func(k, v gjson.Result) bool {
			h[k.String()] = first(v).String()
			return true
		})
	case r.IsArray():
		for _, item := range r.Array() {
			if item.IsArray() {
				pair := item.Array()
				if len(pair) >= 2 {
					h[pair[0].String()] = pair[1].String()
				}
				continue
			}
			addHeaderLine(h, item.String())
		}
	default:
		addHeaderLine(h, r.String())
	}
	if len(h) == 0 {
		return nil
	}
	return h
}

func addHeaderLine(h map[string]string, line string) {
	line = strings.TrimRight(line, "\r\n")
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	h[name] = strings.TrimSpace(value)
}

// splitURL breaks an absolute or origin-form URL into scheme, host and
// path with query.
func splitURL(raw string) (scheme, host, path string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", raw
	}
	path = u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" && u.Host != "" {
		path = "/"
	}
	return u.Scheme, u.Host, path
}

func isWebSocketUpgrade(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Upgrade") && strings.EqualFold(strings.TrimSpace(v), "websocket") {
			return true
		}
	}
	return false
}

// httpMethods are the request methods recognized in text lines.
var httpMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
	"HEAD": {}, "OPTIONS": {}, "CONNECT": {}, "TRACE": {},
}
