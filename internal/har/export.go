package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/usestring/trafficlab/pkg/types"
)

// DefaultCreator identifies archives written by this module.
var DefaultCreator = Creator{Name: "trafficlab", Version: "dev"}

const httpVersion = "HTTP/1.1"

// Build converts captured events into a HAR document, oldest first.
func Build(events []*types.TrafficEvent, creator Creator) *Document {
	sorted := sortedEvents(events)
	entries := make([]Entry, 0, len(sorted))
	for _, ev := range sorted {
		entries = append(entries, EntryFromEvent(ev))
	}
	return &Document{Log: Log{
		Version: Version,
		Creator: creator,
		Entries: entries,
	}}
}

// Encode writes events as an indented HAR document.
func Encode(w io.Writer, events []*types.TrafficEvent, creator Creator) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Build(events, creator)); err != nil {
		return fmt.Errorf("encoding HAR: %w", err)
	}
	return nil
}

// Records returns the plain JSON export form of events: one record per
// event, oldest first, with the absolute URL always filled in.
func Records(events []*types.TrafficEvent) []types.TrafficEvent {
	sorted := sortedEvents(events)
	out := make([]types.TrafficEvent, 0, len(sorted))
	for _, ev := range sorted {
		rec := *ev
		rec.URL = ev.FullURL()
		out = append(out, rec)
	}
	return out
}

// EncodeJSON writes events as an indented JSON array of records.
func EncodeJSON(w io.Writer, events []*types.TrafficEvent) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Records(events)); err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	return nil
}

// EntryFromEvent converts one captured event.
func EntryFromEvent(ev *types.TrafficEvent) Entry {
	fullURL := ev.FullURL()
	e := Entry{
		StartedDateTime: ev.Timestamp,
		Time:            float64(ev.DurationMs),
		Request: Request{
			Method:      ev.Method,
			URL:         fullURL,
			HTTPVersion: httpVersion,
			Cookies:     requestCookies(ev.RequestHeaders),
			Headers:     nameValues(ev.RequestHeaders),
			QueryString: queryString(fullURL),
			HeadersSize: -1,
			BodySize:    len(ev.RequestBody),
		},
		Response: Response{
			Status:      ev.StatusCode,
			StatusText:  ev.ResponsePhrase,
			HTTPVersion: httpVersion,
			Cookies:     responseCookies(ev.ResponseHeaders),
			Headers:     nameValues(ev.ResponseHeaders),
			HeadersSize: -1,
			BodySize:    len(ev.ResponseBody),
		},
		Timings: Timings{
			Blocked: -1,
			DNS:     -1,
			Connect: -1,
			SSL:     -1,
			Wait:    float64(ev.DurationMs),
		},
		ServerIPAddress: ev.DestIP,
		EventID:         ev.ID,
		SessionID:       ev.SessionID,
		ClientIP:        ev.SourceIP,
		WebSocket:       ev.IsWebSocket,
	}
	if ev.RequestBody != "" {
		mime, _ := types.HeaderValue(ev.RequestHeaders, "Content-Type")
		e.Request.PostData = &PostData{MimeType: mime, Text: ev.RequestBody}
	}

	e.Response.Content = content(ev)
	if loc, ok := types.HeaderValue(ev.ResponseHeaders, "Location"); ok {
		e.Response.RedirectURL = loc
	}
	return e
}

func content(ev *types.TrafficEvent) Content {
	mime, ok := types.HeaderValue(ev.ResponseHeaders, "Content-Type")
	if !ok {
		mime = "x-unknown"
	}
	c := Content{Size: len(ev.ResponseBody), MimeType: mime}
	if ev.ResponseBody == "" {
		return c
	}
	if utf8.ValidString(ev.ResponseBody) {
		c.Text = ev.ResponseBody
	} else {
		c.Text = base64.StdEncoding.EncodeToString([]byte(ev.ResponseBody))
		c.Encoding = "base64"
	}
	return c
}

func nameValues(h map[string]string) []NameValue {
	out := make([]NameValue, 0, len(h))
	for k, v := range h {
		out = append(out, NameValue{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func queryString(rawURL string) []NameValue {
	out := []NameValue{}
	u, err := url.Parse(rawURL)
	if err != nil {
		return out
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, NameValue{Name: k, Value: v})
		}
	}
	return out
}

func requestCookies(h map[string]string) []Cookie {
	out := []Cookie{}
	line, ok := types.HeaderValue(h, "Cookie")
	if !ok {
		return out
	}
	cookies, err := http.ParseCookie(line)
	if err != nil {
		return out
	}
	for _, c := range cookies {
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func responseCookies(h map[string]string) []Cookie {
	out := []Cookie{}
	line, ok := types.HeaderValue(h, "Set-Cookie")
	if !ok {
		return out
	}
	c, err := http.ParseSetCookie(line)
	if err != nil {
		return out
	}
	hc := Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		HTTPOnly: c.HttpOnly,
		Secure:   c.Secure,
	}
	if !c.Expires.IsZero() {
		hc.Expires = c.Expires.UTC().Format(time.RFC3339)
	}
	return append(out, hc)
}

func sortedEvents(events []*types.TrafficEvent) []*types.TrafficEvent {
	out := make([]*types.TrafficEvent, 0, len(events))
	for _, ev := range events {
		if ev != nil {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
