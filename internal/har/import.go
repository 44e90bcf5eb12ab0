package har

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/usestring/trafficlab/internal/schema"
	"github.com/usestring/trafficlab/pkg/types"
)

// ErrInvalidArchive is returned when a document is not a valid HAR archive.
var ErrInvalidArchive = errors.New("invalid HAR archive")

// maxReportedErrors caps the schema violations quoted in an error.
const maxReportedErrors = 5

var documentValidator = sync.OnceValues(func() (*schema.Validator, error) {
	return schema.NewValidatorFromType(&Document{})
})

// Decode validates data against the HAR schema and parses it.
func Decode(data []byte) (*Document, error) {
	v, err := documentValidator()
	if err != nil {
		return nil, fmt.Errorf("building HAR schema: %w", err)
	}
	if res := v.Validate(data); !res.Valid {
		msgs := res.Errors
		if len(msgs) > maxReportedErrors {
			msgs = append(msgs[:maxReportedErrors:maxReportedErrors], fmt.Sprintf("and %d more", len(res.Errors)-maxReportedErrors))
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidArchive, strings.Join(msgs, "; "))
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return &doc, nil
}

// Events converts the archive entries to traffic events. sessionID, when
// set, replaces the session recorded in each entry. newID supplies ids for
// entries exported by other tools.
func (d *Document) Events(sessionID string, newID func() string) []*types.TrafficEvent {
	out := make([]*types.TrafficEvent, 0, len(d.Log.Entries))
	for i := range d.Log.Entries {
		ev := d.Log.Entries[i].Event(newID)
		if sessionID != "" {
			ev.SessionID = sessionID
		}
		out = append(out, ev)
	}
	return out
}

// Event converts one entry.
func (e *Entry) Event(newID func() string) *types.TrafficEvent {
	ev := &types.TrafficEvent{
		ID:              e.EventID,
		SessionID:       e.SessionID,
		Timestamp:       e.StartedDateTime,
		SourceIP:        e.ClientIP,
		DestIP:          e.ServerIPAddress,
		Method:          strings.ToUpper(e.Request.Method),
		URL:             e.Request.URL,
		RequestHeaders:  headerMap(e.Request.Headers),
		StatusCode:      e.Response.Status,
		ResponsePhrase:  e.Response.StatusText,
		ResponseHeaders: headerMap(e.Response.Headers),
		ResponseBody:    decodeContent(e.Response.Content),
		DurationMs:      int64(e.Time),
		IsWebSocket:     e.WebSocket,
	}
	if ev.ID == "" && newID != nil {
		ev.ID = newID()
	}
	if e.Request.PostData != nil {
		ev.RequestBody = e.Request.PostData.Text
	}
	ev.ByteLength = len(ev.RequestBody) + len(ev.ResponseBody)

	if u, err := url.Parse(e.Request.URL); err == nil {
		ev.Scheme = u.Scheme
		ev.Host = u.Hostname()
		ev.Path = u.RequestURI()
		ev.DstPort = port(u)
	}
	if up, ok := types.HeaderValue(ev.RequestHeaders, "Upgrade"); ok && strings.EqualFold(up, "websocket") {
		ev.IsWebSocket = true
	}
	return ev
}

// headerMap folds repeated header names into one comma-joined value.
func headerMap(pairs []NameValue) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if prev, ok := out[p.Name]; ok {
			out[p.Name] = prev + ", " + p.Value
			continue
		}
		out[p.Name] = p.Value
	}
	return out
}

func decodeContent(c Content) string {
	if c.Encoding != "base64" {
		return c.Text
	}
	raw, err := base64.StdEncoding.DecodeString(c.Text)
	if err != nil {
		return c.Text
	}
	return string(raw)
}

func port(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	switch u.Scheme {
	case "https", "wss":
		return 443
	case "http", "ws":
		return 80
	}
	return 0
}
