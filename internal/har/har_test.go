package har

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/trafficlab/pkg/types"
)

func sampleEvents() []*types.TrafficEvent {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*types.TrafficEvent{
		{
			ID:        "ev-2",
			SessionID: "s1",
			Timestamp: base.Add(time.Second),
			Method:    "POST",
			Host:      "api.example.com",
			Path:      "/v1/items?sort=desc&page=2",
			DstPort:   443,
			DestIP:    "10.0.0.2",
			SourceIP:  "10.0.0.9",
			RequestHeaders: map[string]string{
				"Content-Type": "application/json",
				"Cookie":       "sid=abc; theme=dark",
			},
			RequestBody:    `{"name":"x"}`,
			StatusCode:     201,
			ResponsePhrase: "Created",
			ResponseHeaders: map[string]string{
				"Content-Type": "application/json",
				"Set-Cookie":   "sid=def; Path=/; HttpOnly",
				"Location":     "/v1/items/7",
			},
			ResponseBody: `{"id":7}`,
			DurationMs:   42,
		},
		{
			ID:         "ev-1",
			SessionID:  "s1",
			Timestamp:  base,
			Method:     "GET",
			URL:        "http://example.com/bin",
			StatusCode: 200,
			ResponseHeaders: map[string]string{
				"Content-Type": "application/octet-stream",
			},
			ResponseBody: string([]byte{0xff, 0xfe, 0x00}),
		},
	}
}

func TestBuild(t *testing.T) {
	doc := Build(sampleEvents(), DefaultCreator)

	assert.Equal(t, "1.2", doc.Log.Version)
	assert.Equal(t, "trafficlab", doc.Log.Creator.Name)
	require.Len(t, doc.Log.Entries, 2)

	bin := doc.Log.Entries[0]
	assert.Equal(t, "ev-1", bin.EventID, "oldest first")
	assert.Equal(t, "base64", bin.Response.Content.Encoding)
	assert.Equal(t, 3, bin.Response.Content.Size)
	assert.Nil(t, bin.Request.PostData)
	assert.NotNil(t, bin.Request.Cookies)
	assert.NotNil(t, bin.Request.QueryString)

	post := doc.Log.Entries[1]
	assert.Equal(t, "https://api.example.com/v1/items?sort=desc&page=2", post.Request.URL)
	assert.Equal(t, []NameValue{{"page", "2"}, {"sort", "desc"}}, post.Request.QueryString)
	assert.Equal(t, []NameValue{{"Content-Type", "application/json"}, {"Cookie", "sid=abc; theme=dark"}}, post.Request.Headers)
	require.NotNil(t, post.Request.PostData)
	assert.Equal(t, "application/json", post.Request.PostData.MimeType)
	assert.Equal(t, `{"name":"x"}`, post.Request.PostData.Text)
	require.Len(t, post.Request.Cookies, 2)
	assert.Equal(t, "theme", post.Request.Cookies[1].Name)

	assert.Equal(t, 201, post.Response.Status)
	assert.Equal(t, "/v1/items/7", post.Response.RedirectURL)
	require.Len(t, post.Response.Cookies, 1)
	assert.True(t, post.Response.Cookies[0].HTTPOnly)
	assert.Equal(t, `{"id":7}`, post.Response.Content.Text)

	assert.Equal(t, float64(42), post.Time)
	assert.Equal(t, float64(42), post.Timings.Wait)
	assert.Equal(t, float64(-1), post.Timings.DNS)
	assert.Equal(t, "10.0.0.2", post.ServerIPAddress)
}

func TestBuild_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, nil, DefaultCreator))

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, []any{}, raw["log"]["entries"])
}

func TestEncodeJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, sampleEvents()))

	var recs []types.TrafficEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "ev-1", recs[0].ID)
	assert.Equal(t, "https://api.example.com/v1/items?sort=desc&page=2", recs[1].URL)

	buf.Reset()
	require.NoError(t, EncodeJSON(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleEvents(), DefaultCreator))

	doc, err := Decode(buf.Bytes())
	require.NoError(t, err)

	events := doc.Events("", nil)
	require.Len(t, events, 2)

	bin := events[0]
	assert.Equal(t, "ev-1", bin.ID)
	assert.Equal(t, string([]byte{0xff, 0xfe, 0x00}), bin.ResponseBody)
	assert.Equal(t, 80, bin.DstPort)

	post := events[1]
	assert.Equal(t, "ev-2", post.ID)
	assert.Equal(t, "s1", post.SessionID)
	assert.Equal(t, "POST", post.Method)
	assert.Equal(t, "https", post.Scheme)
	assert.Equal(t, "api.example.com", post.Host)
	assert.Equal(t, "/v1/items?sort=desc&page=2", post.Path)
	assert.Equal(t, 443, post.DstPort)
	assert.Equal(t, `{"name":"x"}`, post.RequestBody)
	assert.Equal(t, "application/json", post.RequestHeaders["Content-Type"])
	assert.Equal(t, 201, post.StatusCode)
	assert.Equal(t, "Created", post.ResponsePhrase)
	assert.Equal(t, int64(42), post.DurationMs)
	assert.Equal(t, "10.0.0.9", post.SourceIP)
	assert.True(t, post.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)))
}

const foreignHAR = `{
  "log": {
    "version": "1.2",
    "creator": {"name": "WebInspector", "version": "537.36"},
    "pages": [],
    "entries": [{
      "startedDateTime": "2026-03-01T12:00:00.123Z",
      "time": 12.5,
      "_resourceType": "xhr",
      "request": {
        "method": "get",
        "url": "https://example.com:8443/a?b=1",
        "httpVersion": "HTTP/2.0",
        "cookies": [],
        "headers": [{"name": "accept", "value": "a"}, {"name": "accept", "value": "b"}],
        "queryString": [{"name": "b", "value": "1"}],
        "headersSize": -1,
        "bodySize": 0
      },
      "response": {
        "status": 200,
        "statusText": "",
        "httpVersion": "HTTP/2.0",
        "cookies": [{"name": "x", "value": "y", "expires": null}],
        "headers": [],
        "content": {"size": 2, "mimeType": "application/json", "text": "e30=", "encoding": "base64"},
        "redirectURL": "",
        "headersSize": -1,
        "bodySize": 2
      },
      "cache": {},
      "timings": {"blocked": -1, "dns": -1, "connect": -1, "send": 0, "wait": 12, "receive": 0.5, "ssl": -1}
    }]
  }
}`

func TestDecode_ForeignArchive(t *testing.T) {
	doc, err := Decode([]byte(foreignHAR))
	require.NoError(t, err)

	n := 0
	events := doc.Events("import-1", func() string { n++; return "gen-1" })
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, 1, n)
	assert.Equal(t, "gen-1", ev.ID)
	assert.Equal(t, "import-1", ev.SessionID)
	assert.Equal(t, "GET", ev.Method)
	assert.Equal(t, 8443, ev.DstPort)
	assert.Equal(t, "a, b", ev.RequestHeaders["accept"])
	assert.Equal(t, "{}", ev.ResponseBody)
	assert.Equal(t, int64(12), ev.DurationMs)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "not json", data: `{`, want: "invalid JSON"},
		{name: "missing log", data: `{}`, want: "log"},
		{name: "entry missing request", data: `{"log":{"version":"1.2","creator":{"name":"x","version":"1"},"entries":[{"startedDateTime":"2026-03-01T12:00:00Z","time":1,"response":{},"cache":{},"timings":{"send":0,"wait":0,"receive":0}}]}}`, want: "/log/entries/0"},
		{name: "extra fields allowed", data: `{"log":{"version":"1.2","creator":{"name":"x","version":"1"},"entries":[]}, "x": 1}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidArchive)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
