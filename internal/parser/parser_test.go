package parser

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/trafficlab/pkg/types"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestParser(tool types.CaptureTool, opts ...Option) *Parser {
	n := 0
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDFunc(func() string {
			n++
			return fmt.Sprintf("ev-%d", n)
		}),
	}
	return New(tool, append(base, opts...)...)
}

// ekPacket builds a tshark -T ek style packet line.
func ekPacket(method, host, uri string) string {
	return fmt.Sprintf(`{"timestamp":"1700000000123","layers":{`+
		`"frame":{"frame_frame_len":"512","frame_frame_time_epoch":"1700000000.5"},`+
		`"ip":{"ip_ip_src":"10.0.0.1","ip_ip_dst":"93.184.216.34"},`+
		`"tcp":{"tcp_tcp_srcport":"51234","tcp_tcp_dstport":"80"},`+
		`"http":{"http_http_request_method":"%s","http_http_host":"%s","http_http_request_uri":"%s",`+
		`"http_http_request_line":["Host: %s\r\n","Accept: */*\r\n"]}}}`, method, host, uri, host)
}

func TestParser_PacketRequest(t *testing.T) {
	p := newTestParser(types.ToolTShark)

	events := p.Feed([]byte(ekPacket("GET", "api.example.com", "/users?page=2") + "\n"))
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, "GET", ev.Method)
	assert.Equal(t, "api.example.com", ev.Host)
	assert.Equal(t, "/users?page=2", ev.Path)
	assert.Equal(t, "10.0.0.1", ev.SourceIP)
	assert.Equal(t, "93.184.216.34", ev.DestIP)
	assert.Equal(t, 51234, ev.SrcPort)
	assert.Equal(t, 80, ev.DstPort)
	assert.Equal(t, 512, ev.ByteLength)
	assert.Equal(t, "*/*", ev.RequestHeaders["Accept"])
	assert.Equal(t, time.Unix(1700000000, 500000000), ev.Timestamp)
	assert.Equal(t, "http://api.example.com/users?page=2", ev.FullURL())
	assert.False(t, ev.IsWebSocket)
}

func TestParser_PacketResponseDottedKeys(t *testing.T) {
	p := newTestParser(types.ToolTShark)

	line := `{"_source":{"layers":{"frame":{"frame.len":"90"},` +
		`"tcp":{"tcp.srcport":"443","tcp.dstport":"50000"},` +
		`"http":{"HTTP/1.1 404 Not Found\r\n":{"http.response.code":"404","http.response.phrase":"Not Found"},` +
		`"http.response.line":["Content-Type: text/plain\r\n"]}}}}` + "\n"

	events := p.Feed([]byte(line))
	require.Len(t, events, 1)
	assert.Equal(t, 404, events[0].StatusCode)
	assert.Equal(t, "Not Found", events[0].ResponsePhrase)
	assert.Equal(t, "text/plain", events[0].ResponseHeaders["Content-Type"])
	assert.Equal(t, fixedNow, events[0].Timestamp)
}

func TestParser_NonHTTPDropped(t *testing.T) {
	p := newTestParser(types.ToolTShark)

	input := `{"index":{"_index":"packets-2025-01-02","_type":"doc"}}` + "\n" +
		`{"layers":{"frame":{"frame_frame_len":"60"},"tcp":{"tcp_tcp_srcport":"1"}}}` + "\n" +
		`{"layers":{"http":{"http_http_file_data":"x"}}}` + "\n"

	assert.Empty(t, p.Feed([]byte(input)))
	assert.Equal(t, int64(0), p.Skipped())
}

func TestParser_PartialChunksEmitOnce(t *testing.T) {
	p := newTestParser(types.ToolTShark)
	line := ekPacket("GET", "api.example.com", "/") + "\n"

	// Split across three chunks; nothing emits until the newline arrives.
	a, b, c := line[:20], line[20:len(line)-1], line[len(line)-1:]
	assert.Empty(t, p.Feed([]byte(a)))
	assert.Empty(t, p.Feed([]byte(b)))
	assert.Greater(t, p.Buffered(), 0)

	events := p.Feed([]byte(c))
	require.Len(t, events, 1)
	assert.Equal(t, 0, p.Buffered())

	// Nothing left to re-emit.
	assert.Empty(t, p.Feed(nil))
	assert.Empty(t, p.Flush())
}

func TestParser_MalformedLineDroppedOnce(t *testing.T) {
	p := newTestParser(types.ToolTShark)

	input := `{"layers":{"http":` + "\n" + ekPacket("POST", "a.example.com", "/x") + "\n"
	events := p.Feed([]byte(input))

	require.Len(t, events, 1)
	assert.Equal(t, "POST", events[0].Method)
	assert.Equal(t, int64(1), p.Skipped())

	assert.Empty(t, p.Feed([]byte("\n")))
	assert.Equal(t, int64(1), p.Skipped())
}

func TestParser_MalformedChunksNeverEmit(t *testing.T) {
	inputs := []string{
		"{",
		`{"layers":`,
		"not json at all",
		`{"layers":{"http":{"http_http_request_method":"GET"}}`,
		"\x00\x01\x02",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			p := newTestParser(types.ToolTShark)
			assert.NotPanics(t, func() {
				assert.Empty(t, p.Feed([]byte(in)))
				assert.Empty(t, p.Flush())
			})
		})
	}
}

func TestParser_NumericCoercion(t *testing.T) {
	p := newTestParser(types.ToolTShark)

	line := `{"layers":{"frame":{"frame_frame_len":"abc"},"tcp":{"tcp_tcp_srcport":8080,"tcp_tcp_dstport":"x"},` +
		`"http":{"http_http_response_code":"200"}}}` + "\n"

	events := p.Feed([]byte(line))
	require.Len(t, events, 1)
	assert.Equal(t, 200, events[0].StatusCode)
	assert.Equal(t, 8080, events[0].SrcPort)
	assert.Equal(t, 0, events[0].DstPort)
	assert.Equal(t, 0, events[0].ByteLength)
}

func TestParser_WebSocketUpgrade(t *testing.T) {
	p := newTestParser(types.ToolTShark)

	line := `{"layers":{"http":{"http_http_request_method":"GET","http_http_host":"ws.example.com",` +
		`"http_http_request_uri":"/socket","http_http_request_line":["Upgrade: websocket\r\n","Connection: Upgrade\r\n"]}}}` + "\n"

	events := p.Feed([]byte(line))
	require.Len(t, events, 1)
	assert.True(t, events[0].IsWebSocket)
}

func TestParser_MaxBufferDiscardsTail(t *testing.T) {
	p := newTestParser(types.ToolTShark, WithMaxBuffer(64))

	assert.Empty(t, p.Feed([]byte(strings.Repeat("x", 100))))
	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, int64(1), p.Skipped())

	// The cap applies to unterminated tails only.
	events := p.Feed([]byte(ekPacket("GET", "h", "/") + "\n"))
	assert.Len(t, events, 1)
}

func TestParser_FlushParsesUnterminatedLine(t *testing.T) {
	p := newTestParser(types.ToolTShark)

	assert.Empty(t, p.Feed([]byte(ekPacket("DELETE", "h.example.com", "/1"))))
	events := p.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, "DELETE", events[0].Method)
}

func TestParser_FlowArray(t *testing.T) {
	p := newTestParser(types.ToolMitmdump)

	doc := `[{"request":{"method":"post","scheme":"https","host":"api.example.com","port":443,"path":"/v1/items",` +
		`"headers":[["Content-Type","application/json"]],"content":"{\"a\":1}","timestamp_start":1700000000.0},` +
		`"response":{"status_code":201,"reason":"Created","headers":{"X-Id":"7"},"content":"ok","timestamp_end":1700000000.25},` +
		`"client_conn":{"address":["127.0.0.1",60000]},"server_conn":{"address":["1.2.3.4",443]}},` +
		`{"request":{"method":"GET","url":"https://cdn.example.com/a.js?v=1"}}]`

	// The array is only decoded once its closing bracket arrives.
	assert.Empty(t, p.Feed([]byte(doc[:50])))
	events := p.Feed([]byte(doc[50:]))
	require.Len(t, events, 2)

	created := events[0]
	assert.Equal(t, "POST", created.Method)
	assert.Equal(t, "api.example.com", created.Host)
	assert.Equal(t, "/v1/items", created.Path)
	assert.Equal(t, "https", created.Scheme)
	assert.Equal(t, 201, created.StatusCode)
	assert.Equal(t, "Created", created.ResponsePhrase)
	assert.Equal(t, "application/json", created.RequestHeaders["Content-Type"])
	assert.Equal(t, "7", created.ResponseHeaders["X-Id"])
	assert.Equal(t, `{"a":1}`, created.RequestBody)
	assert.Equal(t, int64(250), created.DurationMs)
	assert.Equal(t, "127.0.0.1", created.SourceIP)
	assert.Equal(t, 60000, created.SrcPort)
	assert.Equal(t, 443, created.DstPort)
	assert.Equal(t, "https://api.example.com/v1/items", created.FullURL())

	second := events[1]
	assert.Equal(t, "cdn.example.com", second.Host)
	assert.Equal(t, "/a.js?v=1", second.Path)
	assert.Equal(t, "https://cdn.example.com/a.js?v=1", second.FullURL())
}

func TestParser_FlowBracketsInStrings(t *testing.T) {
	p := newTestParser(types.ToolMitmdump)

	events := p.Feed([]byte(`[{"method":"GET","url":"http://x.example.com/","content":"]}[{"}]` + "\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "x.example.com", events[0].Host)
	assert.Equal(t, "]}[{", events[0].RequestBody)
}

func TestParser_FlowTextLines(t *testing.T) {
	p := newTestParser(types.ToolMitmdump)

	input := "Proxy server listening at http://*:8080\n" +
		"GET https://api.example.com/users\n" +
		"FROB https://api.example.com/nope\n" +
		"127.0.0.1:50412: POST http://127.0.0.1:9000/login HTTP/1.1\n" +
		"PUT https://partial.example.com/"

	events := p.Feed([]byte(input))
	require.Len(t, events, 2)
	assert.Equal(t, "GET", events[0].Method)
	assert.Equal(t, "api.example.com", events[0].Host)
	assert.Equal(t, "/users", events[0].Path)
	assert.Equal(t, "POST", events[1].Method)
	assert.Equal(t, "127.0.0.1:9000", events[1].Host)

	events = p.Feed([]byte("x\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "/x", events[0].Path)
}

func TestParser_FlowInvalidArraySkipped(t *testing.T) {
	p := newTestParser(types.ToolMitmdump)

	events := p.Feed([]byte(`[{"method":"GET",}]` + "\nGET http://ok.example.com/\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "ok.example.com", events[0].Host)
	assert.Equal(t, int64(1), p.Skipped())
}

func TestParser_FlowUnterminatedArrayFlushed(t *testing.T) {
	p := newTestParser(types.ToolMitmdump)

	assert.Empty(t, p.Feed([]byte(`[{"method":"GET","url":"http://a/"}`)))
	assert.Empty(t, p.Flush())
	assert.Equal(t, int64(1), p.Skipped())
}
