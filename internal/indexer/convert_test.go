package indexer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/usestring/trafficlab/pkg/types"
)

func TestFromEvent(t *testing.T) {
	ev := &types.TrafficEvent{
		ID:              "ev-1",
		SessionID:       "sess-1",
		Timestamp:       time.UnixMilli(1700000000123),
		Method:          "post",
		URL:             "https://Shop.Example.com/cart/items?ref=home",
		RequestHeaders:  map[string]string{"Content-Type": "application/json", "X-Trace": "t1"},
		RequestBody:     `{"qty":2}`,
		StatusCode:      201,
		ResponseHeaders: map[string]string{"Content-Type": "application/json; charset=utf-8"},
		ResponseBody:    `{"ok":true}`,
		DurationMs:      87,
	}

	meta := FromEvent(ev)

	assert.Equal(t, "ev-1", meta.EventID)
	assert.Equal(t, "sess-1", meta.SessionID)
	assert.Equal(t, int64(1700000000123), meta.TsMs)
	assert.Equal(t, "POST", meta.Method)
	assert.Equal(t, "shop.example.com", meta.Host)
	assert.Equal(t, "/cart/items", meta.Path)
	assert.Equal(t, 201, meta.Status)
	assert.Equal(t, int64(87), meta.DurationMs)
	assert.Equal(t, []string{"content-type", "x-trace"}, meta.HeaderNamesLower)
	assert.Equal(t, []HeaderValue{
		{Name: "content-type", Value: "application/json"},
		{Name: "x-trace", Value: "t1"},
		{Name: "content-type", Value: "application/json; charset=utf-8", Response: true},
	}, meta.HeaderValues)
	assert.Equal(t, "application/json", meta.ReqContentType)
	assert.Equal(t, 9, meta.ReqBodyBytes)
	assert.Equal(t, 11, meta.RespBodyBytes)
}

func TestFromEvent_PacketWithoutURL(t *testing.T) {
	ev := &types.TrafficEvent{
		ID:      "ev-2",
		Host:    "api.example.com",
		Path:    "/health",
		DstPort: 80,
		Method:  "GET",
	}

	meta := FromEvent(ev)
	assert.Equal(t, "http://api.example.com/health", meta.URL)
	assert.Equal(t, "api.example.com", meta.Host)
	assert.Empty(t, meta.HeaderNamesLower)
}

func TestEventMeta_ToSummary(t *testing.T) {
	meta := &EventMeta{EventID: "ev-3", SessionID: "s", Method: "GET", Status: 204, IsWebSocket: true}
	sum := meta.ToSummary()
	assert.Equal(t, "ev-3", sum.EventID)
	assert.Equal(t, 204, sum.Status)
	assert.True(t, sum.IsWebSocket)
}
