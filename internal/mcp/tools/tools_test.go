package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/trafficlab/internal/cache"
	"github.com/usestring/trafficlab/internal/capture"
	"github.com/usestring/trafficlab/internal/certs"
	"github.com/usestring/trafficlab/internal/config"
	"github.com/usestring/trafficlab/internal/har"
	"github.com/usestring/trafficlab/internal/indexer"
	"github.com/usestring/trafficlab/internal/replay"
	"github.com/usestring/trafficlab/internal/search"
	"github.com/usestring/trafficlab/pkg/bodyquery"
	"github.com/usestring/trafficlab/pkg/client"
	"github.com/usestring/trafficlab/pkg/types"
)

type stubExecutor struct {
	mu   sync.Mutex
	reqs []client.Request
	resp *client.Response
}

func (s *stubExecutor) Do(_ context.Context, req client.Request) (*client.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.resp, nil
}

func newTestDeps(t *testing.T) (*Deps, *stubExecutor) {
	t.Helper()
	c, err := cache.NewCaptureCache(100)
	require.NoError(t, err)
	idx := indexer.New(c, indexer.Options{})

	exec := &stubExecutor{resp: &client.Response{
		StatusCode: 200,
		StatusText: "OK",
		Headers:    client.Headers{{"Content-Type", "application/json"}, {"X-Replay", "1"}},
		Body:       []byte(`{"id": "7", "items": [1, 2, 3, 4, 5]}`),
	}}
	seq := 0
	engine, err := replay.NewEngine(replay.Options{},
		replay.WithExecutor(exec),
		replay.WithCaptures(c),
		replay.WithIDFunc(func() string { seq++; return fmt.Sprintf("replay-%d", seq) }),
	)
	require.NoError(t, err)

	cfg := config.Load()
	cfg.CompactMaxArrayItems = 2
	return &Deps{
		Config:    cfg,
		Cache:     c,
		Indexer:   idx,
		Search:    search.New(idx, 20),
		Replay:    engine,
		BodyQuery: bodyquery.NewEngine(),
	}, exec
}

func sampleHAR(t *testing.T) string {
	t.Helper()
	ev := &types.TrafficEvent{
		ID:              "orig-1",
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Method:          "POST",
		URL:             "https://api.example.com/v1/users?page=2",
		RequestHeaders:  map[string]string{"Content-Type": "application/json"},
		RequestBody:     `{"name": "ada"}`,
		StatusCode:      201,
		ResponsePhrase:  "Created",
		ResponseHeaders: map[string]string{"Content-Type": "application/json"},
		ResponseBody:    `{"id": 7, "items": [1, 2]}`,
		DurationMs:      42,
	}
	data, err := json.Marshal(har.Build([]*types.TrafficEvent{ev}, har.DefaultCreator))
	require.NoError(t, err)
	return string(data)
}

func TestRegister_OutputSchemas(t *testing.T) {
	d, _ := newTestDeps(t)
	srv := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "test", Version: "0"}, nil)
	assert.NotPanics(t, func() { Register(srv, d) })
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("start: %w", capture.ErrSessionConflict), ErrCodeConflict},
		{fmt.Errorf("%w: s-1", capture.ErrNotFound), ErrCodeNotFound},
		{fmt.Errorf("%w: replay r-1", replay.ErrNotFound), ErrCodeNotFound},
		{certs.ErrCANotInitialized, ErrCodePrecondition},
		{certs.ErrPasswordRequired, ErrCodeInvalidInput},
		{fmt.Errorf("%w: bad", har.ErrInvalidArchive), ErrCodeInvalidInput},
		{fmt.Errorf("%w: trust: exit 1", certs.ErrTrustOperationFailed), ErrCodeToolError},
		{fmt.Errorf("dial: %w", context.DeadlineExceeded), ErrCodeTimeout},
		{errors.New("boom"), ErrCodeToolError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			var coded *CodedError
			require.ErrorAs(t, WrapError(tt.err), &coded)
			assert.Equal(t, tt.code, coded.Code)
			assert.ErrorIs(t, coded, tt.err)
		})
	}

	in := ErrInvalidInput("x")
	assert.Same(t, in, WrapError(in))
	assert.NoError(t, WrapError(nil))
}

func TestImportSearchAndReplay(t *testing.T) {
	d, exec := newTestDeps(t)
	ctx := context.Background()

	_, imported, err := ToolImportHAR(d)(ctx, nil, ImportHARInput{Content: sampleHAR(t), SessionID: "har-1"})
	require.NoError(t, err)
	assert.Equal(t, "har-1", imported.SessionID)
	assert.Equal(t, []string{"orig-1"}, imported.EventIDs)
	require.Len(t, imported.Sample, 1)
	assert.Equal(t, "api.example.com", imported.Sample[0].Host)

	_, found, err := ToolCaptureSearch(d)(ctx, nil, CaptureSearchInput{
		SessionID: "har-1",
		Query:     "users",
		Filter:    types.TrafficFilter{Methods: []string{"POST"}},
	})
	require.NoError(t, err)
	require.Len(t, found.Results, 1)
	assert.Equal(t, "orig-1", found.Results[0].Summary.EventID)

	_, got, err := ToolCaptureGetEvent(d)(ctx, nil, CaptureGetEventInput{EventID: "orig-1"})
	require.NoError(t, err)
	assert.Equal(t, "trafficlab://event/orig-1", got.Resource.URI)
	assert.JSONEq(t, `{"id": 7, "items": [1, 2]}`, got.ResponseBody)

	_, replayed, err := ToolReplayRequest(d)(ctx, nil, ReplayRequestInput{
		CaptureID: "orig-1",
		Target:    types.TargetCustom,
		CustomURL: "http://localhost:9000/v1/users",
	})
	require.NoError(t, err)
	require.NotNil(t, replayed.Result)
	assert.True(t, replayed.Result.Success)
	assert.Equal(t, "replay-1", replayed.Result.ID)
	assert.True(t, replayed.Compacted)
	assert.JSONEq(t, `{"id":"7","items":[1,2,"... (3 more items)"]}`, replayed.Result.Response.Body)
	require.NotNil(t, replayed.Diff)
	assert.False(t, replayed.Diff.StatusMatch)
	assert.Contains(t, replayed.Hint, "status 201 became 200")
	require.Len(t, exec.reqs, 1)
	assert.Equal(t, "POST", exec.reqs[0].Method)

	stored, err := d.Replay.Get("replay-1")
	require.NoError(t, err)
	assert.Contains(t, stored.Response.Body, "4, 5", "stored result is not compacted")

	_, cmp, err := ToolReplayCompare(d)(ctx, nil, ReplayCompareInput{ReplayID: "replay-1"})
	require.NoError(t, err)
	assert.True(t, cmp.Comparable)
	assert.Equal(t, []string{"X-Replay"}, cmp.Diff.Headers.Added)

	_, drift, err := ToolSchemaDrift(d)(ctx, nil, SchemaDriftInput{ReplayID: "replay-1"})
	require.NoError(t, err)
	require.NotNil(t, drift.Drift)
	assert.True(t, drift.Drift.Comparable)
	assert.False(t, drift.Drift.Valid, "id changed from number to string")
	assert.Nil(t, drift.Drift.Schema)

	_, q, err := ToolQueryBody(d)(ctx, nil, QueryBodyInput{ReplayID: "replay-1", Expression: ".items[4]"})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(5)}, q.Values)

	_, q, err = ToolQueryBody(d)(ctx, nil, QueryBodyInput{EventID: "orig-1", Side: "request", Expression: ".name"})
	require.NoError(t, err)
	assert.Equal(t, []any{"ada"}, q.Values)

	_, hist, err := ToolReplayHistory(d)(ctx, nil, ReplayHistoryInput{})
	require.NoError(t, err)
	require.Len(t, hist.Replays, 1)
	assert.Equal(t, 200, hist.Replays[0].Status)
	assert.True(t, hist.Replays[0].StatusDiff)
}

func TestReplayMultiple(t *testing.T) {
	d, _ := newTestDeps(t)
	ctx := context.Background()
	_, _, err := ToolImportHAR(d)(ctx, nil, ImportHARInput{Content: sampleHAR(t)})
	require.NoError(t, err)

	_, out, err := ToolReplayMultiple(d)(ctx, nil, ReplayMultipleInput{
		Requests: []ReplayRequestInput{{CaptureID: "orig-1"}, {CaptureID: "missing"}, {CaptureID: "orig-1"}},
	})
	require.NoError(t, err)
	require.Len(t, out.Replays, 3)
	assert.True(t, out.Replays[0].Success)
	assert.False(t, out.Replays[1].Success)
	assert.Contains(t, out.Replays[1].Error, "not found")
	assert.Contains(t, out.Hint, "2 of 3 replays succeeded")

	_, _, err = ToolReplayMultiple(d)(ctx, nil, ReplayMultipleInput{})
	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, ErrCodeInvalidInput, coded.Code)
}

func TestReplayDelete(t *testing.T) {
	d, _ := newTestDeps(t)
	ctx := context.Background()
	_, _, err := ToolImportHAR(d)(ctx, nil, ImportHARInput{Content: sampleHAR(t)})
	require.NoError(t, err)
	for range 2 {
		_, _, err := ToolReplayRequest(d)(ctx, nil, ReplayRequestInput{CaptureID: "orig-1"})
		require.NoError(t, err)
	}

	_, out, err := ToolReplayDelete(d)(ctx, nil, ReplayDeleteInput{ReplayID: "replay-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Deleted)

	_, _, err = ToolReplayDelete(d)(ctx, nil, ReplayDeleteInput{ReplayID: "replay-1"})
	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, ErrCodeNotFound, coded.Code)

	_, out, err = ToolReplayDelete(d)(ctx, nil, ReplayDeleteInput{All: true})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Deleted)
}

func TestExport(t *testing.T) {
	d, _ := newTestDeps(t)
	ctx := context.Background()
	_, _, err := ToolImportHAR(d)(ctx, nil, ImportHARInput{Content: sampleHAR(t), SessionID: "s"})
	require.NoError(t, err)

	_, harOut, err := ToolExportHAR(d)(ctx, nil, ExportInput{SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, 1, harOut.Events)
	doc, ok := harOut.Document.(map[string]any)
	require.True(t, ok)
	log := doc["log"].(map[string]any)
	assert.Equal(t, har.Version, log["version"])
	assert.Len(t, log["entries"], 1)

	_, jsonOut, err := ToolExportJSON(d)(ctx, nil, ExportInput{Filter: types.TrafficFilter{Methods: []string{"GET"}}})
	require.NoError(t, err)
	assert.Equal(t, 0, jsonOut.Events)
	assert.Equal(t, []any{}, jsonOut.Document)
	assert.NotEmpty(t, jsonOut.Hint)

	path := t.TempDir() + "/out.har"
	_, fileOut, err := ToolExportHAR(d)(ctx, nil, ExportInput{Path: path})
	require.NoError(t, err)
	assert.Equal(t, path, fileOut.Path)
	assert.Nil(t, fileOut.Document)

	_, imported, err := ToolImportHAR(d)(ctx, nil, ImportHARInput{Path: path, SessionID: "again"})
	require.NoError(t, err)
	assert.Equal(t, 1, imported.Imported)
}

func TestImportHAR_Invalid(t *testing.T) {
	d, _ := newTestDeps(t)
	_, _, err := ToolImportHAR(d)(context.Background(), nil, ImportHARInput{Content: `{"log": {}}`})
	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, ErrCodeInvalidInput, coded.Code)

	_, _, err = ToolImportHAR(d)(context.Background(), nil, ImportHARInput{})
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, ErrCodeInvalidInput, coded.Code)
}

func TestFetchEvent_Evicted(t *testing.T) {
	c, err := cache.NewCaptureCache(1)
	require.NoError(t, err)
	idx := indexer.New(c, indexer.Options{})
	d := &Deps{Cache: c, Indexer: idx}

	idx.Index(&types.TrafficEvent{ID: "a", Method: "GET", URL: "http://x/a"})
	idx.Index(&types.TrafficEvent{ID: "b", Method: "GET", URL: "http://x/b"})

	_, err = d.FetchEvent("a")
	var coded *CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, ErrCodeNotFound, coded.Code)
	assert.Contains(t, coded.Message, "evicted")

	ev, err := d.FetchEvent("b")
	require.NoError(t, err)
	assert.Equal(t, "b", ev.ID)
}

func TestStatusHint(t *testing.T) {
	assert.Contains(t, statusHint(&types.CertificateStatus{State: types.CertNotGenerated}), "cert_generate_root")
	assert.Contains(t, statusHint(&types.CertificateStatus{
		State: types.CertGenerated,
		Root:  &types.CertificateRecord{Flavor: types.FlavorDegraded},
	}), "degraded")
	assert.Contains(t, statusHint(&types.CertificateStatus{
		State: types.CertTrusted,
		Root:  &types.CertificateRecord{ValidTo: time.Now().Add(2000 * 24 * time.Hour)},
	}), "1,99")
}
