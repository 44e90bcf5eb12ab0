package replay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/trafficlab/internal/compare"
	"github.com/usestring/trafficlab/pkg/client"
	"github.com/usestring/trafficlab/pkg/types"
)

type fakeExecutor struct {
	mu    sync.Mutex
	reqs  []client.Request
	times []time.Time
	resp  *client.Response
	errs  map[string]error // keyed by URL
}

func (f *fakeExecutor) Do(_ context.Context, req client.Request) (*client.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	f.times = append(f.times, time.Now())
	if err := f.errs[req.URL]; err != nil {
		return nil, err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &client.Response{StatusCode: 200, StatusText: "OK", Headers: client.Headers{}}, nil
}

func (f *fakeExecutor) last() client.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type captureMap map[string]*types.TrafficEvent

func (m captureMap) Get(id string) (*types.TrafficEvent, bool) {
	ev, ok := m[id]
	return ev, ok
}

type publishLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *publishLog) Publish(ev types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *publishLog) count(topic types.Topic) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Topic == topic {
			n++
		}
	}
	return n
}

func usersCapture() *types.TrafficEvent {
	return &types.TrafficEvent{
		ID:     "cap-1",
		Method: "GET",
		URL:    "https://orig.example.com/api/users?page=2",
		Host:   "orig.example.com",
		Path:   "/api/users?page=2",
		RequestHeaders: map[string]string{
			"Host":          "orig.example.com",
			"Accept":        "application/json",
			"X-Env":         "orig",
			"Authorization": "Bearer old",
		},
		StatusCode:      200,
		ResponsePhrase:  "OK",
		ResponseHeaders: map[string]string{"Content-Type": "application/json"},
		ResponseBody:    `[{"id":1}]`,
		DurationMs:      40,
	}
}

type engineFixture struct {
	engine *Engine
	exec   *fakeExecutor
	pub    *publishLog
}

func newEngineFixture(t *testing.T, opts Options, extra ...Option) *engineFixture {
	t.Helper()
	f := &engineFixture{exec: &fakeExecutor{}, pub: &publishLog{}}
	envs := NewEnvironments(types.Environment{
		Name:    "staging",
		BaseURL: "https://staging.example.com",
		Headers: map[string]string{"x-env": "staging", "X-Stage-Token": "s"},
	})
	seq := 0
	base := []Option{
		WithExecutor(f.exec),
		WithCaptures(captureMap{"cap-1": usersCapture()}),
		WithEnvironments(envs),
		WithPublisher(f.pub),
		WithIDFunc(func() string { seq++; return fmt.Sprintf("r%d", seq) }),
	}
	e, err := NewEngine(opts, append(base, extra...)...)
	require.NoError(t, err)
	f.engine = e
	return f
}

func TestReplay_EnvironmentKeepsPathAndQuery(t *testing.T) {
	f := newEngineFixture(t, Options{})

	res, err := f.engine.Replay(context.Background(), types.ReplayConfig{CaptureID: "cap-1", Target: "staging"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://staging.example.com/api/users?page=2", res.TargetURL)
	assert.Equal(t, res.TargetURL, f.exec.last().URL)
}

func TestReplay_EnvironmentBasePathIsPrefix(t *testing.T) {
	f := newEngineFixture(t, Options{})
	require.NoError(t, f.engine.Environments().Set(types.Environment{Name: "mock", BaseURL: "http://localhost:4010/mock/"}))

	res, err := f.engine.Replay(context.Background(), types.ReplayConfig{CaptureID: "cap-1", Target: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4010/mock/api/users?page=2", res.TargetURL)
}

func TestRebaseURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		original string
		want     string
	}{
		{"host only", "https://staging.example.com", "https://orig.example.com/files/a%2Fb?x=1", "https://staging.example.com/files/a%2Fb?x=1"},
		{"prefix keeps encoded slash", "http://localhost:4010/mock/", "https://orig.example.com/files/a%2Fb?x=1", "http://localhost:4010/mock/files/a%2Fb?x=1"},
		{"encoded prefix", "http://localhost:4010/v%201", "https://orig.example.com/users", "http://localhost:4010/v%201/users"},
		{"plain prefix", "http://localhost:4010/mock", "https://orig.example.com/api/users", "http://localhost:4010/mock/api/users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rebaseURL(tt.base, tt.original)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplay_HeaderPriority(t *testing.T) {
	f := newEngineFixture(t, Options{})

	_, err := f.engine.Replay(context.Background(), types.ReplayConfig{
		CaptureID:       "cap-1",
		Target:          "staging",
		HeaderOverrides: map[string]string{"AUTHORIZATION": "Bearer new", "X-Stage-Token": "override"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"Accept":        "application/json",
		"x-env":         "staging",
		"X-Stage-Token": "override",
		"AUTHORIZATION": "Bearer new",
	}, f.exec.last().Headers, "captured Host is dropped when the target host changes")
}

func TestReplay_OriginalTarget(t *testing.T) {
	f := newEngineFixture(t, Options{})

	res, err := f.engine.Replay(context.Background(), types.ReplayConfig{CaptureID: "cap-1"})
	require.NoError(t, err)
	assert.Equal(t, types.TargetOriginal, res.Target)
	assert.Equal(t, "https://orig.example.com/api/users?page=2", res.TargetURL)
	assert.Equal(t, "orig.example.com", f.exec.last().Headers["Host"])
	assert.Nil(t, res.OriginalResponse)

	diff, err := f.engine.CompareWithOriginal(res.ID, compare.Options{})
	require.NoError(t, err)
	assert.Nil(t, diff)
}

func TestReplay_UnknownEnvironmentFallsBack(t *testing.T) {
	f := newEngineFixture(t, Options{})

	res, err := f.engine.Replay(context.Background(), types.ReplayConfig{CaptureID: "cap-1", Target: "production"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://orig.example.com/api/users?page=2", res.TargetURL)
	assert.Equal(t, "production", res.Target)
}

func TestReplay_Custom(t *testing.T) {
	f := newEngineFixture(t, Options{})
	ctx := context.Background()

	res, err := f.engine.Replay(ctx, types.ReplayConfig{CaptureID: "cap-1", Target: types.TargetCustom, CustomURL: "http://127.0.0.1:9000/x?y=1"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000/x?y=1", f.exec.last().URL)
	require.NotNil(t, res.OriginalResponse)

	res, err = f.engine.Replay(ctx, types.ReplayConfig{CaptureID: "cap-1", Target: types.TargetCustom})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "custom target requires a URL")
	assert.Len(t, f.engine.History(0), 2, "failed replays are kept in history")
}

func TestReplay_BodyOverrideAndPatches(t *testing.T) {
	f := newEngineFixture(t, Options{})
	body := `{"user":{"name":"a","role":"viewer"},"tags":["x"]}`

	res, err := f.engine.Replay(context.Background(), types.ReplayConfig{
		CaptureID: "cap-1",
		Body:      &body,
		BodyPatches: map[string]any{
			"user.role": "admin",
			"tags.-1":   "y",
			"user.name": nil,
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"role":"admin"},"tags":["x","y"]}`, string(f.exec.last().Body))
	assert.JSONEq(t, `{"user":{"role":"admin"},"tags":["x","y"]}`, res.Request.Body)

	res, err = f.engine.Replay(context.Background(), types.ReplayConfig{
		CaptureID:   "cap-1",
		Body:        ptr("not json"),
		BodyPatches: map[string]any{"a": 1},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "JSON body")
}

func TestReplay_ExecutorFailureIsRecorded(t *testing.T) {
	f := newEngineFixture(t, Options{})
	f.exec.errs = map[string]error{
		"https://staging.example.com/api/users?page=2": errors.New("dial tcp: connection refused"),
	}

	res, err := f.engine.Replay(context.Background(), types.ReplayConfig{CaptureID: "cap-1", Target: "staging"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, res.Response)
	assert.Contains(t, res.Error, "replay failed")
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, 1, f.pub.count(types.TopicReplayCompleted))

	stored, err := f.engine.Get(res.ID)
	require.NoError(t, err)
	assert.Same(t, res, stored)

	diff, err := f.engine.CompareWithOriginal(res.ID, compare.Options{})
	require.NoError(t, err)
	assert.Nil(t, diff, "no response to compare")
}

func TestReplay_UnknownCapture(t *testing.T) {
	f := newEngineFixture(t, Options{})
	_, err := f.engine.Replay(context.Background(), types.ReplayConfig{CaptureID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.engine.History(0))

	_, err = f.engine.Replay(context.Background(), types.ReplayConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCompareWithOriginal_Identical(t *testing.T) {
	f := newEngineFixture(t, Options{})
	f.exec.resp = &client.Response{
		StatusCode: 200,
		Headers:    client.Headers{{"Content-Type", "application/json"}},
		Body:       []byte(`[{"id":1}]`),
		Timings:    client.Timings{TotalMs: 40},
	}

	res, err := f.engine.Replay(context.Background(), types.ReplayConfig{CaptureID: "cap-1", Target: "staging"})
	require.NoError(t, err)

	diff, err := f.engine.CompareWithOriginal(res.ID, compare.Options{})
	require.NoError(t, err)
	require.NotNil(t, diff)
	assert.True(t, diff.StatusMatch)
	assert.True(t, diff.BodyMatch)
	assert.True(t, diff.Headers.Empty())
	assert.Zero(t, diff.TimingDiffMs)

	_, err = f.engine.CompareWithOriginal("nope", compare.Options{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplayMultiple(t *testing.T) {
	configs := []types.ReplayConfig{
		{CaptureID: "cap-1"},
		{CaptureID: "missing"},
		{CaptureID: "cap-1", Target: types.TargetOriginal},
	}

	t.Run("continues on error by default", func(t *testing.T) {
		f := newEngineFixture(t, Options{})
		results, err := f.engine.ReplayMultiple(context.Background(), configs, "staging", types.BatchOptions{})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, results[0].Success)
		assert.Equal(t, "staging", results[0].Target)
		assert.False(t, results[1].Success)
		assert.Contains(t, results[1].Error, "not found")
		assert.True(t, results[2].Success)
		assert.Equal(t, types.TargetOriginal, results[2].Target)
	})

	t.Run("stops when asked", func(t *testing.T) {
		f := newEngineFixture(t, Options{})
		stop := false
		results, err := f.engine.ReplayMultiple(context.Background(), configs, "", types.BatchOptions{ContinueOnError: &stop})
		require.NoError(t, err)
		assert.Len(t, results, 2)
		assert.Len(t, f.exec.reqs, 1)
	})

	t.Run("delay between requests only", func(t *testing.T) {
		f := newEngineFixture(t, Options{})
		delay := 40 * time.Millisecond
		start := time.Now()
		_, err := f.engine.ReplayMultiple(context.Background(), []types.ReplayConfig{{CaptureID: "cap-1"}, {CaptureID: "cap-1"}}, "", types.BatchOptions{Delay: delay})
		require.NoError(t, err)
		require.Len(t, f.exec.times, 2)
		assert.Less(t, f.exec.times[0].Sub(start), delay)
		assert.GreaterOrEqual(t, f.exec.times[1].Sub(f.exec.times[0]), delay)
	})

	t.Run("cancelled during delay", func(t *testing.T) {
		f := newEngineFixture(t, Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		results, err := f.engine.ReplayMultiple(ctx, []types.ReplayConfig{{CaptureID: "cap-1"}, {CaptureID: "cap-1"}}, "", types.BatchOptions{Delay: time.Second})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Len(t, results, 1)
	})
}

func TestHistory_BoundedAndOrdered(t *testing.T) {
	f := newEngineFixture(t, Options{HistoryMax: 2})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.engine.Replay(ctx, types.ReplayConfig{CaptureID: "cap-1"})
		require.NoError(t, err)
	}

	ids := func(rs []*types.ReplayResult) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{"r2", "r3"}, ids(f.engine.History(0)))
	assert.Equal(t, []string{"r3"}, ids(f.engine.History(1)))

	_, err := f.engine.Get("r1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.engine.Delete("r2"))
	assert.ErrorIs(t, f.engine.Delete("r2"), ErrNotFound)
	assert.Equal(t, 1, f.pub.count(types.TopicReplayDeleted))

	assert.Equal(t, 1, f.engine.ClearHistory())
	assert.Empty(t, f.engine.History(0))
}

func TestReplay_TimeoutRecordedAsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	e, err := NewEngine(Options{})
	require.NoError(t, err)

	capture := &types.TrafficEvent{ID: "slow", Method: "GET", URL: srv.URL + "/slow"}
	res, err := e.Replay(context.Background(), types.ReplayConfig{Capture: capture, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, IsTimeout(res))
	assert.Len(t, e.History(0), 1)
}

func ptr(s string) *string { return &s }
