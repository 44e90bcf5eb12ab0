package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/trafficlab/internal/bus"
	"github.com/usestring/trafficlab/pkg/types"
)

// fakeProcess is a subprocess backed by in-memory pipes. Terminate closes
// the output streams the way a real tool does on SIGTERM.
type fakeProcess struct {
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	mu         sync.Mutex
	terminated bool
	killed     bool
	ignoreTerm bool
	onTerm     string // written to stdout before exiting on Terminate
	exitErr    error
	closeOnce  sync.Once
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }
func (p *fakeProcess) PID() int          { return 4242 }
func (p *fakeProcess) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	ignore, flush := p.ignoreTerm, p.onTerm
	p.mu.Unlock()
	if flush != "" {
		_, _ = p.stdoutW.Write([]byte(flush))
	}
	if !ignore {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
	})
}

func (p *fakeProcess) write(t *testing.T, s string) {
	t.Helper()
	_, err := p.stdoutW.Write([]byte(s))
	require.NoError(t, err)
}

type fakeLauncher struct {
	mu    sync.Mutex
	procs []*fakeProcess
	names []string
	args  [][]string
	err   error
}

func (l *fakeLauncher) Launch(_ context.Context, name string, args []string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess()
	l.procs = append(l.procs, p)
	l.names = append(l.names, name)
	l.args = append(l.args, args)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) handle(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) byTopic(topic types.Topic) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, ev := range r.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

type memArchive struct {
	mu       sync.Mutex
	sessions map[string]types.CaptureSession
	stats    map[string]types.SessionStats
}

type memSink struct {
	mu     sync.Mutex
	events []types.TrafficEvent
}

func (s *memSink) Record(ev *types.TrafficEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newMemArchive() *memArchive {
	return &memArchive{sessions: map[string]types.CaptureSession{}, stats: map[string]types.SessionStats{}}
}

func (a *memArchive) SaveSession(_ context.Context, sess types.CaptureSession, stats types.SessionStats) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[sess.ID] = sess
	a.stats[sess.ID] = stats
	return nil
}

func (a *memArchive) LoadSession(_ context.Context, id string) (*types.CaptureSession, *types.SessionStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.sessions[id]
	if !ok {
		return nil, nil, errors.New("not found")
	}
	stats := a.stats[id]
	return &sess, &stats, nil
}

// ekRecord builds one tshark -T ek packet line.
func ekRecord(method string, port, frameLen int) string {
	return fmt.Sprintf(`{"timestamp":"1700000000000","layers":{`+
		`"frame":{"frame_frame_len":"%d"},`+
		`"ip":{"ip_ip_src":"10.0.0.2","ip_ip_dst":"93.184.216.34"},`+
		`"tcp":{"tcp_tcp_srcport":"%d","tcp_tcp_dstport":"80"},`+
		`"http":{"http_http_request_method":"%s","http_http_host":"api.example.com","http_http_request_uri":"/v1/users"}}}`+"\n",
		frameLen, port, method)
}

var (
	getRecord  = ekRecord("GET", 51000, 320)
	postRecord = ekRecord("POST", 51001, 400)
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeLauncher, *recorder) {
	t.Helper()
	launcher := &fakeLauncher{}
	b := bus.New()
	rec := &recorder{}
	b.Subscribe(rec.handle)

	all := append([]Option{WithLauncher(launcher), WithPublisher(b)}, opts...)
	m := NewManager(Options{StopTimeout: 200 * time.Millisecond}, all...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, launcher, rec
}

func totalPackets(m *Manager, id string) func() bool {
	return func() bool {
		stats, _ := m.Stats(id)
		return stats.TotalPackets > 0
	}
}

func TestManager_StartEmitsMatchingTraffic(t *testing.T) {
	m, launcher, rec := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Start(ctx, types.CaptureConfig{
		Tool:   types.ToolTShark,
		Filter: types.TrafficFilter{Domains: []string{"*.example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, sess.Status)
	assert.Equal(t, 4242, sess.PID)
	require.Len(t, rec.byTopic(types.TopicSessionStarted), 1)

	launcher.last().write(t, getRecord)

	require.Eventually(t, func() bool { return len(rec.byTopic(types.TopicTraffic)) == 1 }, time.Second, 5*time.Millisecond)
	ev := rec.byTopic(types.TopicTraffic)[0]
	assert.Equal(t, sess.ID, ev.SessionID)
	traffic, ok := ev.Payload.(types.TrafficEvent)
	require.True(t, ok)
	assert.Equal(t, "GET", traffic.Method)
	assert.Equal(t, "api.example.com", traffic.Host)
	assert.Equal(t, sess.ID, traffic.SessionID)
}

func TestManager_FilterSuppressesButCounts(t *testing.T) {
	m, launcher, rec := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Start(ctx, types.CaptureConfig{
		Filter: types.TrafficFilter{Methods: []string{"POST"}},
	})
	require.NoError(t, err)

	launcher.last().write(t, getRecord)
	require.Eventually(t, totalPackets(m, sess.ID), time.Second, 5*time.Millisecond)

	stopped, err := m.Stop(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStopped, stopped.Status)
	assert.NotNil(t, stopped.StoppedAt)

	assert.Empty(t, rec.byTopic(types.TopicTraffic))
	assert.Empty(t, m.Active())

	stats, ok := m.Stats(sess.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.TotalPackets)
	assert.Equal(t, int64(1), stats.FilteredEvents)
	assert.Equal(t, int64(0), stats.EmittedEvents)
	assert.Equal(t, int64(320), stats.TotalBytes)
	require.Len(t, rec.byTopic(types.TopicSessionStopped), 1)
}

func TestManager_ConflictWhileLive(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)

	_, err = m.Start(ctx, types.CaptureConfig{})
	require.ErrorIs(t, err, ErrSessionConflict)
	assert.Contains(t, err.Error(), first.ID)

	_, err = m.Pause(first.ID)
	require.NoError(t, err)
	_, err = m.Start(ctx, types.CaptureConfig{})
	require.ErrorIs(t, err, ErrSessionConflict, "paused sessions still block")

	_, err = m.Stop(ctx, first.ID)
	require.NoError(t, err)
	_, err = m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)
}

func TestManager_PauseSuppressesEmission(t *testing.T) {
	m, launcher, rec := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)

	paused, err := m.Pause(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionPaused, paused.Status)
	require.Len(t, rec.byTopic(types.TopicSessionPaused), 1)

	launcher.last().write(t, getRecord)
	require.Eventually(t, totalPackets(m, sess.ID), time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.byTopic(types.TopicTraffic))

	_, err = m.Resume(sess.ID)
	require.NoError(t, err)
	launcher.last().write(t, postRecord)
	require.Eventually(t, func() bool { return len(rec.byTopic(types.TopicTraffic)) == 1 }, time.Second, 5*time.Millisecond)

	stats, _ := m.Stats(sess.ID)
	assert.Equal(t, int64(2), stats.TotalPackets)
	assert.Equal(t, int64(1), stats.EmittedEvents)
}

func TestManager_UpdateFilter(t *testing.T) {
	m, launcher, rec := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Start(ctx, types.CaptureConfig{Filter: types.TrafficFilter{Methods: []string{"GET"}}})
	require.NoError(t, err)

	updated, err := m.UpdateFilter(sess.ID, types.TrafficFilter{Methods: []string{"POST"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"POST"}, updated.Config.Filter.Methods)
	require.Len(t, rec.byTopic(types.TopicFilterUpdated), 1)

	launcher.last().write(t, getRecord)
	launcher.last().write(t, postRecord)
	require.Eventually(t, func() bool { return len(rec.byTopic(types.TopicTraffic)) == 1 }, time.Second, 5*time.Millisecond)
	traffic := rec.byTopic(types.TopicTraffic)[0].Payload.(types.TrafficEvent)
	assert.Equal(t, "POST", traffic.Method)

	_, err = m.UpdateFilter(sess.ID, types.TrafficFilter{Expr: "select("})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestManager_StoppedSessionRejectsMutation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)
	_, err = m.Stop(ctx, sess.ID)
	require.NoError(t, err)

	_, err = m.Pause(sess.ID)
	require.ErrorIs(t, err, ErrSessionStopped)
	_, err = m.Resume(sess.ID)
	require.ErrorIs(t, err, ErrSessionStopped)
	_, err = m.UpdateFilter(sess.ID, types.TrafficFilter{})
	require.ErrorIs(t, err, ErrSessionStopped)

	again, err := m.Stop(ctx, sess.ID)
	require.NoError(t, err, "stop is idempotent")
	assert.Equal(t, types.SessionStopped, again.Status)
}

func TestManager_PrunesStoppedSessions(t *testing.T) {
	m := NewManager(Options{StopTimeout: 200 * time.Millisecond, MaxRetained: 1}, WithLauncher(&fakeLauncher{}))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	ctx := context.Background()

	first, err := m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)
	_, err = m.Stop(ctx, first.ID)
	require.NoError(t, err)

	second, err := m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)

	_, err = m.Get(ctx, first.ID)
	require.ErrorIs(t, err, ErrNotFound, "stopped session pruned once over the limit")
	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)
	assert.True(t, list[0].IsLive())
}

func TestManager_UnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Stop(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Pause("missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, ok := m.Stats("missing")
	assert.False(t, ok)
}

func TestManager_StopKillsUnresponsiveProcess(t *testing.T) {
	m, launcher, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)
	proc := launcher.last()
	proc.mu.Lock()
	proc.ignoreTerm = true
	proc.mu.Unlock()

	stopped, err := m.Stop(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStopped, stopped.Status)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.True(t, proc.terminated)
	assert.True(t, proc.killed)
}

func TestManager_StopKeepsFlushedRecords(t *testing.T) {
	sink := &memSink{}
	archive := newMemArchive()
	m, launcher, rec := newTestManager(t, WithSink(sink), WithArchive(archive))
	ctx := context.Background()

	sess, err := m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)
	proc := launcher.last()
	proc.mu.Lock()
	proc.onTerm = postRecord
	proc.mu.Unlock()

	proc.write(t, getRecord)
	require.Eventually(t, func() bool { return len(rec.byTopic(types.TopicTraffic)) == 1 }, time.Second, 5*time.Millisecond)

	_, err = m.Stop(ctx, sess.ID)
	require.NoError(t, err)

	stats, ok := m.Stats(sess.ID)
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.TotalPackets)
	assert.Equal(t, int64(720), stats.TotalBytes)
	assert.Equal(t, int64(1), stats.EmittedEvents)
	assert.Equal(t, 2, sink.len())
	assert.Len(t, rec.byTopic(types.TopicTraffic), 1, "records after stop are not published")

	_, archived, err := archive.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), archived.TotalPackets)
}

func TestManager_ProcessCrash(t *testing.T) {
	archive := newMemArchive()
	m, launcher, rec := newTestManager(t, WithArchive(archive))
	ctx := context.Background()

	sess, err := m.Start(ctx, types.CaptureConfig{})
	require.NoError(t, err)

	launcher.last().exit(errors.New("exit status 2"))

	require.Eventually(t, func() bool { return len(rec.byTopic(types.TopicSessionStopped)) == 1 }, time.Second, 5*time.Millisecond)
	errs := rec.byTopic(types.TopicError)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[len(errs)-1].Payload.(types.CaptureError).Message, "exit status 2")
	assert.Empty(t, m.Active())

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStopped, got.Status)

	archived, _, err := archive.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStopped, archived.Status)
}

func TestManager_StderrBecomesErrorEvents(t *testing.T) {
	m, launcher, rec := newTestManager(t)

	_, err := m.Start(context.Background(), types.CaptureConfig{})
	require.NoError(t, err)

	_, err = launcher.last().stderrW.Write([]byte("Capturing on 'any'\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.byTopic(types.TopicError)) == 1 }, time.Second, 5*time.Millisecond)
	payload := rec.byTopic(types.TopicError)[0].Payload.(types.CaptureError)
	assert.Equal(t, "stderr", payload.Source)
}

func TestManager_LongStderrLineKeepsDraining(t *testing.T) {
	m, launcher, rec := newTestManager(t)

	_, err := m.Start(context.Background(), types.CaptureConfig{})
	require.NoError(t, err)
	proc := launcher.last()

	long := strings.Repeat("x", 70*1024) + "\n"
	_, err = proc.stderrW.Write([]byte(long))
	require.NoError(t, err)
	_, err = proc.stderrW.Write([]byte("capture warning\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.byTopic(types.TopicError)) == 2 }, time.Second, 5*time.Millisecond)
	errs := rec.byTopic(types.TopicError)
	first := errs[0].Payload.(types.CaptureError).Message
	assert.True(t, strings.HasSuffix(first, "(truncated)"))
	assert.LessOrEqual(t, len(first), stderrLineMax+len(" (truncated)"))
	assert.Equal(t, "capture warning", errs[1].Payload.(types.CaptureError).Message)
}

func TestManager_StartFailures(t *testing.T) {
	m, launcher, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Start(ctx, types.CaptureConfig{Tool: "wireshark"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = m.Start(ctx, types.CaptureConfig{Filter: types.TrafficFilter{Headers: []types.HeaderPredicate{{Name: ""}}}})
	require.ErrorIs(t, err, ErrInvalidConfig)

	launcher.err = ErrToolNotFound
	_, err = m.Start(ctx, types.CaptureConfig{})
	require.ErrorIs(t, err, ErrToolNotFound)
	assert.Empty(t, m.List())
}

func TestManager_SinkSeesFilteredEvents(t *testing.T) {
	sink := &sinkRecorder{}
	m, launcher, _ := newTestManager(t, WithSink(sink))

	sess, err := m.Start(context.Background(), types.CaptureConfig{Filter: types.TrafficFilter{Methods: []string{"DELETE"}}})
	require.NoError(t, err)

	launcher.last().write(t, getRecord)
	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, sess.ID, sink.events[0].SessionID)
	sink.mu.Unlock()
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []types.TrafficEvent
}

func (s *sinkRecorder) Record(ev *types.TrafficEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
}

func (s *sinkRecorder) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
