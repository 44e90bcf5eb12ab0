// Package capture owns the lifecycle of traffic capture sessions: launching
// the capture tool, parsing its output, applying the session filter and
// publishing events.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/usestring/trafficlab/internal/bus"
	"github.com/usestring/trafficlab/internal/filter"
	"github.com/usestring/trafficlab/internal/logging"
	"github.com/usestring/trafficlab/internal/metrics"
	"github.com/usestring/trafficlab/internal/parser"
	"github.com/usestring/trafficlab/pkg/types"
)

const (
	defaultStopTimeout = 5 * time.Second
	defaultMaxRetained = 100
	readChunkSize      = 32 * 1024
	stderrLineMax      = 4 * 1024
)

// Sink receives every parsed event, whether or not the session filter
// lets it through.
type Sink interface {
	Record(ev *types.TrafficEvent)
}

// Archive persists stopped sessions so they outlive the in-memory table.
type Archive interface {
	SaveSession(ctx context.Context, sess types.CaptureSession, stats types.SessionStats) error
	LoadSession(ctx context.Context, id string) (*types.CaptureSession, *types.SessionStats, error)
}

// Options configures a Manager.
type Options struct {
	Paths           ToolPaths
	StopTimeout     time.Duration
	MaxRetained     int // Stopped sessions kept in memory
	ParserMaxBuffer int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLauncher overrides the subprocess launcher.
func WithLauncher(l Launcher) Option {
	return func(m *Manager) { m.launcher = l }
}

// WithPublisher sets where session events are published.
func WithPublisher(p bus.Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

// WithSink sets the sink that receives every parsed event.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithArchive sets the archive for stopped sessions.
func WithArchive(a Archive) Option {
	return func(m *Manager) { m.archive = a }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the manager clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDFunc overrides session id generation.
func WithIDFunc(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// Manager tracks capture sessions. At most one session is live at a time.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	order    []string

	launcher Launcher
	pub      bus.Publisher
	sink     Sink
	archive  Archive
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
}

type session struct {
	mu      sync.Mutex
	info    types.CaptureSession
	stats   types.SessionStats
	stopped bool
	parser  *parser.Parser

	filter atomic.Pointer[filter.Compiled]
	paused atomic.Bool

	proc Process
	done chan struct{}
}

// NewManager creates a session manager.
func NewManager(opts Options, options ...Option) *Manager {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.MaxRetained <= 0 {
		opts.MaxRetained = defaultMaxRetained
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions: make(map[string]*session),
		launcher: ExecLauncher{},
		pub:      bus.Discard,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logging.Component("capture"),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Start launches a new capture session. It fails with ErrSessionConflict
// while another session is active or paused.
func (m *Manager) Start(ctx context.Context, cfg types.CaptureConfig) (*types.CaptureSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, err := filter.Compile(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Tool == "" {
		cfg.Tool = types.ToolTShark
	}
	name, args, err := BuildCommand(cfg, m.opts.Paths)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if live := m.liveLocked(); live != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionConflict, live.ID, live.Status)
	}

	proc, err := m.launcher.Launch(m.baseCtx, name, args)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	s := &session{
		info: types.CaptureSession{
			ID:        m.newID(),
			Status:    types.SessionActive,
			Config:    cfg,
			StartedAt: m.now(),
			PID:       proc.PID(),
		},
		parser: parser.New(cfg.Tool, parser.WithMaxBuffer(m.opts.ParserMaxBuffer), parser.WithClock(m.now)),
		proc:   proc,
		done:   make(chan struct{}),
	}
	s.stats.SessionID = s.info.ID
	s.filter.Store(compiled)

	m.sessions[s.info.ID] = s
	m.order = append(m.order, s.info.ID)
	m.pruneLocked()
	live := m.liveCountLocked()
	m.mu.Unlock()

	info := s.snapshot()
	m.logger.Info("capture started",
		slog.String("session_id", info.ID),
		slog.String("tool", string(cfg.Tool)),
		slog.String("command", name+" "+strings.Join(args, " ")),
		slog.Int("pid", info.PID),
	)
	m.metrics.SessionTransition(string(types.SessionActive), live)
	m.publish(types.TopicSessionStarted, info.ID, info)

	go m.pump(s)
	return &info, nil
}

// Stop terminates a session's subprocess and waits for it to exit. Records
// the tool flushes on the way out are counted and recorded but not published.
// Stopping an already stopped session returns its final state.
func (m *Manager) Stop(ctx context.Context, id string) (*types.CaptureSession, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	if s.stopped {
		info := s.info
		s.mu.Unlock()
		return &info, nil
	}
	s.stopped = true
	s.mu.Unlock()

	if err := s.proc.Terminate(); err != nil {
		m.logger.Warn("terminate failed", slog.String("session_id", id), slog.String("error", err.Error()))
	}

	timer := time.NewTimer(m.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		m.logger.Warn("capture did not exit, killing", slog.String("session_id", id))
		if err := s.proc.Kill(); err != nil {
			m.logger.Warn("kill failed", slog.String("session_id", id), slog.String("error", err.Error()))
		}
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}

	info := m.markStopped(s)
	return &info, nil
}

// Pause suppresses event emission. Parsing and stats continue.
func (m *Manager) Pause(id string) (*types.CaptureSession, error) {
	return m.setPaused(id, true)
}

// Resume re-enables event emission for a paused session.
func (m *Manager) Resume(id string) (*types.CaptureSession, error) {
	return m.setPaused(id, false)
}

func (m *Manager) setPaused(id string, paused bool) (*types.CaptureSession, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionStopped, id)
	}
	s.paused.Store(paused)
	status, topic := types.SessionActive, types.TopicSessionResumed
	if paused {
		status, topic = types.SessionPaused, types.TopicSessionPaused
	}
	changed := s.info.Status != status
	s.info.Status = status
	info := s.info
	s.mu.Unlock()

	if changed {
		m.metrics.SessionTransition(string(status), m.liveCount())
		m.publish(topic, id, info)
	}
	return &info, nil
}

// UpdateFilter replaces the session filter. Events parsed after the call
// returns are evaluated against the new filter.
func (m *Manager) UpdateFilter(id string, f types.TrafficFilter) (*types.CaptureSession, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	compiled, err := filter.Compile(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionStopped, id)
	}
	s.filter.Store(compiled)
	s.info.Config.Filter = f
	info := s.info
	s.mu.Unlock()

	m.publish(types.TopicFilterUpdated, id, f)
	return &info, nil
}

// Get returns a session by id, falling back to the archive for sessions no
// longer held in memory.
func (m *Manager) Get(ctx context.Context, id string) (*types.CaptureSession, error) {
	if s := m.lookup(id); s != nil {
		info := s.snapshot()
		return &info, nil
	}
	if m.archive != nil {
		sess, _, err := m.archive.LoadSession(ctx, id)
		if err == nil && sess != nil {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Active returns the sessions that are active or paused.
func (m *Manager) Active() []types.CaptureSession {
	out := make([]types.CaptureSession, 0, 1)
	for _, s := range m.all() {
		info := s.snapshot()
		if info.IsLive() {
			out = append(out, info)
		}
	}
	return out
}

// List returns every in-memory session, newest first.
func (m *Manager) List() []types.CaptureSession {
	sessions := m.all()
	out := make([]types.CaptureSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Stats returns the counters of a session.
func (m *Manager) Stats(id string) (types.SessionStats, bool) {
	if s := m.lookup(id); s != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stats, true
	}
	if m.archive != nil {
		_, stats, err := m.archive.LoadSession(context.Background(), id)
		if err == nil && stats != nil {
			return *stats, true
		}
	}
	return types.SessionStats{}, false
}

// Close stops every live session.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, info := range m.Active() {
		if _, err := m.Stop(ctx, info.ID); err != nil {
			errs = append(errs, err)
		}
	}
	m.cancel()
	return errors.Join(errs...)
}

// pump drains the subprocess output until it exits.
func (m *Manager) pump(s *session) {
	var g errgroup.Group

	g.Go(func() error {
		buf := make([]byte, readChunkSize)
		for {
			n, err := s.proc.Stdout().Read(buf)
			if n > 0 {
				m.handleChunk(s, buf[:n], false)
			}
			if err != nil {
				m.handleChunk(s, nil, true)
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	})

	g.Go(func() error {
		r := bufio.NewReaderSize(s.proc.Stderr(), stderrLineMax)
		for {
			line, err := readStderrLine(r)
			if line != "" {
				m.logger.Debug("capture stderr", slog.String("session_id", s.info.ID), slog.String("line", line))
				m.publish(types.TopicError, s.info.ID, types.CaptureError{Message: line, Source: "stderr"})
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				// Keep the pipe drained so the tool never blocks on a full stderr.
				_, _ = io.Copy(io.Discard, s.proc.Stderr())
				return err
			}
		}
	})

	readErr := g.Wait()
	waitErr := s.proc.Wait()
	close(s.done)

	s.mu.Lock()
	requested := s.stopped
	s.stopped = true
	s.mu.Unlock()

	if requested {
		return
	}

	// The process exited on its own.
	msg := "capture process exited"
	if waitErr != nil {
		msg = fmt.Sprintf("capture process exited: %v", waitErr)
	} else if readErr != nil {
		msg = fmt.Sprintf("capture output failed: %v", readErr)
	}
	m.logger.Warn("capture exited unexpectedly", slog.String("session_id", s.info.ID), slog.String("reason", msg))
	m.publish(types.TopicError, s.info.ID, types.CaptureError{Message: msg, Source: "process"})
	m.markStopped(s)
}

func (m *Manager) handleChunk(s *session, chunk []byte, final bool) {
	emit := m.account(s, chunk, final)
	for i := range emit {
		m.publish(types.TopicTraffic, emit[i].SessionID, emit[i])
	}
}

// account parses chunk and updates the session counters. It returns the
// events that pass the filter; they are published after the lock is released.
func (m *Manager) account(s *session, chunk []byte, final bool) []types.TrafficEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []types.TrafficEvent
	if final {
		events = s.parser.Flush()
	} else {
		events = s.parser.Feed(chunk)
	}
	if s.info.Status == types.SessionStopped {
		return nil
	}
	// Output flushed after a stop request is still counted and recorded.
	draining := s.stopped

	var emit []types.TrafficEvent
	for i := range events {
		ev := &events[i]
		ev.SessionID = s.info.ID

		s.stats.TotalPackets++
		s.stats.TotalBytes += int64(ev.ByteLength)
		ts := ev.Timestamp
		s.stats.LastPacketAt = &ts
		m.metrics.PacketParsed(string(s.info.Config.Tool), ev.ByteLength)

		if m.sink != nil {
			m.sink.Record(ev)
		}

		if draining {
			m.metrics.EventOutcome("stopping")
			continue
		}
		if s.paused.Load() {
			m.metrics.EventOutcome("paused")
			continue
		}
		if !s.filter.Load().Matches(ev) {
			s.stats.FilteredEvents++
			m.metrics.EventOutcome("filtered")
			continue
		}
		s.stats.EmittedEvents++
		m.metrics.EventOutcome("emitted")
		emit = append(emit, *ev)
	}
	return emit
}

// markStopped records the final state once and publishes session-stopped.
func (m *Manager) markStopped(s *session) types.CaptureSession {
	s.mu.Lock()
	if s.info.Status == types.SessionStopped {
		info := s.info
		s.mu.Unlock()
		return info
	}
	now := m.now()
	s.info.Status = types.SessionStopped
	s.info.StoppedAt = &now
	s.paused.Store(false)
	info, stats := s.info, s.stats
	skipped := s.parser.Skipped()
	s.mu.Unlock()

	m.metrics.ParserSkipped(skipped)
	m.metrics.SessionTransition(string(types.SessionStopped), m.liveCount())
	m.logger.Info("capture stopped",
		slog.String("session_id", info.ID),
		slog.Int64("total_packets", stats.TotalPackets),
		slog.Int64("emitted", stats.EmittedEvents),
		slog.Int64("skipped_records", skipped),
	)
	m.publish(types.TopicSessionStopped, info.ID, info)

	if m.archive != nil {
		if err := m.archive.SaveSession(context.Background(), info, stats); err != nil {
			m.logger.Warn("archive session failed", slog.String("session_id", info.ID), slog.String("error", err.Error()))
		}
	}
	return info
}

func (m *Manager) publish(topic types.Topic, sessionID string, payload any) {
	m.pub.Publish(types.Event{Topic: topic, SessionID: sessionID, Timestamp: m.now(), Payload: payload})
}

func (m *Manager) lookup(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) all() []*session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

func (m *Manager) liveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liveCountLocked()
}

func (m *Manager) liveCountLocked() int {
	n := 0
	for _, s := range m.sessions {
		if info := s.snapshot(); info.IsLive() {
			n++
		}
	}
	return n
}

func (m *Manager) liveLocked() *types.CaptureSession {
	for _, id := range m.order {
		info := m.sessions[id].snapshot()
		if info.IsLive() {
			return &info
		}
	}
	return nil
}

// pruneLocked drops the oldest stopped sessions beyond MaxRetained.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.opts.MaxRetained
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && !m.sessions[id].snapshot().IsLive() {
			delete(m.sessions, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// readStderrLine returns the next stderr line, cut to the reader's buffer
// size. The rest of an overlong line is discarded.
func readStderrLine(r *bufio.Reader) (string, error) {
	chunk, err := r.ReadSlice('\n')
	line := strings.TrimSpace(string(chunk))
	if !errors.Is(err, bufio.ErrBufferFull) {
		return line, err
	}
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = r.ReadSlice('\n')
	}
	return line + " (truncated)", err
}

func (s *session) snapshot() types.CaptureSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}
