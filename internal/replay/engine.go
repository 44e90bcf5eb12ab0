// Package replay re-issues captured requests against the original host, a
// custom URL or a named environment, and keeps a bounded history of results
// for comparison with the captured responses.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/usestring/trafficlab/internal/bus"
	"github.com/usestring/trafficlab/internal/compare"
	"github.com/usestring/trafficlab/internal/logging"
	"github.com/usestring/trafficlab/internal/metrics"
	"github.com/usestring/trafficlab/pkg/client"
	"github.com/usestring/trafficlab/pkg/types"
)

const (
	defaultHistoryMax = 500
	defaultTimeout    = 30 * time.Second
)

// Executor sends one HTTP request.
type Executor interface {
	Do(ctx context.Context, req client.Request) (*client.Response, error)
}

// CaptureSource looks up captured events by id.
type CaptureSource interface {
	Get(eventID string) (*types.TrafficEvent, bool)
}

// Options configures an Engine.
type Options struct {
	HistoryMax     int
	DefaultTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutor replaces the HTTP executor.
func WithExecutor(x Executor) Option {
	return func(e *Engine) { e.exec = x }
}

// WithCaptures sets where capture ids are resolved.
func WithCaptures(c CaptureSource) Option {
	return func(e *Engine) { e.captures = c }
}

// WithEnvironments sets the named target mapping.
func WithEnvironments(envs *Environments) Option {
	return func(e *Engine) { e.envs = envs }
}

// WithPublisher sets where replay events are published.
func WithPublisher(p bus.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDFunc overrides replay id generation.
func WithIDFunc(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// Engine replays captured requests.
type Engine struct {
	opts     Options
	exec     Executor
	captures CaptureSource
	envs     *Environments
	pub      bus.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	history  *history
}

// NewEngine creates a replay engine.
func NewEngine(opts Options, options ...Option) (*Engine, error) {
	if opts.HistoryMax <= 0 {
		opts.HistoryMax = defaultHistoryMax
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	h, err := newHistory(opts.HistoryMax)
	if err != nil {
		return nil, fmt.Errorf("creating replay history: %w", err)
	}
	e := &Engine{
		opts:    opts,
		pub:     bus.Discard,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logging.Component("replay"),
		history: h,
	}
	for _, o := range options {
		o(e)
	}
	if e.exec == nil {
		e.exec = client.New(client.WithTimeout(opts.DefaultTimeout), client.WithLogger(e.logger))
	}
	if e.envs == nil {
		e.envs = NewEnvironments()
	}
	return e, nil
}

// Environments returns the target mapping.
func (e *Engine) Environments() *Environments { return e.envs }

// Replay re-issues a captured request. Execution failures, including
// timeouts, are recorded in the returned result rather than returned as an
// error. An error is returned only when the capture cannot be found.
func (e *Engine) Replay(ctx context.Context, cfg types.ReplayConfig) (*types.ReplayResult, error) {
	capture, err := e.resolveCapture(cfg)
	if err != nil {
		return nil, err
	}
	target := cfg.Target
	if target == "" {
		target = types.TargetOriginal
	}

	result := &types.ReplayResult{
		ID:        e.newID(),
		CaptureID: capture.ID,
		Target:    target,
		Timestamp: e.now(),
	}

	start := time.Now()
	req, err := e.buildRequest(capture, target, cfg)
	if err == nil {
		result.TargetURL = req.URL
		result.Request = types.ReplayRequest{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    string(req.Body),
		}
		var resp *client.Response
		resp, err = e.exec.Do(ctx, req)
		if err == nil {
			result.Success = true
			result.Response = snapshotResponse(resp)
		}
	}
	if err != nil {
		result.Error = fmt.Errorf("%w: %w", ErrReplayFailed, err).Error()
	}
	if target != types.TargetOriginal && capture.HasResponse() {
		result.OriginalResponse = originalResponse(capture)
	}

	e.history.add(result)
	e.metrics.ReplayCompleted(targetLabel(target), result.Success, time.Since(start))
	e.logger.Info("replay completed",
		"id", result.ID,
		"capture_id", result.CaptureID,
		"target", target,
		"url", result.TargetURL,
		"success", result.Success,
		"error", result.Error,
	)
	e.pub.Publish(types.Event{Topic: types.TopicReplayCompleted, Payload: result})
	return result, nil
}

// ReplayMultiple replays each config in order. A non-empty target applies to
// configs that do not name one. The delay is waited between replays, not
// before the first. Unless ContinueOnError is false, failures do not stop
// the batch; results are returned for every attempt made.
func (e *Engine) ReplayMultiple(ctx context.Context, configs []types.ReplayConfig, target string, opts types.BatchOptions) ([]*types.ReplayResult, error) {
	continueOnError := opts.ContinueOnError == nil || *opts.ContinueOnError
	results := make([]*types.ReplayResult, 0, len(configs))

	for i, cfg := range configs {
		if i > 0 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if cfg.Target == "" {
			cfg.Target = target
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = opts.Timeout
		}

		res, err := e.Replay(ctx, cfg)
		if err != nil {
			res = &types.ReplayResult{
				ID:        e.newID(),
				CaptureID: cfg.CaptureID,
				Target:    cfg.Target,
				Timestamp: e.now(),
				Error:     err.Error(),
			}
		}
		results = append(results, res)
		if !res.Success && !continueOnError {
			e.logger.Info("batch replay stopped on failure", "index", i, "total", len(configs))
			break
		}
	}
	return results, nil
}

// CompareWithOriginal diffs a replay against the captured response. It
// returns nil when the replay has no response or no original snapshot.
func (e *Engine) CompareWithOriginal(id string, opts compare.Options) (*types.ResponseDiff, error) {
	res, ok := e.history.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: replay %s", ErrNotFound, id)
	}
	return compare.Responses(res.ID, res.OriginalResponse, res.Response, opts), nil
}

// History returns results oldest to newest, the newest limit when positive.
func (e *Engine) History(limit int) []*types.ReplayResult {
	return e.history.list(limit)
}

// Get returns a replay result by id.
func (e *Engine) Get(id string) (*types.ReplayResult, error) {
	res, ok := e.history.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: replay %s", ErrNotFound, id)
	}
	return res, nil
}

// Delete removes a replay result.
func (e *Engine) Delete(id string) error {
	if !e.history.remove(id) {
		return fmt.Errorf("%w: replay %s", ErrNotFound, id)
	}
	e.pub.Publish(types.Event{Topic: types.TopicReplayDeleted, Payload: id})
	return nil
}

// ClearHistory removes every result and returns how many were dropped.
func (e *Engine) ClearHistory() int {
	n := e.history.clear()
	e.logger.Info("replay history cleared", "entries", n)
	return n
}

func (e *Engine) resolveCapture(cfg types.ReplayConfig) (*types.TrafficEvent, error) {
	if cfg.Capture != nil {
		return cfg.Capture, nil
	}
	if cfg.CaptureID == "" {
		return nil, fmt.Errorf("%w: capture id required", ErrInvalidConfig)
	}
	if e.captures == nil {
		return nil, fmt.Errorf("%w: capture %s", ErrNotFound, cfg.CaptureID)
	}
	ev, ok := e.captures.Get(cfg.CaptureID)
	if !ok {
		return nil, fmt.Errorf("%w: capture %s", ErrNotFound, cfg.CaptureID)
	}
	return ev, nil
}

func (e *Engine) buildRequest(capture *types.TrafficEvent, target string, cfg types.ReplayConfig) (client.Request, error) {
	if !capture.IsRequest() {
		return client.Request{}, fmt.Errorf("%w: capture %s has no request line", ErrInvalidConfig, capture.ID)
	}
	original := capture.FullURL()

	targetURL := original
	var env *types.Environment
	switch target {
	case types.TargetOriginal:
	case types.TargetCustom:
		if cfg.CustomURL == "" {
			return client.Request{}, fmt.Errorf("%w: custom target requires a URL", ErrInvalidConfig)
		}
		targetURL = cfg.CustomURL
	default:
		found, ok := e.envs.Lookup(target)
		if !ok {
			e.logger.Warn("unknown environment, replaying against original URL", "target", target)
			break
		}
		rebased, err := rebaseURL(found.BaseURL, original)
		if err != nil {
			return client.Request{}, fmt.Errorf("%w: environment %s: %v", ErrInvalidConfig, target, err)
		}
		targetURL = rebased
		env = &found
	}

	headers := types.CloneHeaders(capture.RequestHeaders)
	if !sameHost(original, targetURL) {
		// The captured Host would route the request to the wrong vhost.
		deleteHeader(headers, "Host")
	}
	if env != nil {
		for k, v := range env.Headers {
			setHeader(headers, k, v)
		}
	}
	for k, v := range cfg.HeaderOverrides {
		setHeader(headers, k, v)
	}

	body := capture.RequestBody
	if cfg.Body != nil {
		body = *cfg.Body
	}
	body, err := applyBodyPatches(body, cfg.BodyPatches)
	if err != nil {
		return client.Request{}, err
	}

	req := client.Request{
		Method:          capture.Method,
		URL:             targetURL,
		Headers:         headers,
		Timeout:         cfg.Timeout,
		FollowRedirects: cfg.FollowRedirects,
	}
	if body != "" {
		req.Body = []byte(body)
	}
	if cfg.ValidateSSL != nil && !*cfg.ValidateSSL {
		req.InsecureSkipVerify = true
	}
	if cfg.Auth != nil {
		req.Auth = &client.Auth{
			Type:     cfg.Auth.Type,
			Username: cfg.Auth.Username,
			Password: cfg.Auth.Password,
			Token:    cfg.Auth.Token,
		}
	}
	return req, nil
}

// rebaseURL takes scheme and host from base and keeps the path and query of
// original. A path on base is used as a prefix.
func rebaseURL(base, original string) (string, error) {
	b, err := parseBaseURL(base)
	if err != nil {
		return "", err
	}
	o, err := url.Parse(original)
	if err != nil {
		return "", fmt.Errorf("parsing captured URL: %w", err)
	}
	out := *o
	out.Scheme = b.Scheme
	out.Host = b.Host
	out.User = b.User
	if prefix := strings.TrimSuffix(b.EscapedPath(), "/"); prefix != "" {
		escaped := prefix + o.EscapedPath()
		path, err := url.PathUnescape(escaped)
		if err != nil {
			return "", fmt.Errorf("joining base path: %w", err)
		}
		out.Path = path
		out.RawPath = escaped
	}
	return out.String(), nil
}

func sameHost(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host)
}

func setHeader(h map[string]string, name, value string) {
	deleteHeader(h, name)
	h[name] = value
}

func deleteHeader(h map[string]string, name string) {
	for k := range h {
		if strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
}

func snapshotResponse(resp *client.Response) *types.ReplayResponse {
	out := &types.ReplayResponse{
		Status:     resp.StatusCode,
		StatusText: resp.StatusText,
		Headers:    resp.Headers.Map(),
		Body:       string(resp.Body),
		Size:       len(resp.Body),
		TimingMs:   resp.Timings.TotalMs,
	}
	for _, c := range resp.Cookies {
		ck := types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if !c.Expires.IsZero() {
			exp := c.Expires
			ck.Expires = &exp
		}
		out.Cookies = append(out.Cookies, ck)
	}
	return out
}

func originalResponse(ev *types.TrafficEvent) *types.ReplayResponse {
	return &types.ReplayResponse{
		Status:     ev.StatusCode,
		StatusText: ev.ResponsePhrase,
		Headers:    types.CloneHeaders(ev.ResponseHeaders),
		Body:       ev.ResponseBody,
		Size:       len(ev.ResponseBody),
		TimingMs:   ev.DurationMs,
	}
}

// targetLabel bounds metric cardinality to the fixed target kinds.
func targetLabel(target string) string {
	switch target {
	case types.TargetOriginal, types.TargetCustom:
		return target
	default:
		return "environment"
	}
}

// IsTimeout reports whether a recorded result failed on its deadline.
func IsTimeout(r *types.ReplayResult) bool {
	return r != nil && !r.Success && strings.Contains(r.Error, client.ErrTimeout.Error())
}
