package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
)

const (
	// DefaultTimeout applies when neither the client nor the request set one.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRedirects bounds redirect chains.
	DefaultMaxRedirects = 10
	// DefaultMaxBodyBytes caps how much of a response body is kept.
	DefaultMaxBodyBytes = 10 << 20
)

// Headers the transport owns. Accept-Encoding is left to the transport so
// compressed bodies come back decoded.
var managedHeaders = map[string]struct{}{
	"content-length":    {},
	"connection":        {},
	"transfer-encoding": {},
	"accept-encoding":   {},
	"keep-alive":        {},
	"upgrade":           {},
	"proxy-connection":  {},
}

// Client executes single HTTP requests for replay.
type Client struct {
	timeout      time.Duration
	maxRedirects int
	maxBodyBytes int64
	verified     *http.Transport
	insecure     *http.Transport
	logger       *slog.Logger
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRedirects sets how many redirects are followed.
func WithMaxRedirects(n int) Option {
	return func(c *Client) { c.maxRedirects = n }
}

// WithMaxBodyBytes caps the response body kept in memory.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) { c.maxBodyBytes = n }
}

// WithTransport sets the base transport. A clone with verification disabled
// is derived from it for insecure requests.
func WithTransport(t *http.Transport) Option {
	return func(c *Client) { c.verified = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a new request executor.
func New(opts ...Option) *Client {
	c := &Client{
		timeout:      DefaultTimeout,
		maxRedirects: DefaultMaxRedirects,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.verified == nil {
		c.verified = http.DefaultTransport.(*http.Transport).Clone()
	}
	c.insecure = c.verified.Clone()
	if c.insecure.TLSClientConfig == nil {
		c.insecure.TLSClientConfig = &tls.Config{}
	}
	c.insecure.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // opt-in per request
	return c
}

// Do executes req. Non-2xx statuses are not errors; only transport failures
// and timeouts are.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	var timings Timings
	start := time.Now()
	ctx = httptrace.WithClientTrace(ctx, traceTimings(start, &timings))

	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	applyHeaders(hreq, req.Headers)
	applyAuth(hreq, req.Auth)

	resp, err := c.httpClient(req).Do(hreq)
	if err != nil {
		timings.TotalMs = time.Since(start).Milliseconds()
		c.logger.Debug("HTTP request failed",
			slog.String("method", method),
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", timings.TotalMs),
		)
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w after %s: %s %s", ErrTimeout, timeout, method, req.URL)
		}
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w reading body: %s %s", ErrTimeout, method, req.URL)
		}
		return nil, fmt.Errorf("reading body: %w", err)
	}
	truncated := int64(len(data)) > c.maxBodyBytes
	if truncated {
		data = data[:c.maxBodyBytes]
	}
	timings.TotalMs = time.Since(start).Milliseconds()

	c.logger.Debug("HTTP request completed",
		slog.String("method", method),
		slog.String("url", req.URL),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", timings.TotalMs),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Proto:      resp.Proto,
		Headers:    headersFromHTTP(resp.Header),
		Body:       data,
		Truncated:  truncated,
		Cookies:    resp.Cookies(),
		Timings:    timings,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func (c *Client) httpClient(req Request) *http.Client {
	transport := c.verified
	if req.InsecureSkipVerify {
		transport = c.insecure
	}
	follow := req.FollowRedirects == nil || *req.FollowRedirects
	maxRedirects := c.maxRedirects
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if !follow {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// applyHeaders sets headers without canonicalizing their names so the
// replayed request matches the captured one on HTTP/1.1.
func applyHeaders(hreq *http.Request, headers map[string]string) {
	for name, value := range headers {
		lower := strings.ToLower(name)
		if lower == "host" {
			hreq.Host = value
			continue
		}
		if _, managed := managedHeaders[lower]; managed || strings.HasPrefix(name, ":") {
			continue
		}
		for existing := range hreq.Header {
			if strings.EqualFold(existing, name) {
				delete(hreq.Header, existing)
			}
		}
		hreq.Header[name] = []string{value}
	}
}

func applyAuth(hreq *http.Request, auth *Auth) {
	if auth == nil {
		return
	}
	switch strings.ToLower(auth.Type) {
	case AuthBasic:
		hreq.SetBasicAuth(auth.Username, auth.Password)
	case AuthBearer:
		hreq.Header.Set("Authorization", "Bearer "+auth.Token)
	}
}

func traceTimings(start time.Time, t *Timings) *httptrace.ClientTrace {
	var dnsStart, connStart, tlsStart time.Time
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			if !dnsStart.IsZero() {
				t.DNSMs = time.Since(dnsStart).Milliseconds()
			}
		},
		ConnectStart: func(string, string) { connStart = time.Now() },
		ConnectDone: func(string, string, error) {
			if !connStart.IsZero() {
				t.ConnectMs = time.Since(connStart).Milliseconds()
			}
		},
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			if !tlsStart.IsZero() {
				t.TLSMs = time.Since(tlsStart).Milliseconds()
			}
		},
		GotFirstResponseByte: func() {
			t.FirstByteMs = time.Since(start).Milliseconds()
		},
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
