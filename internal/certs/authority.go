// Package certs is the local certificate authority used for HTTPS
// interception: root CA lifecycle, per-host leaf certificates, platform
// trust store installation and exports.
package certs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/usestring/trafficlab/internal/bus"
	"github.com/usestring/trafficlab/internal/logging"
	"github.com/usestring/trafficlab/internal/metrics"
	"github.com/usestring/trafficlab/pkg/types"
)

const (
	rootCertFile     = "root-ca.pem"
	rootKeyFile      = "root-ca-key.pem"
	combinedFile     = "mitmproxy-ca.pem"
	hostsDir         = "hosts"
	exportsDir       = "exports"
	defaultRootCN    = "trafficlab Root CA"
	defaultRootOrg   = "trafficlab"
	defaultCountry   = "US"
	defaultRootBits  = 4096
	defaultHostBits  = 2048
	defaultRootDays  = 3650
	defaultHostDays  = 365
	maxHostnameBytes = 253
)

// Options configures an Authority.
type Options struct {
	Dir              string
	RootValidityDays int
	HostValidityDays int
}

// Option configures an Authority.
type Option func(*Authority)

// WithSigner replaces the openssl signer.
func WithSigner(s Signer) Option {
	return func(a *Authority) { a.signer = s }
}

// WithFallbackSigner sets the signer used when the primary signer's tool is
// missing. Pass nil to disable the fallback.
func WithFallbackSigner(s Signer) Option {
	return func(a *Authority) { a.fallback = s }
}

// WithTrustStore replaces the platform trust store driver.
func WithTrustStore(t TrustStoreDriver) Option {
	return func(a *Authority) { a.trust = t }
}

// WithPublisher sets where certificate events are published.
func WithPublisher(p bus.Publisher) Option {
	return func(a *Authority) { a.pub = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authority) { a.metrics = m }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// Authority manages the root CA and host certificates under one directory.
type Authority struct {
	opts     Options
	signer   Signer
	fallback Signer
	trust    TrustStoreDriver
	pub      bus.Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.RWMutex
	root  *types.CertificateRecord
	hosts map[string]*types.CertificateRecord
	group singleflight.Group
}

// NewAuthority creates an authority rooted at opts.Dir. Nothing is read from
// disk until Initialize.
func NewAuthority(opts Options, options ...Option) *Authority {
	if opts.RootValidityDays <= 0 {
		opts.RootValidityDays = defaultRootDays
	}
	if opts.HostValidityDays <= 0 {
		opts.HostValidityDays = defaultHostDays
	}
	a := &Authority{
		opts:     opts,
		signer:   NewOpenSSLSigner("openssl", time.Minute),
		fallback: NewDegradedSigner(),
		pub:      bus.Discard,
		now:      time.Now,
		logger:   logging.Component("certs"),
		hosts:    make(map[string]*types.CertificateRecord),
	}
	for _, o := range options {
		o(a)
	}
	if a.trust == nil {
		a.trust = NewTrustStore(runtime.GOOS, nil)
	}
	return a
}

// Dir returns the certificate directory.
func (a *Authority) Dir() string { return a.opts.Dir }

func (a *Authority) rootCertPath() string { return filepath.Join(a.opts.Dir, rootCertFile) }
func (a *Authority) rootKeyPath() string  { return filepath.Join(a.opts.Dir, rootKeyFile) }

// Initialize loads an existing root CA from the certificate directory and
// reports the resulting status.
func (a *Authority) Initialize(ctx context.Context) (*types.CertificateStatus, error) {
	data, err := os.ReadFile(a.rootCertPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.logger.Debug("no root CA on disk", "dir", a.opts.Dir)
	case err != nil:
		return nil, fmt.Errorf("reading root CA: %w", err)
	default:
		rec, err := parseRecord(data)
		if err != nil {
			return nil, fmt.Errorf("loading root CA: %w", err)
		}
		rec.CertPath = a.rootCertPath()
		rec.KeyPath = a.rootKeyPath()
		a.mu.Lock()
		a.root = rec
		a.mu.Unlock()
		a.logger.Info("root CA loaded", "cn", rec.CommonName, "flavor", rec.Flavor, "valid_to", rec.ValidTo)
	}
	return a.Status(ctx), nil
}

// Root returns a copy of the current root CA record, or nil.
func (a *Authority) Root() *types.CertificateRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyRecord(a.root)
}

// GenerateRootCA creates and persists a new self-signed root CA, replacing
// any existing one.
func (a *Authority) GenerateRootCA(ctx context.Context, opts types.CertOptions) (*types.CertificateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cert dir: %w", err)
	}

	req := RootRequest{
		CertPath:     a.rootCertPath(),
		KeyPath:      a.rootKeyPath(),
		CommonName:   orDefault(opts.CommonName, defaultRootCN),
		Organization: orDefault(opts.Organization, defaultRootOrg),
		Country:      orDefault(opts.Country, defaultCountry),
		Serial:       newSerial(),
		ValidityDays: positiveOr(opts.ValidityDays, a.opts.RootValidityDays),
		KeyBits:      positiveOr(opts.KeyBits, defaultRootBits),
	}

	err := a.signer.GenerateRoot(ctx, req)
	if isToolMissing(err) && a.fallback != nil {
		a.logger.Warn("signing tool unavailable, generating degraded root CA", "error", err)
		err = a.fallback.GenerateRoot(ctx, req)
	}
	if err == nil {
		err = os.Chmod(req.KeyPath, 0o600)
	}
	var rec *types.CertificateRecord
	if err == nil {
		rec, err = a.loadRecord(req.CertPath, req.KeyPath)
	}
	a.metrics.CertOperation("generate_root", err)
	if err != nil {
		return nil, fmt.Errorf("generating root CA: %w", err)
	}

	a.mu.Lock()
	a.root = rec
	a.mu.Unlock()

	a.logger.Info("root CA generated", "cn", rec.CommonName, "flavor", rec.Flavor, "fingerprint", rec.Fingerprint)
	a.pub.Publish(types.Event{Topic: types.TopicCertGenerated, Payload: copyRecord(rec)})
	return copyRecord(rec), nil
}

// GenerateHostCertificate returns a leaf certificate for hostname signed by
// the root CA. Results are cached by hostname until ClearCertificateCache.
func (a *Authority) GenerateHostCertificate(ctx context.Context, hostname string, opts types.CertOptions) (*types.CertificateRecord, error) {
	host, err := normalizeHostname(hostname)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	root := a.root
	cached := a.hosts[host]
	a.mu.RUnlock()
	if root == nil {
		return nil, ErrCANotInitialized
	}
	if cached != nil {
		a.metrics.CertOperation("host_cache_hit", nil)
		return copyRecord(cached), nil
	}

	v, err, _ := a.group.Do(host, func() (any, error) {
		a.mu.RLock()
		hit := a.hosts[host]
		a.mu.RUnlock()
		if hit != nil {
			return hit, nil
		}
		rec, err := a.signHost(ctx, root, host, opts)
		a.metrics.CertOperation("generate_host", err)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.hosts[host] = rec
		a.mu.Unlock()
		a.pub.Publish(types.Event{Topic: types.TopicCertGenerated, Payload: copyRecord(rec)})
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("generating certificate for %s: %w", host, err)
	}
	return copyRecord(v.(*types.CertificateRecord)), nil
}

func (a *Authority) signHost(ctx context.Context, root *types.CertificateRecord, host string, opts types.CertOptions) (*types.CertificateRecord, error) {
	dir := filepath.Join(a.opts.Dir, hostsDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating hosts dir: %w", err)
	}
	base := filepath.Join(dir, hostFileKey(host))
	req := HostRequest{
		CertPath:     base + ".pem",
		KeyPath:      base + "-key.pem",
		CSRPath:      base + ".csr",
		CACertPath:   root.CertPath,
		CAKeyPath:    root.KeyPath,
		CommonName:   host,
		AltNames:     altNames(host, opts.AltNames),
		Serial:       newSerial(),
		ValidityDays: positiveOr(opts.ValidityDays, a.opts.HostValidityDays),
		KeyBits:      positiveOr(opts.KeyBits, defaultHostBits),
	}

	signer := a.signer
	if root.Degraded() {
		if a.fallback == nil {
			return nil, ErrDegradedCertificate
		}
		signer = a.fallback
	}
	err := signer.GenerateHost(ctx, req)
	if isToolMissing(err) && a.fallback != nil && signer != a.fallback {
		a.logger.Warn("signing tool unavailable, generating degraded host certificate", "host", host, "error", err)
		err = a.fallback.GenerateHost(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(req.KeyPath, 0o600); err != nil {
		return nil, err
	}
	rec, err := a.loadRecord(req.CertPath, req.KeyPath)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("host certificate generated", "host", host, "alt_names", rec.AltNames)
	return rec, nil
}

// ClearCertificateCache drops every cached host certificate and returns how
// many were removed. Files on disk are left in place.
func (a *Authority) ClearCertificateCache() int {
	a.mu.Lock()
	n := len(a.hosts)
	a.hosts = make(map[string]*types.CertificateRecord)
	a.mu.Unlock()
	a.logger.Info("host certificate cache cleared", "entries", n)
	return n
}

// Trust installs the root CA into the platform trust store.
func (a *Authority) Trust(ctx context.Context) error {
	root, err := a.trustableRoot()
	if err != nil {
		return err
	}
	err = a.trust.Install(ctx, root.CertPath)
	a.metrics.CertOperation("trust", err)
	if err != nil {
		return err
	}
	a.logger.Info("root CA trusted", "driver", a.trust.Name())
	a.publishTrust(root, types.CertTrusted)
	return nil
}

// Untrust removes the root CA from the platform trust store.
func (a *Authority) Untrust(ctx context.Context) error {
	root, err := a.trustableRoot()
	if err != nil {
		return err
	}
	err = a.trust.Remove(ctx, root.CertPath, root.CommonName)
	a.metrics.CertOperation("untrust", err)
	if err != nil {
		return err
	}
	a.logger.Info("root CA untrusted", "driver", a.trust.Name())
	a.publishTrust(root, types.CertGenerated)
	return nil
}

func (a *Authority) trustableRoot() (*types.CertificateRecord, error) {
	root := a.Root()
	if root == nil {
		return nil, ErrCANotInitialized
	}
	if root.Degraded() {
		return nil, fmt.Errorf("%w: trust store requires an X.509 root", ErrDegradedCertificate)
	}
	return root, nil
}

func (a *Authority) publishTrust(root *types.CertificateRecord, state types.CertState) {
	a.pub.Publish(types.Event{
		Topic:   types.TopicCertTrustChanged,
		Payload: types.CertificateStatus{State: state, Root: root, CertDir: a.opts.Dir},
	})
}

// Status reports the root CA state. Expiry takes priority over trust once a
// root exists; a failed trust query leaves the state at generated.
func (a *Authority) Status(ctx context.Context) *types.CertificateStatus {
	st := &types.CertificateStatus{State: types.CertNotGenerated, CertDir: a.opts.Dir}
	root := a.Root()
	if root == nil {
		return st
	}
	st.Root = root
	switch {
	case a.now().After(root.ValidTo):
		st.State = types.CertExpired
	case root.Degraded():
		st.State = types.CertGenerated
	default:
		st.State = types.CertGenerated
		trusted, err := a.trust.Contains(ctx, root.CertPath, root.CommonName)
		if err != nil {
			st.TrustCheckError = err.Error()
		} else if trusted {
			st.State = types.CertTrusted
		}
	}
	return st
}

// ExportRootCA returns the root certificate in the requested encoding. DER
// and PKCS12 files are written under the exports directory.
func (a *Authority) ExportRootCA(ctx context.Context, format types.ExportFormat, password string) (*types.ExportedCertificate, error) {
	root := a.Root()
	if root == nil {
		return nil, ErrCANotInitialized
	}

	var path string
	switch format {
	case types.ExportPEM, "":
		format = types.ExportPEM
		path = root.CertPath
	case types.ExportDER, types.ExportPKCS12:
		if format == types.ExportPKCS12 && password == "" {
			return nil, ErrPasswordRequired
		}
		if root.Degraded() {
			return nil, fmt.Errorf("%w: %s export requires an X.509 root", ErrDegradedCertificate, format)
		}
		dir := filepath.Join(a.opts.Dir, exportsDir)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating exports dir: %w", err)
		}
		path = filepath.Join(dir, "root-ca."+string(format))
		err := a.signer.Convert(ctx, ConvertRequest{
			CertPath: root.CertPath,
			KeyPath:  root.KeyPath,
			OutPath:  path,
			Format:   string(format),
			Password: password,
		})
		a.metrics.CertOperation("export_"+string(format), err)
		if err != nil {
			return nil, fmt.Errorf("exporting root CA: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}
	return &types.ExportedCertificate{Format: format, Path: path, Data: data, Size: len(data)}, nil
}

// MitmProxyConfig writes the combined key+certificate file that
// mitmproxy-style interceptors expect in their confdir.
func (a *Authority) MitmProxyConfig() (*types.MitmProxyConfig, error) {
	root := a.Root()
	if root == nil {
		return nil, ErrCANotInitialized
	}
	key, err := os.ReadFile(root.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading root key: %w", err)
	}
	cert, err := os.ReadFile(root.CertPath)
	if err != nil {
		return nil, fmt.Errorf("reading root certificate: %w", err)
	}
	combined := filepath.Join(a.opts.Dir, combinedFile)
	if err := os.WriteFile(combined, append(key, cert...), 0o600); err != nil {
		return nil, fmt.Errorf("writing combined PEM: %w", err)
	}
	return &types.MitmProxyConfig{
		CertDir:      a.opts.Dir,
		CACertPath:   root.CertPath,
		CAKeyPath:    root.KeyPath,
		CombinedPath: combined,
		Args:         []string{"--set", "confdir=" + a.opts.Dir},
		Degraded:     root.Degraded(),
	}, nil
}

func (a *Authority) loadRecord(certPath, keyPath string) (*types.CertificateRecord, error) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading certificate: %w", err)
	}
	rec, err := parseRecord(data)
	if err != nil {
		return nil, err
	}
	rec.CertPath = certPath
	rec.KeyPath = keyPath
	return rec, nil
}

func isToolMissing(err error) bool {
	return errors.Is(err, ErrToolNotFound) || errors.Is(err, exec.ErrNotFound)
}

// normalizeHostname lower-cases and validates a hostname or IP literal. A
// wildcard is only allowed as the whole leftmost label.
func normalizeHostname(hostname string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hostname))
	if h == "" || len(h) > maxHostnameBytes {
		return "", fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
	}
	if strings.Contains(h[1:], "*") || (h[0] == '*' && !strings.HasPrefix(h, "*.")) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
	}
	for _, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_', r == ':', r == '*':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
		}
	}
	if strings.Contains(h, "..") || strings.HasSuffix(h, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
	}
	return h, nil
}

// hostFileKey maps a hostname to a filesystem-safe name.
func hostFileKey(host string) string {
	key := strings.Replace(host, "*.", "_wildcard_.", 1)
	return strings.ReplaceAll(key, ":", "_")
}

// altNames puts host first followed by the extra names, de-duplicated.
func altNames(host string, extra []string) []string {
	out := []string{host}
	seen := map[string]struct{}{host: {}}
	for _, n := range extra {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// newSerial returns a random positive 128-bit serial as hex.
func newSerial() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	b[0] &= 0x7f
	if b[0] == 0 {
		b[0] = 0x01
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

func copyRecord(r *types.CertificateRecord) *types.CertificateRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.AltNames = make([]string, len(r.AltNames))
	copy(cp.AltNames, r.AltNames)
	return &cp
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
