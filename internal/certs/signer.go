package certs

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RootRequest describes a self-signed root CA to create.
type RootRequest struct {
	CertPath     string
	KeyPath      string
	CommonName   string
	Organization string
	Country      string
	Serial       string // Hex, no prefix
	ValidityDays int
	KeyBits      int
}

// HostRequest describes a host certificate signed by the root CA.
type HostRequest struct {
	CertPath     string
	KeyPath      string
	CSRPath      string
	CACertPath   string
	CAKeyPath    string
	CommonName   string
	AltNames     []string
	Serial       string
	ValidityDays int
	KeyBits      int
}

// ConvertRequest describes a root CA format conversion.
type ConvertRequest struct {
	CertPath string
	KeyPath  string
	OutPath  string
	Format   string // "der" or "p12"
	Password string
}

// Signer performs certificate operations, normally by invoking an external
// tool. Implementations write their output to the paths in the request.
type Signer interface {
	GenerateRoot(ctx context.Context, req RootRequest) error
	GenerateHost(ctx context.Context, req HostRequest) error
	Convert(ctx context.Context, req ConvertRequest) error
}

// OpenSSLSigner drives the openssl command line.
type OpenSSLSigner struct {
	Path    string
	Runner  CommandRunner
	Timeout time.Duration
}

// NewOpenSSLSigner creates a signer for the openssl binary at path.
func NewOpenSSLSigner(path string, timeout time.Duration) *OpenSSLSigner {
	if path == "" {
		path = "openssl"
	}
	return &OpenSSLSigner{Path: path, Runner: ExecRunner{}, Timeout: timeout}
}

func (s *OpenSSLSigner) run(ctx context.Context, env []string, args ...string) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	_, err := s.Runner.Run(ctx, s.Path, args, env)
	return err
}

// GenerateRoot creates an RSA key and a self-signed CA certificate.
func (s *OpenSSLSigner) GenerateRoot(ctx context.Context, req RootRequest) error {
	return s.run(ctx, nil,
		"req", "-x509", "-new",
		"-newkey", "rsa:"+strconv.Itoa(req.KeyBits),
		"-nodes", "-sha256",
		"-keyout", req.KeyPath,
		"-out", req.CertPath,
		"-days", strconv.Itoa(req.ValidityDays),
		"-set_serial", "0x"+req.Serial,
		"-subj", subject(req.CommonName, req.Organization, req.Country),
		"-addext", "basicConstraints=critical,CA:TRUE",
		"-addext", "keyUsage=critical,keyCertSign,cRLSign",
		"-addext", "subjectKeyIdentifier=hash",
	)
}

// GenerateHost creates a key and CSR for the host, then signs the CSR with
// the root CA.
func (s *OpenSSLSigner) GenerateHost(ctx context.Context, req HostRequest) error {
	if err := s.run(ctx, nil,
		"req", "-new",
		"-newkey", "rsa:"+strconv.Itoa(req.KeyBits),
		"-nodes", "-sha256",
		"-keyout", req.KeyPath,
		"-out", req.CSRPath,
		"-subj", subject(req.CommonName, "", ""),
	); err != nil {
		return fmt.Errorf("creating CSR: %w", err)
	}
	defer os.Remove(req.CSRPath)

	extPath := strings.TrimSuffix(req.CSRPath, filepath.Ext(req.CSRPath)) + ".ext"
	if err := os.WriteFile(extPath, []byte(hostExtensions(req.AltNames)), 0o600); err != nil {
		return fmt.Errorf("writing extensions: %w", err)
	}
	defer os.Remove(extPath)

	if err := s.run(ctx, nil,
		"x509", "-req", "-sha256",
		"-in", req.CSRPath,
		"-CA", req.CACertPath,
		"-CAkey", req.CAKeyPath,
		"-set_serial", "0x"+req.Serial,
		"-days", strconv.Itoa(req.ValidityDays),
		"-extfile", extPath,
		"-out", req.CertPath,
	); err != nil {
		return fmt.Errorf("signing CSR: %w", err)
	}
	return nil
}

// p12PasswordEnv carries the export password so it never appears in argv.
const p12PasswordEnv = "TRAFFICLAB_P12_PASSWORD"

// Convert re-encodes the root certificate as DER or PKCS12.
func (s *OpenSSLSigner) Convert(ctx context.Context, req ConvertRequest) error {
	switch req.Format {
	case "der":
		return s.run(ctx, nil, "x509", "-in", req.CertPath, "-outform", "DER", "-out", req.OutPath)
	case "p12":
		return s.run(ctx, []string{p12PasswordEnv + "=" + req.Password},
			"pkcs12", "-export",
			"-in", req.CertPath,
			"-inkey", req.KeyPath,
			"-name", "trafficlab root CA",
			"-out", req.OutPath,
			"-passout", "env:"+p12PasswordEnv,
		)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func subject(cn, org, country string) string {
	var b strings.Builder
	if country != "" {
		b.WriteString("/C=" + escapeSubject(country))
	}
	if org != "" {
		b.WriteString("/O=" + escapeSubject(org))
	}
	b.WriteString("/CN=" + escapeSubject(cn))
	return b.String()
}

func escapeSubject(v string) string {
	return strings.NewReplacer("/", `\/`, "=", `\=`).Replace(v)
}

// hostExtensions renders the x509v3 extension file for a host certificate.
func hostExtensions(altNames []string) string {
	sans := make([]string, 0, len(altNames))
	for _, name := range altNames {
		if ip := net.ParseIP(name); ip != nil {
			sans = append(sans, "IP:"+ip.String())
		} else {
			sans = append(sans, "DNS:"+name)
		}
	}
	return "basicConstraints=critical,CA:FALSE\n" +
		"keyUsage=critical,digitalSignature,keyEncipherment\n" +
		"extendedKeyUsage=serverAuth\n" +
		"subjectAltName=" + strings.Join(sans, ",") + "\n"
}
