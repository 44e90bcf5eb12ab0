package certs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TrustStoreDriver installs and removes the root CA in the platform trust
// store.
type TrustStoreDriver interface {
	Name() string
	Install(ctx context.Context, certPath string) error
	Remove(ctx context.Context, certPath, commonName string) error
	Contains(ctx context.Context, certPath, commonName string) (bool, error)
}

// NewTrustStore selects the driver for goos. Unsupported platforms get a
// driver that fails every operation with ErrTrustOperationFailed.
func NewTrustStore(goos string, runner CommandRunner) TrustStoreDriver {
	if runner == nil {
		runner = ExecRunner{}
	}
	switch goos {
	case "darwin":
		return &darwinTrust{runner: runner, keychain: "/Library/Keychains/System.keychain"}
	case "windows":
		return &windowsTrust{runner: runner}
	case "linux":
		return &linuxTrust{
			runner: runner,
			target: "/usr/local/share/ca-certificates/trafficlab-root-ca.crt",
		}
	default:
		return unsupportedTrust{goos: goos}
	}
}

type darwinTrust struct {
	runner   CommandRunner
	keychain string
}

func (d *darwinTrust) Name() string { return "darwin-keychain" }

func (d *darwinTrust) Install(ctx context.Context, certPath string) error {
	_, err := d.runner.Run(ctx, "security",
		[]string{"add-trusted-cert", "-d", "-r", "trustRoot", "-k", d.keychain, certPath}, nil)
	return trustError("security add-trusted-cert", err)
}

func (d *darwinTrust) Remove(ctx context.Context, certPath, _ string) error {
	_, err := d.runner.Run(ctx, "security", []string{"remove-trusted-cert", "-d", certPath}, nil)
	return trustError("security remove-trusted-cert", err)
}

func (d *darwinTrust) Contains(ctx context.Context, _ string, commonName string) (bool, error) {
	_, err := d.runner.Run(ctx, "security", []string{"find-certificate", "-c", commonName, d.keychain}, nil)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && !isPermissionProblem(cmdErr.Stderr) {
		// find-certificate exits non-zero when nothing matches.
		return false, nil
	}
	return false, trustError("security find-certificate", err)
}

type windowsTrust struct {
	runner CommandRunner
}

func (w *windowsTrust) Name() string { return "windows-certutil" }

func (w *windowsTrust) Install(ctx context.Context, certPath string) error {
	_, err := w.runner.Run(ctx, "certutil", []string{"-addstore", "-f", "Root", certPath}, nil)
	return trustError("certutil -addstore", err)
}

func (w *windowsTrust) Remove(ctx context.Context, _ string, commonName string) error {
	_, err := w.runner.Run(ctx, "certutil", []string{"-delstore", "Root", commonName}, nil)
	return trustError("certutil -delstore", err)
}

func (w *windowsTrust) Contains(ctx context.Context, _ string, commonName string) (bool, error) {
	out, err := w.runner.Run(ctx, "certutil", []string{"-verifystore", "Root", commonName}, nil)
	if err == nil {
		return bytes.Contains(out, []byte(commonName)), nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && !isPermissionProblem(cmdErr.Stderr) {
		return false, nil
	}
	return false, trustError("certutil -verifystore", err)
}

type linuxTrust struct {
	runner CommandRunner
	target string
}

func (l *linuxTrust) Name() string { return "linux-ca-certificates" }

func (l *linuxTrust) Install(ctx context.Context, certPath string) error {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return trustError("read certificate", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.target), 0o755); err != nil {
		return trustError("create trust dir", err)
	}
	if err := os.WriteFile(l.target, data, 0o644); err != nil {
		return trustError("copy certificate", err)
	}
	_, err = l.runner.Run(ctx, "update-ca-certificates", nil, nil)
	return trustError("update-ca-certificates", err)
}

func (l *linuxTrust) Remove(ctx context.Context, _, _ string) error {
	if err := os.Remove(l.target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return trustError("remove certificate", err)
	}
	_, err := l.runner.Run(ctx, "update-ca-certificates", []string{"--fresh"}, nil)
	return trustError("update-ca-certificates --fresh", err)
}

func (l *linuxTrust) Contains(_ context.Context, certPath, _ string) (bool, error) {
	installed, err := os.ReadFile(l.target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, trustError("read installed certificate", err)
	}
	want, err := os.ReadFile(certPath)
	if err != nil {
		return false, trustError("read certificate", err)
	}
	return bytes.Equal(bytes.TrimSpace(installed), bytes.TrimSpace(want)), nil
}

type unsupportedTrust struct {
	goos string
}

func (u unsupportedTrust) Name() string { return "unsupported-" + u.goos }

func (u unsupportedTrust) err() error {
	return fmt.Errorf("%w: no trust store driver for %s", ErrTrustOperationFailed, strings.TrimSpace(u.goos))
}

func (u unsupportedTrust) Install(context.Context, string) error         { return u.err() }
func (u unsupportedTrust) Remove(context.Context, string, string) error { return u.err() }
func (u unsupportedTrust) Contains(context.Context, string, string) (bool, error) {
	return false, u.err()
}
