package certs

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrCANotInitialized is returned when a host certificate is requested
	// before a root CA exists.
	ErrCANotInitialized = errors.New("root CA not initialized")
	// ErrTrustOperationFailed wraps failures of the platform trust command.
	ErrTrustOperationFailed = errors.New("trust store operation failed")
	// ErrPermissionDenied marks trust failures caused by missing privileges.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrToolNotFound is returned when a required binary is not installed.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDegradedCertificate is returned when an operation needs a real
	// X.509 certificate but the root is the degraded envelope.
	ErrDegradedCertificate = errors.New("degraded certificate")
	// ErrPasswordRequired is returned for PKCS12 exports without a password.
	ErrPasswordRequired = errors.New("password required for PKCS12 export")
	// ErrInvalidHostname is returned for empty or malformed hostnames.
	ErrInvalidHostname = errors.New("invalid hostname")
	// ErrCAKeyMismatch is returned when the root certificate was not signed
	// by the key next to it.
	ErrCAKeyMismatch = errors.New("CA certificate does not match its key")
	// ErrUnsupportedFormat is returned for unknown export formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// CommandError carries the output of a failed external command.
type CommandError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"access is denied",
	"authorization",
	"must be run as root",
	"requires root",
	"not authorized",
	"sudo",
}

// isPermissionProblem inspects tool output for privilege failures.
func isPermissionProblem(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, m := range permissionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// trustError classifies a trust-store failure. A missing tool stays distinct
// from a failed operation.
func trustError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrToolNotFound) || errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var detail string
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		detail = cmdErr.Stderr
	}
	if isPermissionProblem(detail) || isPermissionProblem(err.Error()) {
		return fmt.Errorf("%w: %s: %w: %v", ErrTrustOperationFailed, op, ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTrustOperationFailed, op, err)
}
