package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/usestring/trafficlab/internal/capture"
	"github.com/usestring/trafficlab/internal/certs"
	"github.com/usestring/trafficlab/internal/filter"
	"github.com/usestring/trafficlab/internal/har"
	"github.com/usestring/trafficlab/internal/replay"
	"github.com/usestring/trafficlab/internal/schema"
	"github.com/usestring/trafficlab/pkg/bodyquery"
)

// Error codes for MCP tool responses.
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodePrecondition = "PRECONDITION"
	ErrCodeToolError    = "TOOL_ERROR"
	ErrCodeTimeout      = "TIMEOUT"
)

// CodedError is an error with an associated error code.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// errorClasses pairs sentinels with the code and message they map to.
// The first matching entry wins.
var errorClasses = []struct {
	code     string
	message  string
	sentinel []error
}{
	{ErrCodeConflict, "a capture session is already running", []error{capture.ErrSessionConflict}},
	{ErrCodeNotFound, "not found", []error{capture.ErrNotFound, replay.ErrNotFound}},
	{ErrCodePrecondition, "operation not allowed in the current state", []error{
		capture.ErrSessionStopped,
		certs.ErrCANotInitialized,
		certs.ErrDegradedCertificate,
		certs.ErrCAKeyMismatch,
	}},
	{ErrCodeInvalidInput, "invalid input", []error{
		capture.ErrInvalidConfig,
		replay.ErrInvalidConfig,
		filter.ErrInvalidFilter,
		certs.ErrPasswordRequired,
		certs.ErrInvalidHostname,
		certs.ErrUnsupportedFormat,
		har.ErrInvalidArchive,
		schema.ErrNoSamples,
		bodyquery.ErrUnknownMode,
		bodyquery.ErrEmptyExpression,
		bodyquery.ErrBinaryBody,
	}},
	{ErrCodeToolError, "external tool failed", []error{
		capture.ErrToolNotFound,
		certs.ErrToolNotFound,
		certs.ErrTrustOperationFailed,
	}},
}

// WrapError converts a domain error to a coded error. Errors that are
// already coded pass through unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return err
	}

	coded = classify(err)
	slog.Warn("tool error",
		slog.String("code", coded.Code),
		slog.String("message", coded.Message),
		slog.String("error", err.Error()),
	)
	return coded
}

func classify(err error) *CodedError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &CodedError{Code: ErrCodeTimeout, Message: "operation timed out", Cause: err}
	}
	for _, class := range errorClasses {
		for _, s := range class.sentinel {
			if errors.Is(err, s) {
				return &CodedError{Code: class.code, Message: class.message, Cause: err}
			}
		}
	}
	return &CodedError{Code: ErrCodeToolError, Message: "operation failed", Cause: err}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) error {
	return &CodedError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrInvalidInput creates an invalid input error.
func ErrInvalidInput(message string) error {
	return &CodedError{
		Code:    ErrCodeInvalidInput,
		Message: message,
	}
}

// ErrorCode returns the code of a coded error, or "" for other errors.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
