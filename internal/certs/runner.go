package certs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// CommandRunner runs an external command to completion.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, env []string) (stdout []byte, err error)
}

// ExecRunner runs commands with os/exec. Failures are returned as
// *CommandError carrying stderr.
type ExecRunner struct{}

// Run executes name with args. env entries are appended to the process
// environment.
func (ExecRunner) Run(ctx context.Context, name string, args []string, env []string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrToolNotFound, name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return stdout.Bytes(), &CommandError{Tool: name, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
