package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

// Process is a running capture subprocess.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	PID() int
	// Terminate asks the process to exit so it can flush its output.
	Terminate() error
	// Kill stops the process immediately.
	Kill() error
	// Wait blocks until the process exits. Call it after both output
	// streams have been drained.
	Wait() error
}

// Launcher starts capture subprocesses.
type Launcher interface {
	Launch(ctx context.Context, name string, args []string) (Process, error)
}

// ExecLauncher launches real subprocesses with os/exec.
type ExecLauncher struct {
	// WaitDelay bounds how long Wait waits for output pipes after the
	// process exits.
	WaitDelay time.Duration
}

// Launch starts name with args. Cancelling ctx sends a termination signal.
func (l ExecLauncher) Launch(ctx context.Context, name string, args []string) (Process, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolNotFound, name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) PID() int          { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }

func (p *execProcess) Terminate() error {
	return terminate(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// terminate sends SIGTERM. Windows has no such signal, so the process is
// killed there.
func terminate(proc *os.Process) error {
	var err error
	if runtime.GOOS == "windows" {
		err = proc.Kill()
	} else {
		err = proc.Signal(syscall.SIGTERM)
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
