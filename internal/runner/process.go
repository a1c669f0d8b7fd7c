package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes after the process is
// killed.
const waitDelay = 5 * time.Second

// Process is a started runner process.
type Process interface {
	// Stdout streams the runner's protocol output. It must be drained before
	// Wait is called.
	Stdout() io.Reader
	// Wait blocks until exit. A non-zero exit is reported through the code,
	// not the error.
	Wait() (exitCode int, err error)
}

// Launcher starts runner processes.
type Launcher interface {
	Start(ctx context.Context, argv []string, dir string) (Process, error)
}

// ExecLauncher starts real subprocesses. Stderr receives the runner's
// standard error and may be nil.
type ExecLauncher struct {
	Stderr io.Writer
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	// stop unregisters the context watch that closes stdout.
	stop func() bool
}

// Start launches argv in dir in its own process group. When ctx is done the
// whole group is killed and stdout is closed, so a reader never outlives the
// context even if a descendant escaped the group while holding the pipe.
func (l *ExecLauncher) Start(ctx context.Context, argv []string, dir string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stderr = l.Stderr
	cmd.WaitDelay = waitDelay
	isolateProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout of %s: %w", argv[0], err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = stdout.Close()
	})
	return &execProcess{cmd: cmd, stdout: stdout, stop: stop}, nil
}

func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *execProcess) Wait() (int, error) {
	p.stop()
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
