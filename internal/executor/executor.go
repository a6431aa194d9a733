// Package executor provides an abstraction for spawning child processes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Command describes a single process to spawn.
type Command struct {
	// Label is a human-readable name; executors may use it to name the process.
	Label string
	Path  string
	Args  []string
	// Dir is the working directory. Empty inherits the caller's.
	Dir string
	// TTY runs the process on a pseudo-terminal instead of inherited stdio.
	TTY bool

	// Stdout and Stderr default to the launcher's own stdout/stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Process represents a spawned process.
type Process interface {
	// PID returns the operating system process identifier.
	PID() int
	// Wait blocks until the process exits and returns the exit code.
	// A non-zero exit is not an error.
	Wait() (exitCode int, err error)
	// Running reports whether the process has not yet terminated.
	Running() bool
	// Kill sends SIGKILL to the process.
	Kill() error
}

// Executor starts processes.
type Executor interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// ExecExecutor is the default Executor that uses os/exec.
//
// Children share the launcher's session and process group and receive no
// signal forwarding; the OS defaults apply, so Ctrl-C in the launcher's
// terminal reaches them. TTY children are the exception: they lead their
// own session on a pseudo-terminal and do not receive the terminal's
// Ctrl-C.
type ExecExecutor struct{}

// execProcess wraps exec.Cmd to implement Process.
type execProcess struct {
	cmd *exec.Cmd

	// copied is closed once PTY output has been drained (nil without a PTY).
	copied <-chan struct{}
	closer io.Closer

	done     chan struct{}
	exitCode int
	exitErr  error
}

func newExecProcess(cmd *exec.Cmd) *execProcess {
	return &execProcess{cmd: cmd, done: make(chan struct{})}
}

// watch starts reaping the process in the background.
func (p *execProcess) watch() *execProcess {
	go p.reap()
	return p
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.exitErr
}

func (p *execProcess) reap() {
	defer close(p.done)

	err := p.cmd.Wait()
	if p.copied != nil {
		<-p.copied
	}
	if p.closer != nil {
		p.closer.Close()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.exitCode = exitErr.ExitCode()
			return
		}
		p.exitCode = 1
		p.exitErr = err
	}
}

func (p *execProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Start implements Executor.Start using os/exec.
//
// The context only bounds the spawn itself; a running child is not killed
// when ctx is cancelled.
func (e *ExecExecutor) Start(ctx context.Context, c Command) (Process, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir

	if c.TTY {
		return startPTY(cmd, writerOr(c.Stdout, os.Stdout))
	}

	// Stdin stays nil (/dev/null), like a background job in a script.
	cmd.Stdout = writerOr(c.Stdout, os.Stdout)
	cmd.Stderr = writerOr(c.Stderr, os.Stderr)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return newExecProcess(cmd).watch(), nil
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

// Default returns the default ExecExecutor.
func Default() Executor {
	return &ExecExecutor{}
}
