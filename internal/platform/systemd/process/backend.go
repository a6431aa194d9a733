package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mbrock/launchall/internal/executor"
)

const defaultPollInterval = 500 * time.Millisecond

// Executor starts each command as a transient user service.
type Executor struct {
	conn         Conn
	run          string
	pollInterval time.Duration
}

var _ executor.Executor = (*Executor)(nil)

// NewExecutor wraps a systemd connection. run tags every unit name so that
// concurrent launches do not collide.
func NewExecutor(conn Conn, run string) *Executor {
	return &Executor{conn: conn, run: run, pollInterval: defaultPollInterval}
}

// Close releases the D-Bus connection.
func (e *Executor) Close() error {
	e.conn.Close()
	return nil
}

// Start implements executor.Executor.
func (e *Executor) Start(ctx context.Context, c executor.Command) (executor.Process, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("empty command")
	}
	if c.TTY {
		return nil, fmt.Errorf("tty mode is not supported by the systemd executor")
	}

	// systemd resolves ExecStart with its own search path, not ours.
	path, err := resolvePath(c.Path, c.Dir)
	if err != nil {
		return nil, err
	}

	spec := TransientSpec{
		Unit:        ProgramUnit(c.Label, e.run),
		Description: c.Label,
		Command:     append([]string{path}, c.Args...),
		WorkingDir:  c.Dir,
	}
	if spec.Description == "" {
		spec.Description = strings.Join(spec.Command, " ")
	}

	result, err := startTransient(ctx, e.conn, spec)
	if err != nil {
		return nil, err
	}

	st, err := getUnitStatus(ctx, e.conn, spec.Unit)
	if err != nil {
		return nil, err
	}
	// After a "done" job the status belongs to the program, even in 200..243.
	if result == jobFailed && st.State == UnitStateFailed && spawnFailure(st.ExitStatus) {
		_ = e.conn.ResetFailedUnitContext(context.Background(), spec.Unit.String())
		return nil, fmt.Errorf("%s: could not be executed (status %d)", spec.Unit, st.ExitStatus)
	}

	p := &unitProcess{
		exec: e,
		unit: spec.Unit,
		pid:  int(st.MainPID),
		done: make(chan struct{}),
	}
	go p.watch()
	return p, nil
}

// resolvePath turns path into an absolute path the way a shell would,
// relative paths with a slash being resolved against dir.
func resolvePath(path, dir string) (string, error) {
	if !strings.Contains(path, "/") {
		return exec.LookPath(path)
	}
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := exec.LookPath(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// unitProcess is a program running as a transient unit.
type unitProcess struct {
	exec *Executor
	unit UnitName
	pid  int

	mu       sync.Mutex
	done     chan struct{}
	exitCode int
	err      error
}

func (p *unitProcess) PID() int { return p.pid }

func (p *unitProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.err
}

func (p *unitProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return executor.Alive(p.pid)
	}
}

func (p *unitProcess) Kill() error {
	p.exec.conn.KillUnitContext(context.Background(), p.unit.String(), int32(syscall.SIGKILL))
	return nil
}

// watch polls the unit until it is inactive or failed. A failed unit is
// reset so its name can be reused.
func (p *unitProcess) watch() {
	defer close(p.done)
	ctx := context.Background()

	ticker := time.NewTicker(p.exec.pollInterval)
	defer ticker.Stop()

	for {
		st, err := getUnitStatus(ctx, p.exec.conn, p.unit)
		if err != nil {
			p.finish(1, err)
			return
		}
		if st.State.Terminal() {
			if st.State == UnitStateFailed {
				_ = p.exec.conn.ResetFailedUnitContext(ctx, p.unit.String())
			}
			p.finish(int(st.ExitStatus), nil)
			return
		}
		<-ticker.C
	}
}

func (p *unitProcess) finish(code int, err error) {
	p.mu.Lock()
	p.exitCode = code
	p.err = err
	p.mu.Unlock()
}
