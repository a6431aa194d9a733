// Package launch starts an ordered set of programs in the background and
// waits for all of them to exit.
//
// A Launcher starts each spec in order, then waits for all of them:
//
//	l := launch.New(launch.Config{WorkDir: dir, Specs: specs, Logger: logger})
//	if err := l.LaunchAll(ctx); err != nil { ... }
//	l.AwaitAll()
//
// Exit codes of children are not inspected; a child that crashes is simply
// one that has terminated.
package launch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/mbrock/launchall/internal/executor"
)

// Spec is a static description of a program to start.
type Spec struct {
	// Label identifies the program in log lines.
	Label string
	// Path is the executable. Without a slash it is resolved through PATH.
	Path string
	Args []string
	// Dir is the working directory. Relative paths are resolved against
	// the launcher's WorkDir; empty means WorkDir itself.
	Dir string
	// TTY runs the program on a pseudo-terminal.
	TTY bool
}

// Handle is the runtime record of a spawned program.
type Handle struct {
	PID  int
	Spec Spec

	proc executor.Process
}

// Running reports whether the process has not yet terminated.
// A Handle only refers to a live process while Running is true.
func (h Handle) Running() bool {
	return h.proc != nil && h.proc.Running()
}

// Config holds everything a Launcher needs. Nothing is read from the
// environment.
type Config struct {
	// WorkDir is the default working directory for all specs.
	WorkDir string
	// Specs are launched in order.
	Specs []Spec
	// Executor spawns processes; defaults to executor.Default().
	Executor executor.Executor
	// Logger receives the status lines; defaults to slog.Default().
	Logger *slog.Logger
}

// Launcher starts the configured programs and waits for them.
type Launcher struct {
	workDir string
	specs   []Spec
	exec    executor.Executor
	log     *slog.Logger

	mu      sync.Mutex
	handles []Handle
}

// New creates a Launcher from cfg. The specs are copied.
func New(cfg Config) *Launcher {
	l := &Launcher{
		workDir: cfg.WorkDir,
		specs:   append([]Spec(nil), cfg.Specs...),
		exec:    cfg.Executor,
		log:     cfg.Logger,
	}
	if l.exec == nil {
		l.exec = executor.Default()
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	return l
}

// LaunchAll starts every spec in order without waiting for any of them.
//
// For each spec it logs "starting" with the label, spawns the process and
// logs "started" with the PID. After the last spec it logs "launched" with
// all PIDs. A spawn failure stops the sequence and is returned; processes
// started before it remain tracked and are still waited for by AwaitAll.
func (l *Launcher) LaunchAll(ctx context.Context) error {
	for _, spec := range l.specs {
		l.log.Info("starting", "label", spec.Label, "path", spec.Path)

		proc, err := l.exec.Start(ctx, l.command(spec))
		if err != nil {
			l.log.Error("start failed", "label", spec.Label, "error", err)
			return fmt.Errorf("starting %s: %w", spec.Label, err)
		}

		h := Handle{PID: proc.PID(), Spec: spec, proc: proc}
		l.mu.Lock()
		l.handles = append(l.handles, h)
		l.mu.Unlock()

		l.log.Info("started", "label", spec.Label, "pid", h.PID)
	}

	l.log.Info("launched", "pids", l.pids())
	return nil
}

// AwaitAll blocks until every launched process has terminated.
// Exit statuses are discarded. There is no timeout.
func (l *Launcher) AwaitAll() {
	var wg sync.WaitGroup
	for _, h := range l.Handles() {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.proc.Wait()
			l.log.Debug("exited", "label", h.Spec.Label, "pid", h.PID)
		}()
	}
	wg.Wait()
}

// Handles returns the launched processes in launch order.
func (l *Launcher) Handles() []Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Handle(nil), l.handles...)
}

func (l *Launcher) command(spec Spec) executor.Command {
	return executor.Command{
		Label: spec.Label,
		Path:  spec.Path,
		Args:  spec.Args,
		Dir:   l.resolveDir(spec.Dir),
		TTY:   spec.TTY,
	}
}

// resolveDir applies the WorkDir rules to a spec's directory.
func (l *Launcher) resolveDir(dir string) string {
	switch {
	case dir == "":
		return l.workDir
	case filepath.IsAbs(dir) || l.workDir == "":
		return dir
	default:
		return filepath.Join(l.workDir, dir)
	}
}

func (l *Launcher) pids() []int {
	hs := l.Handles()
	pids := make([]int, len(hs))
	for i, h := range hs {
		pids[i] = h.PID
	}
	return pids
}
