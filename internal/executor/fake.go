package executor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// FakeCommand is a function that simulates a command execution.
// It receives the command, stdout and stderr and should return an exit code.
// The context is cancelled when the process is killed.
type FakeCommand func(ctx context.Context, cmd Command, stdout, stderr io.Writer) int

// FakeExecutor is a test implementation of Executor that runs registered fake commands.
type FakeExecutor struct {
	mu       sync.RWMutex
	commands map[string]FakeCommand
	started  []Command

	nextPID atomic.Int64
}

// NewFakeExecutor creates a new FakeExecutor.
// Synthetic PIDs start at 1000.
func NewFakeExecutor() *FakeExecutor {
	e := &FakeExecutor{
		commands: make(map[string]FakeCommand),
	}
	e.nextPID.Store(999)
	return e
}

// RegisterCommand registers a fake command implementation.
// The name should match Command.Path.
func (e *FakeExecutor) RegisterCommand(name string, handler FakeCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands[name] = handler
}

// Started returns the commands that were started, in order.
func (e *FakeExecutor) Started() []Command {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Command(nil), e.started...)
}

// fakeProcess implements Process for FakeExecutor.
type fakeProcess struct {
	pid      int
	cancel   context.CancelFunc
	done     chan struct{}
	exitCode int
	mu       sync.Mutex
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

func (p *fakeProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Kill() error {
	p.cancel()
	return nil
}

// Start implements Executor.Start for FakeExecutor.
func (e *FakeExecutor) Start(ctx context.Context, c Command) (Process, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	handler, ok := e.commands[c.Path]
	if ok {
		e.started = append(e.started, c)
	}
	e.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("exec: %q: executable file not found", c.Path)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcess{
		pid:    int(e.nextPID.Add(1)),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		exitCode := handler(runCtx, c, writerOr(c.Stdout, io.Discard), writerOr(c.Stderr, io.Discard))
		proc.mu.Lock()
		proc.exitCode = exitCode
		proc.mu.Unlock()
		close(proc.done)
	}()

	return proc, nil
}
