package executor

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func waitWithTimeout(t *testing.T, p Process) int {
	t.Helper()
	type result struct {
		code int
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		code, err := p.Wait()
		ch <- result{code, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Wait: %v", r.err)
		}
		return r.code
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process")
		return -1
	}
}

func TestExecExecutor_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		bin  string
		want int
	}{
		{"true", "true", 0},
		{"false", "false", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := requireBinary(t, tt.bin)
			p, err := Default().Start(context.Background(), Command{Path: path})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if p.PID() <= 0 {
				t.Fatalf("expected positive pid, got %d", p.PID())
			}
			if got := waitWithTimeout(t, p); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
			if p.Running() {
				t.Error("expected Running() = false after Wait")
			}
		})
	}
}

func TestExecExecutor_MissingExecutable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-program")
	if _, err := Default().Start(context.Background(), Command{Path: missing}); err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestExecExecutor_MissingWorkingDir(t *testing.T) {
	path := requireBinary(t, "true")
	dir := filepath.Join(t.TempDir(), "gone")
	if _, err := Default().Start(context.Background(), Command{Path: path, Dir: dir}); err == nil {
		t.Fatal("expected error for missing working directory")
	}
}

func TestExecExecutor_EmptyCommand(t *testing.T) {
	if _, err := Default().Start(context.Background(), Command{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecExecutor_WorkingDirAndOutput(t *testing.T) {
	sh := requireBinary(t, "sh")
	dir := t.TempDir()
	var out bytes.Buffer

	p, err := Default().Start(context.Background(), Command{
		Path:   sh,
		Args:   []string{"-c", "pwd"},
		Dir:    dir,
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitWithTimeout(t, p)

	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	got, err := filepath.EvalSymlinks(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("EvalSymlinks(%q): %v", out.String(), err)
	}
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestExecExecutor_PTY(t *testing.T) {
	sh := requireBinary(t, "sh")
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skipf("no pty support: %v", err)
	}
	var out bytes.Buffer

	p, err := Default().Start(context.Background(), Command{
		Path:   sh,
		Args:   []string{"-c", "test -t 1 && echo on-a-tty"},
		TTY:    true,
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if code := waitWithTimeout(t, p); code != 0 {
		t.Fatalf("exit code = %d, want 0 (output %q)", code, out.String())
	}
	if !strings.Contains(out.String(), "on-a-tty") {
		t.Errorf("expected pty output, got %q", out.String())
	}
}

func TestExecExecutor_Session(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skipf("no pty support: %v", err)
	}
	own, err := unix.Getsid(0)
	if err != nil {
		t.Fatalf("Getsid: %v", err)
	}

	tests := []struct {
		name       string
		tty        bool
		ownSession bool
	}{
		{"inherited stdio shares the session", false, false},
		{"tty child leads its own session", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Default().Start(context.Background(), Command{
				Path:   sleep,
				Args:   []string{"5"},
				TTY:    tt.tty,
				Stdout: io.Discard,
				Stderr: io.Discard,
			})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer waitWithTimeout(t, p)
			defer p.Kill()

			sid, err := unix.Getsid(p.PID())
			if err != nil {
				t.Fatalf("Getsid(%d): %v", p.PID(), err)
			}
			if tt.ownSession {
				if sid != p.PID() {
					t.Errorf("session = %d, want %d (own)", sid, p.PID())
				}
			} else if sid != own {
				t.Errorf("session = %d, want %d (launcher's)", sid, own)
			}
		})
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("expected own process to be alive")
	}
	if Alive(0) || Alive(-1) {
		t.Error("expected non-positive pids to be reported dead")
	}
}

func TestFakeExecutor_RunsRegisteredCommand(t *testing.T) {
	e := NewFakeExecutor()
	release := make(chan struct{})
	e.RegisterCommand("worker", func(ctx context.Context, cmd Command, stdout, stderr io.Writer) int {
		<-release
		return 3
	})

	p1, err := e.Start(context.Background(), Command{Path: "worker", Args: []string{"a"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	p2, err := e.Start(context.Background(), Command{Path: "worker", Args: []string{"b"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p1.PID() == p2.PID() {
		t.Fatalf("expected distinct pids, both %d", p1.PID())
	}
	if !p1.Running() || !p2.Running() {
		t.Fatal("expected both processes running before release")
	}

	close(release)
	if code := waitWithTimeout(t, p1); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	waitWithTimeout(t, p2)

	started := e.Started()
	if len(started) != 2 || started[0].Args[0] != "a" || started[1].Args[0] != "b" {
		t.Errorf("unexpected started commands: %+v", started)
	}
}

func TestFakeExecutor_Kill(t *testing.T) {
	e := NewFakeExecutor()
	e.RegisterCommand("sleeper", func(ctx context.Context, cmd Command, stdout, stderr io.Writer) int {
		<-ctx.Done()
		return 137
	})

	p, err := e.Start(context.Background(), Command{Path: "sleeper"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if code := waitWithTimeout(t, p); code != 137 {
		t.Errorf("exit code = %d, want 137", code)
	}
}

func TestFakeExecutor_UnknownCommand(t *testing.T) {
	e := NewFakeExecutor()
	if _, err := e.Start(context.Background(), Command{Path: "nope"}); err == nil {
		t.Fatal("expected error for unregistered command")
	}
	if len(e.Started()) != 0 {
		t.Error("failed start should not be recorded")
	}
}
