package executor

import (
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// Window size used when the launcher itself is not attached to a terminal.
const (
	defaultRows = 24
	defaultCols = 80
)

// startPTY starts cmd as the session leader of a new pseudo-terminal and
// copies everything it writes to out. pty sets Setsid and Setctty, so the
// child is outside the launcher's session and its terminal signals.
func startPTY(cmd *exec.Cmd, out io.Writer) (Process, error) {
	master, err := pty.StartWithSize(cmd, terminalSize())
	if err != nil {
		return nil, err
	}

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		// Reading the master returns EIO once the slave side is gone.
		_, _ = io.Copy(out, master)
	}()

	p := newExecProcess(cmd)
	p.copied = copied
	p.closer = master
	return p.watch(), nil
}

// terminalSize returns the size of the launcher's terminal, or 24x80.
func terminalSize() *pty.Winsize {
	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		if cols, rows, err := term.GetSize(fd); err == nil && rows > 0 && cols > 0 {
			return &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
		}
	}
	return &pty.Winsize{Rows: defaultRows, Cols: defaultCols}
}
