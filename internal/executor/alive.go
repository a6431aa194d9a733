package executor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with the given PID exists.
// A process owned by another user still counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
