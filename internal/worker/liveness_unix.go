//go:build unix

package worker

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProcessAlive reports whether pid names a live process. Signal 0 checks
// existence without delivering anything; EPERM means the process exists
// but belongs to another user.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
