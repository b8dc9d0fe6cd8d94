//go:build unix

package pool

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProbeAlive reports whether the process with the given pid still exists.
// Signal 0 performs the existence check without delivering anything; EPERM
// still means the process is there.
func ProbeAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
