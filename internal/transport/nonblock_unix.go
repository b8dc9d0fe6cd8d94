//go:build unix

package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// openNonblock opens path without blocking on a fifo rendezvous. Pairing
// with a pump's pending open completes that open; closing immediately after
// hands the pump an EOF or EPIPE instead of an eternal wait.
func openNonblock(path string, flag int) (*os.File, error) {
	return os.OpenFile(path, flag|unix.O_NONBLOCK, 0)
}
