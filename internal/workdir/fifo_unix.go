//go:build unix

package workdir

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MakeFIFO creates a named pipe at path.
func MakeFIFO(path string) error {
	if err := unix.Mkfifo(path, 0o644); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// MakeControlFIFO creates the worker's control channel.
func (d *Dir) MakeControlFIFO() error {
	return MakeFIFO(d.Control())
}
