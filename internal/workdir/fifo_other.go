//go:build !unix

package workdir

import "errors"

// MakeFIFO is unsupported off unix; the pool falls back to direct execution.
func MakeFIFO(path string) error {
	return errors.New("named pipes are not supported on this platform")
}

func (d *Dir) MakeControlFIFO() error {
	return MakeFIFO(d.Control())
}
