//go:build !unix

package transport

import "os"

func openNonblock(path string, flag int) (*os.File, error) {
	return os.OpenFile(path, flag, 0)
}
