//go:build !unix

package streams

import "errors"

func dupTo(oldfd, newfd int) error {
	return errors.New("descriptor repoint is not supported on this platform")
}
