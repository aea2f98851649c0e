package posix

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ignoringEINTR repeats the call while it is interrupted by a signal. Every
// blocking primitive in this package goes through it.
func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// ignoringEINTRn is ignoringEINTR for calls that also return a count.
func ignoringEINTRn(fn func() (int, error)) (int, error) {
	for {
		n, err := fn()
		if !errors.Is(err, unix.EINTR) {
			return n, err
		}
	}
}

func open(path string, mode int, perm uint32) (int, error) {
	return ignoringEINTRn(func() (int, error) {
		return unix.Open(path, mode, perm)
	})
}
