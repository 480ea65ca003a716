//go:build linux

package kio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// OpenFile opens path read-only for the engine's WatchedFile (spec.md
// §3) and returns its raw fd along with the length at open time.
func OpenFile(path string) (fd int, length int64, err error) {
	fd, err = unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("kio: open: %w", err)
	}
	length, err = StatLength(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, err
	}
	return fd, length, nil
}

// StatLength returns the current end-of-file offset of fd.
func StatLength(fd int) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("kio: fstat: %w", err)
	}
	return st.Size, nil
}

// ReadDiscardOrKeep reads up to len(buf) bytes from fd without blocking.
// Used only during header bootstrap (spec.md §4.3); the engine never
// reads from a client socket again afterward.
func ReadDiscardOrKeep(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("kio: read: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("kio: read: %w", unix.ECONNRESET)
	}
	return n, nil
}
