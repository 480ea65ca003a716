//go:build linux

package kio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NoFileLimit returns the process's current RLIMIT_NOFILE soft limit,
// the ceiling Budget checks against.
func NoFileLimit() (int, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("kio: getrlimit: %w", err)
	}
	return int(rl.Cur), nil
}
