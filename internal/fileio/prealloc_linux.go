//go:build linux

package fileio

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves disk space for a file about to receive size bytes of
// sequential writes. Best effort: filesystems without fallocate support
// simply skip the hint.
func preallocate(f *os.File, size int64) {
	_ = unix.Fallocate(int(f.Fd()), 0, 0, size)
}
