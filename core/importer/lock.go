// +build !windows

package importer

import (
	"os"

	"golang.org/x/sys/unix"
)

// IsLocked reports whether the source file is currently held by its producer,
// either through a sibling "<file>.lock" marker or through an advisory lock on
// the file itself. The shared, non-blocking probe never stalls a cooperating
// writer.
func IsLocked(path string) bool {
	if _, err := os.Stat(path + ".lock"); err == nil {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		// unreadable is reported by the health check, not here
		return false
	}
	defer func() { _ = f.Close() }()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return true
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}
