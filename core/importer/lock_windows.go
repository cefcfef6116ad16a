// +build windows

package importer

import "os"

// IsLocked reports whether the source file is currently held by its producer.
// Without flock semantics only the "<file>.lock" marker and a write-open probe
// are available.
func IsLocked(path string) bool {
	if _, err := os.Stat(path + ".lock"); err == nil {
		return true
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return os.IsPermission(err)
	}
	_ = f.Close()
	return false
}
