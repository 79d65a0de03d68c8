// Package pidfile guards a data directory against being opened by two node
// processes at once, adapted from the teacher's pidfile.go. The
// repository's own concurrency model (spec §5) assumes a single writer per
// SQLite file; an flock'd PID file enforces that at the process level
// before filerepo/cachestore ever opens the database.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755
)

// Acquire writes the current process ID to path under an exclusive,
// non-blocking flock and returns a cleanup func that releases the lock and
// removes the file. A non-nil error means another process already holds
// the data directory.
func Acquire(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("pidfile: path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("pidfile: creating directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("pidfile: opening %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("pidfile: another process already holds %s", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("pidfile: truncating %s: %w", path, err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("pidfile: writing %s: %w", path, err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}
