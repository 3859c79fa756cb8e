// Package lockfile provides a single-instance file lock for the
// scheduler daemon, so two `backitup run` processes never contend for
// the same catalog file.
package lockfile

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// Lock wraps a file lock held for the lifetime of one process.
type Lock struct {
	flock *flock.Flock
	path  string
}

// TryAcquire attempts a non-blocking exclusive lock at path, creating
// parent directories as needed. It returns ok=false (no error) when
// another process already holds the lock.
func TryAcquire(path string) (lock *Lock, ok bool, err error) {
	if err := os.MkdirAll(parentDir(path), 0750); err != nil {
		return nil, false, fmt.Errorf("lockfile: creating parent dir: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lockfile: acquiring %s: %w", path, err)
	}
	if !locked {
		return nil, false, nil
	}
	return &Lock{flock: fl, path: path}, true, nil
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("lockfile: releasing %s: %w", l.path, err)
	}
	_ = os.Remove(l.path)
	return nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
