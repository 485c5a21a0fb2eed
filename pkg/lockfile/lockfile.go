// Package lockfile enforces the single-instance guarantee of a PullPilot
// run through a non-blocking exclusive file lock.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// Lock is a held run lock.
type Lock struct {
	flock *flock.Flock
}

// Acquire tries to take the exclusive run lock without blocking.
//
// Returns the held lock and true on success, nil and false when another run
// holds it, and an error only when the lock file itself is unusable.
func Acquire(path string) (*Lock, bool, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, fmt.Errorf("creating lock directory %q: %w", dir, err)
		}
	}

	fileLock := flock.New(path)

	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock %q: %w", path, err)
	}

	if !locked {
		return nil, false, nil
	}

	logrus.WithField("lock_file", path).Debug("Acquired run lock")

	return &Lock{flock: fileLock}, true, nil
}

// Release drops the lock. Safe on every exit path, including after a
// failed acquire.
func (l *Lock) Release() {
	if l == nil || l.flock == nil {
		return
	}

	if err := l.flock.Unlock(); err != nil {
		logrus.WithError(err).WithField("lock_file", l.flock.Path()).
			Warn("Failed to release run lock")
	}
}
