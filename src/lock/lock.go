// Package lock serializes backups of the same volume.
package lock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// FileName is the lock file kept inside the snapshot container.
const FileName = ".btrfs-backup.lock"

// ErrLocked means another invocation holds the lock.
var ErrLocked = errors.New("another backup of this volume is running")

// Lock is a held advisory lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path without waiting.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", path, ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. The lock file itself is left in place.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
