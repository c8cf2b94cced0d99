package server

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrStoreLocked is returned when another process already serves the store.
var ErrStoreLocked = errors.New("store is locked by another keyfs instance")

// LockPath returns the lock file guarding a store.
func LockPath(storePath string) string {
	return storePath + ".lock"
}

// LockStore takes the exclusive lock for storePath without blocking.
// The caller must Unlock the returned lock.
func LockStore(storePath string) (*flock.Flock, error) {
	lock := flock.New(LockPath(storePath))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrStoreLocked
	}
	return lock, nil
}
