//go:build !windows

// pkg/txn/lock_unix.go
package txn

import (
	"os"

	"golang.org/x/sys/unix"
)

// acquireWriteLock flocks f, the ".lock" side-file opened fresh for one
// ReadWrite transaction (spec §4.7 "at most one open write transaction").
// Unlike a database-lifetime lock taken once at open, this is taken and
// released on the same *os.File handle that lives inside that one
// Transaction, so the lock's scope tracks BeginTransaction/Commit/Abort
// rather than Open/Close.
func acquireWriteLock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrDatabaseLocked
		}
		return err
	}
	return nil
}

// releaseWriteLock drops the lock acquireWriteLock took; txn.go calls this
// right before closing and discarding the same transaction's lock file.
func releaseWriteLock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
