// Package flock provides an exclusive advisory lock on a file using flock(2).
//
// One process at a time may own a cache directory: serve holds the lock for
// its lifetime and offline commands take it for the length of their run.
package flock

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/c360/windowcache/errors"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock held by another process")

// FileLock provides exclusive file-based locking using flock.
type FileLock struct {
	path string
	file *os.File
}

// New creates a lock for path. The lock file is created on first use.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// TryLock acquires the lock without blocking. It returns an error wrapping
// ErrLocked when the lock is held elsewhere, including by another FileLock in
// the same process. Calling TryLock on a held lock is a no-op.
func (l *FileLock) TryLock() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.WrapFatal(err, "FileLock", "TryLock", "create lock directory")
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return errors.WrapFatal(err, "FileLock", "TryLock", "open lock file")
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return errors.WrapTransient(ErrLocked, "FileLock", "TryLock", "acquire "+l.path)
		}
		return errors.WrapFatal(err, "FileLock", "TryLock", "acquire "+l.path)
	}
	l.file = f
	return nil
}

// Unlock releases the lock and closes the file. Unlocking a lock that is not
// held is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		l.file = nil
		return errors.WrapTransient(err, "FileLock", "Unlock", "release lock")
	}

	err := l.file.Close()
	l.file = nil
	return err
}
