package persist

import (
	"errors"
	"os"
)

// ErrLocked is returned by LockFile when another process holds the lock.
var ErrLocked = errors.New("persist: document is locked by another process")

// FileLock is an exclusive advisory lock on a document, held through a
// sibling ".lock" file.
type FileLock struct {
	f *os.File
}

// LockFile takes the lock for the document at path without blocking.
func LockFile(path string) (*FileLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lock(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &FileLock{f: f}, nil
}

// Release drops the lock and removes the lock file.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	name := l.f.Name()
	err := errors.Join(unlock(l.f), l.f.Close(), ignoreNotExist(os.Remove(name)))
	l.f = nil
	return err
}
