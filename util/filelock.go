package util

import (
	"os"
	"sync"
)

// FileLock is an exclusive lock on a file. fcntl locks are per process, so
// locks taken by this process are also tracked in lockedFiles.
type FileLock struct {
	f    *os.File
	name string
}

var (
	lockedMu    sync.Mutex
	lockedFiles = map[string]struct{}{}
)

// LockFile takes an exclusive lock on name. It returns ok=false when the
// file is already locked by this or another process.
func LockFile(name string) (*FileLock, bool, error) {
	lockedMu.Lock()
	defer lockedMu.Unlock()

	if _, held := lockedFiles[name]; held {
		return nil, false, nil
	}

	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, false, nil
	}

	lockedFiles[name] = struct{}{}
	return &FileLock{f: f, name: name}, true, nil
}

func UnlockFile(l *FileLock) error {
	lockedMu.Lock()
	defer lockedMu.Unlock()

	delete(lockedFiles, l.name)
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
