//go:build linux || darwin

package util

import (
	"os"
	"syscall"
)

// setLock applies a non-blocking fcntl record lock of type typ covering the
// whole log file. Len 0 extends the lock past the current end, so appends
// stay covered.
func setLock(f *os.File, typ int16) error {
	lk := syscall.Flock_t{
		Type:   typ,
		Whence: 0, // SEEK_SET
	}
	return syscall.FcntlFlock(f.Fd(), syscall.F_SETLK, &lk)
}

func lockFile(f *os.File) error {
	return setLock(f, syscall.F_WRLCK)
}

func unlockFile(f *os.File) error {
	return setLock(f, syscall.F_UNLCK)
}
