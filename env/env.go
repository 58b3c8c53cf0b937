package env

import (
	"fmt"
	"os"

	"github.com/ls4154/blockwal/util"
	"github.com/ls4154/blockwal/wal"
)

type GenericEnv struct{}

var globalEnv *GenericEnv

func init() {
	globalEnv = &GenericEnv{}
}

func DefaultEnv() *GenericEnv {
	return globalEnv
}

type osLogFile struct {
	*os.File
}

func (f osLogFile) Size() (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// NewLogFile opens name for appending and positioned reads, creating it if
// needed.
func (e *GenericEnv) NewLogFile(name string) (wal.LogFile, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return osLogFile{f}, nil
}

func (e *GenericEnv) RemoveFile(name string) error {
	return os.Remove(name)
}

func (e *GenericEnv) FileExists(name string) bool {
	_, err := os.Stat(name)
	if err != nil {
		return false
	}
	return true
}

func (e *GenericEnv) GetFileSize(name string) (uint64, error) {
	stat, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	return uint64(stat.Size()), nil
}

func (e *GenericEnv) LockFile(name string) (wal.FileLock, error) {
	l, ok, err := util.LockFile(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", wal.ErrLocked, name)
	}
	return l, nil
}

func (e *GenericEnv) UnlockFile(lock wal.FileLock) error {
	l, ok := lock.(*util.FileLock)
	if !ok {
		return fmt.Errorf("%w: foreign lock %T", wal.ErrInvalidArgument, lock)
	}
	return util.UnlockFile(l)
}
