package wal

import "io"

type Env interface {
	NewLogFile(name string) (LogFile, error)
	RemoveFile(name string) error
	FileExists(name string) bool
	GetFileSize(name string) (uint64, error)

	LockFile(name string) (FileLock, error)
	UnlockFile(lock FileLock) error
}

// LogFile is the byte stream underneath a log. Writes always append;
// reads are positioned and may run concurrently with each other.
type LogFile interface {
	io.Writer
	io.ReaderAt
	io.Closer
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
}

type FileLock interface{}
