package env

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ls4154/blockwal/wal"
)

// MemEnv keeps files in memory. Files survive Close, so a log can be
// reopened from the same MemEnv to exercise recovery.
type MemEnv struct {
	mu     sync.Mutex
	files  map[string]*memFile
	locked map[string]struct{}
}

func NewMemEnv() *MemEnv {
	return &MemEnv{
		files:  make(map[string]*memFile),
		locked: make(map[string]struct{}),
	}
}

type memFile struct {
	mu   sync.RWMutex
	data []byte
}

type memHandle struct {
	f      *memFile
	closed bool
}

type memLock struct {
	name string
}

func (e *MemEnv) NewLogFile(name string) (wal.LogFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.files[name]
	if !ok {
		f = &memFile{}
		e.files[name] = f
	}
	return &memHandle{f: f}, nil
}

func (e *MemEnv) RemoveFile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.files[name]; !ok {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(e.files, name)
	return nil
}

func (e *MemEnv) FileExists(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.files[name]
	return ok
}

func (e *MemEnv) GetFileSize(name string) (uint64, error) {
	e.mu.Lock()
	f, ok := e.files[name]
	e.mu.Unlock()
	if !ok {
		return 0, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint64(len(f.data)), nil
}

func (e *MemEnv) LockFile(name string) (wal.FileLock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, held := e.locked[name]; held {
		return nil, fmt.Errorf("%w: %s", wal.ErrLocked, name)
	}
	e.locked[name] = struct{}{}
	return &memLock{name: name}, nil
}

func (e *MemEnv) UnlockFile(lock wal.FileLock) error {
	l, ok := lock.(*memLock)
	if !ok {
		return fmt.Errorf("%w: foreign lock %T", wal.ErrInvalidArgument, lock)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locked, l.name)
	return nil
}

// Contents returns a copy of the file's bytes.
func (e *MemEnv) Contents(name string) []byte {
	e.mu.Lock()
	f, ok := e.files[name]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	c := make([]byte, len(f.data))
	copy(c, f.data)
	return c
}

// SetContents replaces the file's bytes, creating it if needed.
func (e *MemEnv) SetContents(name string, data []byte) {
	e.mu.Lock()
	f, ok := e.files[name]
	if !ok {
		f = &memFile{}
		e.files[name] = f
	}
	e.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data[:0:0], data...)
}

func (h *memHandle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, os.ErrClosed
	}
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	h.f.data = append(h.f.data, p...)
	return len(p), nil
}

func (h *memHandle) ReadAt(p []byte, off int64) (int, error) {
	if h.closed {
		return 0, os.ErrClosed
	}
	h.f.mu.RLock()
	defer h.f.mu.RUnlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(h.f.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *memHandle) Size() (int64, error) {
	h.f.mu.RLock()
	defer h.f.mu.RUnlock()
	return int64(len(h.f.data)), nil
}

func (h *memHandle) Truncate(size int64) error {
	if h.closed {
		return os.ErrClosed
	}
	h.f.mu.Lock()
	defer h.f.mu.Unlock()

	if size < 0 {
		return fmt.Errorf("negative size %d", size)
	}
	if size <= int64(len(h.f.data)) {
		h.f.data = h.f.data[:size]
	} else {
		h.f.data = append(h.f.data, make([]byte, size-int64(len(h.f.data)))...)
	}
	return nil
}

func (h *memHandle) Sync() error {
	if h.closed {
		return os.ErrClosed
	}
	return nil
}

func (h *memHandle) Close() error {
	h.closed = true
	return nil
}
