package impl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/ls4154/blockwal/log"
	"github.com/ls4154/blockwal/wal"
)

type logImpl struct {
	name    string
	options wal.Options
	env     wal.Env
	file    wal.LogFile
	lock    wal.FileLock
	writer  *log.Writer
	logger  wal.Logger

	// end is the write cursor, published for concurrent readers.
	end      atomic.Int64
	closed   atomic.Bool
	recovery wal.RecoveryInfo

	untrustedTail bool
	// err is sticky after a failed write; the tail must be recovered by
	// reopening.
	err error
}

// Open opens or creates the log at name and recovers its write cursor.
func Open(options *wal.Options, name string) (wal.Log, error) {
	opt, err := validateOption(options)
	if err != nil {
		return nil, err
	}

	l := &logImpl{
		name:    name,
		options: *opt,
		env:     opt.Env,
		logger:  opt.Logger,
	}

	l.lock, err = l.env.LockFile(name)
	if err != nil {
		return nil, err
	}

	l.file, err = l.env.NewLogFile(name)
	if err != nil {
		l.env.UnlockFile(l.lock)
		return nil, fmt.Errorf("%w: open %s: %w", wal.ErrIO, name, err)
	}

	if err := l.recover(); err != nil {
		l.file.Close()
		l.env.UnlockFile(l.lock)
		return nil, err
	}

	return l, nil
}

// Remove deletes the log file at name. It fails with wal.ErrLocked while
// the log is open.
func Remove(options *wal.Options, name string) error {
	opt, err := validateOption(options)
	if err != nil {
		return err
	}
	e := opt.Env

	if !e.FileExists(name) {
		return fmt.Errorf("%w: remove %s: %w", wal.ErrIO, name, os.ErrNotExist)
	}
	size, err := e.GetFileSize(name)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", wal.ErrIO, name, err)
	}

	lock, err := e.LockFile(name)
	if err != nil {
		return err
	}
	defer e.UnlockFile(lock)

	if err := e.RemoveFile(name); err != nil {
		return fmt.Errorf("%w: remove %s: %w", wal.ErrIO, name, err)
	}
	opt.Logger.Printf("%s: removed %d bytes", name, size)
	return nil
}

func (l *logImpl) Append(payload []byte) (wal.Position, error) {
	if l.closed.Load() {
		return wal.Position{}, wal.ErrClosed
	}
	if l.err != nil {
		return wal.Position{}, l.err
	}
	if l.untrustedTail {
		return wal.Position{}, fmt.Errorf("%w: %d bytes past %s", wal.ErrUntrustedTail, l.recovery.DiscardedBytes, l.recovery.ValidEnd)
	}

	data := encodeRecord(l.options.Compression, payload)
	pos, err := l.writer.AddRecord(data)
	if err != nil {
		if errors.Is(err, wal.ErrIO) {
			l.err = err
			l.logger.Printf("append to %s failed, log is read-only until reopened: %v", l.name, err)
		}
		return wal.Position{}, err
	}
	l.end.Store(l.writer.Offset())

	if l.options.Sync {
		if err := l.Flush(); err != nil {
			return wal.Position{}, err
		}
	}
	return pos, nil
}

func (l *logImpl) ReadAt(pos wal.Position) ([]byte, error) {
	if l.closed.Load() {
		return nil, wal.ErrClosed
	}
	if err := checkPosition(pos); err != nil {
		return nil, err
	}

	// Bytes past end are either not yet published or an untrusted tail.
	end := l.end.Load()
	if pos.Offset() >= end {
		return nil, fmt.Errorf("%w: %s is past the valid end %s", wal.ErrIncompleteRecord, pos, wal.PositionFromOffset(end))
	}

	data, err := log.NewBlockReader(io.NewSectionReader(l.file, 0, end)).ReadRecord(pos)
	if err != nil {
		return nil, err
	}
	return decodeRecord(l.options.Compression, data)
}

func (l *logImpl) Scan(from wal.Position, fn func(pos wal.Position, payload []byte) error) error {
	if l.closed.Load() {
		return wal.ErrClosed
	}
	if err := checkPosition(from); err != nil {
		return err
	}

	end := l.end.Load()
	start := from.Offset()
	if start > end {
		return fmt.Errorf("%w: %s is past the valid end %s", wal.ErrIncompleteRecord, from, wal.PositionFromOffset(end))
	}

	reader := log.NewReader(io.NewSectionReader(l.file, start, end-start), start)
	for {
		pos, data, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		payload, err := decodeRecord(l.options.Compression, data)
		if err != nil {
			return err
		}
		if err := fn(pos, payload); err != nil {
			return err
		}
	}
}

func (l *logImpl) Flush() error {
	if l.closed.Load() {
		return wal.ErrClosed
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", wal.ErrIO, l.name, err)
	}
	return nil
}

func (l *logImpl) Truncate() error {
	if l.closed.Load() {
		return wal.ErrClosed
	}
	if !l.untrustedTail {
		return nil
	}
	if err := l.truncateTail(); err != nil {
		return err
	}
	l.untrustedTail = false
	return nil
}

func (l *logImpl) Size() int64 {
	return l.end.Load()
}

func (l *logImpl) Recovery() wal.RecoveryInfo {
	return l.recovery
}

func (l *logImpl) Close() error {
	if l.closed.Swap(true) {
		return wal.ErrClosed
	}

	err := l.file.Close()
	if err != nil {
		err = fmt.Errorf("%w: close %s: %w", wal.ErrIO, l.name, err)
	}
	if uerr := l.env.UnlockFile(l.lock); uerr != nil && err == nil {
		err = uerr
	}
	return err
}
