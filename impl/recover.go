package impl

import (
	"errors"
	"fmt"
	"io"

	"github.com/ls4154/blockwal/log"
	"github.com/ls4154/blockwal/wal"
)

// recover scans from RecoverFrom to the first record that cannot be read
// and places the write cursor after the last good one.
func (l *logImpl) recover() error {
	size, err := l.file.Size()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", wal.ErrIO, l.name, err)
	}

	start := l.options.RecoverFrom.Offset()
	if start > size {
		return fmt.Errorf("%w: recover position %s is past file size %d", wal.ErrInvalidPosition, l.options.RecoverFrom, size)
	}

	reader := log.NewReader(io.NewSectionReader(l.file, start, size-start), start)
	records := 0
	var reason error
	for {
		_, _, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, wal.ErrIO) {
			return err
		}
		if err != nil {
			reason = err
			break
		}
		records++
	}

	validEnd := reader.Offset()
	l.recovery = wal.RecoveryInfo{
		ValidEnd:       wal.PositionFromOffset(validEnd),
		FileSize:       size,
		DiscardedBytes: size - validEnd,
		Records:        records,
		Reason:         reason,
	}

	if l.recovery.DiscardedBytes > 0 {
		l.logger.Printf("%s: %d bytes past %s are not trusted: %v", l.name, l.recovery.DiscardedBytes, l.recovery.ValidEnd, reason)
		if l.options.TruncateTail {
			if err := l.truncateTail(); err != nil {
				return err
			}
		} else {
			l.untrustedTail = true
		}
	}

	l.logger.Printf("%s: recovered %d records from %s, valid end %s", l.name, records, l.options.RecoverFrom, l.recovery.ValidEnd)

	l.writer = log.NewWriter(l.file, validEnd)
	l.end.Store(validEnd)
	return nil
}

func (l *logImpl) truncateTail() error {
	validEnd := l.recovery.ValidEnd.Offset()
	if err := l.file.Truncate(validEnd); err != nil {
		return fmt.Errorf("%w: truncate %s to %d: %w", wal.ErrIO, l.name, validEnd, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", wal.ErrIO, l.name, err)
	}
	l.recovery.Truncated = true
	l.logger.Printf("%s: truncated %d bytes at %s", l.name, l.recovery.DiscardedBytes, l.recovery.ValidEnd)
	return nil
}
