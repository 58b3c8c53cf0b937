package wal

import (
	"errors"
	"fmt"
)

var (
	ErrCorruption      = errors.New("corrupted")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIO              = errors.New("io error")

	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrCorruption)
	ErrUnknownType      = fmt.Errorf("%w: unknown fragment type", ErrCorruption)
	ErrCorruptSequence  = fmt.Errorf("%w: bad fragment sequence", ErrCorruption)

	// ErrTruncated and ErrIncompleteRecord are expected at the tail of a log
	// after an unclean shutdown and do not match ErrCorruption.
	ErrTruncated        = errors.New("truncated fragment")
	ErrIncompleteRecord = errors.New("incomplete record")

	ErrInvalidPosition = fmt.Errorf("%w: invalid position", ErrInvalidArgument)
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrInvalidArgument)

	ErrUntrustedTail = errors.New("log has an untrusted tail")
	ErrClosed        = errors.New("log closed")
	ErrLocked        = errors.New("log locked by another handle")
)

// ChecksumError reports a fragment whose payload does not match the stored
// checksum. It matches ErrChecksumMismatch and ErrCorruption.
type ChecksumError struct {
	Offset   int64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s at offset %d: expected %#08x, got %#08x", ErrChecksumMismatch, e.Offset, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}
