package wal

type Log interface {
	// Append writes payload as one logical record and returns the position
	// of its first fragment. The position is durable only after Flush (or
	// when Options.Sync is set).
	Append(payload []byte) (Position, error)
	// ReadAt returns the payload of the record starting at pos.
	ReadAt(pos Position) ([]byte, error)
	// Scan replays every record from pos to the valid end of the log in
	// order. Iteration stops at the first error returned by fn.
	Scan(from Position, fn func(pos Position, payload []byte) error) error
	Flush() error
	// Truncate discards anything past the valid end found at open.
	Truncate() error
	Size() int64
	Recovery() RecoveryInfo
	Close() error
}

type Logger interface {
	Printf(format string, v ...any)
}

type CompressionType uint8

const (
	NoCompression CompressionType = iota
	SnappyCompression
)

type Options struct {
	// Env provides file access. Nil means the OS environment.
	Env Env
	// Sync forces an fsync after every Append.
	Sync bool
	// TruncateTail physically removes an invalid tail found at open. The
	// tail starts at the first record that fails to read, so a checksum or
	// sequence error in the middle of the log also deletes every intact
	// record after it; RecoveryInfo reports the discarded bytes and the
	// reason. When false the tail is kept on disk, reads past the valid end
	// fail with ErrIncompleteRecord, and Append fails until Truncate is
	// called.
	TruncateTail bool
	// RecoverFrom is a last-known-good record position to start the tail
	// scan from. The zero value scans the whole file.
	RecoverFrom Position
	// Compression is applied per logical record. All opens of one file
	// must use the same setting.
	Compression CompressionType
	Logger      Logger
}

func DefaultOptions() *Options {
	return &Options{
		Sync:         false,
		TruncateTail: true,
		Compression:  NoCompression,
	}
}

// RecoveryInfo describes the result of the tail scan performed at open.
type RecoveryInfo struct {
	// ValidEnd is where the next record will be written.
	ValidEnd Position
	// FileSize is the size of the file before any truncation.
	FileSize int64
	// DiscardedBytes is the number of bytes past ValidEnd that were not
	// trusted. They are gone if Truncated is set.
	DiscardedBytes int64
	// Records is the number of complete records scanned.
	Records   int
	Truncated bool
	// Reason is the error that ended the scan, nil for a clean end.
	Reason error
}
