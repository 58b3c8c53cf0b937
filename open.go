// Package blockwal is an append-only write-ahead log with leveldb-style
// block framing and random access by record position.
package blockwal

import (
	"github.com/ls4154/blockwal/impl"
	"github.com/ls4154/blockwal/wal"
)

// Open opens or creates the log file at path. Any torn or corrupt tail is
// reported through Log.Recovery.
func Open(options *wal.Options, path string) (wal.Log, error) {
	return impl.Open(options, path)
}

// Remove deletes the log file at path. The log must not be open.
func Remove(options *wal.Options, path string) error {
	return impl.Remove(options, path)
}
