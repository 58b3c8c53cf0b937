package log

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/ls4154/blockwal/wal"
)

// BlockReader reads records at arbitrary positions. It keeps no state
// between calls and is safe for concurrent use if src is.
type BlockReader struct {
	src io.ReaderAt
}

func NewBlockReader(src io.ReaderAt) *BlockReader {
	return &BlockReader{src: src}
}

// ReadRecord reassembles the record whose first fragment starts at pos.
func (r *BlockReader) ReadRecord(pos wal.Position) ([]byte, error) {
	if err := pos.Validate(); err != nil {
		return nil, err
	}

	off := pos.Offset()
	var record []byte
	inFragmentedRecord := false
	for {
		h, next, err := r.readFragment(off, record)
		if errors.Is(err, wal.ErrTruncated) {
			return nil, fmt.Errorf("%w at %s: %w", wal.ErrIncompleteRecord, pos, err)
		}
		if err != nil {
			return nil, err
		}

		switch h.Type {
		case FragmentFull:
			if inFragmentedRecord {
				return nil, fmt.Errorf("%w: full fragment inside record at offset %d", wal.ErrCorruptSequence, off)
			}
			return nonNil(next), nil
		case FragmentFirst:
			if inFragmentedRecord {
				return nil, fmt.Errorf("%w: first fragment inside record at offset %d", wal.ErrCorruptSequence, off)
			}
			inFragmentedRecord = true
		case FragmentMiddle:
			if !inFragmentedRecord {
				return nil, fmt.Errorf("%w: middle fragment without start at offset %d", wal.ErrCorruptSequence, off)
			}
		case FragmentLast:
			if !inFragmentedRecord {
				return nil, fmt.Errorf("%w: last fragment without start at offset %d", wal.ErrCorruptSequence, off)
			}
			return nonNil(next), nil
		default:
			return nil, fmt.Errorf("%w: %d at offset %d", wal.ErrUnknownType, byte(h.Type), off)
		}

		end := off + logHeaderSize + int64(h.Length)
		if end%logBlockSize != 0 {
			return nil, fmt.Errorf("%w: %s fragment at offset %d does not fill its block", wal.ErrCorruptSequence, h.Type, off)
		}
		record = next
		off = end
	}
}

// readFragment reads the fragment at off and appends its verified payload
// to dst.
func (r *BlockReader) readFragment(off int64, dst []byte) (Header, []byte, error) {
	var hdr [logHeaderSize]byte
	n, err := r.src.ReadAt(hdr[:], off)
	if n < logHeaderSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return Header{}, nil, fmt.Errorf("%w: %w", wal.ErrIO, err)
		}
		return Header{}, nil, fmt.Errorf("%w: %d header bytes at offset %d", wal.ErrTruncated, n, off)
	}

	h, err := ParseHeader(hdr[:])
	if err != nil {
		return h, nil, fmt.Errorf("%w at offset %d", err, off)
	}

	inBlock := int(off % logBlockSize)
	if inBlock+logHeaderSize+int(h.Length) > logBlockSize {
		return h, nil, fmt.Errorf("%w: fragment at offset %d crosses block boundary", wal.ErrCorruption, off)
	}

	length := int(h.Length)
	dst = slices.Grow(dst, length)
	payload := dst[len(dst) : len(dst)+length]
	n, err = r.src.ReadAt(payload, off+logHeaderSize)
	if n < length {
		if err != nil && !errors.Is(err, io.EOF) {
			return h, nil, fmt.Errorf("%w: %w", wal.ErrIO, err)
		}
		return h, nil, fmt.Errorf("%w: fragment at offset %d needs %d payload bytes, have %d", wal.ErrTruncated, off, length, n)
	}

	if err := verifyPayload(h, payload, off); err != nil {
		return h, nil, err
	}
	return h, dst[:len(dst)+length], nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
