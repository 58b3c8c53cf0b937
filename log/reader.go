package log

import (
	"errors"
	"fmt"
	"io"

	"github.com/ls4154/blockwal/util"
	"github.com/ls4154/blockwal/wal"
)

// Reader replays records sequentially from a stream. It is used for tail
// recovery and full scans.
type Reader struct {
	src          io.Reader
	backingStore [logBlockSize]byte // fixed read buffer
	buf          []byte             // unprocessed slice into backingStore
	bufOffset    int64              // absolute offset of buf[0]
	nextRead     int
	eof          bool
	recordEnd    int64
}

// NewReader reads records from src, whose first byte is at absolute offset
// in the log. offset must be the start of a record.
func NewReader(src io.Reader, offset int64) *Reader {
	r := &Reader{
		src:       src,
		bufOffset: offset,
		nextRead:  logBlockSize - int(offset%logBlockSize),
		recordEnd: offset,
	}
	return r
}

// Offset returns the end of the last complete record read, which is the
// start of the first record if none has been read yet.
func (r *Reader) Offset() int64 {
	return r.recordEnd
}

// ReadRecord reassembles the next logical record. It returns io.EOF at a
// clean end of the stream and wal.ErrIncompleteRecord if the stream ends in
// the middle of a record.
func (r *Reader) ReadRecord() (wal.Position, []byte, error) {
	var record []byte
	var start int64
	inFragmentedRecord := false
	for {
		fragment, off, err := r.readPhysicalRecord()
		if errors.Is(err, io.EOF) {
			if inFragmentedRecord {
				return wal.Position{}, nil, fmt.Errorf("%w: stream ends inside record at %s", wal.ErrIncompleteRecord, wal.PositionFromOffset(start))
			}
			return wal.Position{}, nil, io.EOF
		}
		if errors.Is(err, wal.ErrTruncated) {
			return wal.Position{}, nil, fmt.Errorf("%w: %w", wal.ErrIncompleteRecord, err)
		}
		if err != nil {
			return wal.Position{}, nil, err
		}

		end := off + logHeaderSize + int64(fragment.Length)

		switch fragment.Type {
		case FragmentFull:
			if inFragmentedRecord {
				return wal.Position{}, nil, fmt.Errorf("%w: partial record without end at offset %d", wal.ErrCorruptSequence, off)
			}
			r.recordEnd = end
			return wal.PositionFromOffset(off), util.CloneBytes(fragment.Payload), nil
		case FragmentFirst:
			if inFragmentedRecord {
				return wal.Position{}, nil, fmt.Errorf("%w: partial record without end at offset %d", wal.ErrCorruptSequence, off)
			}
			inFragmentedRecord = true
			start = off
			record = util.CloneBytes(fragment.Payload)
		case FragmentMiddle:
			if !inFragmentedRecord {
				return wal.Position{}, nil, fmt.Errorf("%w: missing start of fragmented record at offset %d", wal.ErrCorruptSequence, off)
			}
			record = append(record, fragment.Payload...)
		case FragmentLast:
			if !inFragmentedRecord {
				return wal.Position{}, nil, fmt.Errorf("%w: missing start of fragmented record at offset %d", wal.ErrCorruptSequence, off)
			}
			record = append(record, fragment.Payload...)
			r.recordEnd = end
			return wal.PositionFromOffset(start), record, nil
		default:
			return wal.Position{}, nil, fmt.Errorf("%w: %d at offset %d", wal.ErrUnknownType, byte(fragment.Type), off)
		}

		if end%logBlockSize != 0 {
			return wal.Position{}, nil, fmt.Errorf("%w: %s fragment at offset %d does not fill its block", wal.ErrCorruptSequence, fragment.Type, off)
		}
	}
}

// readPhysicalRecord returns the next fragment and its absolute offset. The
// payload aliases the read buffer.
func (r *Reader) readPhysicalRecord() (Fragment, int64, error) {
	for {
		if len(r.buf) < logHeaderSize {
			if !r.eof {
				// whatever is left is the block trailer
				r.bufOffset += int64(len(r.buf))

				n, err := io.ReadFull(r.src, r.backingStore[:r.nextRead])
				if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					return Fragment{}, r.bufOffset, fmt.Errorf("%w: %w", wal.ErrIO, err)
				}

				r.buf = r.backingStore[:n]
				if n < r.nextRead {
					r.eof = true
				}
				r.nextRead = logBlockSize
				continue
			}
			if len(r.buf) == 0 {
				return Fragment{}, r.bufOffset, io.EOF
			}
			return Fragment{}, r.bufOffset, fmt.Errorf("%w: %d header bytes at offset %d", wal.ErrTruncated, len(r.buf), r.bufOffset)
		}

		off := r.bufOffset
		h, err := ParseHeader(r.buf)
		if err != nil {
			return Fragment{}, off, fmt.Errorf("%w at offset %d", err, off)
		}

		length := int(h.Length)
		if logHeaderSize+length > len(r.buf) {
			if r.eof {
				return Fragment{}, off, fmt.Errorf("%w: fragment at offset %d needs %d payload bytes, have %d", wal.ErrTruncated, off, length, len(r.buf)-logHeaderSize)
			}
			return Fragment{}, off, fmt.Errorf("%w: fragment at offset %d crosses block boundary", wal.ErrCorruption, off)
		}

		payload := r.buf[logHeaderSize : logHeaderSize+length]
		if err := verifyPayload(h, payload, off); err != nil {
			return Fragment{}, off, err
		}

		r.buf = r.buf[logHeaderSize+length:]
		r.bufOffset += int64(logHeaderSize + length)

		return Fragment{Header: h, Payload: payload}, off, nil
	}
}
