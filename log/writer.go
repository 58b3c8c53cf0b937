package log

import (
	"fmt"
	"io"

	"github.com/ls4154/blockwal/util"
	"github.com/ls4154/blockwal/wal"
)

// Writer packs logical records into blocks. It is not safe for concurrent
// use.
type Writer struct {
	dest        io.Writer
	blockNumber uint64
	blockOffset int
	scratch     []byte
}

// NewWriter returns a writer whose cursor starts at offset, which must be
// the current end of dest.
func NewWriter(dest io.Writer, offset int64) *Writer {
	pos := wal.PositionFromOffset(offset)
	w := &Writer{
		dest:        dest,
		blockNumber: pos.BlockNumber,
		blockOffset: int(pos.ChunkOffset),
	}
	return w
}

var zeroArray [logHeaderSize]byte

const maxScratch = 4 * logBlockSize

// AddRecord writes data as one logical record and returns the position of
// its first fragment. Padding and all fragments go to dest in one Write.
func (w *Writer) AddRecord(data []byte) (wal.Position, error) {
	buf := w.scratch[:0]
	blockNumber := w.blockNumber
	blockOffset := w.blockOffset

	var start wal.Position
	left := len(data)
	off := 0
	begin := true
	for begin || left > 0 {
		leftover := logBlockSize - blockOffset
		util.Assert(leftover >= 0)

		// fill zeroes and switch to a new block
		if leftover < logHeaderSize {
			buf = append(buf, zeroArray[:leftover]...)
			blockNumber++
			blockOffset = 0
		}

		if begin {
			start = wal.Position{BlockNumber: blockNumber, ChunkOffset: uint32(blockOffset)}
		}

		avail := logBlockSize - blockOffset - logHeaderSize
		fragmentLength := util.MinInt(left, avail)

		end := left == fragmentLength
		var t FragmentType
		if begin && end {
			t = FragmentFull
		} else if begin {
			t = FragmentFirst
		} else if end {
			t = FragmentLast
		} else {
			t = FragmentMiddle
		}

		var err error
		buf, err = EncodeFragment(buf, t, data[off:off+fragmentLength])
		if err != nil {
			return wal.Position{}, err
		}

		blockOffset += logHeaderSize + fragmentLength
		util.Assert(blockOffset <= logBlockSize)
		if !end {
			util.Assert(blockOffset == logBlockSize)
		}
		if blockOffset == logBlockSize {
			blockNumber++
			blockOffset = 0
		}

		off += fragmentLength
		left -= fragmentLength
		begin = false
	}
	if cap(buf) <= maxScratch {
		w.scratch = buf
	}

	n, err := w.dest.Write(buf)
	if err != nil {
		return wal.Position{}, fmt.Errorf("%w: %w", wal.ErrIO, err)
	}
	util.Assert(n == len(buf))

	w.blockNumber = blockNumber
	w.blockOffset = blockOffset
	return start, nil
}

// Offset returns the absolute offset where the next record will be placed,
// before any padding.
func (w *Writer) Offset() int64 {
	return int64(w.blockNumber)*logBlockSize + int64(w.blockOffset)
}

func (w *Writer) Position() wal.Position {
	return wal.Position{BlockNumber: w.blockNumber, ChunkOffset: uint32(w.blockOffset)}
}
