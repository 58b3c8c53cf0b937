package wal

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	BlockSize = 32 * 1024

	// Fragment header format:
	//   checksum(4B), length(2B), type(1B)
	HeaderSize = 4 + 2 + 1

	// MaxFragmentPayload is the largest payload a single fragment can hold.
	MaxFragmentPayload = BlockSize - HeaderSize

	// MaxBlockNumber is the last block whose offsets fit in an int64.
	MaxBlockNumber = math.MaxInt64 / BlockSize
)

// Position locates the first fragment header of a record.
type Position struct {
	BlockNumber uint64
	ChunkOffset uint32
}

func PositionFromOffset(off int64) Position {
	return Position{
		BlockNumber: uint64(off / BlockSize),
		ChunkOffset: uint32(off % BlockSize),
	}
}

func (p Position) Offset() int64 {
	return int64(p.BlockNumber)*BlockSize + int64(p.ChunkOffset)
}

// Validate reports whether a fragment header can start at p. It does not
// check that a record actually starts there.
func (p Position) Validate() error {
	if p.BlockNumber > MaxBlockNumber {
		return fmt.Errorf("%w: block number %d out of range", ErrInvalidPosition, p.BlockNumber)
	}
	if p.ChunkOffset > BlockSize-HeaderSize {
		return fmt.Errorf("%w: no header fits at chunk offset %d", ErrInvalidPosition, p.ChunkOffset)
	}
	return nil
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.BlockNumber, p.ChunkOffset)
}

// Encode appends the position to dst as two uvarints.
func (p Position) Encode(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, p.BlockNumber)
	dst = binary.AppendUvarint(dst, uint64(p.ChunkOffset))
	return dst
}

// DecodePosition parses a position written by Encode and returns the number
// of bytes consumed.
func DecodePosition(src []byte) (Position, int, error) {
	block, n := binary.Uvarint(src)
	if n <= 0 {
		return Position{}, 0, fmt.Errorf("%w: bad block number encoding", ErrInvalidPosition)
	}
	off, m := binary.Uvarint(src[n:])
	if m <= 0 {
		return Position{}, 0, fmt.Errorf("%w: bad chunk offset encoding", ErrInvalidPosition)
	}
	if off > BlockSize-HeaderSize {
		return Position{}, 0, fmt.Errorf("%w: chunk offset %d out of range", ErrInvalidPosition, off)
	}
	pos := Position{BlockNumber: block, ChunkOffset: uint32(off)}
	if err := pos.Validate(); err != nil {
		return Position{}, 0, err
	}
	return pos, n + m, nil
}
