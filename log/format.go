package log

import (
	"encoding/binary"
	"fmt"

	"github.com/ls4154/blockwal/util"
	"github.com/ls4154/blockwal/wal"
)

const (
	logBlockSize  = wal.BlockSize
	logHeaderSize = wal.HeaderSize
	maxFragment   = wal.MaxFragmentPayload
)

// FragmentType is the role of a physical fragment within a logical record.
type FragmentType byte

const (
	// 0 is never written. Zeroed space decodes as an unknown type.
	FragmentFull   FragmentType = 1
	FragmentFirst  FragmentType = 2
	FragmentMiddle FragmentType = 3
	FragmentLast   FragmentType = 4
)

func (t FragmentType) Valid() bool {
	switch t {
	case FragmentFull, FragmentFirst, FragmentMiddle, FragmentLast:
		return true
	default:
		return false
	}
}

// Terminal reports whether t ends a logical record.
func (t FragmentType) Terminal() bool {
	return t == FragmentFull || t == FragmentLast
}

func (t FragmentType) String() string {
	switch t {
	case FragmentFull:
		return "FULL"
	case FragmentFirst:
		return "FIRST"
	case FragmentMiddle:
		return "MIDDLE"
	case FragmentLast:
		return "LAST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

type Header struct {
	Checksum uint32
	Length   uint16
	Type     FragmentType
}

type Fragment struct {
	Header
	Payload []byte
}

func ParseHeader(b []byte) (Header, error) {
	if len(b) < logHeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", wal.ErrTruncated, logHeaderSize, len(b))
	}
	h := Header{
		Checksum: binary.LittleEndian.Uint32(b[0:4]),
		Length:   binary.LittleEndian.Uint16(b[4:6]),
		Type:     FragmentType(b[6]),
	}
	if !h.Type.Valid() {
		return h, fmt.Errorf("%w: %d", wal.ErrUnknownType, byte(h.Type))
	}
	if int(h.Length) > maxFragment {
		return h, fmt.Errorf("%w: fragment length %d", wal.ErrCorruption, h.Length)
	}
	return h, nil
}

// EncodeFragment appends the framed fragment to dst.
func EncodeFragment(dst []byte, t FragmentType, payload []byte) ([]byte, error) {
	if !t.Valid() {
		return dst, fmt.Errorf("%w: %d", wal.ErrUnknownType, byte(t))
	}
	if len(payload) > maxFragment {
		return dst, fmt.Errorf("%w: %d > %d", wal.ErrPayloadTooLarge, len(payload), maxFragment)
	}

	var buf [logHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], util.ChecksumCRC32C(payload))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(payload)))
	buf[6] = byte(t)

	dst = append(dst, buf[:]...)
	dst = append(dst, payload...)
	return dst, nil
}

// DecodeFragment parses one fragment from the start of b. The returned
// payload aliases b.
func DecodeFragment(b []byte) (Fragment, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Fragment{}, err
	}
	end := logHeaderSize + int(h.Length)
	if len(b) < end {
		return Fragment{}, fmt.Errorf("%w: payload needs %d bytes, have %d", wal.ErrTruncated, h.Length, len(b)-logHeaderSize)
	}
	payload := b[logHeaderSize:end]
	if err := verifyPayload(h, payload, 0); err != nil {
		return Fragment{}, err
	}
	return Fragment{Header: h, Payload: payload}, nil
}

func verifyPayload(h Header, payload []byte, offset int64) error {
	actual := util.ChecksumCRC32C(payload)
	if actual != h.Checksum {
		return &wal.ChecksumError{Offset: offset, Expected: h.Checksum, Actual: actual}
	}
	return nil
}
