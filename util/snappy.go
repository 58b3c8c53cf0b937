package util

import (
	"github.com/golang/snappy"
)

// SnappyCompress compresses src. The result has spare capacity for extra
// bytes so a record trailer can be appended without copying.
func SnappyCompress(src []byte, extra int) []byte {
	n := snappy.MaxEncodedLen(len(src))
	if n < 0 {
		return snappy.Encode(nil, src)
	}
	return snappy.Encode(make([]byte, n, n+extra), src)
}

// SnappyUncompress decodes a block produced by SnappyCompress, ignoring any
// spare capacity.
func SnappyUncompress(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}
