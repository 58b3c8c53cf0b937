package impl

import (
	"fmt"

	"github.com/ls4154/blockwal/util"
	"github.com/ls4154/blockwal/wal"
)

// With compression enabled every record body is followed by one byte
// holding the wal.CompressionType actually used for it.
const recordTrailerSize = 1

func encodeRecord(compression wal.CompressionType, payload []byte) []byte {
	switch compression {
	case wal.SnappyCompression:
		compressed := util.SnappyCompress(payload, recordTrailerSize)
		// keep the raw form unless it saves at least 12.5%
		if len(compressed) < len(payload)-len(payload)/8 {
			return append(compressed, byte(wal.SnappyCompression))
		}
		out := make([]byte, 0, len(payload)+recordTrailerSize)
		out = append(out, payload...)
		return append(out, byte(wal.NoCompression))
	default:
		return payload
	}
}

func decodeRecord(compression wal.CompressionType, data []byte) ([]byte, error) {
	if compression == wal.NoCompression {
		return data, nil
	}

	if len(data) < recordTrailerSize {
		return nil, fmt.Errorf("%w: record too short for compression trailer", wal.ErrCorruption)
	}
	body := data[:len(data)-recordTrailerSize]
	switch wal.CompressionType(data[len(data)-1]) {
	case wal.NoCompression:
		return body, nil
	case wal.SnappyCompression:
		uncompressed, err := util.SnappyUncompress(body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %s", wal.ErrCorruption, err)
		}
		return uncompressed, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression type %d", wal.ErrCorruption, data[len(data)-1])
	}
}
