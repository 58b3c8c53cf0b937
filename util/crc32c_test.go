package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC32CKnownValues(t *testing.T) {
	// Test vectors from RFC 3720 section B.4.
	zeros := make([]byte, 32)
	require.Equal(t, uint32(0x8a9136aa), ChecksumCRC32C(zeros))

	ones := make([]byte, 32)
	for i := range ones {
		ones[i] = 0xff
	}
	require.Equal(t, uint32(0x62a8ab43), ChecksumCRC32C(ones))

	incr := make([]byte, 32)
	for i := range incr {
		incr[i] = byte(i)
	}
	require.Equal(t, uint32(0x46dd794e), ChecksumCRC32C(incr))

	require.Equal(t, uint32(0xe3069283), ChecksumCRC32C([]byte("123456789")))
}

func TestCRC32CDetectsBitFlip(t *testing.T) {
	data := []byte("hello world")
	before := ChecksumCRC32C(data)
	data[0] ^= 0x01
	require.NotEqual(t, before, ChecksumCRC32C(data))
}
