package util

import "hash/crc32"

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumCRC32C returns the CRC-32C (Castagnoli) of data. Fragment
// checksums are stored unmasked.
func ChecksumCRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}
