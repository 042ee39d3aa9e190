package mmarr

import (
	"encoding/binary"
	"math/bits"
)

// On-disk layout constants. Every store file starts with the 16-byte base
// header; overlays may reserve additional 8-byte-aligned bytes immediately
// after it (the bit array reserves 8 for its logical bit length). Element
// bytes run from the end of the header to end of file, and the file length
// is always a multiple of the page size.
const (
	formatVersion = 0

	offVersion  = 0x00 // int32 LE
	offDataType = 0x04 // int32 LE
	offCount    = 0x08 // int64 LE

	baseHeaderSize = 16

	// bitLengthReserved is the overlay reservation used by BitArray; the
	// logical bit length lives at offBitLength as int64 LE.
	bitLengthReserved = 8
	offBitLength      = baseHeaderSize

	pageSize = 4096
)

// pageAlign rounds n up to the next page boundary, with a one-page floor.
func pageAlign(n int64) int64 {
	if n < pageSize {
		return pageSize
	}

	return (n + pageSize - 1) &^ (pageSize - 1)
}

// putHeader writes the base header fields into buf (len >= baseHeaderSize).
func putHeader(buf []byte, dt DataType, count int64) {
	binary.LittleEndian.PutUint32(buf[offVersion:], uint32(formatVersion))
	binary.LittleEndian.PutUint32(buf[offDataType:], uint32(dt))
	binary.LittleEndian.PutUint64(buf[offCount:], uint64(count))
}

// headerVersion reads the format version field.
func headerVersion(buf []byte) int32 {
	return int32(binary.LittleEndian.Uint32(buf[offVersion:]))
}

// headerDataType reads the data type discriminant field.
func headerDataType(buf []byte) DataType {
	return DataType(binary.LittleEndian.Uint32(buf[offDataType:]))
}

// isLittleEndian is true if the CPU uses little-endian byte order. The file
// format is little-endian and element access is raw memory, so big-endian
// hosts are rejected at open.
var isLittleEndian = func() bool {
	var buf [2]byte
	buf[0] = 0x01

	return binary.NativeEndian.Uint16(buf[:]) == 0x01
}()

// is64Bit is true if the architecture has 64-bit pointers. Required for the
// atomic 8-byte count publication on the mapped header.
var is64Bit = bits.UintSize == 64
