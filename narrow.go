package mmarr

import (
	"encoding/binary"
	"math"
)

// codec packs and unpacks one integer encoding to and from int64.
//
// The odd widths (3, 5, 6, 7 bytes) store the little-endian low bytes of the
// value; decode zero-fills for unsigned types and sign-extends the top bit of
// the highest stored byte for signed types. The codec table replaces the
// per-instance accessor delegates of older designs: dispatch is a single
// table lookup and the domains are plain data.
type codec struct {
	width int64
	min   int64
	max   int64
	get   func(b []byte) int64
	put   func(b []byte, v int64)
}

func getU24(b []byte) int64 {
	return int64(uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16)
}

func getI24(b []byte) int64 {
	return getU24(b) << 40 >> 40
}

func getU40(b []byte) int64 {
	return int64(uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32)
}

func getI40(b []byte) int64 {
	return getU40(b) << 24 >> 24
}

func getU48(b []byte) int64 {
	return int64(uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40)
}

func getI48(b []byte) int64 {
	return getU48(b) << 16 >> 16
}

func getU56(b []byte) int64 {
	return int64(uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48)
}

func getI56(b []byte) int64 {
	return getU56(b) << 8 >> 8
}

func put24(b []byte, v int64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func put40(b []byte, v int64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
}

func put48(b []byte, v int64) {
	put40(b, v)
	b[5] = byte(v >> 40)
}

func put56(b []byte, v int64) {
	put48(b, v)
	b[6] = byte(v >> 48)
}

// codecs is indexed by DataType. Only integer encodings have entries.
var codecs = map[DataType]codec{
	SByte: {
		width: 1, min: math.MinInt8, max: math.MaxInt8,
		get: func(b []byte) int64 { return int64(int8(b[0])) },
		put: func(b []byte, v int64) { b[0] = byte(v) },
	},
	Byte: {
		width: 1, min: 0, max: math.MaxUint8,
		get: func(b []byte) int64 { return int64(b[0]) },
		put: func(b []byte, v int64) { b[0] = byte(v) },
	},
	Int16: {
		width: 2, min: math.MinInt16, max: math.MaxInt16,
		get: func(b []byte) int64 { return int64(int16(binary.LittleEndian.Uint16(b))) },
		put: func(b []byte, v int64) { binary.LittleEndian.PutUint16(b, uint16(v)) },
	},
	UInt16: {
		width: 2, min: 0, max: math.MaxUint16,
		get: func(b []byte) int64 { return int64(binary.LittleEndian.Uint16(b)) },
		put: func(b []byte, v int64) { binary.LittleEndian.PutUint16(b, uint16(v)) },
	},
	Int32: {
		width: 4, min: math.MinInt32, max: math.MaxInt32,
		get: func(b []byte) int64 { return int64(int32(binary.LittleEndian.Uint32(b))) },
		put: func(b []byte, v int64) { binary.LittleEndian.PutUint32(b, uint32(v)) },
	},
	UInt32: {
		width: 4, min: 0, max: math.MaxUint32,
		get: func(b []byte) int64 { return int64(binary.LittleEndian.Uint32(b)) },
		put: func(b []byte, v int64) { binary.LittleEndian.PutUint32(b, uint32(v)) },
	},
	Int64: {
		width: 8, min: math.MinInt64, max: math.MaxInt64,
		get: func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) },
		put: func(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) },
	},
	UInt64: {
		// Exposed through int64, so the usable domain tops out at MaxInt64.
		width: 8, min: 0, max: math.MaxInt64,
		get: func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) },
		put: func(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) },
	},
	Int24AsInt64: {
		width: 3, min: -1 << 23, max: 1<<23 - 1,
		get: getI24, put: put24,
	},
	UInt24AsInt64: {
		width: 3, min: 0, max: 1<<24 - 1,
		get: getU24, put: put24,
	},
	Int40AsInt64: {
		width: 5, min: -1 << 39, max: 1<<39 - 1,
		get: getI40, put: put40,
	},
	UInt40AsInt64: {
		width: 5, min: 0, max: 1<<40 - 1,
		get: getU40, put: put40,
	},
	Int48AsInt64: {
		width: 6, min: -1 << 47, max: 1<<47 - 1,
		get: getI48, put: put48,
	},
	UInt48AsInt64: {
		width: 6, min: 0, max: 1<<48 - 1,
		get: getU48, put: put48,
	},
	Int56AsInt64: {
		width: 7, min: -1 << 55, max: 1<<55 - 1,
		get: getI56, put: put56,
	},
	UInt56AsInt64: {
		width: 7, min: 0, max: 1<<56 - 1,
		get: getU56, put: put56,
	},
}

// codecFor returns the codec for an integer data type. Callers must have
// checked dt.integerKind() first; the zero codec is returned otherwise.
func codecFor(dt DataType) codec {
	return codecs[dt]
}

// Domain returns the [min, max] range representable by an integer encoding
// when exposed as int64.
func (dt DataType) Domain() (minValue, maxValue int64) {
	c := codecFor(dt)

	return c.min, c.max
}
