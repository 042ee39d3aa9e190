package mmarr

import (
	"fmt"
	"math"
)

// DataType is the on-disk element encoding discriminant stored in the file
// header. The integer codes are part of the file format and must not be
// reordered.
type DataType int32

// Data type discriminants.
const (
	AnyStruct     DataType = 0
	Bit           DataType = 1
	SByte         DataType = 2
	Byte          DataType = 3
	Int16         DataType = 4
	UInt16        DataType = 5
	Int32         DataType = 6
	UInt32        DataType = 7
	Int64         DataType = 8
	UInt64        DataType = 9
	Single        DataType = 10
	Double        DataType = 11
	DateTime      DataType = 12
	UnixSeconds   DataType = 13
	Int24AsInt64  DataType = 14
	Int40AsInt64  DataType = 15
	Int48AsInt64  DataType = 16
	Int56AsInt64  DataType = 17
	UInt24AsInt64 DataType = 18
	UInt40AsInt64 DataType = 19
	UInt48AsInt64 DataType = 20
	UInt56AsInt64 DataType = 21
)

var dataTypeNames = map[DataType]string{
	AnyStruct:     "AnyStruct",
	Bit:           "Bit",
	SByte:         "SByte",
	Byte:          "Byte",
	Int16:         "Int16",
	UInt16:        "UInt16",
	Int32:         "Int32",
	UInt32:        "UInt32",
	Int64:         "Int64",
	UInt64:        "UInt64",
	Single:        "Single",
	Double:        "Double",
	DateTime:      "DateTime",
	UnixSeconds:   "UnixSeconds",
	Int24AsInt64:  "Int24AsInt64",
	Int40AsInt64:  "Int40AsInt64",
	Int48AsInt64:  "Int48AsInt64",
	Int56AsInt64:  "Int56AsInt64",
	UInt24AsInt64: "UInt24AsInt64",
	UInt40AsInt64: "UInt40AsInt64",
	UInt48AsInt64: "UInt48AsInt64",
	UInt56AsInt64: "UInt56AsInt64",
}

func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}

	return fmt.Sprintf("DataType(%d)", int32(dt))
}

// Width returns the element byte width for dt. Bit arrays are stored as
// 32-bit words, so Bit reports 4. AnyStruct has no intrinsic width and
// reports 0.
func (dt DataType) Width() int64 {
	switch dt {
	case Bit, Int32, UInt32, Single, UnixSeconds:
		return 4
	case SByte, Byte:
		return 1
	case Int16, UInt16:
		return 2
	case Int64, UInt64, Double, DateTime:
		return 8
	case Int24AsInt64, UInt24AsInt64:
		return 3
	case Int40AsInt64, UInt40AsInt64:
		return 5
	case Int48AsInt64, UInt48AsInt64:
		return 6
	case Int56AsInt64, UInt56AsInt64:
		return 7
	default:
		return 0
	}
}

// valid reports whether dt is a known discriminant.
func (dt DataType) valid() bool {
	_, ok := dataTypeNames[dt]

	return ok
}

// integerKind reports whether dt is one of the integer encodings an
// [Int64Array] can adapt.
func (dt DataType) integerKind() bool {
	switch dt {
	case SByte, Byte, Int16, UInt16, Int32, UInt32, Int64, UInt64,
		Int24AsInt64, Int40AsInt64, Int48AsInt64, Int56AsInt64,
		UInt24AsInt64, UInt40AsInt64, UInt48AsInt64, UInt56AsInt64:
		return true
	default:
		return false
	}
}

// Widening ladders for SmallestType, ordered narrowest first.
var (
	unsignedLadder = []DataType{Byte, UInt16, UInt24AsInt64, UInt32, UInt40AsInt64, UInt48AsInt64, UInt56AsInt64, Int64}
	signedLadder   = []DataType{SByte, Int16, Int24AsInt64, Int32, Int40AsInt64, Int48AsInt64, Int56AsInt64, Int64}
)

// SmallestType returns the narrowest integer encoding whose domain covers
// [minValue, maxValue]. Ranges within {0, 1} map to Bit; non-negative ranges
// walk the unsigned ladder, all others the signed ladder. Int64 is the
// terminal rung for both.
func SmallestType(minValue, maxValue int64) DataType {
	if maxValue <= 1 && minValue >= 0 {
		return Bit
	}

	if minValue >= 0 {
		for _, dt := range unsignedLadder {
			if c := codecFor(dt); maxValue <= c.max {
				return dt
			}
		}

		return Int64
	}

	for _, dt := range signedLadder {
		c := codecFor(dt)
		if minValue >= c.min && maxValue <= c.max {
			return dt
		}
	}

	return Int64
}

// Tick conversions for DateTime series. A tick is 100 nanoseconds; tick zero
// is 0001-01-01T00:00:00.
const (
	ticksPerSecond = int64(10_000_000)
	unixEpochTicks = int64(621_355_968_000_000_000)

	// minSecondsValue marks DateTime minimum in second-precision files.
	minSecondsValue = int64(math.MinInt32)
)
