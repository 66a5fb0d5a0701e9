package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DataType is a raster sample type. String values match GDAL's names, which is what the
// sidecar's layer_data field carries.
type DataType uint8

const (
	Unknown DataType = iota
	Byte
	Int16
	UInt16
	Int32
	UInt32
	Float32
	Float64
)

var dataTypeNames = [...]string{"Unknown", "Byte", "Int16", "UInt16", "Int32", "UInt32", "Float32", "Float64"}

func (dt DataType) String() string {
	if int(dt) < len(dataTypeNames) {
		return dataTypeNames[dt]
	}
	return fmt.Sprintf("DataType(%d)", dt)
}

// ParseDataType is the inverse of String, case-insensitive.
func ParseDataType(s string) (DataType, error) {
	for i, n := range dataTypeNames {
		if strings.EqualFold(n, s) {
			return DataType(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown data type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (dt DataType) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (dt *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*dt = v
	return nil
}

// Size is the width of one sample in bytes.
func (dt DataType) Size() int {
	switch dt {
	case Byte:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64
}

// Range returns the representable range of an integer type.
func (dt DataType) Range() (float64, float64) {
	switch dt {
	case Byte:
		return 0, math.MaxUint8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case UInt16:
		return 0, math.MaxUint16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case UInt32:
		return 0, math.MaxUint32
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return -math.MaxFloat64, math.MaxFloat64
}

// Represents reports whether v can be stored without loss.
func (dt DataType) Represents(v float64) bool {
	lo, hi := dt.Range()
	if v < lo || v > hi {
		return false
	}
	return dt.IsFloat() || v == math.Trunc(v)
}

// Put encodes v into buf (at least Size() bytes) little-endian. Integer types truncate
// toward zero and saturate at the type bounds.
func (dt DataType) Put(buf []byte, v float64) {
	if !dt.IsFloat() {
		lo, hi := dt.Range()
		v = math.Max(lo, math.Min(hi, math.Trunc(v)))
	}
	le := binary.LittleEndian
	switch dt {
	case Byte:
		buf[0] = uint8(v)
	case Int16:
		le.PutUint16(buf, uint16(int16(v)))
	case UInt16:
		le.PutUint16(buf, uint16(v))
	case Int32:
		le.PutUint32(buf, uint32(int32(v)))
	case UInt32:
		le.PutUint32(buf, uint32(v))
	case Float32:
		le.PutUint32(buf, math.Float32bits(float32(v)))
	case Float64:
		le.PutUint64(buf, math.Float64bits(v))
	}
}

// Get decodes one little-endian sample from buf.
func (dt DataType) Get(buf []byte) float64 {
	le := binary.LittleEndian
	switch dt {
	case Byte:
		return float64(buf[0])
	case Int16:
		return float64(int16(le.Uint16(buf)))
	case UInt16:
		return float64(le.Uint16(buf))
	case Int32:
		return float64(int32(le.Uint32(buf)))
	case UInt32:
		return float64(le.Uint32(buf))
	case Float32:
		return float64(math.Float32frombits(le.Uint32(buf)))
	case Float64:
		return math.Float64frombits(le.Uint64(buf))
	}
	return 0
}
