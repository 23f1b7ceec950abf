// Package field defines the physical column types of the storage engine and
// the typed cell accessor used by the aggregation layer.
//
// All multi-byte values are stored little-endian and are loaded/stored with
// explicit byte copies rather than pointer casts. Cell payloads live inside
// row buffers whose alignment is not guaranteed, so unaligned access must be
// safe on every platform.
package field

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type identifies the physical representation of a column value.
type Type int

const (
	TypeUnknown Type = iota
	TypeTinyInt      // int8
	TypeSmallInt     // int16
	TypeInt          // int32
	TypeBigInt       // int64
	TypeLargeInt     // int128
	TypeFloat        // float32
	TypeDouble       // float64
	TypeChar         // fixed-length bytes, stored as a slice cell
	TypeVarchar      // variable-length bytes, stored as a slice cell
	TypeHLL          // serialized HyperLogLog sketch, stored as a slice cell
)

func (t Type) String() string {
	switch t {
	case TypeTinyInt:
		return "TINYINT"
	case TypeSmallInt:
		return "SMALLINT"
	case TypeInt:
		return "INT"
	case TypeBigInt:
		return "BIGINT"
	case TypeLargeInt:
		return "LARGEINT"
	case TypeFloat:
		return "FLOAT"
	case TypeDouble:
		return "DOUBLE"
	case TypeChar:
		return "CHAR"
	case TypeVarchar:
		return "VARCHAR"
	case TypeHLL:
		return "HLL"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Variable reports whether values of this type are variable-length and
// therefore stored as slice cells.
func (t Type) Variable() bool {
	switch t {
	case TypeChar, TypeVarchar, TypeHLL:
		return true
	default:
		return false
	}
}

// Size returns the fixed payload width in bytes, or 0 for variable-length
// types.
func (t Type) Size() int {
	switch t {
	case TypeTinyInt:
		return 1
	case TypeSmallInt:
		return 2
	case TypeInt:
		return 4
	case TypeBigInt:
		return 8
	case TypeLargeInt:
		return 16
	case TypeFloat:
		return 4
	case TypeDouble:
		return 8
	default:
		return 0
	}
}

// Compare orders two raw payloads of this type under the type's natural
// ordering. Variable-length types compare bytewise.
func (t Type) Compare(a, b []byte) int {
	switch t {
	case TypeTinyInt:
		return cmpOrdered(int8(a[0]), int8(b[0]))
	case TypeSmallInt:
		return cmpOrdered(LoadInt16(a), LoadInt16(b))
	case TypeInt:
		return cmpOrdered(LoadInt32(a), LoadInt32(b))
	case TypeBigInt:
		return cmpOrdered(LoadInt64(a), LoadInt64(b))
	case TypeLargeInt:
		return LoadInt128(a).Cmp(LoadInt128(b))
	case TypeFloat:
		return cmpOrdered(LoadFloat32(a), LoadFloat32(b))
	case TypeDouble:
		return cmpOrdered(LoadFloat64(a), LoadFloat64(b))
	default:
		return cmpBytes(a, b)
	}
}

func cmpOrdered[T int8 | int16 | int32 | int64 | float32 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Little-endian load/store helpers. binary.LittleEndian is alignment-safe.

func LoadInt16(b []byte) int16  { return int16(binary.LittleEndian.Uint16(b)) }
func LoadInt32(b []byte) int32  { return int32(binary.LittleEndian.Uint32(b)) }
func LoadInt64(b []byte) int64  { return int64(binary.LittleEndian.Uint64(b)) }
func LoadFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
func LoadFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func StoreInt16(b []byte, v int16) { binary.LittleEndian.PutUint16(b, uint16(v)) }
func StoreInt32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func StoreInt64(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) }
func StoreFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
func StoreFloat64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}
