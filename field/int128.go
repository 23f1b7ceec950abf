package field

import "encoding/binary"

// Int128 is a signed 128-bit integer stored as two 64-bit halves.
// Cells hold it as 16 little-endian bytes; always go through LoadInt128 and
// Store because the cell bytes are not guaranteed to be aligned.
type Int128 struct {
	Lo uint64
	Hi int64
}

// Int128FromInt64 sign-extends a 64-bit value.
func Int128FromInt64(v int64) Int128 {
	hi := int64(0)
	if v < 0 {
		hi = -1
	}
	return Int128{Lo: uint64(v), Hi: hi}
}

// LoadInt128 reads 16 little-endian bytes.
func LoadInt128(b []byte) Int128 {
	return Int128{
		Lo: binary.LittleEndian.Uint64(b),
		Hi: int64(binary.LittleEndian.Uint64(b[8:])),
	}
}

// Store writes 16 little-endian bytes.
func (x Int128) Store(b []byte) {
	binary.LittleEndian.PutUint64(b, x.Lo)
	binary.LittleEndian.PutUint64(b[8:], uint64(x.Hi))
}

// Cmp returns -1, 0 or 1.
func (x Int128) Cmp(y Int128) int {
	if x.Hi != y.Hi {
		if x.Hi < y.Hi {
			return -1
		}
		return 1
	}
	if x.Lo != y.Lo {
		if x.Lo < y.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// Add returns x+y with wraparound semantics, matching native integer
// arithmetic of the narrower types.
func (x Int128) Add(y Int128) Int128 {
	lo := x.Lo + y.Lo
	carry := int64(0)
	if lo < x.Lo {
		carry = 1
	}
	return Int128{Lo: lo, Hi: x.Hi + y.Hi + carry}
}

// Int64 truncates to the low 64 bits.
func (x Int128) Int64() int64 { return int64(x.Lo) }
