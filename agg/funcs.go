package agg

import (
	"github.com/hupe1980/olapgo/field"
	"github.com/hupe1980/olapgo/internal/arena"
)

// number covers the fixed-width types that share the generic MIN/MAX/SUM
// implementations. LargeInt is handled separately: its 16 stored bytes may
// not satisfy natural alignment, so it goes through explicit byte copies
// into an Int128.
type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

type codecFns[T number] struct {
	load  func([]byte) T
	store func([]byte, T)
}

func loadInt8(b []byte) int8     { return int8(b[0]) }
func storeInt8(b []byte, v int8) { b[0] = byte(v) }

func minUpdate[T number](c codecFns[T]) UpdateFunc {
	return func(dst, src *field.Cell, _ *arena.Arena) {
		if src.IsNull() {
			return
		}
		sv := c.load(src.Bytes())
		if dst.IsNull() || sv < c.load(dst.Bytes()) {
			dst.SetIsNull(false)
			c.store(dst.MutableBytes(), sv)
		}
	}
}

func maxUpdate[T number](c codecFns[T]) UpdateFunc {
	return func(dst, src *field.Cell, _ *arena.Arena) {
		if src.IsNull() {
			return
		}
		sv := c.load(src.Bytes())
		if dst.IsNull() || sv > c.load(dst.Bytes()) {
			dst.SetIsNull(false)
			c.store(dst.MutableBytes(), sv)
		}
	}
}

// sumUpdate wraps per native arithmetic; no overflow checking.
func sumUpdate[T number](c codecFns[T]) UpdateFunc {
	return func(dst, src *field.Cell, _ *arena.Arena) {
		if src.IsNull() {
			return
		}
		sv := c.load(src.Bytes())
		if dst.IsNull() {
			dst.SetIsNull(false)
			c.store(dst.MutableBytes(), sv)
			return
		}
		c.store(dst.MutableBytes(), c.load(dst.Bytes())+sv)
	}
}

func minLargeInt(dst, src *field.Cell, _ *arena.Arena) {
	if src.IsNull() {
		return
	}
	sv := field.LoadInt128(src.Bytes())
	if dst.IsNull() || sv.Cmp(field.LoadInt128(dst.Bytes())) < 0 {
		dst.SetIsNull(false)
		sv.Store(dst.MutableBytes())
	}
}

func maxLargeInt(dst, src *field.Cell, _ *arena.Arena) {
	if src.IsNull() {
		return
	}
	sv := field.LoadInt128(src.Bytes())
	if dst.IsNull() || sv.Cmp(field.LoadInt128(dst.Bytes())) > 0 {
		dst.SetIsNull(false)
		sv.Store(dst.MutableBytes())
	}
}

func sumLargeInt(dst, src *field.Cell, _ *arena.Arena) {
	if src.IsNull() {
		return
	}
	sv := field.LoadInt128(src.Bytes())
	if dst.IsNull() {
		dst.SetIsNull(false)
		sv.Store(dst.MutableBytes())
		return
	}
	field.LoadInt128(dst.Bytes()).Add(sv).Store(dst.MutableBytes())
}

func registerNumeric(m Method) {
	i8 := codecFns[int8]{load: loadInt8, store: storeInt8}
	i16 := codecFns[int16]{load: field.LoadInt16, store: field.StoreInt16}
	i32 := codecFns[int32]{load: field.LoadInt32, store: field.StoreInt32}
	i64 := codecFns[int64]{load: field.LoadInt64, store: field.StoreInt64}
	f32 := codecFns[float32]{load: field.LoadFloat32, store: field.StoreFloat32}
	f64 := codecFns[float64]{load: field.LoadFloat64, store: field.StoreFloat64}

	switch m {
	case MethodMin:
		register(m, field.TypeTinyInt, funcs{update: minUpdate(i8)})
		register(m, field.TypeSmallInt, funcs{update: minUpdate(i16)})
		register(m, field.TypeInt, funcs{update: minUpdate(i32)})
		register(m, field.TypeBigInt, funcs{update: minUpdate(i64)})
		register(m, field.TypeFloat, funcs{update: minUpdate(f32)})
		register(m, field.TypeDouble, funcs{update: minUpdate(f64)})
		register(m, field.TypeLargeInt, funcs{update: minLargeInt})
	case MethodMax:
		register(m, field.TypeTinyInt, funcs{update: maxUpdate(i8)})
		register(m, field.TypeSmallInt, funcs{update: maxUpdate(i16)})
		register(m, field.TypeInt, funcs{update: maxUpdate(i32)})
		register(m, field.TypeBigInt, funcs{update: maxUpdate(i64)})
		register(m, field.TypeFloat, funcs{update: maxUpdate(f32)})
		register(m, field.TypeDouble, funcs{update: maxUpdate(f64)})
		register(m, field.TypeLargeInt, funcs{update: maxLargeInt})
	case MethodSum:
		register(m, field.TypeTinyInt, funcs{update: sumUpdate(i8)})
		register(m, field.TypeSmallInt, funcs{update: sumUpdate(i16)})
		register(m, field.TypeInt, funcs{update: sumUpdate(i32)})
		register(m, field.TypeBigInt, funcs{update: sumUpdate(i64)})
		register(m, field.TypeFloat, funcs{update: sumUpdate(f32)})
		register(m, field.TypeDouble, funcs{update: sumUpdate(f64)})
		register(m, field.TypeLargeInt, funcs{update: sumLargeInt})
	}
}

// replaceFixedUpdate overwrites the destination with the source, including
// the null flag: last write wins in row-processing order.
func replaceFixedUpdate(t field.Type) UpdateFunc {
	size := t.Size()
	return func(dst, src *field.Cell, _ *arena.Arena) {
		srcNull := src.IsNull()
		dst.SetIsNull(srcNull)
		if !srcNull {
			copy(dst.MutableBytes()[:size], src.Bytes()[:size])
		}
	}
}

// replaceSliceUpdate overwrites a variable-length destination. The existing
// destination buffer is reused when it is large enough; otherwise a new
// buffer comes from the arena. When no arena is supplied, the copy is
// truncated to the existing buffer's capacity (the forced no-allocation path
// used when finalize-time reallocation is disallowed); the recorded length
// always reflects the bytes actually written.
func replaceSliceUpdate(dst, src *field.Cell, a *arena.Arena) {
	dstNull := dst.IsNull()
	srcNull := src.IsNull()
	dst.SetIsNull(srcNull)
	if srcNull {
		return
	}

	d, s := dst.Slice(), src.Slice()
	switch {
	case !dstNull && d.Size() >= s.Size():
		d.Data = d.Data[:s.Size()]
		copy(d.Data, s.Data)
	case a == nil:
		n := copy(d.Data[:cap(d.Data)], s.Data)
		d.Data = d.Data[:n]
	default:
		d.Data = a.Copy(s.Data)
	}
}
