package agg

import (
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/olapgo/field"
	"github.com/hupe1980/olapgo/hll"
	"github.com/hupe1980/olapgo/internal/arena"
)

func int64Cell(v int64) *field.Cell {
	c := field.NewCell(field.TypeBigInt)
	c.SetIsNull(false)
	field.StoreInt64(c.MutableBytes(), v)
	return c
}

func nullCell(t field.Type) *field.Cell {
	return field.NewCell(t)
}

func TestGet(t *testing.T) {
	t.Run("supported", func(t *testing.T) {
		info, err := Get(MethodSum, field.TypeBigInt)
		require.NoError(t, err)
		assert.Equal(t, MethodSum, info.Method())
	})

	t.Run("singleton", func(t *testing.T) {
		a, err := Get(MethodMin, field.TypeInt)
		require.NoError(t, err)
		b, err := Get(MethodMin, field.TypeInt)
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := Get(MethodSum, field.TypeVarchar)
		assert.ErrorIs(t, err, ErrUnsupportedAggregate)

		_, err = Get(MethodHLLUnion, field.TypeBigInt)
		assert.ErrorIs(t, err, ErrUnsupportedAggregate)

		_, err = Get(MethodReplace, field.TypeHLL)
		assert.ErrorIs(t, err, ErrUnsupportedAggregate)
	})
}

func TestSum(t *testing.T) {
	info, err := Get(MethodSum, field.TypeBigInt)
	require.NoError(t, err)

	t.Run("sequence", func(t *testing.T) {
		dst := field.NewCell(field.TypeBigInt)
		info.Init(dst, nil)
		require.True(t, dst.IsNull())

		for _, v := range []int64{5, -2, 9} {
			info.Update(dst, int64Cell(v), nil)
		}
		info.Update(dst, nullCell(field.TypeBigInt), nil)
		info.Finalize(dst, nil)

		assert.False(t, dst.IsNull())
		assert.Equal(t, int64(12), field.LoadInt64(dst.Bytes()))
	})

	t.Run("all null stays null", func(t *testing.T) {
		dst := field.NewCell(field.TypeBigInt)
		info.Init(dst, nil)
		info.Update(dst, nullCell(field.TypeBigInt), nil)
		info.Update(dst, nullCell(field.TypeBigInt), nil)
		info.Finalize(dst, nil)
		assert.True(t, dst.IsNull())
	})

	t.Run("wraparound", func(t *testing.T) {
		dst := field.NewCell(field.TypeBigInt)
		info.Init(dst, nil)
		info.Update(dst, int64Cell(1<<62), nil)
		info.Update(dst, int64Cell(1<<62), nil)
		info.Update(dst, int64Cell(1<<62), nil)
		info.Update(dst, int64Cell(1<<62), nil)
		assert.Equal(t, int64(0), field.LoadInt64(dst.Bytes()))
	})
}

func TestMinMax(t *testing.T) {
	vals := []any{int64(5), nil, int64(2), int64(9)}

	run := func(t *testing.T, m Method, want int64) {
		info, err := Get(m, field.TypeBigInt)
		require.NoError(t, err)

		dst := field.NewCell(field.TypeBigInt)
		info.Init(dst, nil)
		for _, v := range vals {
			if v == nil {
				info.Update(dst, nullCell(field.TypeBigInt), nil)
			} else {
				info.Update(dst, int64Cell(v.(int64)), nil)
			}
		}
		info.Finalize(dst, nil)
		require.False(t, dst.IsNull())
		assert.Equal(t, want, field.LoadInt64(dst.Bytes()))
	}

	t.Run("min", func(t *testing.T) { run(t, MethodMin, 2) })
	t.Run("max", func(t *testing.T) { run(t, MethodMax, 9) })
}

func TestSumLargeInt(t *testing.T) {
	info, err := Get(MethodSum, field.TypeLargeInt)
	require.NoError(t, err)

	mk := func(v int64) *field.Cell {
		c := field.NewCell(field.TypeLargeInt)
		c.SetIsNull(false)
		field.Int128FromInt64(v).Store(c.MutableBytes())
		return c
	}

	dst := field.NewCell(field.TypeLargeInt)
	info.Init(dst, nil)
	info.Update(dst, mk(-3), nil)
	info.Update(dst, mk(10), nil)
	info.Finalize(dst, nil)

	assert.Equal(t, 0, field.LoadInt128(dst.Bytes()).Cmp(field.Int128FromInt64(7)))
}

func TestReplaceFixed(t *testing.T) {
	info, err := Get(MethodReplace, field.TypeBigInt)
	require.NoError(t, err)

	dst := field.NewCell(field.TypeBigInt)
	info.Init(dst, nil)

	info.Update(dst, int64Cell(1), nil)
	info.Update(dst, int64Cell(2), nil)
	info.Update(dst, int64Cell(3), nil)
	assert.Equal(t, int64(3), field.LoadInt64(dst.Bytes()))

	// A null source wins too: last write carries its null flag.
	info.Update(dst, nullCell(field.TypeBigInt), nil)
	assert.True(t, dst.IsNull())

	info.Update(dst, int64Cell(4), nil)
	info.Finalize(dst, nil)
	assert.False(t, dst.IsNull())
	assert.Equal(t, int64(4), field.LoadInt64(dst.Bytes()))
}

func TestReplaceSlice(t *testing.T) {
	info, err := Get(MethodReplace, field.TypeVarchar)
	require.NoError(t, err)

	mk := func(s string) *field.Cell {
		c := field.NewCell(field.TypeVarchar)
		c.SetIsNull(false)
		c.SetSlice([]byte(s))
		return c
	}

	t.Run("shrinks in place", func(t *testing.T) {
		ar := arena.New()
		defer ar.Free()

		dst := field.NewCell(field.TypeVarchar)
		info.Init(dst, ar)
		info.Update(dst, mk("longer-value"), ar)
		backing := &dst.Slice().Data[0]
		info.Update(dst, mk("short"), ar)

		assert.Equal(t, []byte("short"), dst.Slice().Data)
		assert.Same(t, backing, &dst.Slice().Data[0])
	})

	t.Run("grows via arena", func(t *testing.T) {
		ar := arena.New()
		defer ar.Free()

		dst := field.NewCell(field.TypeVarchar)
		info.Init(dst, ar)
		info.Update(dst, mk("ab"), ar)
		info.Update(dst, mk("a much longer value"), ar)
		info.Finalize(dst, ar)

		assert.Equal(t, []byte("a much longer value"), dst.Slice().Data)
	})

	t.Run("no arena truncates", func(t *testing.T) {
		dst := field.NewCell(field.TypeVarchar)
		info.Init(dst, nil)
		dst.SetIsNull(false)
		dst.SetSlice(make([]byte, 4))

		info.Update(dst, mk("abcdefgh"), nil)

		// Recorded length reflects the bytes actually written.
		assert.Equal(t, []byte("abcd"), dst.Slice().Data)
	})

	t.Run("null wins", func(t *testing.T) {
		ar := arena.New()
		defer ar.Free()

		dst := field.NewCell(field.TypeVarchar)
		info.Init(dst, ar)
		info.Update(dst, mk("x"), ar)
		info.Update(dst, nullCell(field.TypeVarchar), ar)
		assert.True(t, dst.IsNull())
	})
}

func TestHLLUnion(t *testing.T) {
	info, err := Get(MethodHLLUnion, field.TypeHLL)
	require.NoError(t, err)

	sketch := func(lo, hi int) []byte {
		ctx := hll.NewContext()
		h := fnv.New64a()
		for i := lo; i < hi; i++ {
			h.Reset()
			_, _ = h.Write([]byte{byte(i), byte(i >> 8), byte(i >> 16)})
			ctx.AddHash(h.Sum64())
		}
		return ctx.Serialize(nil)
	}

	mk := func(data []byte) *field.Cell {
		c := field.NewCell(field.TypeHLL)
		c.SetIsNull(false)
		c.SetSlice(data)
		return c
	}

	ar := arena.New()
	defer ar.Free()

	dst := field.NewCell(field.TypeHLL)
	info.Init(dst, ar)
	require.False(t, dst.IsNull())

	info.Update(dst, mk(sketch(0, 60)), ar)
	info.Update(dst, mk(sketch(40, 100)), ar)
	info.Update(dst, nullCell(field.TypeHLL), ar)
	info.Finalize(dst, ar)

	require.Nil(t, dst.Aux)

	got, err := hll.EstimateSerialized(dst.Slice().Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got)
}
