package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	t.Run("signed integers", func(t *testing.T) {
		a := make([]byte, 8)
		b := make([]byte, 8)
		StoreInt64(a, -5)
		StoreInt64(b, 3)
		assert.Equal(t, -1, TypeBigInt.Compare(a, b))
		assert.Equal(t, 1, TypeBigInt.Compare(b, a))
		assert.Equal(t, 0, TypeBigInt.Compare(a, a))
	})

	t.Run("floats", func(t *testing.T) {
		a := make([]byte, 8)
		b := make([]byte, 8)
		StoreFloat64(a, 1.25)
		StoreFloat64(b, 1.5)
		assert.Equal(t, -1, TypeDouble.Compare(a, b))
	})

	t.Run("bytes", func(t *testing.T) {
		assert.Equal(t, -1, TypeVarchar.Compare([]byte("abc"), []byte("abd")))
		assert.Equal(t, -1, TypeVarchar.Compare([]byte("ab"), []byte("abc")))
		assert.Equal(t, 0, TypeVarchar.Compare([]byte("ab"), []byte("ab")))
	})
}

func TestLoadStoreUnaligned(t *testing.T) {
	// Payloads inside row buffers start at odd offsets; load/store must not
	// rely on alignment.
	buf := make([]byte, 17)
	StoreInt64(buf[1:], -123456789)
	assert.Equal(t, int64(-123456789), LoadInt64(buf[1:]))

	StoreFloat32(buf[3:], 2.5)
	assert.Equal(t, float32(2.5), LoadFloat32(buf[3:]))
}

func TestInt128(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		buf := make([]byte, 16)
		v := Int128FromInt64(-42)
		v.Store(buf)
		got := LoadInt128(buf)
		assert.Equal(t, 0, got.Cmp(v))
		assert.Equal(t, int64(-42), got.Int64())
	})

	t.Run("ordering", func(t *testing.T) {
		neg := Int128FromInt64(-1)
		zero := Int128FromInt64(0)
		pos := Int128FromInt64(1)
		assert.Equal(t, -1, neg.Cmp(zero))
		assert.Equal(t, -1, zero.Cmp(pos))
		assert.Equal(t, 1, pos.Cmp(neg))
	})

	t.Run("add with carry", func(t *testing.T) {
		// Lo overflow must carry into Hi.
		a := Int128{Lo: ^uint64(0), Hi: 0}
		sum := a.Add(Int128FromInt64(1))
		assert.Equal(t, uint64(0), sum.Lo)
		assert.Equal(t, int64(1), sum.Hi)
	})

	t.Run("sum of negatives", func(t *testing.T) {
		sum := Int128FromInt64(-3).Add(Int128FromInt64(-4))
		assert.Equal(t, int64(-7), sum.Int64())
	})
}

func TestCellNullFlag(t *testing.T) {
	c := NewCell(TypeInt)
	require.True(t, c.IsNull())

	c.SetIsNull(false)
	StoreInt32(c.MutableBytes(), 7)
	assert.False(t, c.IsNull())
	assert.Equal(t, int32(7), LoadInt32(c.Bytes()))
}

func TestCellSlice(t *testing.T) {
	c := NewCell(TypeVarchar)
	require.NotNil(t, c.Slice())

	c.SetIsNull(false)
	c.SetSlice([]byte("hello"))
	assert.Equal(t, 5, c.Slice().Size())
	assert.Equal(t, []byte("hello"), c.Slice().Data)
}
