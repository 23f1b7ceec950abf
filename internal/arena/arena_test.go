package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocBytes(t *testing.T) {
	a := New(WithChunkSize(128))
	defer a.Free()

	b1 := a.AllocBytes(16)
	require.Len(t, b1, 16)
	for _, v := range b1 {
		assert.Zero(t, v)
	}

	// Consecutive allocations from one chunk must not alias.
	b2 := a.AllocBytes(16)
	copy(b1, "aaaaaaaaaaaaaaaa")
	for _, v := range b2 {
		assert.Zero(t, v)
	}

	// Full-length check: appending to a handed-out slice must not grow into
	// the neighbour's bytes.
	assert.Equal(t, 16, cap(b1))
}

func TestAllocZero(t *testing.T) {
	a := New()
	assert.Nil(t, a.AllocBytes(0))
	assert.Nil(t, a.AllocBytes(-1))
	assert.Zero(t, a.Stats().TotalAllocs)
}

func TestOversized(t *testing.T) {
	a := New(WithChunkSize(64))
	defer a.Free()

	big := a.AllocBytes(1000)
	require.Len(t, big, 1000)
	assert.Equal(t, uint64(1), a.Stats().ChunksAllocated)

	// A small allocation after an oversized one opens a normal chunk.
	small := a.AllocBytes(8)
	require.Len(t, small, 8)
	assert.Equal(t, uint64(2), a.Stats().ChunksAllocated)
}

func TestCopy(t *testing.T) {
	a := New()
	defer a.Free()

	src := []byte("hello")
	dup := a.Copy(src)
	assert.Equal(t, src, dup)

	src[0] = 'X'
	assert.Equal(t, byte('h'), dup[0])
}

func TestReset(t *testing.T) {
	a := New(WithChunkSize(64))
	defer a.Free()

	for i := 0; i < 10; i++ {
		a.AllocBytes(40)
	}
	require.Greater(t, a.Stats().ChunksAllocated, uint64(1))

	a.Reset()
	assert.Zero(t, a.Stats().BytesUsed)

	// The retained chunk serves post-reset allocations without growing the
	// reservation.
	reserved := a.Stats().BytesReserved
	a.AllocBytes(40)
	assert.Equal(t, reserved, a.Stats().BytesReserved)
}

func TestFree(t *testing.T) {
	a := New()
	a.AllocBytes(100)
	a.Free()
	assert.Zero(t, a.Stats().BytesReserved)
	assert.Zero(t, a.Stats().BytesUsed)
}
