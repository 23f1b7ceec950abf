package hll

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashOf mixes i through a splitmix64 finalizer. Register selection uses the
// low bits of the hash, so test inputs need full avalanche.
func hashOf(i int) uint64 {
	x := uint64(i) + 0x9e3779b97f4a7c15
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

func TestExplicitExact(t *testing.T) {
	c := NewContext()
	for i := 0; i < 10; i++ {
		c.AddHash(hashOf(i))
	}
	// Duplicates must not inflate the explicit set.
	for i := 0; i < 10; i++ {
		c.AddHash(hashOf(i))
	}
	assert.Equal(t, uint64(10), c.Estimate())
}

func TestSerializeFormats(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		c := NewContext()
		out := c.Serialize(nil)
		require.Len(t, out, 1)
		assert.Equal(t, FormatEmpty, Format(out[0]))
		assert.Equal(t, len(out), c.SerializedLen())
	})

	t.Run("explicit", func(t *testing.T) {
		c := NewContext()
		for i := 0; i < 20; i++ {
			c.AddHash(hashOf(i))
		}
		out := c.Serialize(nil)
		require.Equal(t, FormatExplicit, Format(out[0]))
		assert.Equal(t, byte(20), out[1])
		assert.Len(t, out, 2+20*8)
		assert.Equal(t, len(out), c.SerializedLen())
	})

	t.Run("sparse after explicit overflow", func(t *testing.T) {
		c := NewContext()
		for i := 0; i < ExplicitInt64Count+1; i++ {
			c.AddHash(hashOf(i))
		}
		out := c.Serialize(nil)
		assert.Equal(t, FormatSparse, Format(out[0]))
	})

	t.Run("full when sparse would exceed budget", func(t *testing.T) {
		c := NewContext()
		// Enough distinct hashes to populate well past the sparse cutoff
		// of (ColumnDefaultLen-sparseHeaderLen)/sparsePairLen registers.
		for i := 0; i < 4*RegistersCount; i++ {
			c.AddHash(hashOf(i))
		}
		out := c.Serialize(nil)
		require.Equal(t, FormatFull, Format(out[0]))
		assert.Len(t, out, 1+RegistersCount)
	})
}

func TestSerializedLenMatchesSerialize(t *testing.T) {
	for _, n := range []int{0, 1, ExplicitInt64Count, ExplicitInt64Count + 5, 5000} {
		c := NewContext()
		for i := 0; i < n; i++ {
			c.AddHash(hashOf(i))
		}
		want := c.SerializedLen()
		assert.Len(t, c.Serialize(nil), want, "n=%d", n)
	}
}

func TestMergeRoundTrip(t *testing.T) {
	a := NewContext()
	for i := 0; i < 50; i++ {
		a.AddHash(hashOf(i))
	}
	b := NewContext()
	for i := 25; i < 80; i++ {
		b.AddHash(hashOf(i))
	}

	merged := NewContext()
	require.NoError(t, merged.Merge(a.Serialize(nil)))
	require.NoError(t, merged.Merge(b.Serialize(nil)))

	// Both inputs were explicit, so the union stays exact.
	assert.Equal(t, uint64(80), merged.Estimate())
}

func TestMergeRegisterForms(t *testing.T) {
	const n = 20000
	a := NewContext()
	for i := 0; i < n; i++ {
		a.AddHash(hashOf(i))
	}
	blob := a.Serialize(nil)

	got, err := EstimateSerialized(blob)
	require.NoError(t, err)

	// Standard error for p=14 is about 0.81%; allow 5%.
	assert.InDelta(t, float64(n), float64(got), 0.05*n)
	assert.InDelta(t, float64(n), float64(a.Estimate()), 0.05*n)
}

func TestMergeExplicitIntoRegisters(t *testing.T) {
	big := NewContext()
	for i := 0; i < 2*ExplicitInt64Count; i++ {
		big.AddHash(hashOf(i))
	}
	blob := big.Serialize(nil)

	c := NewContext()
	c.AddHash(hashOf(1_000_000))
	require.NoError(t, c.Merge(blob))

	est := float64(c.Estimate())
	assert.InDelta(t, float64(2*ExplicitInt64Count+1), est, math.Ceil(0.10*est)+5)
}

func TestMergeCorrupt(t *testing.T) {
	c := NewContext()
	assert.Error(t, c.Merge([]byte{byte(FormatExplicit)}))
	assert.Error(t, c.Merge([]byte{byte(FormatExplicit), 10, 0, 0}))
	assert.Error(t, c.Merge([]byte{byte(FormatSparse), 1, 0}))
	assert.Error(t, c.Merge([]byte{byte(FormatFull), 1, 2, 3}))
	assert.Error(t, c.Merge([]byte{0xFF}))
	assert.NoError(t, c.Merge(nil))
	assert.NoError(t, c.Merge([]byte{byte(FormatEmpty)}))
}
