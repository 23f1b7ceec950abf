package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New(1024)

	k := Key{RowsetID: 1, GroupID: 0, Kind: KindData}
	_, ok := c.Get(k)
	require.False(t, ok)

	c.Set(k, []byte("payload"))
	got, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
	assert.Equal(t, int64(7), c.Size())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestReplace(t *testing.T) {
	c := New(1024)
	k := Key{RowsetID: 1}
	c.Set(k, make([]byte, 100))
	c.Set(k, make([]byte, 40))
	assert.Equal(t, int64(40), c.Size())
}

func TestEvictionLRU(t *testing.T) {
	c := New(30)
	a := Key{RowsetID: 1, GroupID: 0, Kind: KindData}
	b := Key{RowsetID: 1, GroupID: 1, Kind: KindData}
	d := Key{RowsetID: 1, GroupID: 2, Kind: KindData}

	c.Set(a, make([]byte, 10))
	c.Set(b, make([]byte, 10))

	// Touch a so b becomes the LRU victim.
	_, ok := c.Get(a)
	require.True(t, ok)

	c.Set(d, make([]byte, 15))

	_, ok = c.Get(a)
	assert.True(t, ok)
	_, ok = c.Get(b)
	assert.False(t, ok)
	_, ok = c.Get(d)
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Size(), int64(30))
}

func TestEvictRowset(t *testing.T) {
	c := New(0) // unbounded

	c.Set(Key{RowsetID: 1, GroupID: 0, Kind: KindData}, make([]byte, 10))
	c.Set(Key{RowsetID: 1, GroupID: 0, Kind: KindIndex}, make([]byte, 5))
	c.Set(Key{RowsetID: 2, GroupID: 0, Kind: KindData}, make([]byte, 20))

	c.Evict(1)

	_, ok := c.Get(Key{RowsetID: 1, GroupID: 0, Kind: KindData})
	assert.False(t, ok)
	_, ok = c.Get(Key{RowsetID: 1, GroupID: 0, Kind: KindIndex})
	assert.False(t, ok)
	_, ok = c.Get(Key{RowsetID: 2, GroupID: 0, Kind: KindData})
	assert.True(t, ok)
	assert.Equal(t, int64(20), c.Size())
}
