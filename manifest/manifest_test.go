package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/olapgo/internal/fs"
	"github.com/hupe1980/olapgo/rowset"
)

func info(id uint64, first, last int64) RowsetInfo {
	return RowsetInfo{
		RowsetID: id,
		Version:  rowset.Version{First: first, Last: last},
		Path:     "rs_x",
	}
}

func TestStoreLoadEmpty(t *testing.T) {
	s := NewStore(fs.Default, t.TempDir())
	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, m.Version)
	assert.Zero(t, m.ID)
	assert.Empty(t, m.Rowsets)
}

func TestStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(fs.Default, dir)

	m := &Manifest{TabletID: 7, NextRowsetID: 3}
	m.Add(info(1, 0, 0))
	m.Add(info(2, 1, 1))
	require.NoError(t, s.Save(m))
	assert.Equal(t, uint64(1), m.ID)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.TabletID)
	assert.Equal(t, uint64(3), got.NextRowsetID)
	assert.Len(t, got.Rowsets, 2)

	// Each save writes a new generation and repoints CURRENT.
	require.NoError(t, s.Save(got))
	assert.Equal(t, uint64(2), got.ID)

	cur, err := os.ReadFile(filepath.Join(dir, CurrentFileName))
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000002.json", string(cur))

	// The previous generation remains on disk.
	_, err = os.Stat(filepath.Join(dir, "MANIFEST-000001.json"))
	assert.NoError(t, err)
}

func TestStoreLoadRejectsBadVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MANIFEST-000001.json"), []byte(`{"version":42}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CurrentFileName), []byte("MANIFEST-000001.json"), 0644))

	_, err := NewStore(fs.Default, dir).Load()
	assert.Error(t, err)
}

func TestFrontier(t *testing.T) {
	m := &Manifest{}
	m.Add(info(1, 0, 0))
	m.Add(info(2, 1, 1))
	m.Add(info(3, 2, 2))

	t.Run("singletons", func(t *testing.T) {
		f, err := m.Frontier(2)
		require.NoError(t, err)
		require.Len(t, f, 3)
		assert.Equal(t, uint64(1), f[0].RowsetID)
		assert.Equal(t, uint64(3), f[2].RowsetID)
	})

	t.Run("partial target", func(t *testing.T) {
		f, err := m.Frontier(1)
		require.NoError(t, err)
		assert.Len(t, f, 2)
	})

	t.Run("compaction output shadows inputs", func(t *testing.T) {
		m := &Manifest{}
		m.Add(info(1, 0, 0))
		m.Add(info(2, 1, 1))
		m.Add(info(3, 2, 2))
		m.Add(info(9, 0, 1)) // compacted [0-1]

		f, err := m.Frontier(2)
		require.NoError(t, err)
		require.Len(t, f, 2)
		assert.Equal(t, uint64(9), f[0].RowsetID)
		assert.Equal(t, uint64(3), f[1].RowsetID)
	})

	t.Run("hole", func(t *testing.T) {
		m := &Manifest{}
		m.Add(info(1, 0, 0))
		m.Add(info(3, 2, 2))
		_, err := m.Frontier(2)
		assert.Error(t, err)
	})

	t.Run("beyond max", func(t *testing.T) {
		_, err := m.Frontier(10)
		assert.Error(t, err)
	})

	t.Run("negative target", func(t *testing.T) {
		_, err := m.Frontier(-1)
		assert.Error(t, err)
	})
}

func TestMaxVersion(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		m := &Manifest{}
		assert.Equal(t, int64(-1), m.MaxVersion())
	})

	t.Run("contiguous", func(t *testing.T) {
		m := &Manifest{}
		m.Add(info(1, 0, 0))
		m.Add(info(2, 1, 3))
		m.Add(info(3, 4, 4))
		assert.Equal(t, int64(4), m.MaxVersion())
	})

	t.Run("stops at hole", func(t *testing.T) {
		m := &Manifest{}
		m.Add(info(1, 0, 1))
		m.Add(info(2, 3, 3))
		assert.Equal(t, int64(1), m.MaxVersion())
	})

	t.Run("compacted plus inputs", func(t *testing.T) {
		m := &Manifest{}
		m.Add(info(1, 0, 0))
		m.Add(info(2, 1, 1))
		m.Add(info(9, 0, 1))
		assert.Equal(t, int64(1), m.MaxVersion())
	})
}

func TestReplace(t *testing.T) {
	t.Run("swaps inputs for output", func(t *testing.T) {
		m := &Manifest{}
		m.Add(info(1, 0, 0))
		m.Add(info(2, 1, 1))
		m.Add(info(3, 2, 2))

		require.NoError(t, m.Replace([]uint64{1, 2}, info(9, 0, 1)))
		require.Len(t, m.Rowsets, 2)
		assert.Equal(t, uint64(3), m.Rowsets[0].RowsetID)
		assert.Equal(t, uint64(9), m.Rowsets[1].RowsetID)

		f, err := m.Frontier(2)
		require.NoError(t, err)
		assert.Len(t, f, 2)
	})

	t.Run("missing input", func(t *testing.T) {
		m := &Manifest{}
		m.Add(info(1, 0, 0))
		err := m.Replace([]uint64{1, 2}, info(9, 0, 1))
		assert.Error(t, err)
	})

	t.Run("input outside output range", func(t *testing.T) {
		m := &Manifest{}
		m.Add(info(1, 0, 0))
		m.Add(info(2, 1, 1))
		m.Add(info(3, 2, 2))
		err := m.Replace([]uint64{1, 3}, info(9, 0, 1))
		assert.Error(t, err)
	})
}
