package rowset

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGroup(t *testing.T, dir string, rowsetID uint64, groupID uint32, rows []testRowData) *SegmentGroup {
	t.Helper()
	s := testSchema(t)
	w, err := newGroupWriter(fsDefault(), dir, rowsetID, groupID, s, 0)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, w.Append(testRow(s, r.ID, r.Total, r.Note)))
	}
	g, err := w.Close()
	require.NoError(t, err)
	return g
}

func TestReaderSingleGroup(t *testing.T) {
	dir := t.TempDir()
	g := buildGroup(t, dir, 1, 0, []testRowData{
		{ID: 1, Total: 10, Note: "a"},
		{ID: 2, Total: 20, Note: "b"},
	})
	loadGroups(t, []*SegmentGroup{g})

	rd, err := NewReader(testSchema(t), []*SegmentGroup{g})
	require.NoError(t, err)
	defer rd.Close()

	rows := drainReader(t, rd)
	assert.Equal(t, []testRowData{
		{ID: 1, Total: 10, Note: "a"},
		{ID: 2, Total: 20, Note: "b"},
	}, rows)

	_, err = rd.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderMergesAcrossGroups(t *testing.T) {
	dir := t.TempDir()
	g0 := buildGroup(t, dir, 1, 0, []testRowData{
		{ID: 1, Total: 10, Note: "old"},
		{ID: 3, Total: 30, Note: "only-g0"},
	})
	g1 := buildGroup(t, dir, 1, 1, []testRowData{
		{ID: 1, Total: 5, Note: "new"},
		{ID: 2, Total: 20, Note: "only-g1"},
	})
	loadGroups(t, []*SegmentGroup{g0, g1})

	rd, err := NewReader(testSchema(t), []*SegmentGroup{g0, g1})
	require.NoError(t, err)
	defer rd.Close()

	rows := drainReader(t, rd)
	// SUM folds both groups; REPLACE takes the later group in slice order.
	assert.Equal(t, []testRowData{
		{ID: 1, Total: 15, Note: "new"},
		{ID: 2, Total: 20, Note: "only-g1"},
		{ID: 3, Total: 30, Note: "only-g0"},
	}, rows)
}

func TestReaderRowValidUntilNext(t *testing.T) {
	dir := t.TempDir()
	g := buildGroup(t, dir, 1, 0, []testRowData{
		{ID: 1, Total: 1, Note: "one"},
		{ID: 2, Total: 2, Note: "two"},
	})
	loadGroups(t, []*SegmentGroup{g})

	rd, err := NewReader(testSchema(t), []*SegmentGroup{g})
	require.NoError(t, err)
	defer rd.Close()

	r1, err := rd.Next()
	require.NoError(t, err)
	first := rowData(t, r1)

	r2, err := rd.Next()
	require.NoError(t, err)
	second := rowData(t, r2)

	assert.Equal(t, testRowData{ID: 1, Total: 1, Note: "one"}, first)
	assert.Equal(t, testRowData{ID: 2, Total: 2, Note: "two"}, second)
	// The reader hands out the same row object each time.
	assert.Same(t, r1, r2)
}

func TestReaderSkipsDeletedRows(t *testing.T) {
	dir := t.TempDir()
	s := testSchema(t)
	w, err := newGroupWriter(fsDefault(), dir, 1, 0, s, 0)
	require.NoError(t, err)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, w.Append(testRow(s, i, i, "n")))
	}
	w.MarkDeleted(1)
	w.MarkDeleted(3)
	g, err := w.Close()
	require.NoError(t, err)

	loadGroups(t, []*SegmentGroup{g})
	assert.Equal(t, uint64(5), g.RowCount())
	assert.Equal(t, uint64(3), g.LiveRowCount())
	assert.True(t, g.Deleted(1))
	assert.False(t, g.Deleted(2))

	rd, err := NewReader(s, []*SegmentGroup{g})
	require.NoError(t, err)
	defer rd.Close()

	var ids []int64
	for _, r := range drainReader(t, rd) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{0, 2, 4}, ids)
}

func TestReaderMultiBlock(t *testing.T) {
	dir := t.TempDir()
	s := testSchema(t)
	w, err := newGroupWriter(fsDefault(), dir, 1, 0, s, 3)
	require.NoError(t, err)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, w.Append(testRow(s, i, i, "n")))
	}
	g, err := w.Close()
	require.NoError(t, err)
	loadGroups(t, []*SegmentGroup{g})

	// 10 rows at 3 per block: 4 index entries.
	assert.Equal(t, 4, g.blockCount())

	rd, err := NewReader(s, []*SegmentGroup{g})
	require.NoError(t, err)
	defer rd.Close()
	assert.Len(t, drainReader(t, rd), 10)
}

func TestReaderRequiresLoadedGroups(t *testing.T) {
	dir := t.TempDir()
	g := buildGroup(t, dir, 1, 0, []testRowData{{ID: 1, Total: 1, Note: "a"}})

	_, err := NewReader(testSchema(t), []*SegmentGroup{g})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestReaderEmpty(t *testing.T) {
	rd, err := NewReader(testSchema(t), nil)
	require.NoError(t, err)
	defer rd.Close()

	_, err = rd.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderClose(t *testing.T) {
	dir := t.TempDir()
	g := buildGroup(t, dir, 1, 0, []testRowData{{ID: 1, Total: 1, Note: "a"}})
	loadGroups(t, []*SegmentGroup{g})

	rd, err := NewReader(testSchema(t), []*SegmentGroup{g})
	require.NoError(t, err)

	rd.Close()
	rd.Close() // idempotent

	_, err = rd.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderOnDrain(t *testing.T) {
	dir := t.TempDir()
	g := buildGroup(t, dir, 1, 0, []testRowData{
		{ID: 1, Total: 10, Note: "a"},
		{ID: 2, Total: 20, Note: "b"},
	})
	loadGroups(t, []*SegmentGroup{g})

	t.Run("fires once at EOF", func(t *testing.T) {
		rd, err := NewReader(testSchema(t), []*SegmentGroup{g})
		require.NoError(t, err)
		defer rd.Close()

		var calls int
		var gotRows uint64
		rd.OnDrain(func(rows uint64, err error) {
			calls++
			gotRows = rows
			assert.NoError(t, err)
		})

		drainReader(t, rd)
		_, err = rd.Next()
		assert.Equal(t, io.EOF, err)
		rd.Close()

		assert.Equal(t, 1, calls)
		assert.Equal(t, uint64(2), gotRows)
	})

	t.Run("fires on early close", func(t *testing.T) {
		rd, err := NewReader(testSchema(t), []*SegmentGroup{g})
		require.NoError(t, err)

		var calls int
		var gotRows uint64
		rd.OnDrain(func(rows uint64, err error) {
			calls++
			gotRows = rows
		})

		_, err = rd.Next()
		require.NoError(t, err)
		rd.Close()

		assert.Equal(t, 1, calls)
		assert.Equal(t, uint64(1), gotRows)
	})
}
