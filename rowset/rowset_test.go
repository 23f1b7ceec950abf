package rowset

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/olapgo/agg"
	"github.com/hupe1980/olapgo/field"
	"github.com/hupe1980/olapgo/internal/fs"
)

// testSchema is the layout most tests share: one key column, one SUM column
// and one REPLACE column.
func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]Column{
		{Name: "id", Type: field.TypeBigInt, IsKey: true},
		{Name: "total", Type: field.TypeBigInt, Method: agg.MethodSum},
		{Name: "note", Type: field.TypeVarchar, Method: agg.MethodReplace},
	})
	require.NoError(t, err)
	return s
}

func testRow(s *Schema, id, total int64, note string) *Row {
	r := s.NewRow()
	r.Cells[0].SetIsNull(false)
	field.StoreInt64(r.Cells[0].MutableBytes(), id)
	r.Cells[1].SetIsNull(false)
	field.StoreInt64(r.Cells[1].MutableBytes(), total)
	r.Cells[2].SetIsNull(false)
	r.Cells[2].SetSlice([]byte(note))
	return r
}

type testRowData struct {
	ID    int64
	Total int64
	Note  string
}

func rowData(t *testing.T, r *Row) testRowData {
	t.Helper()
	require.False(t, r.Cells[0].IsNull())
	d := testRowData{ID: field.LoadInt64(r.Cells[0].Bytes())}
	if !r.Cells[1].IsNull() {
		d.Total = field.LoadInt64(r.Cells[1].Bytes())
	}
	if !r.Cells[2].IsNull() {
		d.Note = string(r.Cells[2].Slice().Data)
	}
	return d
}

func drainReader(t *testing.T, rd *Reader) []testRowData {
	t.Helper()
	var out []testRowData
	for {
		r, err := rd.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, rowData(t, r))
	}
	return out
}

// buildTestRowset writes n distinct keys 0..n-1 with total=id*10 and
// note "note-<id>" into dir and returns the builder output.
func buildTestRowset(t *testing.T, dir string, rowsetID uint64, n int, opts ...BuilderOption) (*Meta, []*SegmentGroup) {
	t.Helper()
	s := testSchema(t)
	b, err := NewBuilder(dir, 7, rowsetID, s, opts...)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, b.AddRow(testRow(s, int64(i), int64(i)*10, noteFor(i))))
	}
	meta, groups, err := b.Finish()
	require.NoError(t, err)
	return meta, groups
}

func noteFor(i int) string {
	return "note-" + string(rune('a'+i%26))
}

func fsDefault() fs.FileSystem { return fs.Default }

func loadGroups(t *testing.T, groups []*SegmentGroup) {
	t.Helper()
	for _, g := range groups {
		require.NoError(t, g.load(context.Background(), fs.Default, nil, nil, false))
	}
}

func int64Key(v int64) Key {
	buf := make([]byte, 8)
	field.StoreInt64(buf, v)
	return Key{buf}
}
