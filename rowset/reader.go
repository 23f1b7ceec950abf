package rowset

import (
	"container/heap"
	"io"

	"github.com/hupe1980/olapgo/agg"
	"github.com/hupe1980/olapgo/field"
	"github.com/hupe1980/olapgo/internal/arena"
)

// groupIter walks one loaded segment group in key order, skipping rows
// marked deleted.
type groupIter struct {
	schema *Schema
	g      *SegmentGroup
	seq    int

	block     int
	raw       []byte
	off       int
	ordinal   uint32
	remaining uint32

	row *Row
	key Key
}

func newGroupIter(schema *Schema, g *SegmentGroup, seq int) *groupIter {
	return &groupIter{schema: schema, g: g, seq: seq, row: schema.NewRow()}
}

// next advances to the following live row. It returns false when the group
// is exhausted.
func (it *groupIter) next() (bool, error) {
	for {
		for it.remaining == 0 {
			if it.block >= it.g.blockCount() {
				return false, nil
			}
			raw, err := it.g.decodeBlock(it.block)
			if err != nil {
				return false, err
			}
			e := it.g.entries[it.block]
			it.raw = raw
			it.off = 0
			it.ordinal = e.firstOrdinal
			it.remaining = e.rowCount
			it.block++
		}

		n, err := it.schema.decodeRow(it.raw[it.off:], it.row)
		if err != nil {
			return false, err
		}
		it.off += n
		ordinal := it.ordinal
		it.ordinal++
		it.remaining--

		if it.g.Deleted(ordinal) {
			continue
		}
		it.key = it.schema.RowKey(it.row)
		return true, nil
	}
}

// iterHeap orders iterators by current key, then by sequence so that equal
// keys are consumed in group order and last-write-wins semantics favor the
// later group.
type iterHeap struct {
	schema *Schema
	iters  []*groupIter
}

func (h *iterHeap) Len() int { return len(h.iters) }

func (h *iterHeap) Less(i, j int) bool {
	a, b := h.iters[i], h.iters[j]
	if c := h.schema.CompareKeys(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

func (h *iterHeap) Swap(i, j int) { h.iters[i], h.iters[j] = h.iters[j], h.iters[i] }

func (h *iterHeap) Push(x any) { h.iters = append(h.iters, x.(*groupIter)) }

func (h *iterHeap) Pop() any {
	old := h.iters
	n := len(old)
	it := old[n-1]
	h.iters = old[:n-1]
	return it
}

// Reader merges the rows of one or more loaded segment groups in key order,
// folding rows with equal keys through each value column's merge function and
// finalizing before handing the row out.
//
// A Reader is single-goroutine; the row returned by Next is valid only until
// the following Next or Close call.
type Reader struct {
	schema *Schema
	infos  []*agg.Info
	ar     *arena.Arena
	h      *iterHeap
	out    *Row
	closed bool

	rows    uint64
	onDrain func(rows uint64, err error)
}

// NewReader builds a merge reader over the given groups. Groups appearing
// later in the slice win REPLACE conflicts, so callers pass them in ascending
// version order. Every group must be loaded.
func NewReader(schema *Schema, groups []*SegmentGroup) (*Reader, error) {
	infos := make([]*agg.Info, len(schema.Columns))
	for i, c := range schema.Columns {
		info, err := agg.Get(c.Method, c.Type)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}

	h := &iterHeap{schema: schema}
	for seq, g := range groups {
		if !g.Loaded() {
			return nil, ErrNotLoaded
		}
		it := newGroupIter(schema, g, seq)
		ok, err := it.next()
		if err != nil {
			return nil, err
		}
		if ok {
			h.iters = append(h.iters, it)
		}
	}
	heap.Init(h)

	return &Reader{
		schema: schema,
		infos:  infos,
		ar:     arena.New(),
		h:      h,
		out:    schema.NewRow(),
	}, nil
}

// OnDrain registers fn to run exactly once with the number of rows the
// reader produced: at the first terminal Next result, or on Close if the
// reader is abandoned early.
func (r *Reader) OnDrain(fn func(rows uint64, err error)) {
	r.onDrain = fn
}

func (r *Reader) finish(err error) {
	if r.onDrain == nil {
		return
	}
	fn := r.onDrain
	r.onDrain = nil
	fn(r.rows, err)
}

// Next returns the next merged row, or io.EOF after the last one.
func (r *Reader) Next() (*Row, error) {
	if r.closed {
		return nil, io.EOF
	}
	if r.h.Len() == 0 {
		r.finish(nil)
		return nil, io.EOF
	}
	r.ar.Reset()

	numKeys := r.schema.NumKeyColumns()
	it := r.h.iters[0]
	for i := 0; i < numKeys; i++ {
		r.copyCell(r.out.Cells[i], it.row.Cells[i], r.schema.Columns[i].Type)
	}
	for i := numKeys; i < len(r.schema.Columns); i++ {
		r.infos[i].Init(r.out.Cells[i], r.ar)
	}
	key := r.schema.RowKey(r.out)

	for r.h.Len() > 0 {
		it := r.h.iters[0]
		if r.schema.CompareKeys(it.key, key) != 0 {
			break
		}
		for i := numKeys; i < len(r.schema.Columns); i++ {
			r.infos[i].Merge(r.out.Cells[i], it.row.Cells[i], r.ar)
		}
		ok, err := it.next()
		if err != nil {
			r.finish(err)
			return nil, err
		}
		if ok {
			heap.Fix(r.h, 0)
		} else {
			heap.Pop(r.h)
		}
	}

	for i := numKeys; i < len(r.schema.Columns); i++ {
		r.infos[i].Finalize(r.out.Cells[i], r.ar)
	}
	r.rows++
	return r.out, nil
}

func (r *Reader) copyCell(dst, src *field.Cell, t field.Type) {
	null := src.IsNull()
	dst.SetIsNull(null)
	if null {
		return
	}
	if t.Variable() {
		dst.SetSlice(r.ar.Copy(src.Slice().Data))
	} else {
		copy(dst.MutableBytes(), src.Bytes())
	}
}

// Close releases the reader's arena. Further Next calls return io.EOF.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.finish(nil)
	r.ar.Free()
	r.h.iters = nil
}
