package rowset

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/olapgo/agg"
	"github.com/hupe1980/olapgo/field"
	"github.com/hupe1980/olapgo/internal/arena"
	"github.com/hupe1980/olapgo/internal/fs"
)

// BuilderOption configures a Builder.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	fsys            fs.FileSystem
	rowsPerBlock    int
	maxRowsPerGroup uint64
}

// WithBuilderFS overrides the file system used for writing.
func WithBuilderFS(fsys fs.FileSystem) BuilderOption {
	return func(o *builderOptions) { o.fsys = fsys }
}

// WithRowsPerBlock sets the data block granularity of the short-key index.
func WithRowsPerBlock(n int) BuilderOption {
	return func(o *builderOptions) { o.rowsPerBlock = n }
}

// WithMaxRowsPerGroup caps rows per segment group; a full group rolls over
// to a new one at the next key boundary.
func WithMaxRowsPerGroup(n uint64) BuilderOption {
	return func(o *builderOptions) { o.maxRowsPerGroup = n }
}

// Builder ingests key-ordered rows and produces a rowset on disk: segment
// group files plus the meta file. Rows sharing a key are folded into one
// output row under each value column's aggregation method.
type Builder struct {
	schema   *Schema
	dir      string
	tabletID uint64
	rowsetID uint64
	opts     builderOptions

	infos []*agg.Info
	ar    *arena.Arena

	w           *groupWriter
	groups      []*SegmentGroup
	nextGroupID uint32

	pending    *Row
	pendingKey Key
	hasPending bool
	rowCount   uint64
	closed     bool
}

// NewBuilder creates a builder writing into dir. The directory is created if
// missing.
func NewBuilder(dir string, tabletID, rowsetID uint64, schema *Schema, opts ...BuilderOption) (*Builder, error) {
	o := builderOptions{fsys: fs.Default}
	for _, opt := range opts {
		opt(&o)
	}

	infos := make([]*agg.Info, len(schema.Columns))
	for i, c := range schema.Columns {
		info, err := agg.Get(c.Method, c.Type)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}

	if err := o.fsys.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	b := &Builder{
		schema:   schema,
		dir:      dir,
		tabletID: tabletID,
		rowsetID: rowsetID,
		opts:     o,
		infos:    infos,
		ar:       arena.New(),
		pending:  schema.NewRow(),
	}
	w, err := newGroupWriter(o.fsys, dir, rowsetID, b.nextGroupID, schema, o.rowsPerBlock)
	if err != nil {
		return nil, err
	}
	b.nextGroupID++
	b.w = w
	return b, nil
}

// AddRow folds one row into the rowset. Rows must arrive in non-decreasing
// key order; a row equal to the previous key aggregates instead of appending.
func (b *Builder) AddRow(r *Row) error {
	if b.closed {
		return errors.New("rowset: builder closed")
	}

	key := b.schema.RowKey(r)
	if b.hasPending {
		switch c := b.schema.CompareKeys(b.pendingKey, key); {
		case c == 0:
			for i := b.schema.NumKeyColumns(); i < len(b.schema.Columns); i++ {
				b.infos[i].Update(b.pending.Cells[i], r.Cells[i], b.ar)
			}
			return nil
		case c > 0:
			return fmt.Errorf("rowset: rows out of key order (key %v before %v)", key, b.pendingKey)
		}
		if err := b.flushPending(); err != nil {
			return err
		}
	}
	b.startPending(r)
	return nil
}

// startPending seeds the accumulator row from r: key cells copied, value
// cells initialized then updated.
func (b *Builder) startPending(r *Row) {
	numKeys := b.schema.NumKeyColumns()
	for i := 0; i < numKeys; i++ {
		b.copyCell(b.pending.Cells[i], r.Cells[i], b.schema.Columns[i].Type)
	}
	for i := numKeys; i < len(b.schema.Columns); i++ {
		b.infos[i].Init(b.pending.Cells[i], b.ar)
		b.infos[i].Update(b.pending.Cells[i], r.Cells[i], b.ar)
	}
	b.pendingKey = b.schema.RowKey(b.pending)
	b.hasPending = true
}

func (b *Builder) copyCell(dst, src *field.Cell, t field.Type) {
	null := src.IsNull()
	dst.SetIsNull(null)
	if null {
		return
	}
	if t.Variable() {
		dst.SetSlice(b.ar.Copy(src.Slice().Data))
	} else {
		copy(dst.MutableBytes(), src.Bytes())
	}
}

// flushPending finalizes the accumulator, appends it and recycles the arena.
func (b *Builder) flushPending() error {
	for i := b.schema.NumKeyColumns(); i < len(b.schema.Columns); i++ {
		b.infos[i].Finalize(b.pending.Cells[i], b.ar)
	}
	if err := b.w.Append(b.pending); err != nil {
		return err
	}
	b.rowCount++
	b.ar.Reset()
	b.hasPending = false
	b.pendingKey = nil

	if b.opts.maxRowsPerGroup > 0 && b.w.rowCount >= b.opts.maxRowsPerGroup {
		return b.rollGroup()
	}
	return nil
}

func (b *Builder) rollGroup() error {
	g, err := b.w.Close()
	if err != nil {
		return err
	}
	b.groups = append(b.groups, g)

	w, err := newGroupWriter(b.opts.fsys, b.dir, b.rowsetID, b.nextGroupID, b.schema, b.opts.rowsPerBlock)
	if err != nil {
		return err
	}
	b.nextGroupID++
	b.w = w
	return nil
}

// Finish seals the rowset: flushes the last row, closes the open group and
// writes the meta file. The returned rowset carries the zero version until
// published.
func (b *Builder) Finish() (*Meta, []*SegmentGroup, error) {
	if b.closed {
		return nil, nil, errors.New("rowset: builder closed")
	}
	b.closed = true
	defer b.ar.Free()

	if b.hasPending {
		if err := b.flushPending(); err != nil {
			return nil, nil, err
		}
	}
	g, err := b.w.Close()
	if err != nil {
		return nil, nil, err
	}
	if g.RowCount() == 0 && len(b.groups) > 0 {
		// Rolling over on the final key boundary leaves an empty trailing
		// group; drop it instead of publishing empty files.
		_ = b.opts.fsys.Remove(g.DataPath())
		_ = b.opts.fsys.Remove(g.IndexPath())
	} else {
		b.groups = append(b.groups, g)
	}

	meta := &Meta{
		RowsetID:   b.rowsetID,
		TabletID:   b.tabletID,
		RowCount:   b.rowCount,
		GroupCount: len(b.groups),
		CreatedAt:  time.Now().UTC(),
	}
	for _, g := range b.groups {
		meta.DataSize += g.DataSize()
		meta.IndexSize += g.IndexSize()
	}
	if err := meta.Save(b.opts.fsys, b.dir); err != nil {
		return nil, nil, err
	}
	return meta, b.groups, nil
}

// Abort discards the builder and removes any files written so far.
func (b *Builder) Abort() {
	if b.closed {
		return
	}
	b.closed = true
	b.ar.Free()
	if b.w != nil {
		b.w.file.Close()
		b.groups = append(b.groups, b.w.group)
	}
	for _, g := range b.groups {
		_ = b.opts.fsys.Remove(g.DataPath())
		_ = b.opts.fsys.Remove(g.IndexPath())
	}
}
