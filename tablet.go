// Package olapgo implements the core of a columnar merge-on-read storage
// engine: duplicate-key rows are folded through per-column aggregation
// methods (MIN, MAX, SUM, REPLACE, HLL_UNION) at ingest, compaction and read
// time, and data lives in immutable, versioned rowsets of segment group
// files.
//
// The Tablet type is the top-level facade: it owns the manifest of published
// rowsets, hands out builders for new rowsets, publishes them under
// monotonically increasing versions, serves merge readers over a consistent
// version frontier, and compacts version ranges into single rowsets.
//
//	schema, _ := rowset.NewSchema([]rowset.Column{
//		{Name: "user_id", Type: field.TypeBigInt, IsKey: true},
//		{Name: "clicks", Type: field.TypeBigInt, Method: agg.MethodSum},
//	})
//	t, _ := olapgo.OpenTablet("./data", 1, schema)
//	defer t.Close()
//
//	b, _ := t.NewRowsetBuilder()
//	// feed key-ordered rows into b, then:
//	meta, groups, _ := b.Finish()
//	t.Publish(ctx, meta, groups)
//
//	r, _ := t.Reader(ctx, t.MaxVersion())
//	defer r.Close()
package olapgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/olapgo/internal/cache"
	"github.com/hupe1980/olapgo/internal/hash"
	"github.com/hupe1980/olapgo/internal/resource"
	"github.com/hupe1980/olapgo/manifest"
	"github.com/hupe1980/olapgo/rowset"
)

// defaultCacheCapacity bounds the segment cache when no option overrides it.
const defaultCacheCapacity = 256 << 20

// Tablet is one logical table partition: a manifest of versioned rowsets
// plus the shared cache and resource limits their operations run under.
type Tablet struct {
	mu sync.Mutex

	dir      string
	tabletID uint64
	schema   *rowset.Schema
	opts     options

	env     rowset.Env
	store   *manifest.Store
	m       *manifest.Manifest
	rowsets map[uint64]*rowset.AlphaRowset
	closed  bool
}

// OpenTablet opens (or creates) a tablet rooted at dir.
func OpenTablet(dir string, tabletID uint64, schema *rowset.Schema, optFns ...Option) (*Tablet, error) {
	o := applyOptions(optFns)

	if err := o.fsys.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var segCache *cache.SegmentCache
	if o.cacheCapacity > 0 {
		segCache = cache.New(o.cacheCapacity)
	}
	env := rowset.Env{
		FS:        o.fsys,
		Cache:     segCache,
		Resources: resource.NewController(o.resourceConfig),
		Logger:    o.logger.Logger,
	}

	store := manifest.NewStore(o.fsys, dir)
	m, err := store.Load()
	if err != nil {
		return nil, err
	}
	if m.TabletID == 0 {
		m.TabletID = tabletID
	} else if m.TabletID != tabletID {
		return nil, fmt.Errorf("olapgo: manifest belongs to tablet %d, not %d", m.TabletID, tabletID)
	}

	t := &Tablet{
		dir:      dir,
		tabletID: tabletID,
		schema:   schema,
		opts:     o,
		env:      env,
		store:    store,
		m:        m,
		rowsets:  make(map[uint64]*rowset.AlphaRowset),
	}
	for _, info := range m.Rowsets {
		rs := rowset.OpenAlpha(env, filepath.Join(dir, info.Path), info.RowsetID, schema)
		t.rowsets[info.RowsetID] = rs
	}
	return t, nil
}

// Schema returns the tablet's column layout.
func (t *Tablet) Schema() *rowset.Schema { return t.schema }

// MaxVersion returns the highest published contiguous version, or -1 for an
// empty tablet.
func (t *Tablet) MaxVersion() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m.MaxVersion()
}

// Rowset returns the registered rowset with the given id.
func (t *Tablet) Rowset(id uint64) (*rowset.AlphaRowset, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs, ok := t.rowsets[id]
	if !ok {
		return nil, ErrRowsetNotFound
	}
	return rs, nil
}

// NewRowsetBuilder allocates the next rowset id and returns a builder
// writing into the rowset's own subdirectory. The id is only persisted when
// the finished rowset is published.
func (t *Tablet) NewRowsetBuilder(optFns ...rowset.BuilderOption) (*rowset.Builder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	t.m.NextRowsetID++
	id := t.m.NextRowsetID
	dir := filepath.Join(t.dir, rowsetDirName(id))

	optFns = append([]rowset.BuilderOption{rowset.WithBuilderFS(t.opts.fsys)}, optFns...)
	return rowset.NewBuilder(dir, t.tabletID, id, t.schema, optFns...)
}

// Publish registers a finished rowset at the next version, stamps it
// visible and persists the manifest.
func (t *Tablet) Publish(ctx context.Context, meta *rowset.Meta, groups []*rowset.SegmentGroup) (rowset.Version, error) {
	start := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return rowset.Version{}, ErrClosed
	}

	next := t.m.MaxVersion() + 1
	v := rowset.Version{First: next, Last: next}

	dir := filepath.Join(t.dir, rowsetDirName(meta.RowsetID))
	rs := rowset.NewAlpha(t.env, dir, t.schema, meta, groups)
	err := t.publishLocked(rs, meta, v)

	t.opts.metricsCollector.RecordPublish(meta.RowCount, time.Since(start), err)
	t.opts.logger.LogPublish(ctx, meta.RowsetID, v.String(), meta.RowCount, err)
	if err != nil {
		return rowset.Version{}, err
	}
	return v, nil
}

func (t *Tablet) publishLocked(rs *rowset.AlphaRowset, meta *rowset.Meta, v rowset.Version) error {
	versionHash := versionHash(meta.RowsetID, v)
	if err := rs.MakeVisible(v, versionHash); err != nil {
		return err
	}

	t.m.Add(manifest.RowsetInfo{
		RowsetID:    meta.RowsetID,
		Version:     v,
		VersionHash: versionHash,
		RowCount:    meta.RowCount,
		DataSize:    meta.DataSize,
		GroupCount:  meta.GroupCount,
		Path:        rowsetDirName(meta.RowsetID),
	})
	if meta.RowsetID > t.m.NextRowsetID {
		t.m.NextRowsetID = meta.RowsetID
	}
	if err := t.store.Save(t.m); err != nil {
		return err
	}
	t.rowsets[meta.RowsetID] = rs
	return nil
}

// Reader returns a merge reader over the consistent rowset set covering
// versions [0, target]. Older rowsets come first, so REPLACE conflicts
// resolve toward the newest version.
func (t *Tablet) Reader(ctx context.Context, target int64) (*rowset.Reader, error) {
	start := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	frontier, err := t.m.Frontier(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVersionNotFound, err)
	}

	var groups []*rowset.SegmentGroup
	for _, info := range frontier {
		rs, ok := t.rowsets[info.RowsetID]
		if !ok {
			return nil, fmt.Errorf("%w: rowset %d", ErrRowsetNotFound, info.RowsetID)
		}
		loadStart := time.Now()
		err := rs.Load(ctx, true)
		t.opts.metricsCollector.RecordLoad(time.Since(loadStart), err)
		if err != nil {
			return nil, translateError(err)
		}
		groups = append(groups, rs.Groups()...)
	}

	r, err := rowset.NewReader(t.schema, groups)
	if err != nil {
		return nil, err
	}
	r.OnDrain(func(rows uint64, err error) {
		t.opts.metricsCollector.RecordRead(rows, time.Since(start), err)
	})
	return r, nil
}

// Compact merges every rowset covering [first, last] into one rowset
// published under that merged version, then removes the inputs. The inputs'
// versions must exactly tile the range.
func (t *Tablet) Compact(ctx context.Context, first, last int64) error {
	start := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	inputs, err := t.compactionInputs(first, last)
	if err != nil {
		return err
	}

	out, outMeta, err := t.mergeRowsets(ctx, inputs)
	if err != nil {
		t.opts.metricsCollector.RecordCompaction(len(inputs), 0, time.Since(start), err)
		t.opts.logger.LogCompaction(ctx, len(inputs), rowset.Version{First: first, Last: last}.String(), 0, err)
		return err
	}

	v := rowset.Version{First: first, Last: last}
	versionHash := versionHash(outMeta.RowsetID, v)
	if err := out.MakeVisible(v, versionHash); err != nil {
		return err
	}

	inputIDs := make([]uint64, len(inputs))
	for i, info := range inputs {
		inputIDs[i] = info.RowsetID
	}
	if err := t.m.Replace(inputIDs, manifest.RowsetInfo{
		RowsetID:    outMeta.RowsetID,
		Version:     v,
		VersionHash: versionHash,
		RowCount:    outMeta.RowCount,
		DataSize:    outMeta.DataSize,
		GroupCount:  outMeta.GroupCount,
		Path:        rowsetDirName(outMeta.RowsetID),
	}); err != nil {
		return err
	}
	if err := t.store.Save(t.m); err != nil {
		return err
	}
	t.rowsets[outMeta.RowsetID] = out

	// Inputs are no longer reachable through the manifest; remove their
	// files. Failures leave orphans for a later sweep, not inconsistency.
	for _, id := range inputIDs {
		rs := t.rowsets[id]
		delete(t.rowsets, id)
		err := rs.Remove()
		t.opts.logger.LogRemove(ctx, id, err)
	}

	t.opts.metricsCollector.RecordCompaction(len(inputs), outMeta.RowCount, time.Since(start), nil)
	t.opts.logger.LogCompaction(ctx, len(inputs), v.String(), outMeta.RowCount, nil)
	return nil
}

// compactionInputs selects the manifest rowsets exactly tiling [first, last].
func (t *Tablet) compactionInputs(first, last int64) ([]manifest.RowsetInfo, error) {
	if last < first {
		return nil, fmt.Errorf("olapgo: invalid compaction range [%d-%d]", first, last)
	}

	byFirst := make(map[int64]manifest.RowsetInfo)
	for _, info := range t.m.Rowsets {
		byFirst[info.Version.First] = info
	}

	var inputs []manifest.RowsetInfo
	next := first
	for next <= last {
		info, ok := byFirst[next]
		if !ok || info.Version.Last > last {
			return nil, fmt.Errorf("%w: no rowset tiling starts at version %d", ErrVersionNotFound, next)
		}
		inputs = append(inputs, info)
		next = info.Version.Last + 1
	}
	if len(inputs) < 2 {
		return nil, fmt.Errorf("olapgo: compaction range [%d-%d] spans %d rowset(s), need at least 2", first, last, len(inputs))
	}
	return inputs, nil
}

// mergeRowsets streams the inputs through a merge reader into a new rowset.
func (t *Tablet) mergeRowsets(ctx context.Context, inputs []manifest.RowsetInfo) (*rowset.AlphaRowset, *rowset.Meta, error) {
	var groups []*rowset.SegmentGroup
	for _, info := range inputs {
		rs, ok := t.rowsets[info.RowsetID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: rowset %d", ErrRowsetNotFound, info.RowsetID)
		}
		if err := rs.Load(ctx, true); err != nil {
			return nil, nil, translateError(err)
		}
		groups = append(groups, rs.Groups()...)
	}

	r, err := rowset.NewReader(t.schema, groups)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	t.m.NextRowsetID++
	outID := t.m.NextRowsetID
	b, err := rowset.NewBuilder(
		filepath.Join(t.dir, rowsetDirName(outID)),
		t.tabletID, outID, t.schema,
		rowset.WithBuilderFS(t.opts.fsys),
	)
	if err != nil {
		return nil, nil, err
	}

	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			b.Abort()
			return nil, nil, err
		}
		if err := b.AddRow(row); err != nil {
			b.Abort()
			return nil, nil, err
		}
	}

	meta, outGroups, err := b.Finish()
	if err != nil {
		return nil, nil, err
	}
	dir := filepath.Join(t.dir, rowsetDirName(outID))
	return rowset.NewAlpha(t.env, dir, t.schema, meta, outGroups), meta, nil
}

// Snapshot hard-links every visible rowset plus a copy of the manifest into
// dir, producing a point-in-time clone sharing physical storage.
func (t *Tablet) Snapshot(dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	for _, info := range t.m.Rowsets {
		rs, ok := t.rowsets[info.RowsetID]
		if !ok {
			return fmt.Errorf("%w: rowset %d", ErrRowsetNotFound, info.RowsetID)
		}
		if err := rs.LinkFilesTo(filepath.Join(dir, info.Path), info.RowsetID); err != nil {
			return err
		}
	}

	snapStore := manifest.NewStore(t.opts.fsys, dir)
	snap := *t.m
	snap.ID = 0 // snapshot starts its own manifest generation counter
	return snapStore.Save(&snap)
}

// Close marks the tablet closed. In-flight readers stay valid; new
// operations fail with ErrClosed.
func (t *Tablet) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.opts.logger.Debug("tablet closed", "tablet_id", t.tabletID)
	return nil
}

func rowsetDirName(id uint64) string {
	return fmt.Sprintf("rs_%d", id)
}

// versionHash derives the publication hash from the rowset identity and its
// version range.
func versionHash(rowsetID uint64, v rowset.Version) uint64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], rowsetID)
	binary.LittleEndian.PutUint64(buf[8:], uint64(v.First))
	binary.LittleEndian.PutUint64(buf[16:], uint64(v.Last))
	h := hash.CRC32C(buf[:])
	return uint64(h)<<32 | uint64(hash.CRC32C(buf[8:]))
}
