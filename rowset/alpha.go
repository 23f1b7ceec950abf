package rowset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/olapgo/internal/fs"
)

// copyChunkSize is the IO-throttling granularity of CopyFilesTo.
const copyChunkSize = 256 * 1024

// AlphaRowset is the on-disk rowset implementation: a directory holding one
// meta file plus the data and index files of its segment groups.
type AlphaRowset struct {
	mu sync.Mutex

	env      Env
	dir      string
	rowsetID uint64
	schema   *Schema

	meta   *Meta
	groups []*SegmentGroup
	state  State
}

var _ Rowset = (*AlphaRowset)(nil)

// OpenAlpha binds a rowset object to an existing on-disk directory. Nothing
// is read until Init.
func OpenAlpha(env Env, dir string, rowsetID uint64, schema *Schema) *AlphaRowset {
	return &AlphaRowset{env: env, dir: dir, rowsetID: rowsetID, schema: schema, state: StateUnbound}
}

// NewAlpha wraps a freshly built rowset whose meta and groups came from a
// Builder. The rowset starts in the Initialized state.
func NewAlpha(env Env, dir string, schema *Schema, meta *Meta, groups []*SegmentGroup) *AlphaRowset {
	return &AlphaRowset{
		env:      env,
		dir:      dir,
		rowsetID: meta.RowsetID,
		schema:   schema,
		meta:     meta,
		groups:   groups,
		state:    StateInitialized,
	}
}

// ValidRowsetPath reports whether dir is a well-formed rowset directory for
// the given id: the directory exists and holds the meta file.
func ValidRowsetPath(fsys fs.FileSystem, dir string, rowsetID uint64) error {
	info, err := fsys.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, dir)
	}
	if _, err := fsys.Stat(filepath.Join(dir, metaFileName(rowsetID))); err != nil {
		return fmt.Errorf("%w: missing meta file: %v", ErrInvalidPath, err)
	}
	return nil
}

// ID returns the rowset id.
func (r *AlphaRowset) ID() uint64 { return r.rowsetID }

// Meta returns the rowset's metadata record, nil before Init.
func (r *AlphaRowset) Meta() *Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// Version returns the published version range, zero before publication.
func (r *AlphaRowset) Version() Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta == nil {
		return Version{}
	}
	return r.meta.Version
}

// State returns the current lifecycle state.
func (r *AlphaRowset) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Groups returns the rowset's segment groups in ascending group order. The
// slice must not be mutated.
func (r *AlphaRowset) Groups() []*SegmentGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups
}

// Init validates the path, loads the meta file and builds segment group
// descriptors. No file data is read.
func (r *AlphaRowset) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initLocked()
}

func (r *AlphaRowset) initLocked() error {
	switch r.state {
	case StateRemoved:
		return ErrRemoved
	case StateInitialized, StateLoaded:
		return nil
	}

	fsys := r.env.fs()
	if err := ValidRowsetPath(fsys, r.dir, r.rowsetID); err != nil {
		return err
	}
	meta, err := LoadMeta(fsys, filepath.Join(r.dir, metaFileName(r.rowsetID)))
	if err != nil {
		return err
	}
	if meta.RowsetID != r.rowsetID {
		return fmt.Errorf("%w: meta rowset id %d does not match %d", ErrCorruptMeta, meta.RowsetID, r.rowsetID)
	}

	groups := make([]*SegmentGroup, meta.GroupCount)
	for i := range groups {
		g := &SegmentGroup{RowsetID: r.rowsetID, ID: uint32(i), dir: r.dir, version: meta.Version}
		if _, err := fsys.Stat(g.DataPath()); err != nil {
			return fmt.Errorf("%w: missing segment file: %v", ErrInvalidPath, err)
		}
		if _, err := fsys.Stat(g.IndexPath()); err != nil {
			return fmt.Errorf("%w: missing segment file: %v", ErrInvalidPath, err)
		}
		groups[i] = g
	}

	r.meta = meta
	r.groups = groups
	r.state = StateInitialized
	return nil
}

// Load materializes segment group contents, in parallel across groups.
// Idempotent; a loaded rowset returns immediately.
func (r *AlphaRowset) Load(ctx context.Context, useCache bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx, useCache)
}

func (r *AlphaRowset) loadLocked(ctx context.Context, useCache bool) error {
	switch r.state {
	case StateRemoved:
		return ErrRemoved
	case StateLoaded:
		return nil
	case StateUnbound:
		if err := r.initLocked(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sg := range r.groups {
		sg := sg
		g.Go(func() error {
			if err := sg.load(ctx, r.env.fs(), r.env.Cache, r.env.Resources, useCache); err != nil {
				return FileError{Path: sg.DataPath(), Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sg := range r.groups {
			sg.release(r.env.Resources)
		}
		return err
	}

	r.state = StateLoaded
	r.env.logger().Debug("rowset loaded",
		"rowset_id", r.rowsetID,
		"groups", len(r.groups),
		"use_cache", useCache,
	)
	return nil
}

// CreateReader returns a merge reader over the rowset's groups, loading them
// first if needed.
func (r *AlphaRowset) CreateReader(ctx context.Context) (*Reader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx, true); err != nil {
		return nil, err
	}
	return NewReader(r.schema, r.groups)
}

// Remove deletes every file of every segment group plus the meta file.
// Already-deleted files are never restored on partial failure; the rowset is
// Removed afterwards regardless.
func (r *AlphaRowset) Remove() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRemoved {
		return ErrRemoved
	}
	if r.state == StateUnbound {
		// Bind to the on-disk layout first so every group file is known.
		// An unreadable meta falls back to a directory scan.
		if err := r.initLocked(); err != nil {
			r.groups = r.scanGroupsLocked()
		}
	}

	if r.env.Cache != nil {
		r.env.Cache.Evict(r.rowsetID)
	}
	for _, g := range r.groups {
		g.release(r.env.Resources)
	}

	fsys := r.env.fs()
	var succeeded []string
	var failures []FileError
	remove := func(path string) {
		if err := fsys.Remove(path); err != nil && !os.IsNotExist(err) {
			failures = append(failures, FileError{Path: path, Err: err})
			return
		}
		succeeded = append(succeeded, path)
	}
	for _, g := range r.groups {
		remove(g.DataPath())
		remove(g.IndexPath())
	}
	remove(filepath.Join(r.dir, metaFileName(r.rowsetID)))

	r.state = StateRemoved
	r.env.logger().Debug("rowset removed", "rowset_id", r.rowsetID, "failed_files", len(failures))

	if len(failures) > 0 {
		return &PartialFailureError{Op: "remove", Succeeded: succeeded, Failures: failures}
	}
	return nil
}

// scanGroupsLocked enumerates segment groups from the directory listing,
// matching data files named for this rowset id.
func (r *AlphaRowset) scanGroupsLocked() []*SegmentGroup {
	entries, err := r.env.fs().ReadDir(r.dir)
	if err != nil {
		return nil
	}
	prefix := fmt.Sprintf("%d_", r.rowsetID)
	var groups []*SegmentGroup
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".dat") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".dat"), 10, 32)
		if err != nil {
			continue
		}
		groups = append(groups, &SegmentGroup{RowsetID: r.rowsetID, ID: uint32(id), dir: r.dir})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// LinkFilesTo snapshots the rowset into dir under newID using hard links.
// The snapshot gets its own meta file and shares physical storage with the
// source until either side is removed.
func (r *AlphaRowset) LinkFilesTo(dir string, newID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.initLocked(); err != nil {
		return err
	}

	fsys := r.env.fs()
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var succeeded []string
	link := func(src, dst string) error {
		if err := fsys.Link(src, dst); err != nil {
			return &PartialFailureError{
				Op:        "link",
				Succeeded: succeeded,
				Failures:  []FileError{{Path: dst, Err: err}},
			}
		}
		succeeded = append(succeeded, dst)
		return nil
	}
	for _, g := range r.groups {
		snap := &SegmentGroup{RowsetID: newID, ID: g.ID, dir: dir}
		if err := link(g.DataPath(), snap.DataPath()); err != nil {
			return err
		}
		if err := link(g.IndexPath(), snap.IndexPath()); err != nil {
			return err
		}
	}

	meta := *r.meta
	meta.RowsetID = newID
	return meta.Save(fsys, dir)
}

// CopyFilesTo snapshots the rowset into dir via full file copies under the
// same identity, safe across filesystems. Copies run in parallel, throttled
// by the IO limiter.
func (r *AlphaRowset) CopyFilesTo(ctx context.Context, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.initLocked(); err != nil {
		return err
	}

	fsys := r.env.fs()
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var paths []string
	for _, g := range r.groups {
		paths = append(paths, g.DataPath(), g.IndexPath())
	}
	paths = append(paths, filepath.Join(r.dir, metaFileName(r.rowsetID)))

	var mu sync.Mutex
	var succeeded []string
	var failures []FileError

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range paths {
		src := src
		dst := filepath.Join(dir, filepath.Base(src))
		g.Go(func() error {
			err := copyFile(ctx, fsys, src, dst, r.env)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, FileError{Path: src, Err: err})
				return nil // collect every failure instead of cancelling siblings
			}
			succeeded = append(succeeded, dst)
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return &PartialFailureError{Op: "copy", Succeeded: succeeded, Failures: failures}
	}
	return nil
}

func copyFile(ctx context.Context, fsys fs.FileSystem, src, dst string, env Env) error {
	in, err := fsys.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fsys.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	buf := make([]byte, copyChunkSize)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if err := env.Resources.AcquireIO(ctx, n); err != nil {
				out.Close()
				return err
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			out.Close()
			return rerr
		}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ConvertToOldFiles writes the rowset's contents into dstDir in the legacy
// layout. Every file written successfully is appended to successFiles before
// the next one starts, so partial progress is never lost to the caller.
func (r *AlphaRowset) ConvertToOldFiles(ctx context.Context, dstDir string, successFiles *[]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx, true); err != nil {
		return err
	}

	fsys := r.env.fs()
	if err := fsys.MkdirAll(dstDir, 0755); err != nil {
		return err
	}

	for _, g := range r.groups {
		written, err := writeLegacyGroup(ctx, fsys, dstDir, r.schema, g, r.env.Resources)
		*successFiles = append(*successFiles, written...)
		if err != nil {
			return &PartialFailureError{
				Op:        "convert_to_old",
				Succeeded: *successFiles,
				Failures:  []FileError{{Path: legacyDataPath(dstDir, g.ID), Err: err}},
			}
		}
	}
	return nil
}

// ConvertFromOldFiles rebuilds the rowset's native files from a legacy-layout
// directory, then recomputes size metadata from the result. The rowset must
// be Unbound; on success it is Initialized.
func (r *AlphaRowset) ConvertFromOldFiles(ctx context.Context, legacyDir string, successFiles *[]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRemoved:
		return ErrRemoved
	case StateInitialized, StateLoaded:
		return fmt.Errorf("rowset: convert_from_old on %s rowset", r.state)
	}

	fsys := r.env.fs()
	if err := fsys.MkdirAll(r.dir, 0755); err != nil {
		return err
	}

	groupIDs, err := legacyGroupIDs(fsys, legacyDir)
	if err != nil {
		return err
	}

	var groups []*SegmentGroup
	var rowCount uint64
	for _, gid := range groupIDs {
		g, err := convertLegacyGroup(ctx, fsys, legacyDir, r.dir, r.rowsetID, gid, r.schema, r.env.Resources)
		if err != nil {
			return &PartialFailureError{
				Op:        "convert_from_old",
				Succeeded: *successFiles,
				Failures:  []FileError{{Path: legacyDataPath(legacyDir, gid), Err: err}},
			}
		}
		*successFiles = append(*successFiles, g.DataPath(), g.IndexPath())
		groups = append(groups, g)
		rowCount += g.RowCount()
	}

	meta := &Meta{
		RowsetID:   r.rowsetID,
		RowCount:   rowCount,
		GroupCount: len(groups),
	}
	for _, g := range groups {
		meta.DataSize += g.DataSize()
		meta.IndexSize += g.IndexSize()
	}
	if err := meta.Save(fsys, r.dir); err != nil {
		return err
	}

	r.meta = meta
	r.groups = groups
	r.state = StateInitialized
	return nil
}

// SplitRange partitions [start, end] into sub-ranges approximating
// rowsPerBlock rows each. The segment group with the largest row count is
// the sampling source; its short-key index gives an even, low-cost estimate.
// A nil bound is unbounded on that side.
func (r *AlphaRowset) SplitRange(ctx context.Context, start, end Key, rowsPerBlock uint64) ([]KeyRange, error) {
	if rowsPerBlock == 0 {
		return nil, fmt.Errorf("rowset: rows_per_block must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx, true); err != nil {
		return nil, err
	}

	var sample *SegmentGroup
	for _, g := range r.groups {
		if sample == nil || g.RowCount() > sample.RowCount() {
			sample = g
		}
	}
	if sample == nil || sample.RowCount() == 0 {
		return []KeyRange{{Start: start, End: end}}, nil
	}

	ranges := make([]KeyRange, 0, sample.RowCount()/rowsPerBlock+1)
	cur := start
	var acc uint64
	for _, e := range sample.entries {
		if start != nil && r.schema.CompareKeys(e.firstKey, start) <= 0 {
			continue
		}
		if end != nil && r.schema.CompareKeys(e.firstKey, end) >= 0 {
			break
		}
		if acc >= rowsPerBlock && (cur == nil || r.schema.CompareKeys(e.firstKey, cur) > 0) {
			ranges = append(ranges, KeyRange{Start: cur, End: e.firstKey})
			cur = e.firstKey
			acc = 0
		}
		acc += uint64(e.rowCount)
	}
	ranges = append(ranges, KeyRange{Start: cur, End: end})
	return ranges, nil
}

// ResetSizeInfo recomputes row count, data size and index size from segment
// group ground truth and rewrites the meta file. Used after conversions when
// the recorded metadata is not trustworthy.
func (r *AlphaRowset) ResetSizeInfo(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx, false); err != nil {
		return err
	}

	r.meta.RowCount = 0
	r.meta.DataSize = 0
	r.meta.IndexSize = 0
	for _, g := range r.groups {
		r.meta.RowCount += g.RowCount()
		r.meta.DataSize += g.DataSize()
		r.meta.IndexSize += g.IndexSize()
	}
	r.meta.GroupCount = len(r.groups)
	return r.meta.Save(r.env.fs(), r.dir)
}

// MakeVisible publishes the rowset at version v, persisting the stamped meta
// and tagging every segment group.
func (r *AlphaRowset) MakeVisible(v Version, versionHash uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRemoved:
		return ErrRemoved
	case StateUnbound:
		if err := r.initLocked(); err != nil {
			return err
		}
	}

	r.meta.Version = v
	r.meta.VersionHash = versionHash
	if err := r.meta.Save(r.env.fs(), r.dir); err != nil {
		return err
	}
	r.makeVisibleExtra(v)
	return nil
}

// makeVisibleExtra stamps the concrete layout's per-group version tags.
func (r *AlphaRowset) makeVisibleExtra(v Version) {
	for _, g := range r.groups {
		g.setVersion(v)
	}
}

// legacyGroupIDs scans a legacy directory for data files and returns the
// group ids in ascending order.
func legacyGroupIDs(fsys fs.FileSystem, dir string) ([]uint32, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	var ids []uint32
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, legacyDataSuffix) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, legacyDataSuffix), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad legacy file name %s", ErrInvalidPath, name)
		}
		ids = append(ids, uint32(id))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no legacy data files in %s", ErrInvalidPath, dir)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
