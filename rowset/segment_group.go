package rowset

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/olapgo/internal/cache"
	"github.com/hupe1980/olapgo/internal/fs"
	"github.com/hupe1980/olapgo/internal/hash"
	"github.com/hupe1980/olapgo/internal/mmap"
	"github.com/hupe1980/olapgo/internal/resource"
)

var (
	dataMagic  = [4]byte{'O', 'S', 'E', 'G'}
	indexMagic = [4]byte{'O', 'I', 'D', 'X'}
)

// segFormatVersion is the current segment file format version.
const segFormatVersion uint32 = 1

const segHeaderLen = 8 // magic + format version

// Shared zstd coders; both are safe for concurrent use with EncodeAll and
// DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// indexEntry is one short-key index entry, covering one data block.
type indexEntry struct {
	dataOffset   uint64
	firstOrdinal uint32
	rowCount     uint32
	firstKey     Key
}

// SegmentGroup is one physically co-located bundle of a data file and an
// index file sharing a single short-key index: the atomic storage unit a
// rowset is composed of. Immutable once fully written; loaded contents are
// read-only and safe for concurrent readers.
type SegmentGroup struct {
	RowsetID uint64
	ID       uint32

	version   Version
	dir       string
	rowCount  uint64
	dataSize  int64
	indexSize int64

	loaded   bool
	data     []byte
	entries  []indexEntry
	deletes  *roaring.Bitmap
	mappings []*mmap.Mapping
	memory   int64 // bytes accounted against the resource controller
}

// DataPath returns the group's data file path.
func (g *SegmentGroup) DataPath() string {
	return filepath.Join(g.dir, fmt.Sprintf("%d_%d.dat", g.RowsetID, g.ID))
}

// IndexPath returns the group's index file path.
func (g *SegmentGroup) IndexPath() string {
	return filepath.Join(g.dir, fmt.Sprintf("%d_%d.idx", g.RowsetID, g.ID))
}

// Version returns the version stamped at publication, zero before that.
func (g *SegmentGroup) Version() Version { return g.version }

// setVersion stamps the group at rowset publication time.
func (g *SegmentGroup) setVersion(v Version) { g.version = v }

// RowCount returns the number of rows in the group, including deleted ones.
func (g *SegmentGroup) RowCount() uint64 { return g.rowCount }

// DataSize returns the data file size in bytes.
func (g *SegmentGroup) DataSize() int64 { return g.dataSize }

// IndexSize returns the index file size in bytes.
func (g *SegmentGroup) IndexSize() int64 { return g.indexSize }

// Loaded reports whether file contents are materialized.
func (g *SegmentGroup) Loaded() bool { return g.loaded }

// load materializes the group's file contents. When useCache is set the
// process-wide segment cache is consulted first and populated on miss;
// otherwise the files are memory-mapped directly.
func (g *SegmentGroup) load(ctx context.Context, fsys fs.FileSystem, c *cache.SegmentCache, rc *resource.Controller, useCache bool) error {
	if g.loaded {
		return nil
	}

	if err := rc.AcquireLoad(ctx); err != nil {
		return err
	}
	defer rc.ReleaseLoad()

	data, err := g.loadFile(fsys, c, rc, g.DataPath(), cache.KindData, useCache)
	if err != nil {
		g.release(rc)
		return err
	}
	idx, err := g.loadFile(fsys, c, rc, g.IndexPath(), cache.KindIndex, useCache)
	if err != nil {
		g.release(rc)
		return err
	}

	if err := g.parseIndex(idx); err != nil {
		g.release(rc)
		return err
	}
	if len(data) < segHeaderLen || [4]byte(data[:4]) != dataMagic {
		g.release(rc)
		return fmt.Errorf("%w: bad data magic in %s", ErrCorruptSegment, g.DataPath())
	}

	g.data = data
	g.dataSize = int64(len(data))
	g.indexSize = int64(len(idx))
	g.loaded = true
	return nil
}

func (g *SegmentGroup) loadFile(fsys fs.FileSystem, c *cache.SegmentCache, rc *resource.Controller, path string, kind uint8, useCache bool) ([]byte, error) {
	key := cache.Key{RowsetID: g.RowsetID, GroupID: g.ID, Kind: kind}
	if useCache && c != nil {
		if b, ok := c.Get(key); ok {
			return b, nil
		}
		b, err := readFile(fsys, path)
		if err != nil {
			return nil, err
		}
		if err := rc.AcquireMemory(int64(len(b))); err != nil {
			return nil, err
		}
		g.memory += int64(len(b))
		c.Set(key, b)
		return b, nil
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	g.mappings = append(g.mappings, m)
	return m.Bytes(), nil
}

func readFile(fsys fs.FileSystem, path string) ([]byte, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// release drops materialized contents. Cached bytes stay in the cache.
func (g *SegmentGroup) release(rc *resource.Controller) {
	for _, m := range g.mappings {
		_ = m.Close()
	}
	g.mappings = nil
	rc.ReleaseMemory(g.memory)
	g.memory = 0
	g.data = nil
	g.entries = nil
	g.deletes = nil
	g.loaded = false
}

// parseIndex validates and decodes the index file: short-key entries, the
// delete bitmap and the row count, guarded by a trailing CRC32C.
func (g *SegmentGroup) parseIndex(idx []byte) error {
	if len(idx) < segHeaderLen+4 {
		return fmt.Errorf("%w: short index file", ErrCorruptSegment)
	}
	if [4]byte(idx[:4]) != indexMagic {
		return fmt.Errorf("%w: bad index magic", ErrCorruptSegment)
	}
	if v := binary.LittleEndian.Uint32(idx[4:]); v != segFormatVersion {
		return fmt.Errorf("%w: unsupported index version %d", ErrCorruptSegment, v)
	}

	body := idx[:len(idx)-4]
	want := binary.LittleEndian.Uint32(idx[len(idx)-4:])
	if got := hash.CRC32C(body); got != want {
		return fmt.Errorf("%w: index checksum mismatch (got %08x want %08x)", ErrCorruptSegment, got, want)
	}

	off := segHeaderLen
	entryCount := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4

	entries := make([]indexEntry, 0, entryCount)
	for i := 0; i < entryCount; i++ {
		if off+16 > len(body) {
			return fmt.Errorf("%w: truncated index entry", ErrCorruptSegment)
		}
		e := indexEntry{
			dataOffset:   binary.LittleEndian.Uint64(body[off:]),
			firstOrdinal: binary.LittleEndian.Uint32(body[off+8:]),
			rowCount:     binary.LittleEndian.Uint32(body[off+12:]),
		}
		off += 16
		k, n, err := decodeKey(body[off:])
		if err != nil {
			return err
		}
		e.firstKey = k
		off += n
		entries = append(entries, e)
	}

	if off+4 > len(body) {
		return fmt.Errorf("%w: truncated delete bitmap", ErrCorruptSegment)
	}
	bmLen := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if off+bmLen > len(body) {
		return fmt.Errorf("%w: truncated delete bitmap", ErrCorruptSegment)
	}
	deletes := roaring.New()
	if bmLen > 0 {
		if err := deletes.UnmarshalBinary(body[off : off+bmLen]); err != nil {
			return fmt.Errorf("%w: delete bitmap: %v", ErrCorruptSegment, err)
		}
	}
	off += bmLen

	if off+8 > len(body) {
		return fmt.Errorf("%w: truncated row count", ErrCorruptSegment)
	}
	g.rowCount = binary.LittleEndian.Uint64(body[off:])
	g.entries = entries
	g.deletes = deletes
	return nil
}

// blockCount returns the number of data blocks.
func (g *SegmentGroup) blockCount() int { return len(g.entries) }

// decodeBlock decompresses block i, returning the raw row bytes.
func (g *SegmentGroup) decodeBlock(i int) ([]byte, error) {
	e := g.entries[i]
	data := g.data
	off := int(e.dataOffset)
	if off+8 > len(data) {
		return nil, fmt.Errorf("%w: block offset out of range", ErrCorruptSegment)
	}
	rawLen := int(binary.LittleEndian.Uint32(data[off:]))
	compLen := int(binary.LittleEndian.Uint32(data[off+4:]))
	off += 8
	if off+compLen+4 > len(data) {
		return nil, fmt.Errorf("%w: truncated block", ErrCorruptSegment)
	}
	comp := data[off : off+compLen]
	want := binary.LittleEndian.Uint32(data[off+compLen:])
	if got := hash.CRC32C(comp); got != want {
		return nil, fmt.Errorf("%w: block checksum mismatch", ErrCorruptSegment)
	}
	raw, err := zstdDecoder.DecodeAll(comp, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSegment, err)
	}
	return raw, nil
}

// Deleted reports whether the row ordinal is marked deleted.
func (g *SegmentGroup) Deleted(ordinal uint32) bool {
	return g.deletes != nil && g.deletes.Contains(ordinal)
}

// LiveRowCount returns rows minus deletions.
func (g *SegmentGroup) LiveRowCount() uint64 {
	if g.deletes == nil {
		return g.rowCount
	}
	return g.rowCount - g.deletes.GetCardinality()
}
