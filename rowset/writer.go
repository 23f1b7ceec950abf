package rowset

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/olapgo/internal/fs"
	"github.com/hupe1980/olapgo/internal/hash"
)

// defaultRowsPerBlock is the block granularity of the short-key index.
const defaultRowsPerBlock = 1024

// groupWriter streams sorted rows into one segment group: zstd-compressed
// data blocks with one short-key index entry per block.
type groupWriter struct {
	schema *Schema
	fsys   fs.FileSystem
	group  *SegmentGroup

	file   fs.File
	offset uint64

	rowsPerBlock int
	blockBuf     []byte
	blockRows    uint32
	blockFirst   Key
	entries      []indexEntry
	rowCount     uint64
	deletes      *roaring.Bitmap
}

func newGroupWriter(fsys fs.FileSystem, dir string, rowsetID uint64, groupID uint32, schema *Schema, rowsPerBlock int) (*groupWriter, error) {
	if rowsPerBlock <= 0 {
		rowsPerBlock = defaultRowsPerBlock
	}
	g := &SegmentGroup{RowsetID: rowsetID, ID: groupID, dir: dir}

	f, err := fsys.OpenFile(g.DataPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	var hdr [segHeaderLen]byte
	copy(hdr[:4], dataMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:], segFormatVersion)
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, err
	}

	return &groupWriter{
		schema:       schema,
		fsys:         fsys,
		group:        g,
		file:         f,
		offset:       segHeaderLen,
		rowsPerBlock: rowsPerBlock,
		deletes:      roaring.New(),
	}, nil
}

// Append adds one row. Rows must arrive in non-decreasing key order; the
// writer does not re-sort.
func (w *groupWriter) Append(r *Row) error {
	if w.blockRows == 0 {
		w.blockFirst = w.schema.RowKey(r).Clone()
	}
	w.blockBuf = w.schema.encodeRow(w.blockBuf, r)
	w.blockRows++
	w.rowCount++

	if int(w.blockRows) >= w.rowsPerBlock {
		return w.flushBlock()
	}
	return nil
}

// MarkDeleted flags a row ordinal as deleted. Used when rewriting a group
// that carries deletions forward.
func (w *groupWriter) MarkDeleted(ordinal uint32) {
	w.deletes.Add(ordinal)
}

func (w *groupWriter) flushBlock() error {
	if w.blockRows == 0 {
		return nil
	}

	comp := zstdEncoder.EncodeAll(w.blockBuf, nil)

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(w.blockBuf)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(comp)))
	if _, err := w.file.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.file.Write(comp); err != nil {
		return err
	}
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], hash.CRC32C(comp))
	if _, err := w.file.Write(crc[:]); err != nil {
		return err
	}

	w.entries = append(w.entries, indexEntry{
		dataOffset:   w.offset,
		firstOrdinal: uint32(w.rowCount) - w.blockRows,
		rowCount:     w.blockRows,
		firstKey:     w.blockFirst,
	})
	w.offset += uint64(8 + len(comp) + 4)
	w.blockBuf = w.blockBuf[:0]
	w.blockRows = 0
	w.blockFirst = nil
	return nil
}

// Close flushes the last block, seals the data file and writes the index
// file. It returns the finished group descriptor in unloaded state.
func (w *groupWriter) Close() (*SegmentGroup, error) {
	if err := w.flushBlock(); err != nil {
		w.file.Close()
		return nil, err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return nil, err
	}
	if err := w.file.Close(); err != nil {
		return nil, err
	}

	idx, err := w.encodeIndex()
	if err != nil {
		return nil, err
	}
	f, err := w.fsys.OpenFile(w.group.IndexPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(idx); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	w.group.rowCount = w.rowCount
	w.group.dataSize = int64(w.offset)
	w.group.indexSize = int64(len(idx))
	return w.group, nil
}

func (w *groupWriter) encodeIndex() ([]byte, error) {
	buf := make([]byte, 0, 64+len(w.entries)*24)

	buf = append(buf, indexMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, segFormatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(w.entries)))
	for _, e := range w.entries {
		buf = binary.LittleEndian.AppendUint64(buf, e.dataOffset)
		buf = binary.LittleEndian.AppendUint32(buf, e.firstOrdinal)
		buf = binary.LittleEndian.AppendUint32(buf, e.rowCount)
		buf = encodeKey(buf, e.firstKey)
	}

	bm, err := w.deletes.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("rowset: encode delete bitmap: %w", err)
	}
	if w.deletes.IsEmpty() {
		bm = nil
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bm)))
	buf = append(buf, bm...)
	buf = binary.LittleEndian.AppendUint64(buf, w.rowCount)

	buf = binary.LittleEndian.AppendUint32(buf, hash.CRC32C(buf))
	return buf, nil
}
