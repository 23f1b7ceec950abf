package rowset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/olapgo/internal/fs"
	"github.com/hupe1980/olapgo/internal/resource"
)

// Legacy layout: one lz4-framed row stream plus one JSON index per group,
// named by bare group id. Kept round-trippable for tablets migrating off the
// old format.
const (
	legacyDataSuffix  = ".ldat"
	legacyIndexSuffix = ".lidx"
)

type legacyIndex struct {
	RowCount uint64 `json:"row_count"`
}

func legacyDataPath(dir string, gid uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", gid, legacyDataSuffix))
}

func legacyIndexPath(dir string, gid uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", gid, legacyIndexSuffix))
}

// writeLegacyGroup converts one loaded segment group into the legacy layout.
// It returns the paths written so far even on error.
func writeLegacyGroup(ctx context.Context, fsys fs.FileSystem, dstDir string, schema *Schema, g *SegmentGroup, rc *resource.Controller) ([]string, error) {
	var written []string

	dataPath := legacyDataPath(dstDir, g.ID)
	f, err := fsys.OpenFile(dataPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return written, err
	}
	zw := lz4.NewWriter(f)

	var rowBuf []byte
	var rowCount uint64
	it := newGroupIter(schema, g, 0)
	for {
		ok, err := it.next()
		if err != nil {
			f.Close()
			return written, err
		}
		if !ok {
			break
		}
		rowBuf = schema.encodeRow(rowBuf[:0], it.row)
		if err := rc.AcquireIO(ctx, len(rowBuf)); err != nil {
			f.Close()
			return written, err
		}
		if _, err := zw.Write(rowBuf); err != nil {
			f.Close()
			return written, err
		}
		rowCount++
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return written, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return written, err
	}
	if err := f.Close(); err != nil {
		return written, err
	}
	written = append(written, dataPath)

	idxPath := legacyIndexPath(dstDir, g.ID)
	idxData, err := json.Marshal(legacyIndex{RowCount: rowCount})
	if err != nil {
		return written, err
	}
	idxFile, err := fsys.OpenFile(idxPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return written, err
	}
	if _, err := idxFile.Write(idxData); err != nil {
		idxFile.Close()
		return written, err
	}
	if err := idxFile.Sync(); err != nil {
		idxFile.Close()
		return written, err
	}
	if err := idxFile.Close(); err != nil {
		return written, err
	}
	written = append(written, idxPath)

	return written, nil
}

// convertLegacyGroup rebuilds one segment group from its legacy files,
// validating the decoded row count against the legacy index.
func convertLegacyGroup(ctx context.Context, fsys fs.FileSystem, legacyDir, dstDir string, rowsetID uint64, gid uint32, schema *Schema, rc *resource.Controller) (*SegmentGroup, error) {
	idxData, err := readFile(fsys, legacyIndexPath(legacyDir, gid))
	if err != nil {
		return nil, err
	}
	var lidx legacyIndex
	if err := json.Unmarshal(idxData, &lidx); err != nil {
		return nil, fmt.Errorf("%w: legacy index: %v", ErrCorruptMeta, err)
	}

	f, err := fsys.OpenFile(legacyDataPath(legacyDir, gid), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(lz4.NewReader(f))
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: legacy data: %v", ErrCorruptSegment, err)
	}
	if err := rc.AcquireIO(ctx, len(raw)); err != nil {
		return nil, err
	}

	w, err := newGroupWriter(fsys, dstDir, rowsetID, gid, schema, 0)
	if err != nil {
		return nil, err
	}

	row := schema.NewRow()
	var rowCount uint64
	for off := 0; off < len(raw); {
		n, err := schema.decodeRow(raw[off:], row)
		if err != nil {
			w.file.Close()
			return nil, err
		}
		off += n
		if err := w.Append(row); err != nil {
			w.file.Close()
			return nil, err
		}
		rowCount++
	}
	if rowCount != lidx.RowCount {
		w.file.Close()
		return nil, fmt.Errorf("%w: legacy row count %d does not match index %d", ErrCorruptSegment, rowCount, lidx.RowCount)
	}
	return w.Close()
}
