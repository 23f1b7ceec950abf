package rowset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/olapgo/internal/fs"
)

// MetaVersion is the current meta format version.
const MetaVersion = 1

// Meta is the persisted identity and physical-layout description of a
// rowset: the minimal facts the version-management layer needs to decide
// visibility and merge eligibility. Created when a rowset is built, read on
// load, rewritten only for metadata-only corrections (publication, size
// recomputation after legacy conversion).
type Meta struct {
	FormatVersion int       `json:"format_version"`
	RowsetID      uint64    `json:"rowset_id"`
	TabletID      uint64    `json:"tablet_id"`
	Version       Version   `json:"version"`
	VersionHash   uint64    `json:"version_hash"`
	RowCount      uint64    `json:"row_count"`
	DataSize      int64     `json:"data_size"`
	IndexSize     int64     `json:"index_size"`
	GroupCount    int       `json:"group_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// metaFileName returns the meta file name for a rowset id.
func metaFileName(rowsetID uint64) string {
	return fmt.Sprintf("%d.meta", rowsetID)
}

// LoadMeta reads and validates a rowset meta file.
func LoadMeta(fsys fs.FileSystem, path string) (*Meta, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMeta, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMeta, err)
	}

	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMeta, err)
	}
	if m.FormatVersion != MetaVersion {
		return nil, fmt.Errorf("%w: unsupported meta version %d", ErrCorruptMeta, m.FormatVersion)
	}
	if m.RowsetID == 0 {
		return nil, fmt.Errorf("%w: missing rowset id", ErrCorruptMeta)
	}
	return &m, nil
}

// Save atomically writes the meta file: temp file, sync, rename.
func (m *Meta) Save(fsys fs.FileSystem, dir string) error {
	m.FormatVersion = MetaVersion

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, metaFileName(m.RowsetID))
	tmpPath := path + ".tmp"
	f, err := fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmpPath)
		return err
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		fsys.Remove(tmpPath)
		return err
	}
	return nil
}
