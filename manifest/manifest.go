// Package manifest persists the tablet's published rowset set: which rowset
// covers which version range. Updates go through an atomic
// write-temp-rename-CURRENT sequence so a crash never leaves a torn state.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/olapgo/internal/fs"
	"github.com/hupe1980/olapgo/rowset"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	CurrentVersion   = 1
)

// Manifest describes the tablet's visible rowsets at one point in time.
type Manifest struct {
	Version      int          `json:"version"`
	ID           uint64       `json:"id"`
	TabletID     uint64       `json:"tablet_id"`
	NextRowsetID uint64       `json:"next_rowset_id"`
	Rowsets      []RowsetInfo `json:"rowsets"`
}

// RowsetInfo is the manifest's view of one published rowset.
type RowsetInfo struct {
	RowsetID    uint64         `json:"rowset_id"`
	Version     rowset.Version `json:"version"`
	VersionHash uint64         `json:"version_hash"`
	RowCount    uint64         `json:"row_count"`
	DataSize    int64          `json:"data_size"`
	GroupCount  int            `json:"group_count"`
	Path        string         `json:"path"` // relative to the tablet dir
}

// Store manages the manifest file and its atomic updates.
type Store struct {
	fs  fs.FileSystem
	dir string
	mu  sync.Mutex
}

// NewStore creates a manifest store over dir.
func NewStore(fsys fs.FileSystem, dir string) *Store {
	return &Store{fs: fsys, dir: dir}
}

// Load reads the manifest the CURRENT pointer names. A missing CURRENT file
// yields an empty manifest.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readFile := func(path string) ([]byte, error) {
		f, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}

	content, err := readFile(filepath.Join(s.dir, CurrentFileName))
	if os.IsNotExist(err) {
		return &Manifest{Version: CurrentVersion}, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := readFile(filepath.Join(s.dir, string(content)))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("manifest: unsupported version %d (expected %d)", m.Version, CurrentVersion)
	}
	return &m, nil
}

// Save atomically persists a new manifest generation and repoints CURRENT.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++

	filename := fmt.Sprintf("%s-%06d.json", ManifestFileName, m.ID)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := s.writeAtomic(filepath.Join(s.dir, filename), data); err != nil {
		return err
	}
	if err := s.syncDir(); err != nil {
		return err
	}

	if err := s.writeAtomic(filepath.Join(s.dir, CurrentFileName), []byte(filename)); err != nil {
		return err
	}
	return s.syncDir()
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := s.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return err
	}
	if err := s.fs.Rename(tmpPath, path); err != nil {
		s.fs.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) syncDir() error {
	f, err := s.fs.OpenFile(s.dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
