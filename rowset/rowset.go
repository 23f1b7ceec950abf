package rowset

import (
	"context"
	"log/slog"

	"github.com/hupe1980/olapgo/internal/cache"
	"github.com/hupe1980/olapgo/internal/fs"
	"github.com/hupe1980/olapgo/internal/resource"
)

// State tracks a rowset's lifecycle position.
type State int

const (
	// StateUnbound means the path is known but nothing has been read.
	StateUnbound State = iota
	// StateInitialized means metadata is validated and group descriptors are
	// built, with no file data loaded.
	StateInitialized
	// StateLoaded means segment group contents are materialized.
	StateLoaded
	// StateRemoved means on-disk files are deleted and the object is inert.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateInitialized:
		return "initialized"
	case StateLoaded:
		return "loaded"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// KeyRange is one half-open scan partition produced by SplitRange. A nil
// Start or End means the corresponding side is unbounded.
type KeyRange struct {
	Start Key
	End   Key
}

// Env bundles the shared infrastructure a rowset operates against. The zero
// value uses the local file system with no cache and no resource limits.
type Env struct {
	FS        fs.FileSystem
	Cache     *cache.SegmentCache
	Resources *resource.Controller
	Logger    *slog.Logger
}

func (e Env) fs() fs.FileSystem {
	if e.FS == nil {
		return fs.Default
	}
	return e.FS
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Rowset is an immutable, versioned on-disk unit of row data. Implementations
// own a set of segment groups plus a meta record and move through the
// Unbound, Initialized, Loaded, Removed lifecycle.
type Rowset interface {
	// ID returns the rowset id.
	ID() uint64

	// Meta returns the rowset's metadata record.
	Meta() *Meta

	// Version returns the rowset's published version range.
	Version() Version

	// State returns the current lifecycle state.
	State() State

	// Init validates the on-disk path and builds segment group descriptors
	// without loading file data.
	Init() error

	// Load materializes segment group contents. Idempotent; with useCache the
	// process-wide segment cache is consulted first.
	Load(ctx context.Context, useCache bool) error

	// CreateReader returns a merge-on-read reader over the loaded groups,
	// loading them first if needed.
	CreateReader(ctx context.Context) (*Reader, error)

	// Remove deletes every on-disk file of every segment group. Partial
	// failure is reported but never rolled back; the rowset is unusable
	// afterwards regardless.
	Remove() error

	// LinkFilesTo snapshots the rowset into dir under a new identity via hard
	// links.
	LinkFilesTo(dir string, newID uint64) error

	// CopyFilesTo snapshots the rowset into dir via full file copies.
	CopyFilesTo(ctx context.Context, dir string) error

	// SplitRange partitions [start, end] into sub-ranges of roughly
	// rowsPerBlock rows each, sampled from the largest segment group's
	// short-key index.
	SplitRange(ctx context.Context, start, end Key, rowsPerBlock uint64) ([]KeyRange, error)

	// ResetSizeInfo recomputes row count and sizes from segment group ground
	// truth and rewrites the meta file.
	ResetSizeInfo(ctx context.Context) error

	// MakeVisible publishes the rowset at a version, stamping metadata and
	// segment groups.
	MakeVisible(v Version, versionHash uint64) error
}
