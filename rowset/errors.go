package rowset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPath is returned when a rowset's on-disk path layout is not
	// well-formed. Fatal; the caller must refuse to load the rowset.
	ErrInvalidPath = errors.New("rowset: invalid rowset path")

	// ErrCorruptMeta is returned when rowset metadata cannot be read or
	// fails validation. Fatal, non-retryable.
	ErrCorruptMeta = errors.New("rowset: corrupt rowset meta")

	// ErrCorruptSegment is returned when a segment group file fails its
	// magic or checksum validation.
	ErrCorruptSegment = errors.New("rowset: corrupt segment file")

	// ErrRemoved is returned by any operation on a rowset whose files have
	// been removed.
	ErrRemoved = errors.New("rowset: rowset removed")

	// ErrNotLoaded is returned when an operation requires loaded segment
	// groups and implicit loading is not performed.
	ErrNotLoaded = errors.New("rowset: rowset not loaded")
)

// FileError records one failed file inside a multi-file operation.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e FileError) Unwrap() error { return e.Err }

// PartialFailureError reports a multi-file operation (remove, convert, link,
// copy) that failed partway. Succeeded lists the files already processed so
// the caller can clean up; already-processed files are never rolled back.
type PartialFailureError struct {
	Op        string
	Succeeded []string
	Failures  []FileError
}

func (e *PartialFailureError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "rowset: %s failed for %d file(s)", e.Op, len(e.Failures))
	for _, f := range e.Failures {
		sb.WriteString("; ")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

// Unwrap exposes the first underlying failure for errors.Is/As matching.
func (e *PartialFailureError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}
