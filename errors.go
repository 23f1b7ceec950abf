package olapgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/olapgo/rowset"
)

var (
	// ErrClosed is returned by any operation on a closed tablet.
	ErrClosed = errors.New("olapgo: tablet closed")

	// ErrVersionNotFound is returned when no consistent rowset set covers the
	// requested version.
	ErrVersionNotFound = errors.New("olapgo: version not found")

	// ErrRowsetNotFound is returned when a rowset id is not registered.
	ErrRowsetNotFound = errors.New("olapgo: rowset not found")
)

// translateError maps layer-internal errors onto the tablet's public error
// set while keeping the cause reachable through errors.Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rowset.ErrRemoved) {
		return fmt.Errorf("%w: %w", ErrRowsetNotFound, err)
	}
	return err
}
