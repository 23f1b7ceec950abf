// Package rowset implements the versioned, segmented rowset abstraction of
// the storage engine: immutable on-disk units of row data addressable by
// version, composed of one or more segment groups sharing a short-key index.
package rowset

import "fmt"

// Version is the inclusive range a rowset occupies in a tablet's logical
// history. A singleton version has First == Last; a compacted rowset covers
// the merged range. Assigned at publication time, immutable afterwards.
type Version struct {
	First int64 `json:"first"`
	Last  int64 `json:"last"`
}

func (v Version) String() string { return fmt.Sprintf("[%d-%d]", v.First, v.Last) }

// Contains reports whether other lies fully inside v.
func (v Version) Contains(other Version) bool {
	return v.First <= other.First && other.Last <= v.Last
}

// Singleton reports whether the version covers exactly one position.
func (v Version) Singleton() bool { return v.First == v.Last }
