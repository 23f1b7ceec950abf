// Package arena provides a bump allocator for short-lived byte buffers whose
// lifetime is bounded by one merge/finalize cycle.
//
// An Arena is exclusively owned by whichever component drives the cycle (a
// compaction task, a read-time merge). Everything allocated from it stays
// valid until the owner calls Reset or Free; aggregation functions never
// release arena memory themselves. The arena is not safe for concurrent use.
package arena

import "fmt"

// DefaultChunkSize is the default chunk size (64 KiB).
const DefaultChunkSize = 64 * 1024

// Stats tracks arena usage.
type Stats struct {
	ChunksAllocated uint64
	BytesReserved   uint64
	BytesUsed       uint64
	TotalAllocs     uint64
}

// Arena is a chunked bump allocator.
type Arena struct {
	chunkSize int
	chunks    [][]byte
	current   []byte
	offset    int
	stats     Stats
}

// Option configures an Arena.
type Option func(*Arena)

// WithChunkSize overrides the default chunk size.
func WithChunkSize(size int) Option {
	return func(a *Arena) {
		if size > 0 {
			a.chunkSize = size
		}
	}
}

// New creates an empty arena. The first chunk is allocated lazily.
func New(opts ...Option) *Arena {
	a := &Arena{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AllocBytes returns a zeroed byte slice of the given size. The slice is
// valid until Reset or Free.
func (a *Arena) AllocBytes(size int) []byte {
	if size <= 0 {
		return nil
	}

	if size > a.chunkSize {
		// Oversized allocations get a dedicated chunk.
		buf := make([]byte, size)
		a.chunks = append(a.chunks, buf)
		a.stats.ChunksAllocated++
		a.stats.BytesReserved += uint64(size)
		a.stats.BytesUsed += uint64(size)
		a.stats.TotalAllocs++
		return buf
	}

	if a.current == nil || a.offset+size > len(a.current) {
		a.current = make([]byte, a.chunkSize)
		a.offset = 0
		a.chunks = append(a.chunks, a.current)
		a.stats.ChunksAllocated++
		a.stats.BytesReserved += uint64(a.chunkSize)
	}

	buf := a.current[a.offset : a.offset+size : a.offset+size]
	a.offset += size
	a.stats.BytesUsed += uint64(size)
	a.stats.TotalAllocs++
	return buf
}

// Copy allocates and fills a slice with src.
func (a *Arena) Copy(src []byte) []byte {
	buf := a.AllocBytes(len(src))
	copy(buf, src)
	return buf
}

// Reset drops all allocations but keeps the most recent chunk for reuse.
// Slices handed out before Reset become invalid.
func (a *Arena) Reset() {
	if a.current != nil {
		a.chunks = a.chunks[:0]
		a.chunks = append(a.chunks, a.current)
		a.offset = 0
		a.stats.BytesReserved = uint64(len(a.current))
	}
	a.stats.BytesUsed = 0
}

// Free releases every chunk. The arena cannot be reused afterwards.
func (a *Arena) Free() {
	a.chunks = nil
	a.current = nil
	a.offset = 0
	a.stats.BytesReserved = 0
	a.stats.BytesUsed = 0
}

// Stats returns current usage counters.
func (a *Arena) Stats() Stats { return a.stats }

func (a *Arena) String() string {
	return fmt.Sprintf("Arena{chunks: %d, reserved: %d, used: %d, allocs: %d}",
		len(a.chunks), a.stats.BytesReserved, a.stats.BytesUsed, a.stats.TotalAllocs)
}
