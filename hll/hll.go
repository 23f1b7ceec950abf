// Package hll implements the HyperLogLog sketch used by the HLL_UNION
// aggregation method, including its three space/precision-tiered wire
// encodings.
//
// The sketch partitions a 64-bit hash space into m = 2^p registers (p = 14,
// m = 16384). The lower p bits of each hash select a register; the remaining
// q = 64-p bits contribute the rank, the position of the first 1-bit from the
// least significant end plus one. Each register stores the maximum rank
// observed.
//
// Low-cardinality sets are kept exact in an explicit set of raw 64-bit
// hashes. Once the explicit set grows past ExplicitInt64Count, or once a
// register-form sketch is merged in, the sketch is folded into register form
// for good.
package hll

import (
	"math"
	"math/bits"
	"sort"
)

const (
	// Precision is the register-index bit width.
	Precision = 14

	// RegistersCount is the number of registers (2^Precision).
	RegistersCount = 1 << Precision

	// ColumnDefaultLen is the byte budget of a serialized HLL column. A
	// sparse encoding that would meet or exceed it is promoted to full.
	ColumnDefaultLen = RegistersCount

	// ExplicitInt64Count is the maximum number of raw hashes kept in the
	// explicit set before conversion to register form.
	ExplicitInt64Count = 160
)

// Context is the per-key-group accumulator for HLL_UNION. It is created by
// the aggregate's init function, mutated by update/merge, and consumed by
// finalize. Its lifetime is exactly one key group's merge cycle; it must not
// be shared across goroutines.
type Context struct {
	// Hashes is the explicit set. It is heap memory and must be released by
	// finalize (Release); the registers may be arena- or heap-backed and are
	// left to their owner.
	Hashes map[uint64]struct{}

	// Registers is allocated lazily on first conversion from explicit form.
	Registers []byte

	// HasSparseOrFull marks that a register-form sketch has been folded in,
	// so the explicit set alone no longer describes the accumulator.
	HasSparseOrFull bool

	// HasValue marks that init has run; HLL columns are considered non-null
	// from that point on.
	HasValue bool
}

// NewContext returns a fresh accumulator.
func NewContext() *Context {
	return &Context{
		Hashes:   make(map[uint64]struct{}),
		HasValue: true,
	}
}

// Release drops the heap-allocated explicit set. After Release the context
// must not be updated again.
func (c *Context) Release() {
	c.Hashes = nil
}

func (c *Context) ensureRegisters() {
	if c.Registers == nil {
		c.Registers = make([]byte, RegistersCount)
	}
}

// AddHash folds one raw 64-bit hash into the accumulator.
func (c *Context) AddHash(h uint64) {
	if c.HasSparseOrFull {
		c.ensureRegisters()
		updateRegister(c.Registers, h)
		return
	}
	c.Hashes[h] = struct{}{}
}

// MergeRegisters folds a full register array (len RegistersCount) into the
// accumulator, keeping the per-register maximum.
func (c *Context) MergeRegisters(regs []byte) {
	c.ensureRegisters()
	c.HasSparseOrFull = true
	for i, v := range regs {
		if v > c.Registers[i] {
			c.Registers[i] = v
		}
	}
}

// MergeSparse folds (index, value) pairs into the accumulator.
func (c *Context) MergeSparse(pairs []SparseEntry) {
	c.ensureRegisters()
	c.HasSparseOrFull = true
	for _, e := range pairs {
		if e.Value > c.Registers[e.Index] {
			c.Registers[e.Index] = e.Value
		}
	}
}

// SparseEntry is one non-zero register in the sparse encoding.
type SparseEntry struct {
	Index uint16
	Value uint8
}

// foldExplicit moves the explicit set into the registers.
func (c *Context) foldExplicit() {
	c.ensureRegisters()
	for h := range c.Hashes {
		updateRegister(c.Registers, h)
	}
}

// updateRegister applies one hash to a register array.
func updateRegister(regs []byte, h uint64) {
	idx := h & (RegistersCount - 1)
	w := h >> Precision
	var rank uint8
	if w == 0 {
		rank = 64 - Precision + 1
	} else {
		rank = uint8(bits.TrailingZeros64(w)) + 1
	}
	if rank > regs[idx] {
		regs[idx] = rank
	}
}

// sparseEntries collects the non-zero registers in index order.
func sparseEntries(regs []byte) []SparseEntry {
	var out []SparseEntry
	for i, v := range regs {
		if v != 0 {
			out = append(out, SparseEntry{Index: uint16(i), Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Estimate returns the cardinality estimate of the accumulator. Explicit-only
// contexts report the exact set size.
func (c *Context) Estimate() uint64 {
	if !c.HasSparseOrFull {
		return uint64(len(c.Hashes))
	}
	regs := make([]byte, RegistersCount)
	copy(regs, c.Registers)
	if len(c.Hashes) > 0 {
		for h := range c.Hashes {
			updateRegister(regs, h)
		}
	}
	return estimateRegisters(regs)
}

// estimateRegisters runs the harmonic-mean estimator with the standard
// low-range linear-counting correction.
func estimateRegisters(regs []byte) uint64 {
	m := float64(RegistersCount)
	var sum float64
	zeros := 0
	for _, v := range regs {
		sum += 1.0 / float64(uint64(1)<<v)
		if v == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1.0 + 1.079/m)
	estimate := alpha * m * m / sum
	if estimate <= 2.5*m && zeros > 0 {
		estimate = m * math.Log(m/float64(zeros))
	}
	return uint64(estimate + 0.5)
}
