package hll

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Format is the leading tag byte of a serialized sketch.
type Format uint8

const (
	FormatEmpty Format = iota
	// FormatExplicit: tag, uint8 count, count raw 64-bit hashes.
	FormatExplicit
	// FormatSparse: tag, uint32 pair count, pairs of (uint16 index,
	// uint8 value).
	FormatSparse
	// FormatFull: tag, RegistersCount register bytes.
	FormatFull
)

const (
	sparseHeaderLen = 4 // uint32 pair count
	sparsePairLen   = 3 // uint16 index + uint8 value
)

// Serialize encodes the accumulator, choosing among the three encodings by
// estimated serialized size, and returns the encoding appended to dst.
//
// The selection mirrors finalize semantics: once the context is in register
// form, or the explicit set exceeds ExplicitInt64Count, the explicit set is
// folded into registers; a sparse encoding at or above ColumnDefaultLen
// bytes is promoted to full.
func (c *Context) Serialize(dst []byte) []byte {
	var entries []SparseEntry
	if c.HasSparseOrFull || len(c.Hashes) > ExplicitInt64Count {
		c.foldExplicit()
		entries = sparseEntries(c.Registers)
	}

	sparseLen := len(entries)*sparsePairLen + sparseHeaderLen
	switch {
	case len(entries) > 0 && sparseLen >= ColumnDefaultLen:
		dst = append(dst, byte(FormatFull))
		dst = append(dst, c.Registers...)
	case len(entries) > 0:
		dst = append(dst, byte(FormatSparse))
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(entries)))
		dst = append(dst, n[:]...)
		for _, e := range entries {
			var p [sparsePairLen]byte
			binary.LittleEndian.PutUint16(p[:2], e.Index)
			p[2] = e.Value
			dst = append(dst, p[:]...)
		}
	case len(c.Hashes) > 0:
		dst = append(dst, byte(FormatExplicit), byte(len(c.Hashes)))
		hashes := make([]uint64, 0, len(c.Hashes))
		for h := range c.Hashes {
			hashes = append(hashes, h)
		}
		sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
		var p [8]byte
		for _, h := range hashes {
			binary.LittleEndian.PutUint64(p[:], h)
			dst = append(dst, p[:]...)
		}
	default:
		dst = append(dst, byte(FormatEmpty))
	}
	return dst
}

// SerializedLen returns the exact byte length Serialize would produce,
// without mutating the context.
func (c *Context) SerializedLen() int {
	if c.HasSparseOrFull || len(c.Hashes) > ExplicitInt64Count {
		regs := make([]byte, RegistersCount)
		copy(regs, c.Registers)
		for h := range c.Hashes {
			updateRegister(regs, h)
		}
		n := 0
		for _, v := range regs {
			if v != 0 {
				n++
			}
		}
		if sl := n*sparsePairLen + sparseHeaderLen; sl < ColumnDefaultLen {
			return 1 + sl
		}
		return 1 + RegistersCount
	}
	if len(c.Hashes) > 0 {
		return 2 + 8*len(c.Hashes)
	}
	return 1
}

// Merge folds one serialized sketch into the accumulator.
func (c *Context) Merge(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	switch Format(data[0]) {
	case FormatEmpty:
		return nil
	case FormatExplicit:
		if len(data) < 2 {
			return fmt.Errorf("hll: truncated explicit sketch")
		}
		n := int(data[1])
		body := data[2:]
		if len(body) < n*8 {
			return fmt.Errorf("hll: explicit sketch needs %d bytes, have %d", n*8, len(body))
		}
		for i := 0; i < n; i++ {
			c.AddHash(binary.LittleEndian.Uint64(body[i*8:]))
		}
		return nil
	case FormatSparse:
		if len(data) < 1+sparseHeaderLen {
			return fmt.Errorf("hll: truncated sparse sketch")
		}
		n := int(binary.LittleEndian.Uint32(data[1:]))
		body := data[1+sparseHeaderLen:]
		if len(body) < n*sparsePairLen {
			return fmt.Errorf("hll: sparse sketch needs %d bytes, have %d", n*sparsePairLen, len(body))
		}
		pairs := make([]SparseEntry, n)
		for i := range pairs {
			p := body[i*sparsePairLen:]
			pairs[i] = SparseEntry{
				Index: binary.LittleEndian.Uint16(p) & (RegistersCount - 1),
				Value: p[2],
			}
		}
		c.MergeSparse(pairs)
		return nil
	case FormatFull:
		body := data[1:]
		if len(body) < RegistersCount {
			return fmt.Errorf("hll: full sketch needs %d bytes, have %d", RegistersCount, len(body))
		}
		c.MergeRegisters(body[:RegistersCount])
		return nil
	default:
		return fmt.Errorf("hll: unknown sketch format %d", data[0])
	}
}

// EstimateSerialized decodes one sketch and reports its cardinality estimate.
func EstimateSerialized(data []byte) (uint64, error) {
	ctx := NewContext()
	if err := ctx.Merge(data); err != nil {
		return 0, err
	}
	return ctx.Estimate(), nil
}
