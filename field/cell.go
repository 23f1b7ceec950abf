package field

// Slice is a (data, length) view over variable-length cell bytes. The bytes
// are owned either by the row buffer that produced them or by the arena a
// merge cycle allocated them from; a Slice never owns its backing array.
type Slice struct {
	Data []byte
}

// Size returns the current length in bytes.
func (s *Slice) Size() int { return len(s.Data) }

// Cell is a transient, non-owning view over one column slot of a row buffer:
// a null byte followed by either a fixed-width payload or a slice header.
//
// Cell performs no bounds checking against the row's schema; the aggregation
// function operating on it is trusted to know the column width from its type
// tag. A Cell is only valid while the underlying row buffer (and, for
// arena-backed slices, the arena) is alive.
type Cell struct {
	// Buf holds the null byte at Buf[0] and, for fixed-width types, the raw
	// payload at Buf[1:].
	Buf []byte

	// Value is the slice header for variable-length types; nil otherwise.
	Value *Slice

	// Aux carries per-cell aggregation state wired in by an aggregate's Init
	// function (the HLL context). Opaque to the cell itself.
	Aux any
}

// NewCell allocates a cell of the right shape for t. The cell starts null.
func NewCell(t Type) *Cell {
	c := &Cell{}
	if t.Variable() {
		c.Buf = make([]byte, 1)
		c.Value = &Slice{}
	} else {
		c.Buf = make([]byte, 1+t.Size())
	}
	c.SetIsNull(true)
	return c
}

// IsNull reports whether the cell holds no value.
func (c *Cell) IsNull() bool { return c.Buf[0] != 0 }

// SetIsNull sets the null flag.
func (c *Cell) SetIsNull(null bool) {
	if null {
		c.Buf[0] = 1
	} else {
		c.Buf[0] = 0
	}
}

// Bytes returns the fixed-width payload for reading.
func (c *Cell) Bytes() []byte { return c.Buf[1:] }

// MutableBytes returns the fixed-width payload for writing.
func (c *Cell) MutableBytes() []byte { return c.Buf[1:] }

// Slice returns the variable-length header, or nil for fixed-width cells.
func (c *Cell) Slice() *Slice { return c.Value }

// SetSlice points the cell at data without copying.
func (c *Cell) SetSlice(data []byte) {
	c.Value.Data = data
}
