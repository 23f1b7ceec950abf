package rowset

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/olapgo/agg"
	"github.com/hupe1980/olapgo/field"
)

// Column describes one column of a rowset schema.
type Column struct {
	Name   string
	Type   field.Type
	Method agg.Method
	IsKey  bool
}

// Schema is the column layout shared by every row of a rowset. Key columns
// must form a prefix and carry no aggregation; value columns carry the merge
// semantics applied when duplicate keys are combined.
type Schema struct {
	Columns []Column
	numKeys int
}

// NewSchema validates the column layout and resolves that every
// (method, type) pair is supported. An unsupported pair is a fatal
// schema-validation error.
func NewSchema(cols []Column) (*Schema, error) {
	if len(cols) == 0 {
		return nil, errors.New("rowset: schema needs at least one column")
	}

	numKeys := 0
	inKeys := true
	for i, c := range cols {
		if c.IsKey {
			if !inKeys {
				return nil, fmt.Errorf("rowset: key column %q must precede value columns", c.Name)
			}
			if c.Method != agg.MethodNone {
				return nil, fmt.Errorf("rowset: key column %q cannot aggregate", c.Name)
			}
			numKeys++
		} else {
			inKeys = false
		}
		if _, err := agg.Get(c.Method, c.Type); err != nil {
			return nil, fmt.Errorf("rowset: column %q (%d): %w", c.Name, i, err)
		}
	}
	if numKeys == 0 {
		return nil, errors.New("rowset: schema needs at least one key column")
	}

	return &Schema{Columns: cols, numKeys: numKeys}, nil
}

// NumKeyColumns returns the length of the key prefix.
func (s *Schema) NumKeyColumns() int { return s.numKeys }

// Row is one row's cells, laid out per the schema.
type Row struct {
	Cells []*field.Cell
}

// NewRow allocates an all-null row for the schema.
func (s *Schema) NewRow() *Row {
	cells := make([]*field.Cell, len(s.Columns))
	for i, c := range s.Columns {
		cells[i] = field.NewCell(c.Type)
	}
	return &Row{Cells: cells}
}

// Key is one row's key column payloads. A nil element marks a null key cell.
type Key [][]byte

// RowKey extracts the key of a row. The returned slices alias the row's
// buffers.
func (s *Schema) RowKey(r *Row) Key {
	k := make(Key, s.numKeys)
	for i := 0; i < s.numKeys; i++ {
		c := r.Cells[i]
		if c.IsNull() {
			continue
		}
		if s.Columns[i].Type.Variable() {
			k[i] = c.Slice().Data
		} else {
			k[i] = c.Bytes()
		}
	}
	return k
}

// CompareKeys orders two keys under the key columns' natural orderings,
// nulls first. Keys may be shorter than the full key prefix (range bounds);
// a missing trailing cell sorts before any present one.
func (s *Schema) CompareKeys(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		an, bn := a[i] == nil, b[i] == nil
		switch {
		case an && bn:
			continue
		case an:
			return -1
		case bn:
			return 1
		}
		if c := s.Columns[i].Type.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// CompareRowKeys orders two rows by their key prefix.
func (s *Schema) CompareRowKeys(a, b *Row) int {
	return s.CompareKeys(s.RowKey(a), s.RowKey(b))
}

// Clone deep-copies a key so it outlives the row buffer it came from.
func (k Key) Clone() Key {
	out := make(Key, len(k))
	for i, c := range k {
		if c != nil {
			out[i] = append([]byte(nil), c...)
		}
	}
	return out
}

// Row wire encoding: per cell a null byte, then for non-null cells either
// the fixed payload or a uint32 length prefix plus bytes.

func (s *Schema) encodeRow(dst []byte, r *Row) []byte {
	for i, col := range s.Columns {
		c := r.Cells[i]
		if c.IsNull() {
			dst = append(dst, 1)
			continue
		}
		dst = append(dst, 0)
		if col.Type.Variable() {
			var n [4]byte
			binary.LittleEndian.PutUint32(n[:], uint32(c.Slice().Size()))
			dst = append(dst, n[:]...)
			dst = append(dst, c.Slice().Data...)
		} else {
			dst = append(dst, c.Bytes()[:col.Type.Size()]...)
		}
	}
	return dst
}

// decodeRow fills r from data and returns the bytes consumed. Variable
// cells alias data; the caller owns keeping data alive.
func (s *Schema) decodeRow(data []byte, r *Row) (int, error) {
	off := 0
	for i, col := range s.Columns {
		if off >= len(data) {
			return 0, fmt.Errorf("%w: truncated row", ErrCorruptSegment)
		}
		null := data[off] != 0
		off++
		c := r.Cells[i]
		c.SetIsNull(null)
		if null {
			continue
		}
		if col.Type.Variable() {
			if off+4 > len(data) {
				return 0, fmt.Errorf("%w: truncated cell length", ErrCorruptSegment)
			}
			n := int(binary.LittleEndian.Uint32(data[off:]))
			off += 4
			if off+n > len(data) {
				return 0, fmt.Errorf("%w: truncated cell payload", ErrCorruptSegment)
			}
			c.SetSlice(data[off : off+n : off+n])
			off += n
		} else {
			size := col.Type.Size()
			if off+size > len(data) {
				return 0, fmt.Errorf("%w: truncated cell payload", ErrCorruptSegment)
			}
			copy(c.MutableBytes(), data[off:off+size])
			off += size
		}
	}
	return off, nil
}

// encodeKey serializes a key for the short-key index.
func encodeKey(dst []byte, k Key) []byte {
	dst = append(dst, byte(len(k)))
	for _, cell := range k {
		if cell == nil {
			dst = append(dst, 1)
			continue
		}
		dst = append(dst, 0)
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(cell)))
		dst = append(dst, n[:]...)
		dst = append(dst, cell...)
	}
	return dst
}

// decodeKey parses a key and returns the bytes consumed.
func decodeKey(data []byte) (Key, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("%w: truncated key", ErrCorruptSegment)
	}
	n := int(data[0])
	off := 1
	k := make(Key, n)
	for i := 0; i < n; i++ {
		if off >= len(data) {
			return nil, 0, fmt.Errorf("%w: truncated key cell", ErrCorruptSegment)
		}
		null := data[off] != 0
		off++
		if null {
			continue
		}
		if off+2 > len(data) {
			return nil, 0, fmt.Errorf("%w: truncated key length", ErrCorruptSegment)
		}
		l := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+l > len(data) {
			return nil, 0, fmt.Errorf("%w: truncated key payload", ErrCorruptSegment)
		}
		k[i] = append([]byte(nil), data[off:off+l]...)
		off += l
	}
	return k, off, nil
}
