package agg

import (
	"github.com/hupe1980/olapgo/field"
	"github.com/hupe1980/olapgo/hll"
	"github.com/hupe1980/olapgo/internal/arena"
)

// hllInit allocates the per-key-group HLL context and wires it into the
// cell's control region. HLL columns are considered to have a value from
// this point on.
func hllInit(dst *field.Cell, _ *arena.Arena) {
	dst.SetIsNull(false)
	dst.Aux = hll.NewContext()
}

// hllUpdate folds the source sketch's elements into the destination context.
// The null flag is never touched. A malformed source sketch is a contract
// violation prevented upstream by schema validation; it is dropped here
// rather than recovered.
func hllUpdate(dst, src *field.Cell, _ *arena.Arena) {
	if src.IsNull() {
		return
	}
	ctx := dst.Aux.(*hll.Context)
	_ = ctx.Merge(src.Slice().Data)
}

// hllFinalize serializes the context into the destination slice, choosing
// among the explicit, sparse and full encodings by serialized size, then
// releases the heap-allocated hash set. No further update against this
// destination is legal.
func hllFinalize(dst *field.Cell, a *arena.Arena) {
	ctx := dst.Aux.(*hll.Context)
	buf := ctx.Serialize(nil)
	if a != nil {
		buf = a.Copy(buf)
	}
	dst.SetSlice(buf)
	ctx.Release()
	dst.Aux = nil
}
