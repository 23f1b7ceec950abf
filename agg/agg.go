// Package agg implements the type-dispatched aggregation engine that defines
// how duplicate-key column values are combined during ingest, compaction and
// read-time merge.
//
// One Info bundle exists per (method, field type) pair for the lifetime of
// the process. The table is built once on first lookup and never mutated
// afterwards, so lookups and calls are safe from any goroutine without
// synchronization. Correctness of concurrent merges relies on each worker
// driving its own destination cells and its own arena.
package agg

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/olapgo/field"
	"github.com/hupe1980/olapgo/internal/arena"
)

// ErrUnsupportedAggregate is returned by Get for a (method, type) pair the
// schema does not support. Callers must treat it as a fatal schema-validation
// error, not a retryable condition.
var ErrUnsupportedAggregate = errors.New("agg: unsupported aggregation for field type")

// Method is the per-column merge semantics applied when duplicate keys are
// combined. Fixed per column at schema definition time.
type Method int

const (
	MethodNone Method = iota
	MethodMin
	MethodMax
	MethodSum
	MethodReplace
	MethodHLLUnion
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "NONE"
	case MethodMin:
		return "MIN"
	case MethodMax:
		return "MAX"
	case MethodSum:
		return "SUM"
	case MethodReplace:
		return "REPLACE"
	case MethodHLLUnion:
		return "HLL_UNION"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// InitFunc establishes the identity element for the aggregation in dst.
// Called exactly once per output key group before any update.
type InitFunc func(dst *field.Cell, a *arena.Arena)

// UpdateFunc folds one source value into the running aggregate. Null sources
// never change the aggregate (except REPLACE, which adopts the null flag).
type UpdateFunc func(dst, src *field.Cell, a *arena.Arena)

// FinalizeFunc converts the accumulator into its persisted representation
// and releases any heap memory the aggregate allocated outside the arena.
// After finalize no further update against the same destination is legal.
type FinalizeFunc func(dst *field.Cell, a *arena.Arena)

// Info is an immutable bundle of the four aggregation functions for one
// (method, type) pair.
type Info struct {
	method   Method
	init     InitFunc
	update   UpdateFunc
	merge    UpdateFunc
	finalize FinalizeFunc
}

// Method returns the aggregation method tag.
func (i *Info) Method() Method { return i.method }

// Init initializes the aggregation environment in dst. Plain memory may come
// from the arena, whose lifetime lasts until after Finalize; heap memory must
// be freed by Finalize.
func (i *Info) Init(dst *field.Cell, a *arena.Arena) { i.init(dst, a) }

// Update folds a raw source row's value into dst. Used on the load path.
func (i *Info) Update(dst, src *field.Cell, a *arena.Arena) { i.update(dst, src, a) }

// Merge folds an already-aggregated intermediate value into dst. Used on the
// read path when combining partial aggregates. Identical to Update unless a
// method registers divergent semantics.
func (i *Info) Merge(dst, src *field.Cell, a *arena.Arena) { i.merge(dst, src, a) }

// Finalize converts the accumulator into its final persisted form.
func (i *Info) Finalize(dst *field.Cell, a *arena.Arena) { i.finalize(dst, a) }

type tableKey struct {
	method Method
	typ    field.Type
}

var (
	tableOnce sync.Once
	table     map[tableKey]*Info
)

// funcs is the registration bundle. Nil members fall back to the defaults:
// init marks the destination null, update does nothing, merge mirrors
// update, finalize does nothing.
type funcs struct {
	init     InitFunc
	update   UpdateFunc
	merge    UpdateFunc
	finalize FinalizeFunc
}

func register(m Method, t field.Type, f funcs) {
	if f.init == nil {
		f.init = defaultInit
	}
	if f.update == nil {
		f.update = defaultUpdate
	}
	if f.merge == nil {
		f.merge = f.update
	}
	if f.finalize == nil {
		f.finalize = defaultFinalize
	}
	table[tableKey{m, t}] = &Info{
		method:   m,
		init:     f.init,
		update:   f.update,
		merge:    f.merge,
		finalize: f.finalize,
	}
}

// defaultInit marks the destination logically null: no value has contributed
// yet.
func defaultInit(dst *field.Cell, _ *arena.Arena) {
	dst.SetIsNull(true)
}

func defaultUpdate(_, _ *field.Cell, _ *arena.Arena) {}

func defaultFinalize(_ *field.Cell, _ *arena.Arena) {}

// Get returns the process-lifetime Info singleton for the pair, or
// ErrUnsupportedAggregate for combinations the schema does not support.
func Get(m Method, t field.Type) (*Info, error) {
	tableOnce.Do(buildTable)
	info, ok := table[tableKey{m, t}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedAggregate, m, t)
	}
	return info, nil
}

func buildTable() {
	table = make(map[tableKey]*Info)

	allTypes := []field.Type{
		field.TypeTinyInt, field.TypeSmallInt, field.TypeInt, field.TypeBigInt,
		field.TypeLargeInt, field.TypeFloat, field.TypeDouble,
		field.TypeChar, field.TypeVarchar, field.TypeHLL,
	}

	// NONE: key columns carry no merge semantics.
	for _, t := range allTypes {
		register(MethodNone, t, funcs{})
	}

	registerNumeric(MethodMin)
	registerNumeric(MethodMax)
	registerNumeric(MethodSum)

	// REPLACE: every type, last write wins.
	for _, t := range allTypes {
		if t == field.TypeHLL {
			continue
		}
		if t.Variable() {
			register(MethodReplace, t, funcs{update: replaceSliceUpdate})
		} else {
			register(MethodReplace, t, funcs{update: replaceFixedUpdate(t)})
		}
	}

	register(MethodHLLUnion, field.TypeHLL, funcs{
		init:     hllInit,
		update:   hllUpdate,
		finalize: hllFinalize,
	})
}
