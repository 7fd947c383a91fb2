package accum

import (
	"math"
	"sync/atomic"

	"github.com/spirit-labs/preagg/common"
)

// Calculator folds accumulator values of one (kind, op) combination under the four execution contexts a value
// can be merged in.
type Calculator interface {
	Kind() Kind
	Op() Op
	// ExtraWords is the number of words the kind needs after the fixed part of a row.
	ExtraWords() int
	// Init sets dst to ABSENT holding the identity of the operation.
	Init(dst Cell)
	// SerialMerge folds src into dst. dst must not be shared.
	SerialMerge(dst, src Cell)
	// WarpMerge folds, for every lane l, the value held by lane l^mask into lane l. All lanes take part.
	WarpMerge(lanes []Cell, mask int)
	// AtomicMerge folds src into dst which may be updated concurrently.
	AtomicMerge(dst, src Cell)
	// Update folds a projected prep value into an accumulator which may be updated concurrently.
	Update(dst, src Cell)
}

type number interface {
	int32 | int64 | float32 | float64
}

type calc[T number] struct {
	kind     Kind
	op       Op
	identity T
	combine  func(a, b T) T
	encode   func(T) uint64
	decode   func(uint64) T
}

func (c *calc[T]) Kind() Kind {
	return c.kind
}

func (c *calc[T]) Op() Op {
	return c.op
}

func (c *calc[T]) ExtraWords() int {
	return 0
}

func (c *calc[T]) Init(dst Cell) {
	*dst.Class = DatumNull
	*dst.Value = c.encode(c.identity)
}

// present reports whether src carries a value. Anything other than PRESENT or ABSENT is a code generation bug.
func present(src Cell) bool {
	switch *src.Class {
	case DatumNormal:
		return true
	case DatumNull:
		return false
	default:
		panic("accumulator source has an invalid datum class")
	}
}

func (c *calc[T]) SerialMerge(dst, src Cell) {
	if !present(src) {
		return
	}
	*dst.Value = c.encode(c.combine(c.decode(*dst.Value), c.decode(*src.Value)))
	*dst.Class = DatumNormal
}

func (c *calc[T]) WarpMerge(lanes []Cell, mask int) {
	classes := make([]uint64, len(lanes))
	values := make([]uint64, len(lanes))
	for l, cell := range lanes {
		classes[l] = *cell.Class
		values[l] = *cell.Value
	}
	for l, cell := range lanes {
		src := l ^ mask
		if src >= len(lanes) {
			continue
		}
		c.SerialMerge(cell, Cell{Class: &classes[src], Value: &values[src]})
	}
}

func (c *calc[T]) AtomicMerge(dst, src Cell) {
	if !present(src) {
		return
	}
	newval := c.decode(*src.Value)
	if c.kind == KindInt64 && c.op == OpAdd {
		atomic.AddUint64(dst.Value, uint64(newval))
	} else {
		var backoff common.CASBackoff
		for {
			oldBits := atomic.LoadUint64(dst.Value)
			newBits := c.encode(c.combine(c.decode(oldBits), newval))
			if newBits == oldBits || atomic.CompareAndSwapUint64(dst.Value, oldBits, newBits) {
				break
			}
			backoff.Fail()
		}
	}
	if atomic.LoadUint64(dst.Class) != DatumNormal {
		atomic.StoreUint64(dst.Class, DatumNormal)
	}
}

func (c *calc[T]) Update(dst, src Cell) {
	c.AtomicMerge(dst, src)
}

func minOf[T number](a, b T) T {
	if b < a {
		return b
	}
	return a
}

func maxOf[T number](a, b T) T {
	if b > a {
		return b
	}
	return a
}

func addOf[T number](a, b T) T {
	return a + b
}

func newCalc[T number](kind Kind, op Op, minIdentity, maxIdentity T, encode func(T) uint64, decode func(uint64) T) *calc[T] {
	c := &calc[T]{kind: kind, op: op, encode: encode, decode: decode}
	switch op {
	case OpMin:
		c.identity = minIdentity
		c.combine = minOf[T]
	case OpMax:
		c.identity = maxIdentity
		c.combine = maxOf[T]
	case OpAdd:
		c.combine = addOf[T]
	default:
		panic("unsupported numeric accumulator operation")
	}
	return c
}

// nullCalc carries a column that is never aggregated; it stays ABSENT.
type nullCalc struct{}

func (nullCalc) Kind() Kind { return KindNull }
func (nullCalc) Op() Op { return OpNone }
func (nullCalc) ExtraWords() int { return 0 }

func (nullCalc) Init(dst Cell) {
	*dst.Class = DatumNull
	*dst.Value = 0
}

func (nullCalc) SerialMerge(_, _ Cell) {}
func (nullCalc) WarpMerge(_ []Cell, _ int) {}
func (nullCalc) AtomicMerge(_, _ Cell) {}
func (nullCalc) Update(_, _ Cell) {}

var numericCalcs = map[Kind]map[Op]Calculator{}

func init() {
	for _, op := range []Op{OpMin, OpMax, OpAdd} {
		register(KindInt32, op, newCalc[int32](KindInt32, op, math.MaxInt32, math.MinInt32, EncodeInt32, DecodeInt32))
		register(KindInt64, op, newCalc[int64](KindInt64, op, math.MaxInt64, math.MinInt64, EncodeInt64, DecodeInt64))
		register(KindFloat32, op, newCalc[float32](KindFloat32, op, math.MaxFloat32, -math.MaxFloat32, EncodeFloat32, DecodeFloat32))
		register(KindFloat64, op, newCalc[float64](KindFloat64, op, math.MaxFloat64, -math.MaxFloat64, EncodeFloat64, DecodeFloat64))
	}
}

func register(kind Kind, op Op, c Calculator) {
	ops, ok := numericCalcs[kind]
	if !ok {
		ops = map[Op]Calculator{}
		numericCalcs[kind] = ops
	}
	ops[op] = c
}
