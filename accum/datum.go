package accum

import (
	"fmt"
	"math"
)

// Datum classes stored in the class word of an accumulator column.
const (
	DatumNull   uint64 = 0
	DatumNormal uint64 = 1
)

type Kind int

const (
	KindNull Kind = iota
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindHLL
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt32:
		return "int"
	case KindInt64:
		return "long"
	case KindFloat32:
		return "float"
	case KindFloat64:
		return "double"
	case KindHLL:
		return "hll"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Op int

const (
	OpNone Op = iota
	OpMin
	OpMax
	OpAdd
	OpDistinct
)

func (o Op) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpAdd:
		return "add"
	case OpDistinct:
		return "distinct"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Cell addresses one accumulator column inside a row: the class word, the value word and, for sketch kinds, the
// extra register words that follow the fixed part of the row.
type Cell struct {
	Class *uint64
	Value *uint64
	Extra []uint64
}

// CellAt returns the cell of column col in a row laid out as (class, value) word pairs.
func CellAt(row []uint64, col int, extra []uint64) Cell {
	return Cell{Class: &row[2*col], Value: &row[2*col+1], Extra: extra}
}

// NewPrivateCell allocates a cell that is not backed by any shared row.
func NewPrivateCell(extraWords int) Cell {
	words := make([]uint64, 2+extraWords)
	return Cell{Class: &words[0], Value: &words[1], Extra: words[2:]}
}

func (c Cell) IsNull() bool {
	return *c.Class == DatumNull
}

// Set stores a PRESENT value.
func (c Cell) Set(value uint64) {
	*c.Value = value
	*c.Class = DatumNormal
}

// SetNull stores ABSENT.
func (c Cell) SetNull() {
	*c.Class = DatumNull
	*c.Value = 0
}

// CopyFrom copies class, value and extra words of src into c without any merge semantics.
func (c Cell) CopyFrom(src Cell) {
	*c.Class = *src.Class
	*c.Value = *src.Value
	copy(c.Extra, src.Extra)
}

func EncodeInt32(v int32) uint64 {
	return uint64(uint32(v))
}

func DecodeInt32(w uint64) int32 {
	return int32(uint32(w))
}

func EncodeInt64(v int64) uint64 {
	return uint64(v)
}

func DecodeInt64(w uint64) int64 {
	return int64(w)
}

func EncodeFloat32(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

func DecodeFloat32(w uint64) float32 {
	return math.Float32frombits(uint32(w))
}

func EncodeFloat64(v float64) uint64 {
	return math.Float64bits(v)
}

func DecodeFloat64(w uint64) float64 {
	return math.Float64frombits(w)
}

// Decode turns a value word of the given kind into a Go value. HLL cells decode to their raw value word.
func Decode(kind Kind, w uint64) any {
	switch kind {
	case KindInt32:
		return DecodeInt32(w)
	case KindInt64:
		return DecodeInt64(w)
	case KindFloat32:
		return DecodeFloat32(w)
	case KindFloat64:
		return DecodeFloat64(w)
	case KindHLL:
		return w
	default:
		return nil
	}
}
