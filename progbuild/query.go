package progbuild

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spirit-labs/preagg/accum"
	"github.com/spirit-labs/preagg/encoding"
	"github.com/spirit-labs/preagg/types"
)

type CmpOp int

const (
	Lt CmpOp = iota + 1
	Le
	Eq
	Ne
	Ge
	Gt
)

func (c CmpOp) String() string {
	switch c {
	case Lt:
		return "<"
	case Le:
		return "<="
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Ge:
		return ">="
	case Gt:
		return ">"
	default:
		return fmt.Sprintf("cmp(%d)", int(c))
	}
}

func (c CmpOp) eval(x, y float64) bool {
	switch c {
	case Lt:
		return x < y
	case Le:
		return x <= y
	case Eq:
		return x == y
	case Ne:
		return x != y
	case Ge:
		return x >= y
	case Gt:
		return x > y
	default:
		return false
	}
}

// Filter keeps the rows whose Column compares to Value with Op. Rows where the column is null never pass.
type Filter struct {
	Column int
	Op     CmpOp
	Value  float64
}

// CountColumn as Aggregate.Column counts rows instead of reading a source column.
const CountColumn = -1

// Aggregate is one accumulator of the query. Kind is derived from the operation and the source column when left
// as accum.KindNull.
type Aggregate struct {
	Op     accum.Op
	Column int
	Kind   accum.Kind
}

// Query describes a pre-aggregation over a source with the given column types.
type Query struct {
	ColumnNames  []string
	ColumnTypes  []types.ColumnType
	GroupBy      []int
	Aggregates   []Aggregate
	Filter       *Filter
	RegisterBits int
}

func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString("select ")
	for i, a := range q.Aggregates {
		if i > 0 {
			sb.WriteString(", ")
		}
		if a.Column == CountColumn {
			sb.WriteString("count(*)")
		} else {
			fmt.Fprintf(&sb, "%s(%s)", a.Op, q.columnName(a.Column))
		}
	}
	if q.Filter != nil {
		fmt.Fprintf(&sb, " where %s %s %g", q.columnName(q.Filter.Column), q.Filter.Op, q.Filter.Value)
	}
	if len(q.GroupBy) > 0 {
		sb.WriteString(" group by ")
		for i, g := range q.GroupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(q.columnName(g))
		}
	}
	return sb.String()
}

func (q *Query) columnName(col int) string {
	if col >= 0 && col < len(q.ColumnNames) {
		return q.ColumnNames[col]
	}
	return fmt.Sprintf("col%d", col)
}

// Fingerprint identifies the compiled program of the query. Queries that differ only in column names get
// different fingerprints because the names end up in the result.
func (q *Query) Fingerprint() uint64 {
	var buff []byte
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(q.ColumnTypes)))
	for i, ct := range q.ColumnTypes {
		buff = encoding.AppendStringToBufferLE(buff, ct.String())
		buff = encoding.AppendStringToBufferLE(buff, q.columnName(i))
	}
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(q.GroupBy)))
	for _, g := range q.GroupBy {
		buff = encoding.AppendUint64ToBufferLE(buff, uint64(g))
	}
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(q.Aggregates)))
	for _, a := range q.Aggregates {
		buff = encoding.AppendUint32ToBufferLE(buff, uint32(a.Op))
		buff = encoding.AppendUint64ToBufferLE(buff, uint64(a.Column))
		buff = encoding.AppendUint32ToBufferLE(buff, uint32(a.Kind))
	}
	buff = encoding.AppendBoolToBuffer(buff, q.Filter != nil)
	if q.Filter != nil {
		buff = encoding.AppendUint64ToBufferLE(buff, uint64(q.Filter.Column))
		buff = encoding.AppendUint32ToBufferLE(buff, uint32(q.Filter.Op))
		buff = encoding.AppendFloat64ToBufferLE(buff, q.Filter.Value)
	}
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(q.RegisterBits))
	return xxhash.Sum64(buff)
}
