package progbuild

import (
	"math"

	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/cespare/xxhash/v2"
	"github.com/spirit-labs/preagg/accum"
	"github.com/spirit-labs/preagg/colbatch"
	"github.com/spirit-labs/preagg/conf"
	"github.com/spirit-labs/preagg/encoding"
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/kds"
	"github.com/spirit-labs/preagg/types"
)

// value is a source datum widened to 64 bits.
type value struct {
	null    bool
	isFloat bool
	i       int64
	f       float64
}

func (v value) float() float64 {
	if v.isFloat {
		return v.f
	}
	return float64(v.i)
}

func (v value) int() int64 {
	if v.isFloat {
		return int64(v.f)
	}
	return v.i
}

func (v value) bits() uint64 {
	if v.isFloat {
		return math.Float64bits(v.f)
	}
	return uint64(v.i)
}

func encodeAs(kind accum.Kind, v value) uint64 {
	switch kind {
	case accum.KindInt32:
		return accum.EncodeInt32(int32(v.int()))
	case accum.KindInt64:
		return accum.EncodeInt64(v.int())
	case accum.KindFloat32:
		return accum.EncodeFloat32(float32(v.float()))
	case accum.KindFloat64:
		return accum.EncodeFloat64(v.float())
	case accum.KindHLL:
		return accum.HLLHash(v.bits())
	default:
		return 0
	}
}

// projection says how one prep column is produced from the source row.
type projection struct {
	source int
	kind   accum.Kind
}

// Program is a compiled Query.
type Program struct {
	query       Query
	layout      *kds.Layout
	projections []projection
	keyCols     []int
}

func kindOf(ct types.ColumnType) (accum.Kind, error) {
	switch ct.ID() {
	case types.ColumnTypeIDInt32, types.ColumnTypeIDBool:
		return accum.KindInt32, nil
	case types.ColumnTypeIDInt64:
		return accum.KindInt64, nil
	case types.ColumnTypeIDFloat32:
		return accum.KindFloat32, nil
	case types.ColumnTypeIDFloat64:
		return accum.KindFloat64, nil
	default:
		return accum.KindNull, errors.NewPreAggErrorf(errors.InvalidArgument, "unsupported column type %s", ct)
	}
}

func resultKind(op accum.Op, source accum.Kind) accum.Kind {
	switch op {
	case accum.OpDistinct:
		return accum.KindHLL
	case accum.OpAdd:
		if source == accum.KindFloat32 || source == accum.KindFloat64 {
			return accum.KindFloat64
		}
		return accum.KindInt64
	default:
		return source
	}
}

// Compile validates q and builds its program. Grouping keys come first in the row layout, followed by the
// aggregates in query order.
func Compile(q Query) (*Program, error) {
	if q.RegisterBits == 0 {
		q.RegisterBits = conf.DefaultHLLRegisterBits
	}
	ncols := len(q.ColumnTypes)
	checkCol := func(what string, col int) error {
		if col < 0 || col >= ncols {
			return errors.NewPreAggErrorf(errors.InvalidArgument, "%s column %d out of range", what, col)
		}
		return nil
	}
	var columns []kds.Column
	var projections []projection
	for _, g := range q.GroupBy {
		if err := checkCol("group by", g); err != nil {
			return nil, err
		}
		kind, err := kindOf(q.ColumnTypes[g])
		if err != nil {
			return nil, err
		}
		columns = append(columns, kds.Column{Name: q.columnName(g), Kind: kind})
		projections = append(projections, projection{source: g, kind: kind})
	}
	for i, a := range q.Aggregates {
		source := accum.KindInt64
		name := "count"
		if a.Column != CountColumn {
			if err := checkCol("aggregate", a.Column); err != nil {
				return nil, err
			}
			var err error
			if source, err = kindOf(q.ColumnTypes[a.Column]); err != nil {
				return nil, err
			}
			name = a.Op.String() + "(" + q.columnName(a.Column) + ")"
		} else if a.Op != accum.OpAdd {
			return nil, errors.NewPreAggErrorf(errors.InvalidArgument, "aggregate %d counts rows with %s", i, a.Op)
		}
		kind := a.Kind
		if kind == accum.KindNull {
			kind = resultKind(a.Op, source)
		}
		calc, err := accum.Lookup(kind, a.Op, q.RegisterBits)
		if err != nil {
			return nil, errors.NewPreAggErrorf(errors.InvalidArgument, "aggregate %d: %v", i, err)
		}
		columns = append(columns, kds.Column{Name: name, Kind: kind, Calc: calc})
		projections = append(projections, projection{source: a.Column, kind: kind})
	}
	if q.Filter != nil {
		if err := checkCol("filter", q.Filter.Column); err != nil {
			return nil, err
		}
	}
	layout, err := kds.NewLayout(columns)
	if err != nil {
		return nil, err
	}
	return &Program{
		query:       q,
		layout:      layout,
		projections: projections,
		keyCols:     layout.KeyCols,
	}, nil
}

func (p *Program) Query() *Query {
	return &p.query
}

func (p *Program) Layout() *kds.Layout {
	return p.layout
}

func (p *Program) Fingerprint() uint64 {
	return p.query.Fingerprint()
}

func (p *Program) quals(get func(col int) (value, error)) (bool, error) {
	f := p.query.Filter
	if f == nil {
		return true, nil
	}
	v, err := get(f.Column)
	if err != nil || v.null {
		return false, err
	}
	return f.Op.eval(v.float(), f.Value), nil
}

func (p *Program) project(get func(col int) (value, error), dst []uint64) error {
	for j, proj := range p.projections {
		cell := accum.CellAt(dst, j, nil)
		if proj.source == CountColumn {
			cell.Set(encodeAs(proj.kind, value{i: 1}))
			continue
		}
		v, err := get(proj.source)
		if err != nil {
			return err
		}
		if v.null {
			cell.SetNull()
			continue
		}
		if j < len(p.keyCols) {
			cell.Set(canonicalKey(proj.kind, encodeAs(proj.kind, v)))
			continue
		}
		cell.Set(encodeAs(proj.kind, v))
	}
	return nil
}

func tupleValue(tup kds.Tuple, col int) (value, error) {
	if col >= len(tup) {
		return value{}, errors.NewPreAggErrorf(errors.OutOfRange, "tuple has %d columns, column %d requested",
			len(tup), col)
	}
	switch v := tup[col].(type) {
	case nil:
		return value{null: true}, nil
	case int:
		return value{i: int64(v)}, nil
	case int32:
		return value{i: int64(v)}, nil
	case int64:
		return value{i: v}, nil
	case float32:
		return value{isFloat: true, f: float64(v)}, nil
	case float64:
		return value{isFloat: true, f: v}, nil
	case bool:
		if v {
			return value{i: 1}, nil
		}
		return value{}, nil
	default:
		return value{}, errors.NewPreAggErrorf(errors.ExpressionError, "unsupported value of type %T in column %d",
			v, col)
	}
}

func (p *Program) QualsRow(tup kds.Tuple) (bool, error) {
	return p.quals(func(col int) (value, error) {
		return tupleValue(tup, col)
	})
}

func (p *Program) ProjectRow(tup kds.Tuple, dst []uint64) error {
	return p.project(func(col int) (value, error) {
		return tupleValue(tup, col)
	}, dst)
}

func arrowValue(rec arrow.Record, row int, col int) (value, error) {
	if col >= int(rec.NumCols()) {
		return value{}, errors.NewPreAggErrorf(errors.OutOfRange, "record has %d columns, column %d requested",
			rec.NumCols(), col)
	}
	arr := rec.Column(col)
	if arr.IsNull(row) {
		return value{null: true}, nil
	}
	switch a := arr.(type) {
	case *array.Int32:
		return value{i: int64(a.Value(row))}, nil
	case *array.Int64:
		return value{i: a.Value(row)}, nil
	case *array.Float32:
		return value{isFloat: true, f: float64(a.Value(row))}, nil
	case *array.Float64:
		return value{isFloat: true, f: a.Value(row)}, nil
	case *array.Boolean:
		if a.Value(row) {
			return value{i: 1}, nil
		}
		return value{}, nil
	default:
		return value{}, errors.NewPreAggErrorf(errors.ExpressionError, "unsupported arrow type %s in column %d",
			arr.DataType(), col)
	}
}

func (p *Program) QualsArrow(rec arrow.Record, row int) (bool, error) {
	return p.quals(func(col int) (value, error) {
		return arrowValue(rec, row, col)
	})
}

func (p *Program) ProjectArrow(rec arrow.Record, row int, dst []uint64) error {
	return p.project(func(col int) (value, error) {
		return arrowValue(rec, row, col)
	}, dst)
}

func columnValue(batch *colbatch.Batch, row int, col int) (value, error) {
	if col >= len(batch.Columns) {
		return value{}, errors.NewPreAggErrorf(errors.OutOfRange, "batch has %d columns, column %d requested",
			len(batch.Columns), col)
	}
	column := batch.Columns[col]
	if column.IsNull(row) {
		return value{null: true}, nil
	}
	switch c := column.(type) {
	case *colbatch.Int32Column:
		return value{i: int64(c.Get(row))}, nil
	case *colbatch.Int64Column:
		return value{i: c.Get(row)}, nil
	case *colbatch.Float32Column:
		return value{isFloat: true, f: float64(c.Get(row))}, nil
	case *colbatch.Float64Column:
		return value{isFloat: true, f: c.Get(row)}, nil
	case *colbatch.BoolColumn:
		if c.Get(row) {
			return value{i: 1}, nil
		}
		return value{}, nil
	default:
		return value{}, errors.NewPreAggErrorf(errors.ExpressionError, "unsupported column %T", column)
	}
}

func (p *Program) QualsColumn(batch *colbatch.Batch, row int) (bool, error) {
	return p.quals(func(col int) (value, error) {
		return columnValue(batch, row, col)
	})
}

func (p *Program) ProjectColumn(batch *colbatch.Batch, row int, dst []uint64) error {
	return p.project(func(col int) (value, error) {
		return columnValue(batch, row, col)
	}, dst)
}

// canonicalKey folds the float encodings that compare equal as keys onto one: -0 onto +0 and every NaN onto
// a single NaN.
func canonicalKey(kind accum.Kind, w uint64) uint64 {
	switch kind {
	case accum.KindFloat32:
		f := accum.DecodeFloat32(w)
		if f == 0 {
			return accum.EncodeFloat32(0)
		}
		if math.IsNaN(float64(f)) {
			return accum.EncodeFloat32(float32(math.NaN()))
		}
	case accum.KindFloat64:
		f := accum.DecodeFloat64(w)
		if f == 0 {
			return accum.EncodeFloat64(0)
		}
		if math.IsNaN(f) {
			return accum.EncodeFloat64(math.NaN())
		}
	}
	return w
}

func (p *Program) keyWord(row []uint64, k int) uint64 {
	return canonicalKey(p.layout.Columns[k].Kind, row[2*k+1])
}

// Hash hashes the grouping keys of a prep or final row. Null keys hash by class only.
func (p *Program) Hash(row []uint64) uint32 {
	var stack [64]byte
	buff := stack[:0]
	for _, k := range p.keyCols {
		class := row[2*k]
		buff = encoding.AppendUint64ToBufferLE(buff, class)
		if class != accum.DatumNull {
			buff = encoding.AppendUint64ToBufferLE(buff, p.keyWord(row, k))
		}
	}
	h := xxhash.Sum64(buff)
	return uint32(h ^ h>>32)
}

// KeyMatch reports whether two rows carry the same grouping keys. Two null keys are equal.
func (p *Program) KeyMatch(x, y []uint64) bool {
	for _, k := range p.keyCols {
		if x[2*k] != y[2*k] {
			return false
		}
		if x[2*k] != accum.DatumNull && p.keyWord(x, k) != p.keyWord(y, k) {
			return false
		}
	}
	return true
}
