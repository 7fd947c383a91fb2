package colbatch

import (
	"fmt"

	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/spirit-labs/preagg/encoding"
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/types"
)

// Batch is the internal columnar encoding of a source: a set of equally sized arrow arrays.
type Batch struct {
	Schema   *Schema
	Columns  []Column
	RowCount int
}

func NewBatchFromBuilders(schema *Schema, builders ...ColumnBuilder) *Batch {
	cols := make([]Column, len(builders))
	for i, colBuilder := range builders {
		cols[i] = colBuilder.Build()
	}
	return NewBatch(schema, cols...)
}

func NewBatch(schema *Schema, columns ...Column) *Batch {
	rc := -1
	for i, col := range columns {
		cl := col.Len()
		if rc != -1 && cl != rc {
			panic(fmt.Sprintf("column %s not same length (%d) as others (%d) col_names: %v col_types:%v",
				schema.ColumnNames()[i], cl, rc, schema.ColumnNames(), schema.ColumnTypes()))
		}
		rc = cl
	}
	if rc == -1 {
		rc = 0
	}
	return &Batch{
		Schema:   schema,
		Columns:  columns,
		RowCount: rc,
	}
}

func arrowType(columnType types.ColumnType) arrow.DataType {
	switch columnType.ID() {
	case types.ColumnTypeIDInt32:
		return arrow.PrimitiveTypes.Int32
	case types.ColumnTypeIDInt64:
		return arrow.PrimitiveTypes.Int64
	case types.ColumnTypeIDFloat32:
		return arrow.PrimitiveTypes.Float32
	case types.ColumnTypeIDFloat64:
		return arrow.PrimitiveTypes.Float64
	case types.ColumnTypeIDBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		panic("unexpected type")
	}
}

// NewBatchFromBytes rebuilds a batch from the raw arrow buffers of its columns, two buffers (validity, values)
// per column.
func NewBatchFromBytes(schema *Schema, rowCount int, bytes [][]byte) *Batch {
	cols := make([]Column, len(schema.columnTypes))
	buffPos := 0
	for i, columnType := range schema.columnTypes {
		data := array.NewData(arrowType(columnType), rowCount, bytesToMBuffs(bytes[buffPos:buffPos+2]), nil,
			0, 0)
		buffPos += 2
		cols[i] = newColumn(array.MakeFromData(data))
	}
	return NewBatch(schema, cols...)
}

func bytesToMBuffs(bytes [][]byte) []*memory.Buffer {
	mbs := make([]*memory.Buffer, len(bytes))
	for i, b := range bytes {
		if b != nil {
			mbs[i] = memory.NewBufferBytes(b)
		}
	}
	return mbs
}

func (b *Batch) ToBytes() [][]byte {
	buffs := make([][]byte, 0, 2*len(b.Columns))
	for _, col := range b.Columns {
		for _, mBuff := range col.arrowArray().Data().Buffers() {
			if mBuff == nil {
				buffs = append(buffs, nil)
			} else {
				buffs = append(buffs, mBuff.Bytes())
			}
		}
	}
	return buffs
}

// Serialize writes the batch into a single buffer, the image that is handed to a kernel as a column source.
func (b *Batch) Serialize(buff []byte) []byte {
	buff = encoding.AppendUint64ToBufferLE(buff, uint64(b.RowCount))
	buffs := b.ToBytes()
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(buffs)))
	for _, buf := range buffs {
		buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(buf)))
		buff = append(buff, buf...)
	}
	return buff
}

// Deserialize is the inverse of Serialize. The image must hold exactly the two buffers of every schema column.
func Deserialize(schema *Schema, buff []byte) (*Batch, error) {
	if len(buff) < 12 {
		return nil, errors.NewPreAggErrorf(errors.WrongFormat, "batch image too short (%d bytes)", len(buff))
	}
	rowCount, off := encoding.ReadUint64FromBufferLE(buff, 0)
	nb, off := encoding.ReadUint32FromBufferLE(buff, off)
	if int(nb) != 2*len(schema.columnTypes) {
		return nil, errors.NewPreAggErrorf(errors.WrongFormat, "batch image has %d buffers, schema %s needs %d",
			nb, schema, 2*len(schema.columnTypes))
	}
	buffs := make([][]byte, 0, int(nb))
	for i := 0; i < int(nb); i++ {
		if off+4 > len(buff) {
			return nil, errors.NewPreAggError(errors.WrongFormat, "batch image truncated")
		}
		var bl uint32
		bl, off = encoding.ReadUint32FromBufferLE(buff, off)
		if bl == 0 {
			buffs = append(buffs, nil)
			continue
		}
		if off+int(bl) > len(buff) {
			return nil, errors.NewPreAggError(errors.WrongFormat, "batch image truncated")
		}
		buffs = append(buffs, buff[off:off+int(bl)])
		off += int(bl)
	}
	if rowCount > uint64(8*len(buff)) {
		return nil, errors.NewPreAggErrorf(errors.WrongFormat, "batch image of %d bytes cannot hold %d rows",
			len(buff), rowCount)
	}
	rows := int(rowCount)
	for i, columnType := range schema.columnTypes {
		validity, values := buffs[2*i], buffs[2*i+1]
		if validity != nil && len(validity) < (rows+7)/8 {
			return nil, errors.NewPreAggErrorf(errors.WrongFormat,
				"validity buffer of column %s has %d bytes, %d rows need %d", schema.columnNames[i], len(validity),
				rows, (rows+7)/8)
		}
		if need := valueBytes(columnType, rows); len(values) < need {
			return nil, errors.NewPreAggErrorf(errors.WrongFormat,
				"value buffer of column %s has %d bytes, %d rows need %d", schema.columnNames[i], len(values),
				rows, need)
		}
	}
	return NewBatchFromBytes(schema, rows, buffs), nil
}

// valueBytes is the size of the value buffer holding rows values of columnType.
func valueBytes(columnType types.ColumnType, rows int) int {
	switch columnType.ID() {
	case types.ColumnTypeIDInt32, types.ColumnTypeIDFloat32:
		return 4 * rows
	case types.ColumnTypeIDBool:
		return (rows + 7) / 8
	default:
		return 8 * rows
	}
}

func (b *Batch) Release() {
	// columns are allocated by the go allocator
}

func (b *Batch) Retain() {
	// columns are allocated by the go allocator
}

func (b *Batch) GetInt32Column(colIndex int) *Int32Column {
	return b.Columns[colIndex].(*Int32Column)
}

func (b *Batch) GetInt64Column(colIndex int) *Int64Column {
	return b.Columns[colIndex].(*Int64Column)
}

func (b *Batch) GetFloat32Column(colIndex int) *Float32Column {
	return b.Columns[colIndex].(*Float32Column)
}

func (b *Batch) GetFloat64Column(colIndex int) *Float64Column {
	return b.Columns[colIndex].(*Float64Column)
}

func (b *Batch) GetBoolColumn(colIndex int) *BoolColumn {
	return b.Columns[colIndex].(*BoolColumn)
}

type Column interface {
	IsNull(row int) bool
	Len() int
	Retain()
	Release()
	arrowArray() arrow.Array
}

type ColumnBuilder interface {
	AppendNull()
	Build() Column
}

type valueArray[T any] interface {
	arrow.Array
	Value(i int) T
}

// PrimitiveColumn is a column of fixed width values backed by an arrow array.
type PrimitiveColumn[T any] struct {
	array valueArray[T]
}

func (c *PrimitiveColumn[T]) Get(row int) T {
	return c.array.Value(row)
}

func (c *PrimitiveColumn[T]) IsNull(row int) bool {
	return c.array.IsNull(row)
}

func (c *PrimitiveColumn[T]) Len() int {
	return c.array.Len()
}

func (c *PrimitiveColumn[T]) Retain() {
	c.array.Retain()
}

func (c *PrimitiveColumn[T]) Release() {
	c.array.Release()
}

func (c *PrimitiveColumn[T]) arrowArray() arrow.Array {
	return c.array
}

type Int32Column = PrimitiveColumn[int32]
type Int64Column = PrimitiveColumn[int64]
type Float32Column = PrimitiveColumn[float32]
type Float64Column = PrimitiveColumn[float64]
type BoolColumn = PrimitiveColumn[bool]

func newColumn(arr arrow.Array) Column {
	switch a := arr.(type) {
	case *array.Int32:
		return &Int32Column{array: a}
	case *array.Int64:
		return &Int64Column{array: a}
	case *array.Float32:
		return &Float32Column{array: a}
	case *array.Float64:
		return &Float64Column{array: a}
	case *array.Boolean:
		return &BoolColumn{array: a}
	default:
		panic(fmt.Sprintf("unexpected arrow array %T", arr))
	}
}

type valueBuilder[T any] interface {
	Append(v T)
	AppendNull()
	NewArray() arrow.Array
}

type PrimitiveColBuilder[T any] struct {
	builder valueBuilder[T]
}

func (b *PrimitiveColBuilder[T]) AppendNull() {
	b.builder.AppendNull()
}

func (b *PrimitiveColBuilder[T]) Append(val T) {
	b.builder.Append(val)
}

func (b *PrimitiveColBuilder[T]) Build() Column {
	return newColumn(b.builder.NewArray())
}

func NewInt32ColBuilder() *PrimitiveColBuilder[int32] {
	return &PrimitiveColBuilder[int32]{builder: array.NewInt32Builder(memory.NewGoAllocator())}
}

func NewInt64ColBuilder() *PrimitiveColBuilder[int64] {
	return &PrimitiveColBuilder[int64]{builder: array.NewInt64Builder(memory.NewGoAllocator())}
}

func NewFloat32ColBuilder() *PrimitiveColBuilder[float32] {
	return &PrimitiveColBuilder[float32]{builder: array.NewFloat32Builder(memory.NewGoAllocator())}
}

func NewFloat64ColBuilder() *PrimitiveColBuilder[float64] {
	return &PrimitiveColBuilder[float64]{builder: array.NewFloat64Builder(memory.NewGoAllocator())}
}

func NewBoolColBuilder() *PrimitiveColBuilder[bool] {
	return &PrimitiveColBuilder[bool]{builder: array.NewBooleanBuilder(memory.NewGoAllocator())}
}

// NewColBuilder returns a builder matching a column type.
func NewColBuilder(columnType types.ColumnType) ColumnBuilder {
	switch columnType.ID() {
	case types.ColumnTypeIDInt32:
		return NewInt32ColBuilder()
	case types.ColumnTypeIDInt64:
		return NewInt64ColBuilder()
	case types.ColumnTypeIDFloat32:
		return NewFloat32ColBuilder()
	case types.ColumnTypeIDFloat64:
		return NewFloat64ColBuilder()
	case types.ColumnTypeIDBool:
		return NewBoolColBuilder()
	default:
		panic("unexpected type")
	}
}
