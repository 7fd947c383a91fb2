package main

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/spirit-labs/preagg/accum"
	"github.com/spirit-labs/preagg/colbatch"
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/kds"
	log "github.com/spirit-labs/preagg/logger"
	"github.com/spirit-labs/preagg/progbuild"
	"github.com/spirit-labs/preagg/types"
)

// workload generates rows of (key, value double, user long). The key column has the configured type.
type workload struct {
	Format        string  `help:"Source format" enum:"row,block,arrow,column" default:"row"`
	KeyType       string  `help:"Column type of the grouping key" enum:"int,long,float,double" default:"long"`
	Rows          int     `help:"Number of generated rows" default:"100000"`
	Keys          int     `help:"Number of distinct grouping keys, 0 aggregates without grouping" default:"16"`
	Users         int     `help:"Number of distinct users counted per group" default:"1000"`
	MinValue      float64 `help:"Rows with a smaller value are filtered out" default:"0"`
	LinesPerPage  int     `help:"Lines per partition of the block format" default:"1024"`
	DeadLineEvery int     `help:"Every n-th line of a block partition is dead, 0 for none" default:"0"`
	Compression   string  `help:"Codec used to ship column batches" enum:"none,gzip,snappy,lz4,zstd" default:"none"`
}

var columnNames = []string{"key", "value", "user"}

func (w *workload) keyType() (types.ColumnType, error) {
	if w.KeyType == "" {
		return types.ColumnTypeInt64, nil
	}
	ct, err := types.StringToColumnType(w.KeyType)
	if err != nil {
		return nil, errors.NewInvalidConfigurationError("workload-key-type: " + err.Error())
	}
	if ct.ID() == types.ColumnTypeIDBool {
		return nil, errors.NewInvalidConfigurationError("workload-key-type cannot be bool")
	}
	return ct, nil
}

func (w *workload) columnTypes() []types.ColumnType {
	kt, err := w.keyType()
	if err != nil {
		kt = types.ColumnTypeInt64
	}
	return []types.ColumnType{kt, types.ColumnTypeFloat64, types.ColumnTypeInt64}
}

// keyValue converts a generated key to the Go value of the key column type.
func (w *workload) keyValue(key int64) any {
	switch w.columnTypes()[0].ID() {
	case types.ColumnTypeIDInt32:
		return int32(key)
	case types.ColumnTypeIDFloat32:
		return float32(key)
	case types.ColumnTypeIDFloat64:
		return float64(key)
	default:
		return key
	}
}

func (w *workload) validate() error {
	switch {
	case w.Rows < 0:
		return errors.NewInvalidConfigurationError("workload-rows must be >= 0")
	case w.Keys < 0:
		return errors.NewInvalidConfigurationError("workload-keys must be >= 0")
	case w.Users < 1:
		return errors.NewInvalidConfigurationError("workload-users must be > 0")
	case w.LinesPerPage < 1:
		return errors.NewInvalidConfigurationError("workload-lines-per-page must be > 0")
	case w.DeadLineEvery < 0:
		return errors.NewInvalidConfigurationError("workload-dead-line-every must be >= 0")
	}
	_, err := w.keyType()
	return err
}

func (w *workload) row(i int) (int64, float64, int64) {
	key := int64(0)
	if w.Keys > 0 {
		key = int64(i % w.Keys)
	}
	return key, float64((i*7919)%1000) / 10, int64((i * 31) % w.Users)
}

func (w *workload) query() progbuild.Query {
	q := progbuild.Query{
		ColumnNames: columnNames,
		ColumnTypes: w.columnTypes(),
		Aggregates: []progbuild.Aggregate{
			{Op: accum.OpAdd, Column: progbuild.CountColumn},
			{Op: accum.OpAdd, Column: 1},
			{Op: accum.OpMin, Column: 1},
			{Op: accum.OpMax, Column: 1},
			{Op: accum.OpDistinct, Column: 2},
		},
	}
	if w.Keys > 0 {
		q.GroupBy = []int{0}
	}
	if w.MinValue > 0 {
		q.Filter = &progbuild.Filter{Column: 1, Op: progbuild.Ge, Value: w.MinValue}
	}
	return q
}

func (w *workload) source() (kds.Source, error) {
	switch w.Format {
	case "block":
		return w.blockSource(), nil
	case "arrow":
		return w.arrowSource(), nil
	case "column":
		return w.columnSource()
	default:
		return kds.NewRowSource(w.tuples(0, w.Rows)), nil
	}
}

func (w *workload) tuples(from, to int) []kds.Tuple {
	tuples := make([]kds.Tuple, 0, to-from)
	for i := from; i < to; i++ {
		key, value, user := w.row(i)
		tuples = append(tuples, kds.Tuple{w.keyValue(key), value, user})
	}
	return tuples
}

// blockSource pages the rows. Dead lines are extra lines appended to the page so that every generated row
// stays visible.
func (w *workload) blockSource() kds.Source {
	var parts []kds.Partition
	for from := 0; from < w.Rows; from += w.LinesPerPage {
		lines := w.tuples(from, min(from+w.LinesPerPage, w.Rows))
		var dead *roaring.Bitmap
		if w.DeadLineEvery > 0 {
			dead = roaring.New()
			var withDead []kds.Tuple
			for i, tup := range lines {
				if i%w.DeadLineEvery == 0 {
					dead.Add(uint32(len(withDead)))
					withDead = append(withDead, kds.Tuple{w.keyValue(-1), float64(1e9), int64(-1)})
				}
				withDead = append(withDead, tup)
			}
			lines = withDead
		}
		parts = append(parts, kds.Partition{Lines: lines, Dead: dead})
	}
	return kds.NewBlockSource(parts)
}

func (w *workload) arrowSource() kds.Source {
	mem := memory.NewGoAllocator()
	keyArrowType := arrowKeyType(w.columnTypes()[0])
	kb := array.NewBuilder(mem, keyArrowType)
	vb := array.NewFloat64Builder(mem)
	ub := array.NewInt64Builder(mem)
	for i := 0; i < w.Rows; i++ {
		key, value, user := w.row(i)
		appendKey(kb, w.keyValue(key))
		vb.Append(value)
		ub.Append(user)
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: columnNames[0], Type: keyArrowType},
		{Name: columnNames[1], Type: arrow.PrimitiveTypes.Float64},
		{Name: columnNames[2], Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	return kds.NewArrowSource(array.NewRecord(schema,
		[]arrow.Array{kb.NewArray(), vb.NewArray(), ub.NewArray()}, int64(w.Rows)))
}

// columnSource builds the batch, encodes it with the configured codec and decodes it again as the device
// would on arrival.
func (w *workload) columnSource() (kds.Source, error) {
	kb := colbatch.NewColBuilder(w.columnTypes()[0])
	vb := colbatch.NewFloat64ColBuilder()
	ub := colbatch.NewInt64ColBuilder()
	for i := 0; i < w.Rows; i++ {
		key, value, user := w.row(i)
		appendKey(kb, w.keyValue(key))
		vb.Append(value)
		ub.Append(user)
	}
	schema := colbatch.NewSchema(columnNames, w.columnTypes())
	codec, err := colbatch.ParseCodec(w.Compression)
	if err != nil {
		return nil, err
	}
	data, err := colbatch.NewBatchFromBuilders(schema, kb, vb, ub).Encode(codec)
	if err != nil {
		return nil, err
	}
	log.Debugf("column batch of %d rows encoded with %s into %d bytes", w.Rows, codec, len(data))
	batch, err := colbatch.DecodeBatch(schema, data)
	if err != nil {
		return nil, err
	}
	return kds.NewColumnSource(batch), nil
}

func arrowKeyType(ct types.ColumnType) arrow.DataType {
	switch ct.ID() {
	case types.ColumnTypeIDInt32:
		return arrow.PrimitiveTypes.Int32
	case types.ColumnTypeIDFloat32:
		return arrow.PrimitiveTypes.Float32
	case types.ColumnTypeIDFloat64:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.PrimitiveTypes.Int64
	}
}

// appendKey appends key to an arrow or column batch builder of the matching type.
func appendKey(b any, key any) {
	switch kb := b.(type) {
	case *array.Int32Builder:
		kb.Append(key.(int32))
	case *array.Int64Builder:
		kb.Append(key.(int64))
	case *array.Float32Builder:
		kb.Append(key.(float32))
	case *array.Float64Builder:
		kb.Append(key.(float64))
	case *colbatch.PrimitiveColBuilder[int32]:
		kb.Append(key.(int32))
	case *colbatch.PrimitiveColBuilder[int64]:
		kb.Append(key.(int64))
	case *colbatch.PrimitiveColBuilder[float32]:
		kb.Append(key.(float32))
	case *colbatch.PrimitiveColBuilder[float64]:
		kb.Append(key.(float64))
	default:
		panic(fmt.Sprintf("unexpected key builder %T", b))
	}
}
