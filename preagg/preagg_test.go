package preagg

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/spirit-labs/preagg/accum"
	"github.com/spirit-labs/preagg/colbatch"
	"github.com/spirit-labs/preagg/conf"
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/hashtable"
	"github.com/spirit-labs/preagg/kds"
	"github.com/spirit-labs/preagg/kern"
	"github.com/spirit-labs/preagg/progbuild"
	"github.com/spirit-labs/preagg/types"
	"github.com/stretchr/testify/require"
)

const (
	testGrid  = 4
	testBlock = 32
)

func testLauncher(t *testing.T) *kern.Launcher {
	cfg := conf.Config{
		NumMultiprocessors: types.AddressOf(4),
		WarpSize:           types.AddressOf(8),
	}
	cfg.ApplyDefaults()
	l, err := kern.NewLauncher(&cfg)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func compile(t *testing.T, q progbuild.Query) *progbuild.Program {
	prog, err := progbuild.Compile(q)
	require.NoError(t, err)
	return prog
}

// sumByKey is group by k, sum(v) over (k long, v long)
func sumByKey(t *testing.T) *progbuild.Program {
	return compile(t, progbuild.Query{
		ColumnNames: []string{"k", "v"},
		ColumnTypes: []types.ColumnType{types.ColumnTypeInt64, types.ColumnTypeInt64},
		GroupBy:     []int{0},
		Aggregates:  []progbuild.Aggregate{{Op: accum.OpAdd, Column: 1}},
	})
}

func sumAll(t *testing.T) *progbuild.Program {
	return compile(t, progbuild.Query{
		ColumnNames: []string{"v"},
		ColumnTypes: []types.ColumnType{types.ColumnTypeInt64},
		Aggregates: []progbuild.Aggregate{
			{Op: accum.OpAdd, Column: 0},
			{Op: accum.OpAdd, Column: progbuild.CountColumn},
			{Op: accum.OpMin, Column: 0},
			{Op: accum.OpMax, Column: 0},
		},
	})
}

func setup(t *testing.T, l *kern.Launcher, prog Program, src kds.Source, capacity int) (*kern.KernGpuPreAgg,
	*kds.SlotBuffer) {
	k := kern.NewKernGpuPreAgg(prog.Layout().NumGroupKeys(), testGrid, testBlock, src.Format(), nil, true)
	slots := kds.NewSlotBuffer(prog.Layout(), capacity)
	require.NoError(t, Setup(context.Background(), l, k, prog, src, slots))
	return k, slots
}

// reduce runs the reduction of slots into table, expanding the table whenever the reduction suspends.
func reduce(t *testing.T, l *kern.Launcher, prog Program, slots *kds.SlotBuffer, table *hashtable.GlobalHashTable,
	localRooms int) *kern.KernGpuPreAgg {
	k := kern.NewKernGpuPreAgg(prog.Layout().NumGroupKeys(), testGrid, testBlock, kds.FormatRow, nil, true)
	for attempt := 0; ; attempt++ {
		require.Less(t, attempt, 32)
		var err error
		if k.IsNoGroup() {
			err = NoGroupReduction(context.Background(), l, k, prog, slots, table)
		} else {
			err = GroupByReduction(context.Background(), l, k, prog, slots, table, localRooms)
		}
		require.NoError(t, err)
		require.NoError(t, k.KError.Err())
		if k.State() == kern.StateComplete {
			return k
		}
		require.Equal(t, kern.StateSuspended, k.State())
		require.NoError(t, table.Expand(table.Arena().Len()*2, table.NSlots()*2))
		k.Reset(true)
	}
}

func newTable(prog Program, length int) *hashtable.GlobalHashTable {
	return hashtable.NewGlobalHashTable(length, 64, prog.Layout().FinalWords())
}

// sums reads back group by k, sum(v) results.
func sums(prog Program, table *hashtable.GlobalHashTable) map[int64]int64 {
	layout := prog.Layout()
	res := map[int64]int64{}
	table.ForEachGroup(func(rowIndex uint32, _ uint32) {
		row := table.Row(rowIndex)
		key := accum.DecodeInt64(row[1])
		res[key] = accum.DecodeInt64(*layout.FinalCell(row, 1).Value)
	})
	return res
}

func keyedRows(n int, nkeys int) []kds.Tuple {
	rows := make([]kds.Tuple, n)
	for i := range rows {
		rows[i] = kds.Tuple{int64(i % nkeys), int64(1)}
	}
	return rows
}

func TestSetupSuspendsWhenSlotsFillAndResumes(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	src := kds.NewRowSource(keyedRows(10000, 7))

	k, slots := setup(t, l, prog, src, 4000)
	require.Equal(t, kern.StateSuspended, k.State())
	require.Equal(t, uint32(4000), slots.NItems())
	require.Equal(t, uint64(4000), k.NItemsReal.Load())
	require.Equal(t, uint64(0), k.NItemsFiltered.Load())
	require.False(t, k.SetupSlotDone.Load())
	require.Greater(t, k.SuspendCount.Load(), uint32(0))

	table := newTable(prog, 1<<12)
	reduce(t, l, prog, slots, table, 64)

	slots.Reset()
	k.Reset(true)
	require.NoError(t, Setup(context.Background(), l, k, prog, src, slots))
	require.Equal(t, kern.StateComplete, k.State())
	require.Equal(t, uint32(6000), slots.NItems())
	require.Equal(t, uint64(10000), k.NItemsReal.Load())
	require.True(t, k.SetupSlotDone.Load())
	require.Equal(t, 2, k.Launches())
	reduce(t, l, prog, slots, table, 64)

	res := sums(prog, table)
	require.Len(t, res, 7)
	var total int64
	for key, sum := range res {
		expected := int64(10000 / 7)
		if key < 10000%7 {
			expected++
		}
		require.Equal(t, expected, sum)
		total += sum
	}
	require.Equal(t, int64(10000), total)
}

func TestSetupFilterStats(t *testing.T) {
	l := testLauncher(t)
	prog := compile(t, progbuild.Query{
		ColumnTypes: []types.ColumnType{types.ColumnTypeInt64, types.ColumnTypeInt64},
		Aggregates:  []progbuild.Aggregate{{Op: accum.OpAdd, Column: 1}},
		Filter:      &progbuild.Filter{Column: 0, Op: progbuild.Lt, Value: 3},
	})
	k, slots := setup(t, l, prog, kds.NewRowSource(keyedRows(1000, 10)), 1000)
	require.Equal(t, kern.StateComplete, k.State())
	require.Equal(t, uint32(300), slots.NItems())
	require.Equal(t, uint64(1000), k.NItemsReal.Load())
	require.Equal(t, uint64(700), k.NItemsFiltered.Load())
}

func TestSetupFilteredRowsBeforeSuspendPointAreCounted(t *testing.T) {
	l := testLauncher(t)
	prog := compile(t, progbuild.Query{
		ColumnTypes: []types.ColumnType{types.ColumnTypeInt64, types.ColumnTypeInt64},
		Aggregates:  []progbuild.Aggregate{{Op: accum.OpAdd, Column: 1}},
		Filter:      &progbuild.Filter{Column: 0, Op: progbuild.Eq, Value: 0},
	})
	src := kds.NewRowSource(keyedRows(2000, 2))
	k, slots := setup(t, l, prog, src, 500)
	require.Equal(t, kern.StateSuspended, k.State())
	require.Equal(t, uint32(500), slots.NItems())
	real1 := k.NItemsReal.Load()
	filtered1 := k.NItemsFiltered.Load()
	require.Equal(t, uint64(500), real1-filtered1)

	slots.Reset()
	k.Reset(true)
	require.NoError(t, Setup(context.Background(), l, k, prog, src, slots))
	require.Equal(t, kern.StateComplete, k.State())
	require.Equal(t, uint32(500), slots.NItems())
	require.Equal(t, uint64(2000), k.NItemsReal.Load())
	require.Equal(t, uint64(1000), k.NItemsFiltered.Load())
}

func TestNoGroupReduction(t *testing.T) {
	l := testLauncher(t)
	prog := sumAll(t)
	rows := make([]kds.Tuple, 1000)
	for i := range rows {
		rows[i] = kds.Tuple{int64(1)}
	}
	rows[17] = kds.Tuple{int64(-5)}
	rows[998] = kds.Tuple{int64(12)}
	_, slots := setup(t, l, prog, kds.NewRowSource(rows), 1000)
	table := newTable(prog, 1<<10)
	k := reduce(t, l, prog, slots, table, 0)
	require.True(t, k.FinalBufferModified.Load())
	require.Equal(t, uint64(1), k.NumGroups.Load())
	require.Equal(t, uint32(1000), k.ReadSlotPos.Load())
	require.Equal(t, 1, table.NumGroups())

	layout := prog.Layout()
	var row []uint64
	table.ForEachGroup(func(rowIndex uint32, _ uint32) {
		row = table.Row(rowIndex)
	})
	require.NotNil(t, row)
	require.Equal(t, int64(998-5+12), accum.DecodeInt64(*layout.FinalCell(row, 0).Value))
	require.Equal(t, int64(1000), accum.DecodeInt64(*layout.FinalCell(row, 1).Value))
	require.Equal(t, int64(-5), accum.DecodeInt64(*layout.FinalCell(row, 2).Value))
	require.Equal(t, int64(12), accum.DecodeInt64(*layout.FinalCell(row, 3).Value))
}

func TestNoGroupReductionEmpty(t *testing.T) {
	l := testLauncher(t)
	prog := sumAll(t)
	slots := kds.NewSlotBuffer(prog.Layout(), 16)
	table := newTable(prog, 1<<10)
	k := reduce(t, l, prog, slots, table, 0)
	require.Equal(t, 0, table.NumGroups())
	require.False(t, k.FinalBufferModified.Load())
}

func TestNoGroupOverflowResumes(t *testing.T) {
	l := testLauncher(t)
	prog := sumAll(t)
	rows := make([]kds.Tuple, 500)
	for i := range rows {
		rows[i] = kds.Tuple{int64(2)}
	}
	_, slots := setup(t, l, prog, kds.NewRowSource(rows), 500)
	// one word short of the single row
	table := newTable(prog, prog.Layout().FinalWords()-1)
	k := reduce(t, l, prog, slots, table, 0)
	require.Equal(t, 2, k.Launches())
	var row []uint64
	table.ForEachGroup(func(rowIndex uint32, _ uint32) {
		row = table.Row(rowIndex)
	})
	require.Equal(t, int64(1000), accum.DecodeInt64(*prog.Layout().FinalCell(row, 0).Value))
}

func TestGroupByReduction(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	const a, b = 1, 2
	rows := []kds.Tuple{{int64(a), int64(1)}, {int64(a), int64(2)}, {int64(b), int64(3)}, {int64(a), int64(4)},
		{int64(b), int64(5)}}
	_, slots := setup(t, l, prog, kds.NewRowSource(rows), 5)
	table := newTable(prog, 1<<10)
	k := reduce(t, l, prog, slots, table, 64)
	require.Equal(t, map[int64]int64{a: 7, b: 8}, sums(prog, table))
	require.Equal(t, uint64(2), k.NumGroups.Load())
	require.True(t, k.FinalBufferModified.Load())
}

func TestGroupByLocalTableFull(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	_, slots := setup(t, l, prog, kds.NewRowSource(keyedRows(5000, 100)), 5000)
	table := newTable(prog, 1<<14)
	k := reduce(t, l, prog, slots, table, 4)
	require.Greater(t, k.StatDebug1.Load(), uint64(0))
	res := sums(prog, table)
	require.Len(t, res, 100)
	for _, sum := range res {
		require.Equal(t, int64(50), sum)
	}
	require.Equal(t, uint64(100), k.NumGroups.Load())
}

func TestGroupByOverflowResumesWithoutDoubleCounting(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	_, slots := setup(t, l, prog, kds.NewRowSource(keyedRows(8000, 300)), 8000)
	table := newTable(prog, 10*(prog.Layout().FinalWords()+2))
	k := reduce(t, l, prog, slots, table, 16)
	require.Greater(t, k.Launches(), 1)
	res := sums(prog, table)
	require.Len(t, res, 300)
	var total int64
	for _, sum := range res {
		total += sum
	}
	require.Equal(t, int64(8000), total)
	require.Equal(t, 300, table.NumGroups())
	require.Equal(t, table.Abandoned(), k.StatDebug3.Load())
}

func TestSetupBlockSkipsDeadLines(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	var parts []kds.Partition
	for p := 0; p < 6; p++ {
		lines := make([]kds.Tuple, 100)
		for i := range lines {
			lines[i] = kds.Tuple{int64(p % 2), int64(1)}
		}
		parts = append(parts, kds.Partition{Lines: lines, Dead: roaring.BitmapOf(0, 10, 20, 99)})
	}
	src := kds.NewBlockSource(parts)
	require.Equal(t, 6*96, src.NRows())

	k, slots := setup(t, l, prog, src, 100)
	require.Equal(t, kern.StateSuspended, k.State())
	table := newTable(prog, 1<<10)
	for k.State() == kern.StateSuspended {
		reduce(t, l, prog, slots, table, 64)
		slots.Reset()
		k.Reset(true)
		require.NoError(t, Setup(context.Background(), l, k, prog, src, slots))
	}
	require.Equal(t, kern.StateComplete, k.State())
	reduce(t, l, prog, slots, table, 64)
	require.Equal(t, map[int64]int64{0: 3 * 96, 1: 3 * 96}, sums(prog, table))
	require.Equal(t, uint64(6*96), k.NItemsReal.Load())
	require.Equal(t, uint64(0), k.NItemsFiltered.Load())
}

func TestSetupArrowAndColumnSources(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	const n = 300

	kb := array.NewInt64Builder(memory.DefaultAllocator)
	vb := array.NewInt64Builder(memory.DefaultAllocator)
	keys := colbatch.NewInt64ColBuilder()
	vals := colbatch.NewInt64ColBuilder()
	for i := 0; i < n; i++ {
		kb.Append(int64(i % 3))
		keys.Append(int64(i % 3))
		if i%10 == 0 {
			vb.AppendNull()
			vals.AppendNull()
			continue
		}
		vb.Append(2)
		vals.Append(2)
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "k", Type: arrow.PrimitiveTypes.Int64},
		{Name: "v", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
	rec := array.NewRecord(schema, []arrow.Array{kb.NewArray(), vb.NewArray()}, n)
	defer rec.Release()
	batch := colbatch.NewBatchFromBuilders(colbatch.NewSchema([]string{"k", "v"},
		[]types.ColumnType{types.ColumnTypeInt64, types.ColumnTypeInt64}), keys, vals)

	for _, src := range []kds.Source{kds.NewArrowSource(rec), kds.NewColumnSource(batch)} {
		k, slots := setup(t, l, prog, src, n)
		require.Equal(t, kern.StateComplete, k.State())
		require.Equal(t, uint32(n), slots.NItems())
		table := newTable(prog, 1<<10)
		reduce(t, l, prog, slots, table, 64)
		require.Equal(t, map[int64]int64{0: 180, 1: 180, 2: 180}, sums(prog, table))
	}
}

func TestSetupFormatMismatch(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	k := kern.NewKernGpuPreAgg(1, testGrid, testBlock, kds.FormatBlock, nil, true)
	err := Setup(context.Background(), l, k, prog, kds.NewRowSource(keyedRows(10, 2)),
		kds.NewSlotBuffer(prog.Layout(), 10))
	require.True(t, errors.IsPreAggErrorWithCode(err, errors.WrongFormat))
}

func TestSetupDeviceError(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	rows := keyedRows(500, 5)
	rows[321] = kds.Tuple{int64(1), "not a number"}
	k, _ := setup(t, l, prog, kds.NewRowSource(rows), 500)
	require.Equal(t, kern.StateFailed, k.State())
	require.Equal(t, errors.ExpressionError, k.KError.Code())
	require.Equal(t, "setup_row", k.KError.FuncName())
	require.Contains(t, k.KError.Message(), "string")
	require.False(t, k.SetupSlotDone.Load())
}

func TestReductionPanicsOnCorruptDatumClass(t *testing.T) {
	l := testLauncher(t)
	prog := sumByKey(t)
	_, slots := setup(t, l, prog, kds.NewRowSource(keyedRows(64, 4)), 64)
	slots.Row(33)[2] = 7
	table := newTable(prog, 1<<10)
	require.Panics(t, func() {
		k := kern.NewKernGpuPreAgg(1, testGrid, testBlock, kds.FormatRow, nil, true)
		_ = GroupByReduction(context.Background(), l, k, prog, slots, table, 64)
	})
}

func TestDistinctCount(t *testing.T) {
	l := testLauncher(t)
	prog := compile(t, progbuild.Query{
		ColumnTypes:  []types.ColumnType{types.ColumnTypeInt64},
		Aggregates:   []progbuild.Aggregate{{Op: accum.OpDistinct, Column: 0}},
		RegisterBits: 10,
	})
	rows := make([]kds.Tuple, 20000)
	for i := range rows {
		rows[i] = kds.Tuple{int64(i % 2000)}
	}
	_, slots := setup(t, l, prog, kds.NewRowSource(rows), len(rows))
	table := newTable(prog, 1<<12)
	reduce(t, l, prog, slots, table, 0)
	var estimate uint64
	table.ForEachGroup(func(rowIndex uint32, _ uint32) {
		cell := prog.Layout().FinalCell(table.Row(rowIndex), 0)
		estimate = accum.HLLEstimate(cell.Extra, 10)
	})
	require.InDelta(t, 2000, float64(estimate), 250)
}
