package driver

import (
	"math"
	"math/bits"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/spirit-labs/preagg/accum"
	"github.com/spirit-labs/preagg/hashtable"
	"github.com/spirit-labs/preagg/kds"
)

// Stats are the counters collected by the setup and reduction invocations of one Execute.
type Stats struct {
	NItemsReal     uint64
	NItemsFiltered uint64
	NumGroups      uint64
	ExtraUsage     uint64
	// prep rows that went straight to the global table because a local table was full
	LocalFallbacks uint64
	LocalItems     uint64
	Abandoned      uint64

	SetupLaunches     int
	SetupSuspends     int
	ReductionLaunches int
	ReductionSuspends int
	Expansions        int
}

// Result holds the finalized groups. Each group has one value per layout column, grouping keys first; nil is
// an absent value.
type Result struct {
	Columns []string
	Groups  [][]any
	NumKeys int
	Stats   Stats
}

func finalize(layout *kds.Layout, cell accum.Cell, col int) any {
	if cell.IsNull() {
		return nil
	}
	kind := layout.Columns[col].Kind
	if kind == accum.KindHLL {
		registerBits := bits.Len(uint(len(cell.Extra)*8)) - 1
		return int64(accum.HLLEstimate(cell.Extra, registerBits))
	}
	return accum.Decode(kind, *cell.Value)
}

func readBack(layout *kds.Layout, table *hashtable.GlobalHashTable) [][]any {
	var groups [][]any
	table.ForEachGroup(func(rowIndex uint32, _ uint32) {
		row := table.Row(rowIndex)
		group := make([]any, len(layout.Columns))
		for col := range layout.Columns {
			group[col] = finalize(layout, layout.FinalCell(row, col), col)
		}
		groups = append(groups, group)
	})
	return groups
}

// SortedGroups returns the groups ordered by their grouping keys, absent keys first.
func (r *Result) SortedGroups() [][]any {
	if r.NumKeys == 0 {
		return r.Groups
	}
	m := treemap.NewWith(func(a, b interface{}) int {
		return compareKeys(a.([]any), b.([]any))
	})
	for _, g := range r.Groups {
		m.Put(g[:r.NumKeys], g)
	}
	sorted := make([][]any, 0, m.Size())
	it := m.Iterator()
	for it.Next() {
		sorted = append(sorted, it.Value().([]any))
	}
	return sorted
}

func compareKeys(a, b []any) int {
	for i := range a {
		if c := compareValue(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareValue(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	x, y := toFloat(a), toFloat(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return math.NaN()
	}
}
