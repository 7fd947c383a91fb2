package kds

import (
	"github.com/spirit-labs/preagg/accum"
	"github.com/spirit-labs/preagg/errors"
)

// Column describes one column of the prep layout. Columns without a calculator are grouping keys; every other
// column is an accumulator.
type Column struct {
	Name string
	Kind accum.Kind
	Calc accum.Calculator
}

func (c *Column) IsAccumulator() bool {
	return c.Calc != nil
}

// Layout describes the three row shapes of a query:
//
//   - prep rows, produced by projection, hold every column as a (class, value) word pair;
//   - part rows, held by the local hash table, hold accumulator columns only, followed by their extra words;
//   - final rows, held by the global hash table, hold every column followed by the extra words of the
//     accumulators.
type Layout struct {
	Columns    []Column
	KeyCols    []int
	AccumCols  []int
	PrepToPart []int

	finalExtraOff []int
	partExtraOff  []int
	extraWords    int
}

func NewLayout(columns []Column) (*Layout, error) {
	if len(columns) == 0 {
		return nil, errors.New("layout must have at least one column")
	}
	l := &Layout{
		Columns:       columns,
		PrepToPart:    make([]int, len(columns)),
		finalExtraOff: make([]int, len(columns)),
	}
	for i := range columns {
		col := &columns[i]
		if !col.IsAccumulator() {
			l.KeyCols = append(l.KeyCols, i)
			l.PrepToPart[i] = -1
			l.finalExtraOff[i] = -1
			continue
		}
		l.PrepToPart[i] = len(l.AccumCols)
		l.AccumCols = append(l.AccumCols, i)
	}
	if len(l.AccumCols) == 0 {
		return nil, errors.New("layout must have at least one accumulator column")
	}
	l.partExtraOff = make([]int, len(l.AccumCols))
	off := 0
	for p, prepCol := range l.AccumCols {
		l.partExtraOff[p] = 2*len(l.AccumCols) + off
		l.finalExtraOff[prepCol] = 2*len(columns) + off
		off += columns[prepCol].Calc.ExtraWords()
	}
	l.extraWords = off
	return l, nil
}

func (l *Layout) NumGroupKeys() int {
	return len(l.KeyCols)
}

func (l *Layout) PrepWords() int {
	return 2 * len(l.Columns)
}

func (l *Layout) PartWords() int {
	return 2*len(l.AccumCols) + l.extraWords
}

func (l *Layout) FinalWords() int {
	return 2*len(l.Columns) + l.extraWords
}

// ExtraWords is the number of words per row used by sketch registers.
func (l *Layout) ExtraWords() int {
	return l.extraWords
}

func (l *Layout) Calc(prepCol int) accum.Calculator {
	return l.Columns[prepCol].Calc
}

func (l *Layout) PrepCell(row []uint64, prepCol int) accum.Cell {
	return accum.CellAt(row, prepCol, nil)
}

func (l *Layout) FinalCell(row []uint64, prepCol int) accum.Cell {
	off := l.finalExtraOff[prepCol]
	if off < 0 {
		return accum.CellAt(row, prepCol, nil)
	}
	n := l.Columns[prepCol].Calc.ExtraWords()
	return accum.CellAt(row, prepCol, row[off:off+n])
}

func (l *Layout) PartCell(row []uint64, partCol int) accum.Cell {
	off := l.partExtraOff[partCol]
	n := l.Columns[l.AccumCols[partCol]].Calc.ExtraWords()
	return accum.CellAt(row, partCol, row[off:off+n])
}

// InitFinalRow copies the grouping keys of prep into a fresh final row and sets every accumulator to its
// identity.
func (l *Layout) InitFinalRow(row []uint64, prep []uint64) {
	for _, k := range l.KeyCols {
		row[2*k] = prep[2*k]
		row[2*k+1] = prep[2*k+1]
	}
	for _, a := range l.AccumCols {
		l.Columns[a].Calc.Init(l.FinalCell(row, a))
	}
}

func (l *Layout) InitPartRow(row []uint64) {
	for p, a := range l.AccumCols {
		l.Columns[a].Calc.Init(l.PartCell(row, p))
	}
}
