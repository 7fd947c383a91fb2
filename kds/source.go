package kds

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow/go/v11/arrow"
	"github.com/spirit-labs/preagg/colbatch"
)

// Format identifies the encoding of a source batch.
type Format int

const (
	FormatRow Format = iota + 1
	FormatBlock
	FormatArrow
	FormatColumn
)

func (f Format) String() string {
	switch f {
	case FormatRow:
		return "row"
	case FormatBlock:
		return "block"
	case FormatArrow:
		return "arrow"
	case FormatColumn:
		return "column"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Source is a readable batch of tuples in one of the supported encodings. Sources are never mutated.
type Source interface {
	Format() Format
	// NRows is the number of candidate rows. For block sources it counts visible lines only.
	NRows() int
}

// Tuple is one row of a row or block source. A nil value is SQL NULL.
type Tuple []any

type RowSource struct {
	Rows []Tuple
}

func NewRowSource(rows []Tuple) *RowSource {
	return &RowSource{Rows: rows}
}

func (r *RowSource) Format() Format {
	return FormatRow
}

func (r *RowSource) NRows() int {
	return len(r.Rows)
}

// Partition is one page of a block source. Lines set in Dead are not visible and are skipped by scans.
type Partition struct {
	Lines []Tuple
	Dead  *roaring.Bitmap
}

func (p *Partition) Visible(line int) bool {
	return p.Dead == nil || !p.Dead.Contains(uint32(line))
}

func (p *Partition) NVisible() int {
	if p.Dead == nil || len(p.Lines) == 0 {
		return len(p.Lines)
	}
	return len(p.Lines) - int(p.Dead.Rank(uint32(len(p.Lines)-1)))
}

type BlockSource struct {
	Parts []Partition
}

func NewBlockSource(parts []Partition) *BlockSource {
	return &BlockSource{Parts: parts}
}

func (b *BlockSource) Format() Format {
	return FormatBlock
}

func (b *BlockSource) NRows() int {
	n := 0
	for i := range b.Parts {
		n += b.Parts[i].NVisible()
	}
	return n
}

// ArrowSource is an external columnar batch.
type ArrowSource struct {
	Record arrow.Record
}

func NewArrowSource(rec arrow.Record) *ArrowSource {
	return &ArrowSource{Record: rec}
}

func (a *ArrowSource) Format() Format {
	return FormatArrow
}

func (a *ArrowSource) NRows() int {
	return int(a.Record.NumRows())
}

// ColumnSource is an internal columnar batch.
type ColumnSource struct {
	Batch *colbatch.Batch
}

func NewColumnSource(batch *colbatch.Batch) *ColumnSource {
	return &ColumnSource{Batch: batch}
}

func (c *ColumnSource) Format() Format {
	return FormatColumn
}

func (c *ColumnSource) NRows() int {
	return c.Batch.RowCount
}
