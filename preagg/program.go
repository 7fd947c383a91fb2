package preagg

import (
	"github.com/apache/arrow/go/v11/arrow"
	"github.com/spirit-labs/preagg/colbatch"
	"github.com/spirit-labs/preagg/kds"
)

// Program is the set of per query callbacks produced by code generation. Quals decide whether a source row takes
// part in the aggregation, Project writes a qualifying row into a prep row, Hash and KeyMatch identify groups
// by the grouping key columns of prep and final rows. Returned errors are device errors.
type Program interface {
	Layout() *kds.Layout

	QualsRow(tup kds.Tuple) (bool, error)
	ProjectRow(tup kds.Tuple, dst []uint64) error

	QualsArrow(rec arrow.Record, row int) (bool, error)
	ProjectArrow(rec arrow.Record, row int, dst []uint64) error

	QualsColumn(batch *colbatch.Batch, row int) (bool, error)
	ProjectColumn(batch *colbatch.Batch, row int, dst []uint64) error

	Hash(row []uint64) uint32
	KeyMatch(x, y []uint64) bool
}
