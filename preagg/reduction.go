package preagg

import (
	"context"

	"github.com/spirit-labs/preagg/accum"
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/hashtable"
	"github.com/spirit-labs/preagg/kds"
	"github.com/spirit-labs/preagg/kern"
)

// NoGroupReduction folds every prep row of slots into the single row of table. k must be an invocation without
// grouping keys over the slot buffer.
func NoGroupReduction(ctx context.Context, l *kern.Launcher, k *kern.KernGpuPreAgg, prog Program,
	slots *kds.SlotBuffer, table *hashtable.GlobalHashTable) error {
	if !k.IsNoGroup() {
		return errors.NewPreAggErrorf(errors.InvalidArgument, "nogroup reduction with %d grouping keys",
			k.NumGroupKeys)
	}
	err := l.Launch(ctx, k, "nogroup_reduction", func(b *kern.Block) error {
		return nogroupBlock(b, prog.Layout(), slots, table)
	})
	k.StatDebug3.Store(table.Abandoned())
	return err
}

func nogroupBlock(b *kern.Block, layout *kds.Layout, slots *kds.SlotBuffer, table *hashtable.GlobalHashTable) error {
	k := b.Kern
	table.AcquireShared()
	defer table.ReleaseShared()
	cur, ok := startCursor(b, int(slots.NItems()))
	if !ok {
		return nil
	}
	if !cur.more() {
		markDone(b)
		return nil
	}
	rowIndex, status := table.NoGroupRow(func(row []uint64) {
		layout.InitFinalRow(row, nil)
	})
	switch status {
	case hashtable.Overflow:
		suspend(b, kern.RowCursorContext(uint64(cur.pos)))
		return nil
	case hashtable.Created:
		k.NumGroups.Add(1)
		k.ExtraUsage.Add(uint64(layout.ExtraWords() * 8))
	}
	final := table.Row(rowIndex)

	part := make([]uint64, layout.PartWords())
	layout.InitPartRow(part)
	for ; cur.more(); cur.advance() {
		start, end := cur.pos, cur.end()
		err := b.RunWarps(func(w *kern.Warp) error {
			lanes := make([]accum.Cell, w.Size)
			for p, col := range layout.AccumCols {
				calc := layout.Calc(col)
				for lane := range lanes {
					lanes[lane] = accum.NewPrivateCell(calc.ExtraWords())
					calc.Init(lanes[lane])
					if i := start + w.FirstThread() + lane; i < end {
						calc.Update(lanes[lane], layout.PrepCell(slots.Row(uint32(i)), col))
					}
				}
				accum.WarpReduce(calc, lanes)
				calc.AtomicMerge(layout.PartCell(part, p), lanes[0])
			}
			return nil
		})
		if err != nil {
			return err
		}
		k.ReadSlotPos.Add(uint32(end - start))
	}
	for p, col := range layout.AccumCols {
		layout.Calc(col).AtomicMerge(layout.FinalCell(final, col), layout.PartCell(part, p))
	}
	k.FinalBufferModified.Store(true)
	markDone(b)
	return nil
}

// GroupByReduction aggregates the prep rows of slots by their grouping keys into table. Each block first
// accumulates into a local table of localRooms items and falls back to the global table when that is full.
func GroupByReduction(ctx context.Context, l *kern.Launcher, k *kern.KernGpuPreAgg, prog Program,
	slots *kds.SlotBuffer, table *hashtable.GlobalHashTable, localRooms int) error {
	if k.IsNoGroup() {
		return errors.NewPreAggError(errors.InvalidArgument, "groupby reduction without grouping keys")
	}
	err := l.Launch(ctx, k, "groupby_reduction", func(b *kern.Block) error {
		r := &groupByBlock{
			b:      b,
			prog:   prog,
			layout: prog.Layout(),
			slots:  slots,
			table:  table,
			local:  hashtable.NewLocalHashTable(localRooms, prog.Layout().PartWords()),
			global: make([]uint32, localRooms),
		}
		return r.run()
	})
	k.StatDebug3.Store(table.Abandoned())
	return err
}

// target is where a prep row is accumulated: an item of the local table or a row of the global table.
type target struct {
	local bool
	index uint32
}

type groupByBlock struct {
	b      *kern.Block
	prog   Program
	layout *kds.Layout
	slots  *kds.SlotBuffer
	table  *hashtable.GlobalHashTable
	local  *hashtable.LocalHashTable
	// global row of each local item, valid below resolved
	global   []uint32
	resolved uint32
}

func (r *groupByBlock) run() error {
	b := r.b
	r.table.AcquireShared()
	defer r.table.ReleaseShared()
	cur, ok := startCursor(b, int(r.slots.NItems()))
	if !ok {
		return nil
	}
	for ; cur.more(); cur.advance() {
		start, end := cur.pos, cur.end()
		targets, overflow, err := r.resolve(start, end)
		if err != nil {
			return err
		}
		if overflow {
			// nothing of this chunk has been accumulated yet, so it is replayed in full on resume
			if err := r.flush(); err != nil {
				return err
			}
			suspend(b, kern.RowCursorContext(uint64(start)))
			return nil
		}
		if err := r.apply(start, end, targets); err != nil {
			return err
		}
		b.Kern.ReadSlotPos.Add(uint32(end - start))
	}
	if err := r.flush(); err != nil {
		return err
	}
	markDone(b)
	return nil
}

func (r *groupByBlock) created() {
	r.b.Kern.NumGroups.Add(1)
	r.b.Kern.ExtraUsage.Add(uint64(r.layout.ExtraWords() * 8))
}

func (r *groupByBlock) lookupGlobal(prep []uint64) (uint32, hashtable.Status) {
	index, status := r.table.LookupOrInsert(r.prog.Hash(prep),
		func(row []uint64) bool {
			return r.prog.KeyMatch(prep, row)
		},
		func(row []uint64) {
			r.layout.InitFinalRow(row, prep)
		})
	if status == hashtable.Created {
		r.created()
	}
	return index, status
}

// resolve finds the target of every prep row in [start, end) and then makes sure every local item created on the
// way has a global row. It reports overflow when the global table ran out of space.
func (r *groupByBlock) resolve(start, end int) ([]target, bool, error) {
	b := r.b
	size := end - start
	targets := make([]target, size)
	ovf := make([]bool, b.NumWarps())
	err := b.RunWarps(func(w *kern.Warp) error {
		for lane := 0; lane < w.Size; lane++ {
			i := w.FirstThread() + lane
			if i >= size {
				break
			}
			prepIndex := uint32(start + i)
			prep := r.slots.Row(prepIndex)
			item, status := r.local.LookupOrInsert(r.prog.Hash(prep), prepIndex,
				func(other uint32) bool {
					return r.prog.KeyMatch(prep, r.slots.Row(other))
				},
				r.layout.InitPartRow)
			if status != hashtable.LocalFull {
				targets[i] = target{local: true, index: item}
				continue
			}
			b.Kern.StatDebug1.Add(1)
			row, status := r.lookupGlobal(prep)
			if status == hashtable.Overflow {
				ovf[w.ID] = true
				continue
			}
			targets[i] = target{index: row}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	nitems := r.local.NItems()
	b.Kern.StatDebug2.Add(uint64(nitems - r.resolved))
	err = b.RunWarps(func(w *kern.Warp) error {
		for it := r.resolved + uint32(w.FirstThread()); it < nitems; it += uint32(b.Size) {
			for lane := uint32(0); lane < uint32(w.Size) && it+lane < nitems; lane++ {
				prep := r.slots.Row(r.local.PrepIndex(it + lane))
				row, status := r.lookupGlobal(prep)
				if status == hashtable.Overflow {
					ovf[w.ID] = true
					continue
				}
				r.global[it+lane] = row
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	overflow := false
	for _, o := range ovf {
		overflow = overflow || o
	}
	if !overflow {
		r.resolved = nitems
	}
	return targets, overflow, nil
}

func (r *groupByBlock) apply(start, end int, targets []target) error {
	size := end - start
	return r.b.RunWarps(func(w *kern.Warp) error {
		touchedGlobal := false
		for lane := 0; lane < w.Size; lane++ {
			i := w.FirstThread() + lane
			if i >= size {
				break
			}
			prep := r.slots.Row(uint32(start + i))
			t := targets[i]
			for p, col := range r.layout.AccumCols {
				calc := r.layout.Calc(col)
				src := r.layout.PrepCell(prep, col)
				if t.local {
					calc.Update(r.layout.PartCell(r.local.Row(t.index), p), src)
				} else {
					calc.Update(r.layout.FinalCell(r.table.Row(t.index), col), src)
					touchedGlobal = true
				}
			}
		}
		if touchedGlobal {
			r.b.Kern.FinalBufferModified.Store(true)
		}
		return nil
	})
}

// flush merges every resolved local item into its global row.
func (r *groupByBlock) flush() error {
	b := r.b
	n := r.resolved
	if n == 0 {
		return nil
	}
	err := b.RunWarps(func(w *kern.Warp) error {
		for it := uint32(w.FirstThread()); it < n; it += uint32(b.Size) {
			for lane := uint32(0); lane < uint32(w.Size) && it+lane < n; lane++ {
				item := it + lane
				row := r.table.Row(r.global[item])
				for p, col := range r.layout.AccumCols {
					r.layout.Calc(col).AtomicMerge(r.layout.FinalCell(row, col), r.layout.PartCell(r.local.Row(item), p))
				}
			}
		}
		return nil
	})
	b.Kern.FinalBufferModified.Store(true)
	return err
}
