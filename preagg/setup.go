package preagg

import (
	"context"

	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/kds"
	"github.com/spirit-labs/preagg/kern"
)

type qualsFunc func(i int) (bool, error)
type projectFunc func(i int, dst []uint64) error

// Setup runs slot projection of src into slots. Every block consumes its share of the source; when slots fill up
// the blocks that could not place their rows record where to continue and the invocation ends SUSPENDED.
func Setup(ctx context.Context, l *kern.Launcher, k *kern.KernGpuPreAgg, prog Program, src kds.Source,
	slots *kds.SlotBuffer) error {
	if src.Format() != k.SuspendFormat {
		return errors.NewPreAggErrorf(errors.WrongFormat, "source format %s does not match invocation format %s",
			src.Format(), k.SuspendFormat)
	}
	var kernel kern.Kernel
	switch s := src.(type) {
	case *kds.RowSource:
		kernel = func(b *kern.Block) error {
			return setupLinear(b, slots, len(s.Rows), kern.RowCursorContext,
				func(i int) (bool, error) {
					return prog.QualsRow(s.Rows[i])
				},
				func(i int, dst []uint64) error {
					return prog.ProjectRow(s.Rows[i], dst)
				})
		}
	case *kds.ArrowSource:
		kernel = func(b *kern.Block) error {
			return setupLinear(b, slots, s.NRows(), kern.ColumnCursorContext,
				func(i int) (bool, error) {
					return prog.QualsArrow(s.Record, i)
				},
				func(i int, dst []uint64) error {
					return prog.ProjectArrow(s.Record, i, dst)
				})
		}
	case *kds.ColumnSource:
		kernel = func(b *kern.Block) error {
			return setupLinear(b, slots, s.NRows(), kern.ColumnCursorContext,
				func(i int) (bool, error) {
					return prog.QualsColumn(s.Batch, i)
				},
				func(i int, dst []uint64) error {
					return prog.ProjectColumn(s.Batch, i, dst)
				})
		}
	case *kds.BlockSource:
		kernel = func(b *kern.Block) error {
			return setupBlock(b, slots, s, prog)
		}
	default:
		return errors.NewPreAggErrorf(errors.WrongFormat, "unsupported source %T", src)
	}
	if err := l.Launch(ctx, k, "setup_"+src.Format().String(), kernel); err != nil {
		return err
	}
	if k.SuspendCount.Load() == 0 && !k.KError.IsSet() {
		k.SetupSlotDone.Store(true)
	}
	return nil
}

func setupLinear(b *kern.Block, slots *kds.SlotBuffer, n int, cursorOf func(uint64) kern.SuspendContext,
	quals qualsFunc, project projectFunc) error {
	cur, ok := startCursor(b, n)
	if !ok {
		return nil
	}
	for ; cur.more(); cur.advance() {
		start, end := cur.pos, cur.end()
		consumed, err := projectChunk(b, slots, end-start,
			func(i int) (bool, error) {
				return quals(start + i)
			},
			func(i int, dst []uint64) error {
				return project(start+i, dst)
			})
		if err != nil || b.Kcxt.Failed() {
			return err
		}
		if start+consumed < end {
			suspend(b, cursorOf(uint64(start+consumed)))
			return nil
		}
	}
	markDone(b)
	return nil
}

// setupBlock scans partitions b.ID, b.ID+grid, ... skipping dead lines. Its continuation point is the
// (partition, line) of the first line it could not place.
func setupBlock(b *kern.Block, slots *kds.SlotBuffer, src *kds.BlockSource, prog Program) error {
	part, line := b.ID, 0
	if rec := b.SuspendContext(); rec != nil && b.Kern.ResumeContext {
		if rec.IsDone() {
			return nil
		}
		p, l := rec.BlockCursor()
		part, line = int(p), int(l)
	}
	cands := make([]int, 0, b.Size)
	for ; part < len(src.Parts); part, line = part+b.Grid, 0 {
		p := &src.Parts[part]
		for line < len(p.Lines) {
			cands = cands[:0]
			next := line
			for ; next < len(p.Lines) && len(cands) < b.Size; next++ {
				if p.Visible(next) {
					cands = append(cands, next)
				}
			}
			consumed, err := projectChunk(b, slots, len(cands),
				func(i int) (bool, error) {
					return prog.QualsRow(p.Lines[cands[i]])
				},
				func(i int, dst []uint64) error {
					return prog.ProjectRow(p.Lines[cands[i]], dst)
				})
			if err != nil || b.Kcxt.Failed() {
				return err
			}
			if consumed < len(cands) {
				suspend(b, kern.BlockCursorContext(uint32(part), uint32(cands[consumed])))
				return nil
			}
			line = next
		}
	}
	markDone(b)
	return nil
}

// projectChunk evaluates the quals of ncand candidate rows across the warps of the block, reserves slots for all
// qualifying rows with one compare-and-swap and projects the rows that got a slot. It returns the number of
// leading candidates consumed, which is less than ncand when slots ran out; only consumed candidates are counted.
func projectChunk(b *kern.Block, slots *kds.SlotBuffer, ncand int, quals qualsFunc, project projectFunc) (int, error) {
	if ncand == 0 {
		return 0, nil
	}
	pass := make([]bool, ncand)
	err := b.RunWarps(func(w *kern.Warp) error {
		for l := 0; l < w.Size; l++ {
			i := w.FirstThread() + l
			if i >= ncand {
				break
			}
			ok, err := quals(i)
			if err != nil {
				return err
			}
			pass[i] = ok
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	rank := make([]uint32, ncand)
	var npass uint32
	for i, ok := range pass {
		rank[i] = npass
		if ok {
			npass++
		}
	}
	base, got := slots.Reserve(npass)
	consumed := ncand
	if got < npass {
		for i, ok := range pass {
			if ok && rank[i] == got {
				consumed = i
				break
			}
		}
	}
	err = b.RunWarps(func(w *kern.Warp) error {
		for l := 0; l < w.Size; l++ {
			i := w.FirstThread() + l
			if i >= consumed {
				break
			}
			if pass[i] {
				if err := project(i, slots.Row(base+rank[i])); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.Kern.NItemsReal.Add(uint64(consumed))
	b.Kern.NItemsFiltered.Add(uint64(consumed) - uint64(got))
	return consumed, nil
}
