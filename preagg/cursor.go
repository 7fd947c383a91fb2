package preagg

import (
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/kern"
)

// chunkCursor walks the chunks of a linear scan owned by one block: chunk c, of block size rows, belongs to
// block c % grid.
type chunkCursor struct {
	pos    int
	chunk  int
	stride int
	n      int
}

// startCursor positions the cursor at the first row the block has to process. It returns false when a resumed
// block has nothing left.
func startCursor(b *kern.Block, n int) (chunkCursor, bool) {
	c := chunkCursor{
		pos:    b.ID * b.Size,
		chunk:  b.Size,
		stride: b.Grid * b.Size,
		n:      n,
	}
	if rec := b.SuspendContext(); rec != nil && b.Kern.ResumeContext {
		if rec.IsDone() {
			return c, false
		}
		c.pos = int(rec.RowCursor())
	}
	return c, true
}

func (c *chunkCursor) more() bool {
	return c.pos < c.n
}

// end is the end of the chunk containing pos.
func (c *chunkCursor) end() int {
	return min((c.pos/c.chunk+1)*c.chunk, c.n)
}

func (c *chunkCursor) advance() {
	c.pos = (c.pos/c.chunk)*c.chunk + c.stride
}

// suspend records where the block has to continue and counts it as suspended.
func suspend(b *kern.Block, sc kern.SuspendContext) {
	rec := b.SuspendContext()
	if rec == nil {
		b.Kcxt.SetError(errors.NewPreAggError(errors.CapacityExceeded,
			"destination buffer exhausted by an invocation that cannot suspend"))
		return
	}
	*rec = sc
	b.Kern.SuspendCount.Add(1)
}

func markDone(b *kern.Block) {
	if rec := b.SuspendContext(); rec != nil {
		*rec = kern.SuspendDone
	}
}
