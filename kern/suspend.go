package kern

import (
	"fmt"
	"math"
)

// SuspendContext is the continuation point of one worker unit. How it is read depends on the source format of
// the invocation: row and column scans keep a single row cursor, block scans keep a (partition, line) pair.
type SuspendContext uint64

// SuspendDone marks a worker unit that consumed all of its input.
const SuspendDone SuspendContext = math.MaxUint64

func RowCursorContext(pos uint64) SuspendContext {
	return SuspendContext(pos)
}

func ColumnCursorContext(pos uint64) SuspendContext {
	return SuspendContext(pos)
}

func BlockCursorContext(part uint32, line uint32) SuspendContext {
	return SuspendContext(uint64(part)<<32 | uint64(line))
}

func (s SuspendContext) IsDone() bool {
	return s == SuspendDone
}

func (s SuspendContext) RowCursor() uint64 {
	return uint64(s)
}

func (s SuspendContext) ColumnCursor() uint64 {
	return uint64(s)
}

func (s SuspendContext) BlockCursor() (uint32, uint32) {
	return uint32(s >> 32), uint32(s)
}

func (s SuspendContext) String() string {
	if s.IsDone() {
		return "done"
	}
	part, line := s.BlockCursor()
	return fmt.Sprintf("cursor(%d | part=%d line=%d)", uint64(s), part, line)
}
