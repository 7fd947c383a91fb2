package hashtable

import (
	"sync/atomic"

	"github.com/spirit-labs/preagg/common"
)

const itemWords = 2

// Arena is a single word buffer shared by two allocators: fixed size rows grow from the head, hash items grow
// from the tail, item i living at length-2(i+1). Both cursors are packed into one word, rows in the high half
// and consumed tail words in the low half, so the invariant head+usage <= length is checked and advanced by
// a single compare-and-swap.
type Arena struct {
	words    []uint64
	rowWords int
	cursor   atomic.Uint64
}

func NewArena(length int, rowWords int) *Arena {
	return &Arena{
		words:    make([]uint64, length),
		rowWords: rowWords,
	}
}

func packCursor(nrows, usage uint32) uint64 {
	return uint64(nrows)<<32 | uint64(usage)
}

func unpackCursor(c uint64) (uint32, uint32) {
	return uint32(c >> 32), uint32(c)
}

// Reserve allocates nrows rows and nitems hash items together. It returns false, allocating nothing, when the
// arena cannot hold them.
func (a *Arena) Reserve(nrows int, nitems int) (uint32, uint32, bool) {
	var backoff common.CASBackoff
	for {
		cur := a.cursor.Load()
		rows, usage := unpackCursor(cur)
		head := (int(rows) + nrows) * a.rowWords
		tail := int(usage) + nitems*itemWords
		if head+tail > len(a.words) {
			return 0, 0, false
		}
		if a.cursor.CompareAndSwap(cur, packCursor(rows+uint32(nrows), uint32(tail))) {
			return rows, usage / itemWords, true
		}
		backoff.Fail()
	}
}

func (a *Arena) Row(index uint32) []uint64 {
	off := int(index) * a.rowWords
	return a.words[off : off+a.rowWords]
}

func (a *Arena) itemAt(index uint32) []uint64 {
	off := len(a.words) - itemWords*(int(index)+1)
	return a.words[off : off+itemWords]
}

// NumRows is the number of rows allocated so far, abandoned reservations included.
func (a *Arena) NumRows() uint32 {
	rows, _ := unpackCursor(a.cursor.Load())
	return rows
}

// NumItems is the number of hash items allocated so far.
func (a *Arena) NumItems() uint32 {
	_, usage := unpackCursor(a.cursor.Load())
	return usage / itemWords
}

// Usage is the number of words consumed from the tail.
func (a *Arena) Usage() int {
	_, usage := unpackCursor(a.cursor.Load())
	return int(usage)
}

// HeadWords is the number of words consumed from the head.
func (a *Arena) HeadWords() int {
	return int(a.NumRows()) * a.rowWords
}

func (a *Arena) Len() int {
	return len(a.words)
}

func (a *Arena) RowWords() int {
	return a.rowWords
}
