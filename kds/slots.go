package kds

import (
	"sync/atomic"

	"github.com/spirit-labs/preagg/common"
)

// SlotBuffer is the destination of slot projection: a fixed number of prep rows reserved with atomic
// bump allocation.
type SlotBuffer struct {
	layout   *Layout
	rowWords int
	nrooms   uint32
	nitems   atomic.Uint32
	words    []uint64
}

func NewSlotBuffer(layout *Layout, nrooms int) *SlotBuffer {
	return &SlotBuffer{
		layout:   layout,
		rowWords: layout.PrepWords(),
		nrooms:   uint32(nrooms),
		words:    make([]uint64, nrooms*layout.PrepWords()),
	}
}

// Reserve claims up to want consecutive rows in one compare-and-swap and returns the first row and the number
// of rows actually claimed, which is less than want when the buffer fills up.
func (s *SlotBuffer) Reserve(want uint32) (uint32, uint32) {
	var backoff common.CASBackoff
	for {
		cur := s.nitems.Load()
		free := s.nrooms - cur
		got := want
		if got > free {
			got = free
		}
		if got == 0 {
			return cur, 0
		}
		if s.nitems.CompareAndSwap(cur, cur+got) {
			return cur, got
		}
		backoff.Fail()
	}
}

func (s *SlotBuffer) Row(i uint32) []uint64 {
	off := int(i) * s.rowWords
	return s.words[off : off+s.rowWords]
}

func (s *SlotBuffer) Layout() *Layout {
	return s.layout
}

func (s *SlotBuffer) NItems() uint32 {
	return s.nitems.Load()
}

func (s *SlotBuffer) Capacity() uint32 {
	return s.nrooms
}

// Reset discards the rows of the buffer once they have been reduced.
func (s *SlotBuffer) Reset() {
	s.nitems.Store(0)
}
