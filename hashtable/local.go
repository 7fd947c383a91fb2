package hashtable

import (
	"sync/atomic"

	"github.com/spirit-labs/preagg/common"
)

// LocalHashNSlots is the number of buckets of a block local table.
const LocalHashNSlots = 1153

// LocalHashTable is the aggregation table private to one block. Each item remembers the prep row that created
// it, which is used to match keys, and owns one narrow accumulator row.
type LocalHashTable struct {
	slots    [LocalHashNSlots]uint32
	nitems   atomic.Uint32
	nrooms   uint32
	items    []uint64
	rows     []uint64
	rowWords int
}

func NewLocalHashTable(nrooms int, rowWords int) *LocalHashTable {
	l := &LocalHashTable{
		nrooms:   uint32(nrooms),
		items:    make([]uint64, nrooms*itemWords),
		rows:     make([]uint64, nrooms*rowWords),
		rowWords: rowWords,
	}
	l.Reset()
	return l
}

// Reset reclaims the table for the next block.
func (l *LocalHashTable) Reset() {
	for i := range l.slots {
		l.slots[i] = EndOfChain
	}
	l.nitems.Store(0)
}

func (l *LocalHashTable) item(index uint32) []uint64 {
	return l.items[int(index)*itemWords : int(index+1)*itemWords]
}

func (l *LocalHashTable) reserve() (uint32, bool) {
	var backoff common.CASBackoff
	for {
		cur := l.nitems.Load()
		if cur >= l.nrooms {
			return 0, false
		}
		if l.nitems.CompareAndSwap(cur, cur+1) {
			return cur, true
		}
		backoff.Fail()
	}
}

// LookupOrInsert finds the item of the group matching hash and match, creating one owned by prepIndex when
// absent. It returns LocalFull when the item pool is exhausted and the group is not present.
func (l *LocalHashTable) LookupOrInsert(hash uint32, prepIndex uint32, match func(prepIndex uint32) bool,
	initRow func(row []uint64)) (uint32, Status) {
	slot := &l.slots[hash%LocalHashNSlots]
	reserved := false
	var itemIndex uint32
	var backoff common.CASBackoff
	for {
		head := atomic.LoadUint32(slot)
		for cur := head; cur != EndOfChain; {
			index, h, next := loadItem(l.item(cur))
			if h == hash && match(index) {
				// a reserved but unpublished item is left unused
				return cur, Found
			}
			cur = next
		}
		if !reserved {
			var ok bool
			itemIndex, ok = l.reserve()
			if !ok {
				return 0, LocalFull
			}
			initRow(l.Row(itemIndex))
			reserved = true
		}
		storeItem(l.item(itemIndex), prepIndex, hash, head)
		if atomic.CompareAndSwapUint32(slot, head, itemIndex) {
			return itemIndex, Created
		}
		backoff.Fail()
	}
}

func (l *LocalHashTable) Row(item uint32) []uint64 {
	off := int(item) * l.rowWords
	return l.rows[off : off+l.rowWords]
}

// PrepIndex is the prep row that created item.
func (l *LocalHashTable) PrepIndex(item uint32) uint32 {
	index, _, _ := loadItem(l.item(item))
	return index
}

// NItems is the number of reserved items.
func (l *LocalHashTable) NItems() uint32 {
	return l.nitems.Load()
}

func (l *LocalHashTable) NRooms() uint32 {
	return l.nrooms
}
