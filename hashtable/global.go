package hashtable

import (
	"math"
	"runtime"
	"sync/atomic"

	"github.com/spirit-labs/preagg/common"
	"github.com/spirit-labs/preagg/errors"
)

const (
	nogroupNone uint32 = iota
	nogroupCreating
	nogroupReady
	nogroupOverflow
)

// GlobalHashTable is the device wide aggregation table. Rows and hash items live in one Arena; the bucket heads
// are separate. Kernels hold the lock shared while they use the table, the host holds it exclusive to expand it.
type GlobalHashTable struct {
	arena  *Arena
	nslots uint32
	slots  []uint32
	// lock is the number of shared holders, or -1 when held exclusive.
	lock      atomic.Int64
	abandoned atomic.Uint64

	nogroupState atomic.Uint32
	nogroupRow   uint32
}

func NewGlobalHashTable(length int, nslots int, rowWords int) *GlobalHashTable {
	g := &GlobalHashTable{
		arena:  NewArena(length, rowWords),
		nslots: uint32(nslots),
		slots:  make([]uint32, nslots),
	}
	for i := range g.slots {
		g.slots[i] = EndOfChain
	}
	return g
}

func (g *GlobalHashTable) AcquireShared() {
	var backoff common.CASBackoff
	for {
		cur := g.lock.Load()
		if cur >= 0 && g.lock.CompareAndSwap(cur, cur+1) {
			return
		}
		backoff.Fail()
	}
}

func (g *GlobalHashTable) ReleaseShared() {
	if g.lock.Add(-1) < 0 {
		panic("global hash table shared lock released while not held")
	}
}

func (g *GlobalHashTable) AcquireExclusive() {
	for !g.lock.CompareAndSwap(0, -1) {
		runtime.Gosched()
	}
}

func (g *GlobalHashTable) ReleaseExclusive() {
	if !g.lock.CompareAndSwap(-1, 0) {
		panic("global hash table exclusive lock released while not held")
	}
}

// LookupOrInsert finds the row of the group matching hash and match, creating it when absent. A new row is
// reserved together with its hash item and fully initialized by initRow before it becomes visible. When another
// lane publishes the same group first, the reservation is abandoned and the winner's row is returned.
func (g *GlobalHashTable) LookupOrInsert(hash uint32, match func(row []uint64) bool,
	initRow func(row []uint64)) (uint32, Status) {
	slot := &g.slots[hash%g.nslots]
	reserved := false
	var rowIndex, itemIndex uint32
	var backoff common.CASBackoff
	for {
		head := atomic.LoadUint32(slot)
		for cur := head; cur != EndOfChain; {
			index, h, next := loadItem(g.arena.itemAt(cur))
			if h == hash && match(g.arena.Row(index)) {
				if reserved {
					g.abandoned.Add(1)
				}
				return index, Found
			}
			cur = next
		}
		if !reserved {
			var ok bool
			rowIndex, itemIndex, ok = g.arena.Reserve(1, 1)
			if !ok {
				return 0, Overflow
			}
			initRow(g.arena.Row(rowIndex))
			reserved = true
		}
		storeItem(g.arena.itemAt(itemIndex), rowIndex, hash, head)
		if atomic.CompareAndSwapUint32(slot, head, itemIndex) {
			return rowIndex, Created
		}
		backoff.Fail()
	}
}

// NoGroupRow returns the single row used when there are no grouping keys. The first caller creates it; callers
// racing with the creation wait until it is ready.
func (g *GlobalHashTable) NoGroupRow(initRow func(row []uint64)) (uint32, Status) {
	for {
		switch g.nogroupState.Load() {
		case nogroupReady:
			return g.nogroupRow, Found
		case nogroupOverflow:
			return 0, Overflow
		case nogroupNone:
			if !g.nogroupState.CompareAndSwap(nogroupNone, nogroupCreating) {
				continue
			}
			rowIndex, _, ok := g.arena.Reserve(1, 0)
			if !ok {
				g.nogroupState.Store(nogroupOverflow)
				return 0, Overflow
			}
			initRow(g.arena.Row(rowIndex))
			g.nogroupRow = rowIndex
			g.nogroupState.Store(nogroupReady)
			return rowIndex, Created
		default:
			runtime.Gosched()
		}
	}
}

func (g *GlobalHashTable) Row(index uint32) []uint64 {
	return g.arena.Row(index)
}

func (g *GlobalHashTable) Arena() *Arena {
	return g.arena
}

func (g *GlobalHashTable) NSlots() int {
	return int(g.nslots)
}

// Abandoned is the number of reservations given up because another lane created the same group first.
func (g *GlobalHashTable) Abandoned() uint64 {
	return g.abandoned.Load()
}

// ForEachGroup calls fn with the row index and hash of every published group, bucket by bucket.
func (g *GlobalHashTable) ForEachGroup(fn func(rowIndex uint32, hash uint32)) {
	if g.nogroupState.Load() == nogroupReady {
		fn(g.nogroupRow, 0)
		return
	}
	for i := range g.slots {
		for cur := atomic.LoadUint32(&g.slots[i]); cur != EndOfChain; {
			index, hash, next := loadItem(g.arena.itemAt(cur))
			fn(index, hash)
			cur = next
		}
	}
}

// NumGroups counts the published groups.
func (g *GlobalHashTable) NumGroups() int {
	n := 0
	g.ForEachGroup(func(uint32, uint32) {
		n++
	})
	return n
}

// Expand moves the table into a larger arena with nslots buckets. Rows keep their indexes; hash items are rebuilt
// from the published chains, so abandoned item reservations are dropped. Must be called with no kernel running.
func (g *GlobalHashTable) Expand(length int, nslots int) error {
	if int64(length) > math.MaxUint32 || int64(nslots) > math.MaxUint32 || nslots < 1 {
		return errors.Errorf("cannot expand global hash table to %d words and %d slots: arena cursors are 32 bit",
			length, nslots)
	}
	g.AcquireExclusive()
	defer g.ReleaseExclusive()

	old := g.arena
	nrows := old.NumRows()
	type entry struct {
		index, hash uint32
	}
	var entries []entry
	for i := range g.slots {
		for cur := g.slots[i]; cur != EndOfChain; {
			index, hash, next := loadItem(old.itemAt(cur))
			entries = append(entries, entry{index, hash})
			cur = next
		}
	}
	if int(nrows)*old.rowWords+len(entries)*itemWords > length {
		return errors.Errorf("cannot expand global hash table to %d words: %d rows and %d items need more",
			length, nrows, len(entries))
	}
	arena := NewArena(length, old.rowWords)
	copy(arena.words, old.words[:old.HeadWords()])
	arena.cursor.Store(packCursor(nrows, uint32(len(entries)*itemWords)))
	slots := make([]uint32, nslots)
	for i := range slots {
		slots[i] = EndOfChain
	}
	for i, e := range entries {
		slot := e.hash % uint32(nslots)
		storeItem(arena.itemAt(uint32(i)), e.index, e.hash, slots[slot])
		slots[slot] = uint32(i)
	}
	g.arena = arena
	g.slots = slots
	g.nslots = uint32(nslots)
	g.nogroupState.CompareAndSwap(nogroupOverflow, nogroupNone)
	return nil
}
