package hashtable

import (
	"math"
	"sync/atomic"
)

// EndOfChain terminates a bucket chain.
const EndOfChain = math.MaxUint32

// Status is the outcome of a lookup-or-insert.
type Status int

const (
	Found Status = iota
	Created
	Overflow
	LocalFull
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Created:
		return "created"
	case Overflow:
		return "overflow"
	case LocalFull:
		return "local-full"
	default:
		return "unknown"
	}
}

// A hash item is stored in two words: index and hash in the first, next in the second. Items are written in full
// before they are published into a bucket and never change afterwards.
func storeItem(item []uint64, index, hash, next uint32) {
	atomic.StoreUint64(&item[0], uint64(hash)<<32|uint64(index))
	atomic.StoreUint64(&item[1], uint64(next))
}

func loadItem(item []uint64) (index, hash, next uint32) {
	w := atomic.LoadUint64(&item[0])
	return uint32(w), uint32(w >> 32), uint32(atomic.LoadUint64(&item[1]))
}
