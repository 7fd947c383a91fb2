package accum

import (
	"encoding/binary"
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/dchest/siphash"
	"github.com/spirit-labs/preagg/common"
)

// Fixed siphash keys so that sketches built by different invocations can be merged.
const (
	hllHashKey0 = 0x736f6d6570736575
	hllHashKey1 = 0x646f72616e646f6d
)

// HLLHash hashes a projected value for insertion into an HLL sketch.
func HLLHash(value uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return siphash.Hash(hllHashKey0, hllHashKey1, buf[:])
}

// HLLExtraWords is the number of words holding 1<<registerBits 8-bit registers.
func HLLExtraWords(registerBits int) int {
	return (1 << registerBits) / 8
}

type hllCalc struct {
	registerBits int
}

func NewHLLCalc(registerBits int) Calculator {
	return &hllCalc{registerBits: registerBits}
}

func (h *hllCalc) Kind() Kind {
	return KindHLL
}

func (h *hllCalc) Op() Op {
	return OpDistinct
}

func (h *hllCalc) ExtraWords() int {
	return HLLExtraWords(h.registerBits)
}

func (h *hllCalc) Init(dst Cell) {
	*dst.Class = DatumNull
	*dst.Value = 0
	for i := range dst.Extra {
		dst.Extra[i] = 0
	}
}

// registerOf splits a hash into a register index and its rank, the position of the leftmost set bit of the
// remaining bits.
func (h *hllCalc) registerOf(hash uint64) (int, uint8) {
	b := h.registerBits
	index := int(hash & (1<<b - 1))
	rest := hash >> b
	rank := bits.LeadingZeros64(rest<<b) + 1
	if limit := 64 - b + 1; rank > limit {
		rank = limit
	}
	return index, uint8(rank)
}

func (h *hllCalc) Update(dst, src Cell) {
	if !present(src) {
		return
	}
	index, rank := h.registerOf(*src.Value)
	word := &dst.Extra[index/8]
	shift := uint(index%8) * 8
	var backoff common.CASBackoff
	for {
		old := atomic.LoadUint64(word)
		if uint8(old>>shift) >= rank {
			break
		}
		updated := old&^(0xff<<shift) | uint64(rank)<<shift
		if atomic.CompareAndSwapUint64(word, old, updated) {
			break
		}
		backoff.Fail()
	}
	if atomic.LoadUint64(dst.Class) != DatumNormal {
		atomic.StoreUint64(dst.Class, DatumNormal)
	}
}

func (h *hllCalc) SerialMerge(dst, src Cell) {
	if !present(src) {
		return
	}
	for i, w := range src.Extra {
		dst.Extra[i] = registerMax(dst.Extra[i], w)
	}
	*dst.Class = DatumNormal
}

func (h *hllCalc) WarpMerge(lanes []Cell, mask int) {
	snapshot := make([]Cell, len(lanes))
	for l, cell := range lanes {
		snapshot[l] = NewPrivateCell(len(cell.Extra))
		snapshot[l].CopyFrom(cell)
	}
	for l, cell := range lanes {
		src := l ^ mask
		if src >= len(lanes) {
			continue
		}
		h.SerialMerge(cell, snapshot[src])
	}
}

func (h *hllCalc) AtomicMerge(dst, src Cell) {
	if !present(src) {
		return
	}
	for i, w := range src.Extra {
		if w == 0 {
			continue
		}
		var backoff common.CASBackoff
		for {
			old := atomic.LoadUint64(&dst.Extra[i])
			merged := registerMax(old, w)
			if merged == old || atomic.CompareAndSwapUint64(&dst.Extra[i], old, merged) {
				break
			}
			backoff.Fail()
		}
	}
	if atomic.LoadUint64(dst.Class) != DatumNormal {
		atomic.StoreUint64(dst.Class, DatumNormal)
	}
}

// registerMax is the bytewise maximum of two words of packed 8-bit registers.
func registerMax(a, b uint64) uint64 {
	var out uint64
	for shift := uint(0); shift < 64; shift += 8 {
		ra := (a >> shift) & 0xff
		rb := (b >> shift) & 0xff
		if rb > ra {
			ra = rb
		}
		out |= ra << shift
	}
	return out
}

// HLLEstimate returns the estimated number of distinct values held by the registers of a sketch.
func HLLEstimate(registers []uint64, registerBits int) uint64 {
	m := float64(int(1) << registerBits)
	var sum float64
	zeros := 0
	for _, w := range registers {
		for shift := uint(0); shift < 64; shift += 8 {
			r := (w >> shift) & 0xff
			if r == 0 {
				zeros++
			}
			sum += math.Ldexp(1, -int(r))
		}
	}
	var alpha float64
	switch registerBits {
	case 4:
		alpha = 0.673
	case 5:
		alpha = 0.697
	case 6:
		alpha = 0.709
	default:
		alpha = 0.7213 / (1 + 1.079/m)
	}
	estimate := alpha * m * m / sum
	if estimate <= 2.5*m && zeros > 0 {
		estimate = m * math.Log(m/float64(zeros))
	}
	return uint64(math.Round(estimate))
}
