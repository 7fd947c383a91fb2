package accum

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashCell(v uint64) Cell {
	c := NewPrivateCell(0)
	c.Set(HLLHash(v))
	return c
}

func TestHLLEstimate(t *testing.T) {
	h := NewHLLCalc(12)
	dst := NewPrivateCell(h.ExtraWords())
	h.Init(dst)
	require.True(t, dst.IsNull())
	n := 20000
	for i := 0; i < n; i++ {
		h.Update(dst, hashCell(uint64(i)))
		// duplicates do not change the sketch
		h.Update(dst, hashCell(uint64(i)))
	}
	require.False(t, dst.IsNull())
	est := HLLEstimate(dst.Extra, 12)
	require.InDelta(t, float64(n), float64(est), float64(n)*0.05)
}

func TestHLLSmallRange(t *testing.T) {
	h := NewHLLCalc(10)
	dst := NewPrivateCell(h.ExtraWords())
	h.Init(dst)
	for i := 0; i < 50; i++ {
		h.Update(dst, hashCell(uint64(i*7919)))
	}
	est := HLLEstimate(dst.Extra, 10)
	require.InDelta(t, 50, float64(est), 5)
	empty := NewPrivateCell(h.ExtraWords())
	h.Init(empty)
	require.Equal(t, uint64(0), HLLEstimate(empty.Extra, 10))
}

func TestHLLMergeEqualsUnion(t *testing.T) {
	h := NewHLLCalc(8)
	a := NewPrivateCell(h.ExtraWords())
	b := NewPrivateCell(h.ExtraWords())
	union := NewPrivateCell(h.ExtraWords())
	h.Init(a)
	h.Init(b)
	h.Init(union)
	for i := 0; i < 3000; i++ {
		if i%2 == 0 {
			h.Update(a, hashCell(uint64(i)))
		} else {
			h.Update(b, hashCell(uint64(i)))
		}
		h.Update(union, hashCell(uint64(i)))
	}
	serial := NewPrivateCell(h.ExtraWords())
	h.Init(serial)
	h.SerialMerge(serial, a)
	h.SerialMerge(serial, b)
	require.Equal(t, union.Extra, serial.Extra)

	atomicDst := NewPrivateCell(h.ExtraWords())
	h.Init(atomicDst)
	h.AtomicMerge(atomicDst, b)
	h.AtomicMerge(atomicDst, a)
	require.Equal(t, union.Extra, atomicDst.Extra)
}

func TestHLLConcurrentUpdate(t *testing.T) {
	h := NewHLLCalc(8)
	shared := NewPrivateCell(h.ExtraWords())
	h.Init(shared)
	serial := NewPrivateCell(h.ExtraWords())
	h.Init(serial)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.Update(shared, hashCell(uint64(g*1000+i)))
			}
		}(g)
	}
	wg.Wait()
	for i := 0; i < 16000; i++ {
		h.Update(serial, hashCell(uint64(i)))
	}
	require.Equal(t, serial.Extra, shared.Extra)
}

func TestHLLWarpReduce(t *testing.T) {
	h := NewHLLCalc(6)
	lanes := make([]Cell, 8)
	union := NewPrivateCell(h.ExtraWords())
	h.Init(union)
	for l := range lanes {
		lanes[l] = NewPrivateCell(h.ExtraWords())
		h.Init(lanes[l])
		for i := 0; i < 20; i++ {
			h.Update(lanes[l], hashCell(uint64(l*100+i)))
			h.Update(union, hashCell(uint64(l*100+i)))
		}
	}
	WarpReduce(h, lanes)
	for _, cell := range lanes {
		require.Equal(t, union.Extra, cell.Extra)
	}
}

func TestRegisterMax(t *testing.T) {
	require.Equal(t, uint64(0x0507030400000009), registerMax(0x0102030400000009, 0x0507010200000001))
}
