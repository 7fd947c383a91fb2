package accum

// WarpReduce combines the lanes of a warp with a butterfly of shuffles so that every lane ends up holding the
// total of the whole warp. len(lanes) must be a power of two.
func WarpReduce(c Calculator, lanes []Cell) {
	for mask := len(lanes) / 2; mask > 0; mask >>= 1 {
		c.WarpMerge(lanes, mask)
	}
}
