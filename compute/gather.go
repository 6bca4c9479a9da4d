package compute

// BuildGatherPlan inverts the element scatter map: for every CSR slot, the
// list of contribution-buffer offsets (576·e + 24·a + c) that accumulate
// into it. Reducing each slot over its plan entries gives a summation order
// fixed by the mesh alone, independent of how the element pass is scheduled,
// so assembling identical inputs always reproduces identical values.
func BuildGatherPlan(p *Problem) (gatherPtr, gatherIdx []int32) {
	m := p.Mesh
	nnz := len(p.CSR.ColIdx)
	counts := make([]int32, nnz)
	slots := make([]int32, 576*len(m.Elems))

	for e, el := range m.Elems {
		for a := 0; a < 24; a++ {
			row := 3*el[a/3] + int32(a%3)
			for c := 0; c < 24; c++ {
				col := 3*el[c/3] + int32(c%3)
				s := p.CSR.Find(row, col)
				slots[576*e+24*a+c] = s
				if s >= 0 {
					counts[s]++
				}
			}
		}
	}

	gatherPtr = make([]int32, nnz+1)
	for s := 0; s < nnz; s++ {
		gatherPtr[s+1] = gatherPtr[s] + counts[s]
	}
	gatherIdx = make([]int32, gatherPtr[nnz])
	fill := make([]int32, nnz)
	copy(fill, gatherPtr[:nnz])
	for off, s := range slots {
		if s >= 0 {
			gatherIdx[fill[s]] = int32(off)
			fill[s]++
		}
	}
	return gatherPtr, gatherIdx
}
