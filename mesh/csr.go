package mesh

import (
	"sort"
)

// CSR is the compressed-sparse-row stiffness matrix storage. The pattern is
// built once from element connectivity and never changes afterwards; only
// Values is mutated, by assembly.
type CSR struct {
	RowPtr []int32
	ColIdx []int32
	Values []float64
}

// NNZ returns the stored entry count.
func (c *CSR) NNZ() int { return len(c.ColIdx) }

// Zero clears Values in place, required before any re-assembly.
func (c *CSR) Zero() {
	for i := range c.Values {
		c.Values[i] = 0
	}
}

// Find locates the slot of (row, col) by binary search within the row span,
// returning -1 when the pair is outside the pattern.
func (c *CSR) Find(row, col int32) int32 {
	lo, hi := c.RowPtr[row], c.RowPtr[row+1]
	for lo < hi {
		mid := (lo + hi) / 2
		if c.ColIdx[mid] < col {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < c.RowPtr[row+1] && c.ColIdx[lo] == col {
		return lo
	}
	return -1
}

// Diagonal extracts the diagonal entries into diag (length NumDOFs).
// A missing diagonal slot yields 0 there.
func (c *CSR) Diagonal(diag []float64) {
	for row := range diag {
		s := c.Find(int32(row), int32(row))
		if s >= 0 {
			diag[row] = c.Values[s]
		} else {
			diag[row] = 0
		}
	}
}

// BuildCSR derives the sparsity pattern from element connectivity: every
// element contributes its 8×8 node-pair block, pairs are deduplicated by
// sort, then each node pair expands to a 3×3 DOF block. No numeric values
// are computed here; Values is allocated zeroed.
func BuildCSR(m *Mesh) *CSR {
	pairs := make([]uint64, 0, len(m.Elems)*64)
	for _, conn := range m.Elems {
		for _, a := range conn {
			for _, b := range conn {
				pairs = append(pairs, uint64(a)<<32|uint64(uint32(b)))
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i] < pairs[j] })

	// In-place dedup of the sorted pair list.
	uniq := pairs[:0]
	var last uint64
	for i, p := range pairs {
		if i == 0 || p != last {
			uniq = append(uniq, p)
			last = p
		}
	}

	numDOFs := m.NumDOFs
	rowPtr := make([]int32, numDOFs+1)
	for _, p := range uniq {
		a := int32(p >> 32)
		for r := int32(0); r < 3; r++ {
			rowPtr[3*a+r+1] += 3
		}
	}
	for i := 0; i < numDOFs; i++ {
		rowPtr[i+1] += rowPtr[i]
	}

	colIdx := make([]int32, rowPtr[numDOFs])
	fill := make([]int32, numDOFs)
	copy(fill, rowPtr[:numDOFs])
	// Node pairs are sorted by (row node, col node), so columns land in
	// ascending order within each DOF row.
	for _, p := range uniq {
		a := int32(p >> 32)
		b := int32(uint32(p))
		for r := int32(0); r < 3; r++ {
			row := 3*a + r
			for cc := int32(0); cc < 3; cc++ {
				colIdx[fill[row]] = 3*b + cc
				fill[row]++
			}
		}
	}

	return &CSR{
		RowPtr: rowPtr,
		ColIdx: colIdx,
		Values: make([]float64, len(colIdx)),
	}
}
