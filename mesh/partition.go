package mesh

// Partition is a contiguous block of elements that executes together as one
// computational unit: one worker goroutine on the CPU backend, one @outer
// iteration on the device backend.
type Partition struct {
	ID    int
	Start int // first element index
	Count int // actual number of elements
}

// PartitionLayout is the balanced decomposition of the element range.
type PartitionLayout struct {
	Partitions []Partition

	// KpartMax is max(Count) across partitions; device kernels pad their
	// @inner loops to this size so every partition runs the same trip count.
	KpartMax      int
	TotalElements int
}

// PartitionElements splits the mesh's element range into n balanced
// contiguous partitions. Elements are emitted by Build in voxel-scan order,
// so contiguous ranges are spatially coherent slabs.
func (m *Mesh) PartitionElements(n int) *PartitionLayout {
	total := m.NumElements()
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}
	layout := &PartitionLayout{TotalElements: total}
	base := total / n
	rem := total % n
	start := 0
	for p := 0; p < n; p++ {
		count := base
		if p < rem {
			count++
		}
		layout.Partitions = append(layout.Partitions, Partition{ID: p, Start: start, Count: count})
		if count > layout.KpartMax {
			layout.KpartMax = count
		}
		start += count
	}
	return layout
}

// Counts returns the per-partition element counts, the K array handed to
// device kernels.
func (l *PartitionLayout) Counts() []int32 {
	k := make([]int32, len(l.Partitions))
	for i, p := range l.Partitions {
		k[i] = int32(p.Count)
	}
	return k
}
