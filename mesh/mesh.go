// Package mesh converts a labeled voxel volume into a regular 8-node
// hexahedral mesh and derives the CSR sparsity pattern and element
// partitioning that the assembly and solver kernels operate on.
package mesh

import (
	"errors"
	"fmt"

	"github.com/geovox/voxfem/element"
	"github.com/geovox/voxfem/grid"
)

// ErrNoElements is returned when the material selection yields an empty mesh.
var ErrNoElements = errors.New("mesh: no elements after material selection")

// Mesh is the immutable hexahedral mesh built once per simulation run.
type Mesh struct {
	Dims  grid.Dims
	Pitch float64

	Nodes [][3]float64 // node coordinates, one per used lattice corner
	Elems [][8]int32   // node indices per element, RefCoords ordering

	ElemVoxel []int32 // linear voxel index of each element
	ElemLabel []uint8 // material label of each element

	// Per-element elastic properties. Mutated only by the damage
	// re-assembly pass, which scales Emod in place.
	Emod []float64
	Nu   []float64

	NumDOFs int
}

// cornerOrder maps the element-local node index to lattice corner offsets,
// matching element.RefCoords.
var cornerOrder = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// Build emits one hexahedral element for every non-background voxel, with
// nodes deduplicated on the (NX+1)×(NY+1)×(NZ+1) corner lattice.
func Build(labels *grid.LabelVolume, pitch float64) (*Mesh, error) {
	d := labels.Dims
	cnx, cny := d.NX+1, d.NY+1
	cornerCount := cnx * cny * (d.NZ + 1)

	nodeID := make([]int32, cornerCount)
	for i := range nodeID {
		nodeID[i] = -1
	}
	cornerIdx := func(x, y, z int) int { return x + cnx*(y+cny*z) }

	m := &Mesh{Dims: d, Pitch: pitch}
	nextNode := int32(0)
	for z := 0; z < d.NZ; z++ {
		for y := 0; y < d.NY; y++ {
			for x := 0; x < d.NX; x++ {
				label := labels.At(x, y, z)
				if label == 0 {
					continue
				}
				var conn [8]int32
				for li, co := range cornerOrder {
					ci := cornerIdx(x+co[0], y+co[1], z+co[2])
					id := nodeID[ci]
					if id < 0 {
						id = nextNode
						nodeID[ci] = id
						nextNode++
						m.Nodes = append(m.Nodes, [3]float64{
							float64(x+co[0]) * pitch,
							float64(y+co[1]) * pitch,
							float64(z+co[2]) * pitch,
						})
					}
					conn[li] = id
				}
				m.Elems = append(m.Elems, conn)
				m.ElemVoxel = append(m.ElemVoxel, int32(d.Index(x, y, z)))
				m.ElemLabel = append(m.ElemLabel, label)
			}
		}
	}
	if len(m.Elems) == 0 {
		return nil, fmt.Errorf("%w (labels %dx%dx%d, all background)", ErrNoElements, d.NX, d.NY, d.NZ)
	}
	m.NumDOFs = 3 * int(nextNode)
	m.Emod = make([]float64, len(m.Elems))
	m.Nu = make([]float64, len(m.Elems))
	return m, nil
}

// SetUniformMaterial assigns the same elastic moduli to every element.
func (m *Mesh) SetUniformMaterial(e, nu float64) {
	for i := range m.Emod {
		m.Emod[i] = e
		m.Nu[i] = nu
	}
}

// NumElements returns the element count.
func (m *Mesh) NumElements() int { return len(m.Elems) }

// ElemCoords fills coords with the corner coordinates of element k.
func (m *Mesh) ElemCoords(k int, coords *[element.NodesPerElem][3]float64) {
	for i, n := range m.Elems[k] {
		coords[i] = m.Nodes[n]
	}
}

// VoxelOfElem returns the voxel coordinates of element k.
func (m *Mesh) VoxelOfElem(k int) (x, y, z int) {
	return m.Dims.Coords(int(m.ElemVoxel[k]))
}
