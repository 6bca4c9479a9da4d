package solver

import (
	"github.com/geovox/voxfem/config"
)

// Local node indices of each loaded element face, matching the corner
// ordering of element.RefCoords.
var (
	faceTopNodes  = [4]int{4, 5, 6, 7} // z = max
	faceXMaxNodes = [4]int{1, 2, 5, 6} // x = max
	faceYMaxNodes = [4]int{2, 3, 6, 7} // y = max
)

const coordEps = 1e-9

// applyBoundary fills the Dirichlet arrays and the nodal force vector.
//
// Rigid-body modes are anchored by roller constraints on the three reference
// faces: uz fixed on the base (z=0), ux on the x=0 face, uy on the y=0 face,
// all with prescribed value 0. Tractions representing the configured
// principal stresses act on the opposite faces, pro-rated per face quad and
// split among its 4 nodes. With pore pressure enabled, each traction is
// first reduced by BiotCoefficient×PorePressure (effective stress).
func (s *Solver) applyBoundary() {
	m := s.mesh
	cfg := &s.cfg
	numDOFs := m.NumDOFs

	s.prob.IsDirichlet = make([]int8, numDOFs)
	s.prob.DirichletVal = make([]float64, numDOFs)
	s.prob.Force = make([]float64, numDOFs)

	for n, pos := range m.Nodes {
		if pos[0] < coordEps {
			s.prob.IsDirichlet[3*n] = 1
		}
		if pos[1] < coordEps {
			s.prob.IsDirichlet[3*n+1] = 1
		}
		if pos[2] < coordEps {
			s.prob.IsDirichlet[3*n+2] = 1
		}
	}

	// Biot-Terzaghi correction applied to the tractions, not the criterion.
	poreCorr := 0.0
	if cfg.PorePressure != 0 {
		poreCorr = cfg.BiotCoefficient * cfg.PorePressure
	}
	sigAxial := cfg.Sigma1 - poreCorr
	sigLatX := cfg.Sigma2 - poreCorr
	sigLatY := cfg.Sigma3 - poreCorr

	applyAxial := true
	applyX := false
	applyY := false
	switch cfg.Loading {
	case config.Uniaxial:
	case config.Biaxial:
		applyX = true
	case config.Triaxial, config.Custom:
		applyX = true
		applyY = true
	}

	area := s.cfg.VoxelPitch * s.cfg.VoxelPitch
	d := m.Dims
	for k := range m.Elems {
		x, y, z := m.VoxelOfElem(k)
		conn := &m.Elems[k]
		// Compression-positive configured stresses push inward through the
		// outward face normals, hence the negative nodal components.
		if applyAxial && z == d.NZ-1 {
			fn := -sigAxial * area / 4.0
			for _, li := range faceTopNodes {
				s.prob.Force[3*conn[li]+2] += fn
			}
		}
		if applyX && x == d.NX-1 {
			fn := -sigLatX * area / 4.0
			for _, li := range faceXMaxNodes {
				s.prob.Force[3*conn[li]] += fn
			}
		}
		if applyY && y == d.NY-1 {
			fn := -sigLatY * area / 4.0
			for _, li := range faceYMaxNodes {
				s.prob.Force[3*conn[li]+1] += fn
			}
		}
	}
}
