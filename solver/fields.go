package solver

import "github.com/geovox/voxfem/grid"

// Fields holds every per-voxel output array of a run, all indexed by the
// label volume's linear voxel index. Background voxels are never written.
// The fluid engine shares the pressure/aperture/connectivity arrays and
// reads/writes the mechanical stress arrays through this struct.
type Fields struct {
	Dims grid.Dims

	Stress    []float64 // 6 components per voxel: xx, yy, zz, xy, yz, zx
	Strain    []float64 // 6 components per voxel
	Principal []float64 // 3 per voxel, s1 >= s2 >= s3

	FailureIndex  []float64
	Damage        []float64
	Fractured     []bool
	PlasticStrain []float64 // equivalent plastic strain, plasticity only

	// Fluid-mode arrays, allocated only when injection is enabled.
	Pressure    []float64
	Temperature []float64
	Aperture    []float64
	Saturation  []float64
	Connected   []bool
}

// NewFields allocates the mechanical arrays; fluid arrays are added by
// EnableFluid.
func NewFields(d grid.Dims) *Fields {
	n := d.Count()
	return &Fields{
		Dims:         d,
		Stress:       make([]float64, 6*n),
		Strain:       make([]float64, 6*n),
		Principal:    make([]float64, 3*n),
		FailureIndex: make([]float64, n),
		Damage:       make([]float64, n),
		Fractured:    make([]bool, n),
	}
}

// EnableFluid allocates the injection-mode arrays.
func (f *Fields) EnableFluid() {
	n := f.Dims.Count()
	f.Pressure = make([]float64, n)
	f.Temperature = make([]float64, n)
	f.Aperture = make([]float64, n)
	f.Saturation = make([]float64, n)
	f.Connected = make([]bool, n)
}

// EnablePlasticity allocates the plastic strain accumulator.
func (f *Fields) EnablePlasticity() {
	f.PlasticStrain = make([]float64, f.Dims.Count())
}

// StressAt copies the 6 stress components of voxel v.
func (f *Fields) StressAt(v int) (s [6]float64) {
	copy(s[:], f.Stress[6*v:6*v+6])
	return
}

// SetStressAt writes the 6 stress components of voxel v.
func (f *Fields) SetStressAt(v int, s [6]float64) {
	copy(f.Stress[6*v:6*v+6], s[:])
}
