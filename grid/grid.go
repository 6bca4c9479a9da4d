// Package grid provides the voxel volume types shared by every stage of the
// engine: a labeled material volume and float scalar fields, all stored as
// flat slices addressed by the same (x,y,z) linear index.
package grid

import "fmt"

// Dims holds the voxel extent of a simulation domain.
type Dims struct {
	NX, NY, NZ int
}

// Count returns the total number of voxels.
func (d Dims) Count() int { return d.NX * d.NY * d.NZ }

// Index converts voxel coordinates to the linear index.
// Layout is x-fastest: idx = x + NX*(y + NY*z).
func (d Dims) Index(x, y, z int) int {
	return x + d.NX*(y+d.NY*z)
}

// Coords converts a linear index back to voxel coordinates.
func (d Dims) Coords(idx int) (x, y, z int) {
	x = idx % d.NX
	idx /= d.NX
	y = idx % d.NY
	z = idx / d.NY
	return
}

// Inside reports whether (x,y,z) is within the volume.
func (d Dims) Inside(x, y, z int) bool {
	return x >= 0 && x < d.NX && y >= 0 && y < d.NY && z >= 0 && z < d.NZ
}

// LabelVolume is a 3-D material id grid. Label 0 is background/void and is
// never meshed, written to, or diffused through.
type LabelVolume struct {
	Dims
	Data []uint8
}

// NewLabelVolume allocates a zeroed (all background) label volume.
func NewLabelVolume(d Dims) *LabelVolume {
	return &LabelVolume{Dims: d, Data: make([]uint8, d.Count())}
}

// At returns the label at (x,y,z).
func (v *LabelVolume) At(x, y, z int) uint8 {
	return v.Data[v.Index(x, y, z)]
}

// Set assigns the label at (x,y,z).
func (v *LabelVolume) Set(x, y, z int, label uint8) {
	v.Data[v.Index(x, y, z)] = label
}

// Fill sets every voxel in the half-open box [x0,x1)×[y0,y1)×[z0,z1).
func (v *LabelVolume) Fill(x0, x1, y0, y1, z0, z1 int, label uint8) {
	for z := z0; z < z1; z++ {
		for y := y0; y < y1; y++ {
			row := v.Index(x0, y, z)
			for x := x0; x < x1; x++ {
				v.Data[row+x-x0] = label
			}
		}
	}
}

// CountLabel returns the number of voxels carrying the given label.
func (v *LabelVolume) CountLabel(label uint8) int {
	n := 0
	for _, l := range v.Data {
		if l == label {
			n++
		}
	}
	return n
}

// ScalarField is a float64 per-voxel field using the same addressing as the
// label volume it accompanies.
type ScalarField struct {
	Dims
	Data []float64
}

// NewScalarField allocates a zeroed scalar field.
func NewScalarField(d Dims) *ScalarField {
	return &ScalarField{Dims: d, Data: make([]float64, d.Count())}
}

// At returns the value at (x,y,z).
func (f *ScalarField) At(x, y, z int) float64 {
	return f.Data[f.Index(x, y, z)]
}

// Set assigns the value at (x,y,z).
func (f *ScalarField) Set(x, y, z int, v float64) {
	f.Data[f.Index(x, y, z)] = v
}

// FillUniform sets every voxel to v.
func (f *ScalarField) FillUniform(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

// Neighbors6 holds the linear offsets of the 6-connected neighborhood for a
// given Dims. Offsets pair with the axis deltas in Deltas6.
func Neighbors6(d Dims) [6]int {
	return [6]int{-1, +1, -d.NX, +d.NX, -d.NX * d.NY, +d.NX * d.NY}
}

// Deltas6 lists the coordinate deltas matching Neighbors6 order:
// -x, +x, -y, +y, -z, +z.
var Deltas6 = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// CheckSameDims returns an error if the two extents differ. Used by callers
// that pair a density or permeability field with a label volume.
func CheckSameDims(a, b Dims) error {
	if a != b {
		return fmt.Errorf("volume dims mismatch: %dx%dx%d vs %dx%dx%d",
			a.NX, a.NY, a.NZ, b.NX, b.NY, b.NZ)
	}
	return nil
}
