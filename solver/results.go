package solver

import (
	"math"
	"time"

	"github.com/geovox/voxfem/failure"
)

// MohrSample is one representative stress state for Mohr-circle rendering.
type MohrSample struct {
	Name   string
	Voxel  [3]int
	Sigma1 float64
	Sigma3 float64
	Center float64
	Radius float64
}

// FractureSegment approximates one edge of the fracture network between two
// adjacent fractured voxels.
type FractureSegment struct {
	Start        [3]float64
	End          [3]float64
	Aperture     float64
	Permeability float64
	Pressure     float64
	Temperature  float64
	Connected    bool
}

// TimeSeries holds the equal-length sequences sampled every 10 fluid steps.
type TimeSeries struct {
	Time            []float64
	Pressure        []float64
	FlowRate        []float64
	FractureVolume  []float64
	EnergyRate      []float64
}

// Results is the output record of one simulation run. Per-voxel arrays alias
// the Fields storage; derived scalars are computed by finishResults.
type Results struct {
	Fields *Fields

	Converged  bool
	Iterations int
	WallTime   time.Duration
	Warnings   []string

	MeanStress   float64
	MaxShear     float64
	VonMisesMean float64
	VonMisesMax  float64

	FailedVoxelCount      int
	FailedVoxelPercentage float64

	// Fluid/fracture outcome, zero-valued when injection is disabled.
	BreakdownPressure   float64
	BreakdownTime       float64
	PropagationPressure float64
	TotalFractureVolume float64
	GeothermalPotential float64
	AvgThermalGradient  float64
	Series              TimeSeries

	MohrSamples []MohrSample
	Segments    []FractureSegment
}

// finishResults computes the derived statistics and Mohr samples over the
// non-background voxels.
func (s *Solver) finishResults(res *Results) {
	f := res.Fields
	labels := s.labels.Data

	var meanSum, vmSum float64
	var maxShear, vmMax float64
	count := 0
	failed := 0
	maxShearVoxel := 0

	for v, label := range labels {
		if label == 0 {
			continue
		}
		count++
		sv := f.StressAt(v)
		meanSum += (sv[0] + sv[1] + sv[2]) / 3.0
		vm := failure.VonMisesStress(sv)
		vmSum += vm
		if vm > vmMax {
			vmMax = vm
		}
		shear := (f.Principal[3*v] - f.Principal[3*v+2]) / 2.0
		if shear > maxShear {
			maxShear = shear
			maxShearVoxel = v
		}
		if f.FailureIndex[v] >= 1.0 {
			failed++
		}
	}
	if count > 0 {
		res.MeanStress = meanSum / float64(count)
		res.VonMisesMean = vmSum / float64(count)
		res.FailedVoxelPercentage = 100.0 * float64(failed) / float64(count)
	}
	res.MaxShear = maxShear
	res.VonMisesMax = vmMax
	res.FailedVoxelCount = failed

	res.MohrSamples = s.mohrSamples(f, maxShearVoxel)
	if s.cfg.FluidInjection.Enabled {
		res.Segments = s.fractureSegments(f)
	}
}

// mohrSamples picks the representative locations: domain center, top,
// bottom, and the max-shear voxel.
func (s *Solver) mohrSamples(f *Fields, maxShearVoxel int) []MohrSample {
	d := f.Dims
	mx, my, mz := d.Coords(maxShearVoxel)
	spots := []struct {
		name    string
		x, y, z int
	}{
		{"center", d.NX / 2, d.NY / 2, d.NZ / 2},
		{"top", d.NX / 2, d.NY / 2, d.NZ - 1},
		{"bottom", d.NX / 2, d.NY / 2, 0},
		{"max-stress", mx, my, mz},
	}
	samples := make([]MohrSample, 0, len(spots))
	for _, sp := range spots {
		v := s.nearestLabeled(sp.x, sp.y, sp.z)
		if v < 0 {
			continue
		}
		s1 := f.Principal[3*v]
		s3 := f.Principal[3*v+2]
		x, y, z := d.Coords(v)
		samples = append(samples, MohrSample{
			Name:   sp.name,
			Voxel:  [3]int{x, y, z},
			Sigma1: s1,
			Sigma3: s3,
			Center: (s1 + s3) / 2.0,
			Radius: (s1 - s3) / 2.0,
		})
	}
	return samples
}

// nearestLabeled returns the linear index of the nearest non-background
// voxel to (x,y,z), searching outward in shells; -1 if none within range.
func (s *Solver) nearestLabeled(x, y, z int) int {
	d := s.labels.Dims
	maxR := d.NX + d.NY + d.NZ
	for r := 0; r <= maxR; r++ {
		for dz := -r; dz <= r; dz++ {
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					if abs(dx)+abs(dy)+abs(dz) != r {
						continue
					}
					nx, ny, nz := x+dx, y+dy, z+dz
					if !d.Inside(nx, ny, nz) {
						continue
					}
					v := d.Index(nx, ny, nz)
					if s.labels.Data[v] != 0 {
						return v
					}
				}
			}
		}
	}
	return -1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// segmentCap bounds the exported fracture network size.
const segmentCap = 100000

// fractureSegments links each fractured voxel to its fractured +x/+y/+z
// neighbors, approximating the fracture network topology.
func (s *Solver) fractureSegments(f *Fields) []FractureSegment {
	d := f.Dims
	pitch := s.cfg.VoxelPitch
	half := pitch / 2.0
	var segs []FractureSegment

	center := func(x, y, z int) [3]float64 {
		return [3]float64{
			float64(x)*pitch + half,
			float64(y)*pitch + half,
			float64(z)*pitch + half,
		}
	}

	forward := [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for z := 0; z < d.NZ && len(segs) < segmentCap; z++ {
		for y := 0; y < d.NY; y++ {
			for x := 0; x < d.NX; x++ {
				v := d.Index(x, y, z)
				if !f.Fractured[v] {
					continue
				}
				for _, dv := range forward {
					nx, ny, nz := x+dv[0], y+dv[1], z+dv[2]
					if !d.Inside(nx, ny, nz) {
						continue
					}
					nv := d.Index(nx, ny, nz)
					if !f.Fractured[nv] {
						continue
					}
					ap := math.Max(f.Aperture[v], f.Aperture[nv])
					segs = append(segs, FractureSegment{
						Start:        center(x, y, z),
						End:          center(nx, ny, nz),
						Aperture:     ap,
						Permeability: ap * ap / 12.0,
						Pressure:     f.Pressure[v],
						Temperature:  f.Temperature[v],
						Connected:    f.Connected[v],
					})
					if len(segs) >= segmentCap {
						return segs
					}
				}
			}
		}
	}
	return segs
}
