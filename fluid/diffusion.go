package fluid

import (
	"sync"
)

// paPerMPa converts the MPa pressure field to Pa for unit-consistent
// diffusivity and gravity-head arithmetic.
const paPerMPa = 1e6

const slabSize = 8

// diffusePressure advances the poroelastic pressure diffusion by the
// configured number of explicit finite-difference sub-steps. The hydraulic
// diffusivity D = k/(φ·μ·ct) is CFL-limited to keep the explicit update
// stable; a gravity head term acts along the vertical axis; with the aquifer
// boundary enabled, domain faces hold the far-field pore pressure.
func (e *Engine) diffusePressure(dt float64) {
	fl := e.fl
	h := e.sh.Pitch
	diffusivity := fl.Permeability / (fl.Porosity * fl.Viscosity * fl.Compressibility)

	sub := fl.DiffusionSubsteps
	if sub < 1 {
		sub = 1
	}
	dtSub := dt / float64(sub)

	// CFL limit for the 3-D 7-point stencil.
	dMax := h * h / (6.0 * dtSub)
	if diffusivity > dMax {
		diffusivity = dMax
	}
	lambda := diffusivity * dtSub / (h * h)

	// Hydrostatic head across one voxel, in MPa.
	gravHead := 0.0
	if fl.GravityCoefficient > 0 {
		gravHead = fl.FluidDensity * fl.GravityCoefficient * h / paPerMPa
	}

	for s := 0; s < sub; s++ {
		e.diffuseOnce(lambda, gravHead)
	}
}

// diffuseOnce runs one explicit sub-step into the scratch buffer, then
// swaps. Background voxels are no-flux; the update parallelizes over
// z-slabs with a full barrier before the swap.
func (e *Engine) diffuseOnce(lambda, gravHead float64) {
	d := e.sh.Dims
	p := e.sh.Pressure
	pn := e.pScratch
	labels := e.sh.Labels
	farField := e.cfg.PorePressure

	var wg sync.WaitGroup
	for z0 := 0; z0 < d.NZ; z0 += slabSize {
		z1 := z0 + slabSize
		if z1 > d.NZ {
			z1 = d.NZ
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			for z := z0; z < z1; z++ {
				for y := 0; y < d.NY; y++ {
					for x := 0; x < d.NX; x++ {
						v := d.Index(x, y, z)
						if labels[v] == 0 {
							pn[v] = 0
							continue
						}
						if e.fl.AquiferBoundary && (x == 0 || x == d.NX-1 || y == 0 || y == d.NY-1 || z == 0 || z == d.NZ-1) {
							pn[v] = farField
							continue
						}
						acc := 0.0
						for n, dv := range neighborDeltas {
							nx, ny, nz := x+dv[0], y+dv[1], z+dv[2]
							if !d.Inside(nx, ny, nz) {
								continue
							}
							nv := d.Index(nx, ny, nz)
							if labels[nv] == 0 {
								continue // no-flux into background
							}
							dp := p[nv] - p[v]
							// Gravity head along z: equilibrium is a
							// hydrostatic pressure profile, not uniform.
							if gravHead != 0 {
								if n == 5 { // neighbor above
									dp += gravHead
								} else if n == 4 { // neighbor below
									dp -= gravHead
								}
							}
							acc += dp
						}
						pn[v] = p[v] + lambda*acc
					}
				}
			}
		}(z0, z1)
	}
	wg.Wait()
	e.sh.Pressure, e.pScratch = pn, p
}

// neighborDeltas is the 6-neighborhood in -x,+x,-y,+y,-z,+z order.
var neighborDeltas = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// fractureFlowClampFraction bounds the per-substep pressure change inside
// the fracture network for stability.
const fractureFlowClampFraction = 0.1

// fractureFlowPass runs the enhanced cubic-law diffusion restricted to
// fractured voxels and their direct neighbors. Parallel-plate permeability
// aperture²/12 replaces the matrix permeability; the much larger resulting
// diffusivity is CFL-clamped and the per-step pressure change is bounded.
func (e *Engine) fractureFlowPass(dt float64) {
	d := e.sh.Dims
	fl := e.fl
	h := e.sh.Pitch
	p := e.sh.Pressure
	pn := e.pScratch
	clamp := fractureFlowClampFraction * fl.InjectionPressure

	dMax := h * h / (6.0 * dt)

	var wg sync.WaitGroup
	for z0 := 0; z0 < d.NZ; z0 += slabSize {
		z1 := z0 + slabSize
		if z1 > d.NZ {
			z1 = d.NZ
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			for z := z0; z < z1; z++ {
				for y := 0; y < d.NY; y++ {
					for x := 0; x < d.NX; x++ {
						v := d.Index(x, y, z)
						pn[v] = p[v]
						if e.sh.Labels[v] == 0 {
							continue
						}
						if !e.nearFracture(x, y, z) {
							continue
						}
						acc := 0.0
						for _, dv := range neighborDeltas {
							nx, ny, nz := x+dv[0], y+dv[1], z+dv[2]
							if !d.Inside(nx, ny, nz) {
								continue
							}
							nv := d.Index(nx, ny, nz)
							if e.sh.Labels[nv] == 0 {
								continue
							}
							// Cubic law on the larger aperture of the pair.
							ap := e.sh.Aperture[v]
							if e.sh.Aperture[nv] > ap {
								ap = e.sh.Aperture[nv]
							}
							kf := ap * ap / 12.0
							df := kf / (fl.Porosity * fl.Viscosity * fl.Compressibility)
							if df > dMax {
								df = dMax
							}
							acc += df * dt / (h * h) * (p[nv] - p[v])
						}
						if acc > clamp {
							acc = clamp
						} else if acc < -clamp {
							acc = -clamp
						}
						pn[v] = p[v] + acc
					}
				}
			}
		}(z0, z1)
	}
	wg.Wait()
	e.sh.Pressure, e.pScratch = pn, p
}

// nearFracture reports whether the voxel is fractured or adjacent to a
// fractured voxel.
func (e *Engine) nearFracture(x, y, z int) bool {
	d := e.sh.Dims
	if e.sh.Fractured[d.Index(x, y, z)] {
		return true
	}
	for _, dv := range neighborDeltas {
		nx, ny, nz := x+dv[0], y+dv[1], z+dv[2]
		if d.Inside(nx, ny, nz) && e.sh.Fractured[d.Index(nx, ny, nz)] {
			return true
		}
	}
	return false
}
