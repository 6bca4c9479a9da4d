package fluid

import (
	"math"
	"sync"
)

// Crack half-length scale for the LEFM test and the Sneddon aperture: one
// voxel pitch, the smallest flaw the grid resolves.
func (e *Engine) crackHalfLength() float64 { return e.sh.Pitch }

// nucleateFractures evaluates both nucleation conditions per voxel on the
// current effective stress: the configured failure criterion on effective
// principal stresses, and the LEFM test K_I = ΔP·√(π·a) > K_Ic. Either one
// marks the voxel fractured (monotonic) and seeds an initial aperture from
// Sneddon's penny-crack solution. The first nucleation anywhere records the
// breakdown time and pressure.
func (e *Engine) nucleateFractures(t float64) {
	d := e.sh.Dims
	alpha := e.cfg.BiotCoefficient
	a := e.crackHalfLength()
	kic := e.fl.FractureToughness
	farField := e.cfg.PorePressure

	var mu sync.Mutex
	firstP := 0.0
	nucleated := false

	var wg sync.WaitGroup
	for z0 := 0; z0 < d.NZ; z0 += slabSize {
		z1 := z0 + slabSize
		if z1 > d.NZ {
			z1 = d.NZ
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			localFirst := 0.0
			localHit := false
			for z := z0; z < z1; z++ {
				for y := 0; y < d.NY; y++ {
					for x := 0; x < d.NX; x++ {
						v := d.Index(x, y, z)
						if e.sh.Labels[v] == 0 || e.sh.Fractured[v] {
							continue
						}
						p := e.sh.Pressure[v]
						if p <= 0 {
							continue
						}

						// Effective stress: pore pressure unloads the
						// normal components only (tension-positive here).
						sv := [6]float64{}
						copy(sv[:], e.sh.Stress[6*v:6*v+6])
						sv[0] += alpha * p
						sv[1] += alpha * p
						sv[2] += alpha * p
						e.sh.FailureIndex[v] = e.eval.IndexTensor(sv)

						criterionHit := e.sh.FailureIndex[v] >= 1.0

						dp := p - farField
						lefmHit := false
						if kic > 0 && dp > 0 {
							ki := dp * math.Sqrt(math.Pi*a)
							lefmHit = ki > kic
						}

						if criterionHit || lefmHit {
							e.sh.Fractured[v] = true
							e.sh.Aperture[v] = e.sneddonAperture(dp)
							if !localHit {
								localHit = true
								localFirst = p
							}
						}
					}
				}
			}
			if localHit {
				mu.Lock()
				if !nucleated {
					nucleated = true
					firstP = localFirst
				}
				mu.Unlock()
			}
		}(z0, z1)
	}
	wg.Wait()

	if nucleated && !e.breakdown {
		e.breakdown = true
		e.breakdownTime = t
		e.breakdownP = firstP
		e.state = Propagating
		e.log.Info("breakdown detected", "time", t, "pressure", firstP)
	}
}

// sneddonAperture is the penny-crack opening for net pressure dp (MPa):
// w = 8·(1−ν²)·ΔP·a / (π·E), floored at the minimum aperture.
func (e *Engine) sneddonAperture(dp float64) float64 {
	if dp < 0 {
		dp = 0
	}
	nu := e.cfg.PoissonRatio
	w := 8.0 * (1.0 - nu*nu) * dp * e.crackHalfLength() / (math.Pi * e.cfg.YoungsModulus)
	if w < e.fl.MinimumAperture {
		w = e.fl.MinimumAperture
	}
	return w
}

// apertureStressRef scales the stress-dependent exponential closure term.
const apertureStressRef = 10.0 // MPa

// closureRate is the per-step relaxation toward the residual aperture under
// net compression.
const closureRate = 0.1

// updateApertures evolves the aperture of every fractured voxel: a
// mechanical opening term (net pressure × elastic compliance) plus a
// stress-dependent exponential term, clamped to [minimumAperture, pitch/10];
// under net compression the aperture closes toward the residual value.
func (e *Engine) updateApertures() {
	d := e.sh.Dims
	nu := e.cfg.PoissonRatio
	compliance := 8.0 * (1.0 - nu*nu) * e.crackHalfLength() / (math.Pi * e.cfg.YoungsModulus)
	wMin := e.fl.MinimumAperture
	wMax := e.sh.Pitch / 10.0
	alpha := e.cfg.BiotCoefficient

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
						if !e.sh.Fractured[v] {
							continue
						}
						p := e.sh.Pressure[v]
						// Effective mean compressive stress across the
						// fracture (compression-positive magnitude).
						mean := (e.sh.Stress[6*v] + e.sh.Stress[6*v+1] + e.sh.Stress[6*v+2]) / 3.0
						sigmaN := -(mean + alpha*p)
						netP := p - sigmaN

						w := e.sh.Aperture[v]
						if netP > 0 {
							target := compliance*netP + wMin*math.Exp(-sigmaN/apertureStressRef)
							w += 0.5 * (target - w)
						} else {
							w += closureRate * (wMin - w)
						}
						if w < wMin {
							w = wMin
						} else if w > wMax {
							w = wMax
						}
						e.sh.Aperture[v] = w
					}
				}
			}
		}(z0, z1)
	}
	wg.Wait()
}
