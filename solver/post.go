package solver

import (
	"sync"

	"github.com/geovox/voxfem/config"
	"github.com/geovox/voxfem/failure"
)

// evaluateFailure runs the principal-stress solve, failure index, damage and
// optional plastic correction over every non-background voxel, in parallel
// z-slabs. Damage monotonicity and fracture-flag persistence are enforced
// here: existing damage is the floor, set flags are never cleared.
func (s *Solver) evaluateFailure(f *Fields) {
	eval := failure.NewEvaluator(&s.cfg)
	labels := s.labels.Data
	d := f.Dims
	shearMod := s.cfg.YoungsModulus / (2.0 * (1.0 + s.cfg.PoissonRatio))
	plastic := s.cfg.Plasticity

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
							continue
						}
						sv := f.StressAt(v)

						if plastic {
							dep := failure.RadialReturn(&sv, s.cfg.YieldStress, shearMod, s.cfg.HardeningModulus)
							if dep > 0 {
								f.PlasticStrain[v] += dep
							}
						}

						s1, s2, s3 := failure.Principal(sv)
						c1, c2, c3 := failure.CompressionPositive(s1, s2, s3)
						fi := eval.Index(c1, c2, c3)
						f.FailureIndex[v] = fi

						if s.cfg.Damage != config.DamageNone {
							dmg, fractured := failure.Damage(fi, f.Damage[v])
							f.Damage[v] = dmg
							if fractured {
								f.Fractured[v] = true
							}
							failure.Degrade(&sv, dmg)
							// Principal stresses scale with the tensor; the
							// ordering is preserved by the positive factor.
							s1 *= 1 - dmg
							s2 *= 1 - dmg
							s3 *= 1 - dmg
						}

						f.Principal[3*v] = s1
						f.Principal[3*v+1] = s2
						f.Principal[3*v+2] = s3
						f.SetStressAt(v, sv)
					}
				}
			}
		}(z0, z1)
	}
	wg.Wait()
}

const slabSize = 8

// Residual stiffness fraction retained by a fully damaged element.
const stiffnessFloor = 0.05

// degradeStiffness scales each element's Young's modulus by (1 - damage) of
// its voxel, with a residual floor, for the corrective re-assembly pass.
// Returns true when any element was degraded.
func (s *Solver) degradeStiffness(f *Fields) bool {
	m := s.mesh
	changed := false
	for k := range m.Elems {
		dmg := f.Damage[m.ElemVoxel[k]]
		if dmg <= 0 {
			continue
		}
		factor := 1.0 - dmg
		if factor < stiffnessFloor {
			factor = stiffnessFloor
		}
		m.Emod[k] = s.cfg.YoungsModulus * factor
		changed = true
	}
	return changed
}
