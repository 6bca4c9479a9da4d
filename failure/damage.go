package failure

import "math"

// Progressive damage constants: no damage below the threshold fraction of
// the failure index, a power law up to damageAtFailure on [threshold,1), and
// exponential softening toward the residual strength floor at and beyond 1.
const (
	damageThreshold = 0.7
	damageAtFailure = 0.8
	residualFactor  = 0.05
	softeningRate   = 2.0
)

// Damage maps a failure index to a damage value, clamped monotonic against
// prev. fractured reports whether the index reached the failure surface;
// callers never clear a fracture flag once set.
func Damage(fi, prev float64) (d float64, fractured bool) {
	switch {
	case fi < damageThreshold:
		d = 0
	case fi < 1.0:
		t := (fi - damageThreshold) / (1.0 - damageThreshold)
		d = damageAtFailure * t * t
	default:
		ceiling := 1.0 - residualFactor
		d = ceiling - (ceiling-damageAtFailure)*math.Exp(-softeningRate*(fi-1.0))
		fractured = true
	}
	if d < prev {
		d = prev
	}
	if d > 1 {
		d = 1
	}
	return d, fractured
}

// Degrade scales the stress components by (1-damage) in place, the
// stiffness/strength degradation model.
func Degrade(s *[6]float64, damage float64) {
	f := 1.0 - damage
	for i := range s {
		s[i] *= f
	}
}
