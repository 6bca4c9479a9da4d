package failure

import (
	"math"

	"github.com/geovox/voxfem/config"
)

const denomEps = 1e-9

// Evaluator computes failure indices for one configured criterion. Derived
// constants (Drucker-Prager α/k, Hoek-Brown UCS) are computed once here.
type Evaluator struct {
	criterion config.FailureCriterion

	cohesion float64
	sinPhi   float64
	cosPhi   float64
	tensile  float64

	alphaDP float64
	kDP     float64

	ucs    float64
	hoekMb float64
	hoekS  float64
	hoekA  float64
}

// NewEvaluator derives the criterion constants from the configuration.
func NewEvaluator(cfg *config.Config) *Evaluator {
	phi := cfg.FrictionAngle * math.Pi / 180.0
	e := &Evaluator{
		criterion: cfg.Criterion,
		cohesion:  cfg.Cohesion,
		sinPhi:    math.Sin(phi),
		cosPhi:    math.Cos(phi),
		tensile:   cfg.TensileStrength,
		hoekMb:    cfg.HoekMb,
		hoekS:     cfg.HoekS,
		hoekA:     cfg.HoekA,
	}
	if e.hoekMb <= 0 {
		e.hoekMb = cfg.HoekMi
	}
	if e.hoekA <= 0 {
		e.hoekA = 0.5
	}

	// Drucker-Prager constants matched to the Mohr-Coulomb compression cone.
	den := math.Sqrt(3.0) * (3.0 - e.sinPhi)
	if den > denomEps {
		e.alphaDP = 2.0 * e.sinPhi / den
		e.kDP = 6.0 * e.cohesion * e.cosPhi / den
	}

	// Hoek-Brown UCS derived from cohesion and friction angle.
	if 1.0-e.sinPhi > denomEps {
		e.ucs = 2.0 * e.cohesion * e.cosPhi / (1.0 - e.sinPhi)
	}
	return e
}

// Index computes the failure index from compression-positive principal
// stresses c1 >= c2 >= c3. Values >= 1 mean the criterion is violated.
// Near-zero denominators yield index 0 rather than propagating.
func (e *Evaluator) Index(c1, c2, c3 float64) float64 {
	switch e.criterion {
	case config.MohrCoulomb:
		den := 2.0*e.cohesion*e.cosPhi + (c1+c3)*e.sinPhi
		if math.Abs(den) < denomEps {
			return 0
		}
		return (c1 - c3) / den

	case config.DruckerPrager:
		if e.kDP < denomEps {
			return 0
		}
		i1 := c1 + c2 + c3
		d12 := c1 - c2
		d23 := c2 - c3
		d31 := c3 - c1
		j2 := (d12*d12 + d23*d23 + d31*d31) / 6.0
		return (math.Sqrt(j2) - e.alphaDP*i1/3.0) / e.kDP

	case config.HoekBrown:
		if e.ucs < denomEps {
			return 0
		}
		base := e.hoekMb*c3/e.ucs + e.hoekS
		if base < 0 {
			base = 0
		}
		den := c3 + e.ucs*math.Pow(base, e.hoekA)
		if math.Abs(den) < denomEps {
			return 0
		}
		return c1 / den

	case config.Griffith:
		if e.tensile < denomEps {
			return 0
		}
		if c3 < 0 {
			// Tension branch: c3 is tensile in compression-positive terms.
			return -c3 / e.tensile
		}
		return (c1 - c3) / (8.0 * e.tensile)
	}
	return 0
}

// IndexTensor is the full voxel path: principal solve, sign conversion,
// criterion evaluation.
func (e *Evaluator) IndexTensor(s [6]float64) float64 {
	s1, s2, s3 := Principal(s)
	c1, c2, c3 := CompressionPositive(s1, s2, s3)
	return e.Index(c1, c2, c3)
}
