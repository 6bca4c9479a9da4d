// Package failure evaluates principal stresses, the configured failure
// criterion, progressive damage, and the optional von Mises plastic
// correction for per-voxel stress tensors.
//
// Stress tensors arrive in the solver's tension-positive convention with
// component ordering (xx, yy, zz, xy, yz, zx). Criterion formulas operate on
// compression-positive principal stresses; CompressionPositive converts.
package failure

import "math"

const principalEps = 1e-10

// Invariants returns I1, I2, I3 of a symmetric stress tensor.
func Invariants(s [6]float64) (i1, i2, i3 float64) {
	i1 = s[0] + s[1] + s[2]
	i2 = s[0]*s[1] + s[1]*s[2] + s[2]*s[0] - s[3]*s[3] - s[4]*s[4] - s[5]*s[5]
	i3 = s[0]*s[1]*s[2] + 2*s[3]*s[4]*s[5] -
		s[0]*s[4]*s[4] - s[1]*s[5]*s[5] - s[2]*s[3]*s[3]
	return
}

// Principal solves the characteristic cubic of the stress tensor by the
// trigonometric method and returns the roots sorted descending, so that
// s1 >= s2 >= s3 always holds.
func Principal(s [6]float64) (s1, s2, s3 float64) {
	i1, i2, i3 := Invariants(s)

	// Depressed cubic x³ + p·x + q with λ = x + I1/3.
	p := i2 - i1*i1/3.0
	q := -2.0*i1*i1*i1/27.0 + i1*i2/3.0 - i3

	scale := math.Abs(i1) + math.Abs(i2) + math.Abs(i3) + 1.0
	if math.Abs(p) < principalEps*scale {
		// Triple-degenerate root, hydrostatic state.
		h := i1 / 3.0
		return h, h, h
	}

	m := 2.0 * math.Sqrt(-p/3.0)
	arg := 3.0 * q / (p * m)
	if arg > 1 {
		arg = 1
	} else if arg < -1 {
		arg = -1
	}
	theta := math.Acos(arg) / 3.0

	r0 := m*math.Cos(theta) + i1/3.0
	r1 := m*math.Cos(theta-2.0*math.Pi/3.0) + i1/3.0
	r2 := m*math.Cos(theta-4.0*math.Pi/3.0) + i1/3.0

	// Explicit descending sort.
	if r0 < r1 {
		r0, r1 = r1, r0
	}
	if r1 < r2 {
		r1, r2 = r2, r1
	}
	if r0 < r1 {
		r0, r1 = r1, r0
	}
	return r0, r1, r2
}

// CompressionPositive converts tension-positive ordered principals to the
// compression-positive ordering the criterion formulas use: the most
// compressive (most negative) component becomes σ1.
func CompressionPositive(s1, s2, s3 float64) (c1, c2, c3 float64) {
	return -s3, -s2, -s1
}

// VonMisesStress returns the equivalent stress √(3·J2).
func VonMisesStress(s [6]float64) float64 {
	d01 := s[0] - s[1]
	d12 := s[1] - s[2]
	d20 := s[2] - s[0]
	j2 := (d01*d01+d12*d12+d20*d20)/6.0 + s[3]*s[3] + s[4]*s[4] + s[5]*s[5]
	return math.Sqrt(3.0 * j2)
}
