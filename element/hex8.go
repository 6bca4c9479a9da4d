// Package element implements the 8-node hexahedral reference element used by
// the voxel mesh: trilinear shape functions, Jacobian mapping, the 6×24
// strain-displacement matrix B, the isotropic elasticity matrix D, and the
// 2×2×2 Gauss integration of the 24×24 element stiffness.
package element

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// NodesPerElem is the node count of the hexahedral element.
const NodesPerElem = 8

// DOFPerElem is the displacement DOF count of one element (3 per node).
const DOFPerElem = 24

// StrainComponents is the number of independent small-strain components
// (xx, yy, zz, xy, yz, zx with engineering shear).
const StrainComponents = 6

// RefCoords lists the natural coordinates (ξ,η,ζ) of the 8 corner nodes in
// the fixed right-handed ordering used throughout the mesh:
// bottom face counter-clockwise, then top face counter-clockwise.
var RefCoords = [NodesPerElem][3]float64{
	{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
	{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
}

// gaussAbscissa is the 2-point Gauss abscissa 1/√3.
var gaussAbscissa = 1.0 / math.Sqrt(3.0)

// GaussPoints holds the 2×2×2 quadrature points; every weight is 1.
var GaussPoints = buildGaussPoints()

func buildGaussPoints() [8][3]float64 {
	var pts [8][3]float64
	i := 0
	for _, zeta := range []float64{-gaussAbscissa, gaussAbscissa} {
		for _, eta := range []float64{-gaussAbscissa, gaussAbscissa} {
			for _, xi := range []float64{-gaussAbscissa, gaussAbscissa} {
				pts[i] = [3]float64{xi, eta, zeta}
				i++
			}
		}
	}
	return pts
}

// ShapeDerivs evaluates the derivatives of the 8 trilinear shape functions
// with respect to the natural coordinates at (ξ,η,ζ). Row i holds
// (∂Ni/∂ξ, ∂Ni/∂η, ∂Ni/∂ζ).
func ShapeDerivs(xi, eta, zeta float64) [NodesPerElem][3]float64 {
	var d [NodesPerElem][3]float64
	for i, rc := range RefCoords {
		xs, ys, zs := rc[0], rc[1], rc[2]
		d[i][0] = 0.125 * xs * (1 + eta*ys) * (1 + zeta*zs)
		d[i][1] = 0.125 * ys * (1 + xi*xs) * (1 + zeta*zs)
		d[i][2] = 0.125 * zs * (1 + xi*xs) * (1 + eta*ys)
	}
	return d
}

// Jacobian computes the 3×3 Jacobian of the isoparametric map at the given
// natural-coordinate shape derivatives, for an element with corner
// coordinates coords (8×3, same node ordering as RefCoords).
func Jacobian(dN [NodesPerElem][3]float64, coords *[NodesPerElem][3]float64) (J [3][3]float64) {
	for i := 0; i < NodesPerElem; i++ {
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				J[a][b] += dN[i][a] * coords[i][b]
			}
		}
	}
	return
}

// InvertJacobian returns det(J) and J⁻¹. A non-positive determinant marks a
// degenerate element mapping; callers skip the Gauss point in that case.
func InvertJacobian(J [3][3]float64) (det float64, inv [3][3]float64) {
	c00 := J[1][1]*J[2][2] - J[1][2]*J[2][1]
	c01 := J[1][2]*J[2][0] - J[1][0]*J[2][2]
	c02 := J[1][0]*J[2][1] - J[1][1]*J[2][0]
	det = J[0][0]*c00 + J[0][1]*c01 + J[0][2]*c02
	if det <= 0 {
		return det, inv
	}
	id := 1.0 / det
	inv[0][0] = c00 * id
	inv[1][0] = c01 * id
	inv[2][0] = c02 * id
	inv[0][1] = (J[0][2]*J[2][1] - J[0][1]*J[2][2]) * id
	inv[1][1] = (J[0][0]*J[2][2] - J[0][2]*J[2][0]) * id
	inv[2][1] = (J[0][1]*J[2][0] - J[0][0]*J[2][1]) * id
	inv[0][2] = (J[0][1]*J[1][2] - J[0][2]*J[1][1]) * id
	inv[1][2] = (J[0][2]*J[1][0] - J[0][0]*J[1][2]) * id
	inv[2][2] = (J[0][0]*J[1][1] - J[0][1]*J[1][0]) * id
	return det, inv
}

// BMatrix assembles the 6×24 strain-displacement matrix from the physical
// shape-function gradients gradN (8×3, ∂Ni/∂x|y|z). Strain ordering is
// (εxx, εyy, εzz, γxy, γyz, γzx).
func BMatrix(gradN [NodesPerElem][3]float64) *mat.Dense {
	B := mat.NewDense(StrainComponents, DOFPerElem, nil)
	for i := 0; i < NodesPerElem; i++ {
		dx, dy, dz := gradN[i][0], gradN[i][1], gradN[i][2]
		c := 3 * i
		B.Set(0, c+0, dx)
		B.Set(1, c+1, dy)
		B.Set(2, c+2, dz)
		B.Set(3, c+0, dy)
		B.Set(3, c+1, dx)
		B.Set(4, c+1, dz)
		B.Set(4, c+2, dy)
		B.Set(5, c+0, dz)
		B.Set(5, c+2, dx)
	}
	return B
}

// PhysicalGradients maps natural shape derivatives to physical gradients
// using the inverse Jacobian: gradN = J⁻¹ · dN.
func PhysicalGradients(dN [NodesPerElem][3]float64, inv [3][3]float64) [NodesPerElem][3]float64 {
	var g [NodesPerElem][3]float64
	for i := 0; i < NodesPerElem; i++ {
		for a := 0; a < 3; a++ {
			g[i][a] = inv[a][0]*dN[i][0] + inv[a][1]*dN[i][1] + inv[a][2]*dN[i][2]
		}
	}
	return g
}

// DMatrix returns the 6×6 isotropic elasticity matrix for Young's modulus e
// and Poisson ratio nu, matching the B-matrix strain ordering.
func DMatrix(e, nu float64) *mat.Dense {
	D := mat.NewDense(StrainComponents, StrainComponents, nil)
	f := e / ((1 + nu) * (1 - 2*nu))
	diag := f * (1 - nu)
	off := f * nu
	shear := e / (2 * (1 + nu))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				D.Set(i, j, diag)
			} else {
				D.Set(i, j, off)
			}
		}
		D.Set(i+3, i+3, shear)
	}
	return D
}

// StiffnessMatrix integrates the 24×24 element stiffness
// Ke = Σ Bᵀ·D·B·det(J)·w over the 2×2×2 Gauss points. Gauss points with a
// non-positive Jacobian determinant are skipped.
func StiffnessMatrix(coords *[NodesPerElem][3]float64, e, nu float64) *mat.Dense {
	Ke := mat.NewDense(DOFPerElem, DOFPerElem, nil)
	D := DMatrix(e, nu)
	var bd, btdb mat.Dense
	for _, gp := range GaussPoints {
		dN := ShapeDerivs(gp[0], gp[1], gp[2])
		J := Jacobian(dN, coords)
		det, inv := InvertJacobian(J)
		if det <= 0 {
			continue
		}
		B := BMatrix(PhysicalGradients(dN, inv))
		bd.Mul(D, B)
		btdb.Mul(B.T(), &bd)
		btdb.Scale(det, &btdb) // weight = 1 for 2-point Gauss
		Ke.Add(Ke, &btdb)
	}
	return Ke
}

// CentroidStress computes the strain and stress at the element centroid
// (natural coordinates 0,0,0) from the 24-vector of nodal displacements ue.
// Both outputs use the 6-component ordering of BMatrix.
func CentroidStress(coords *[NodesPerElem][3]float64, ue *[DOFPerElem]float64, e, nu float64) (strain, stress [StrainComponents]float64) {
	dN := ShapeDerivs(0, 0, 0)
	J := Jacobian(dN, coords)
	det, inv := InvertJacobian(J)
	if det <= 0 {
		return
	}
	gradN := PhysicalGradients(dN, inv)
	for i := 0; i < NodesPerElem; i++ {
		ux, uy, uz := ue[3*i], ue[3*i+1], ue[3*i+2]
		dx, dy, dz := gradN[i][0], gradN[i][1], gradN[i][2]
		strain[0] += dx * ux
		strain[1] += dy * uy
		strain[2] += dz * uz
		strain[3] += dy*ux + dx*uy
		strain[4] += dz*uy + dy*uz
		strain[5] += dz*ux + dx*uz
	}
	f := e / ((1 + nu) * (1 - 2*nu))
	diag := f * (1 - nu)
	off := f * nu
	shear := e / (2 * (1 + nu))
	stress[0] = diag*strain[0] + off*(strain[1]+strain[2])
	stress[1] = diag*strain[1] + off*(strain[0]+strain[2])
	stress[2] = diag*strain[2] + off*(strain[0]+strain[1])
	stress[3] = shear * strain[3]
	stress[4] = shear * strain[4]
	stress[5] = shear * strain[5]
	return
}
