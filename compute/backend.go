// Package compute defines the kernel set the stress solver is written
// against, together with its host (CPU) implementation. The solver drives
// the same sequence of kernel launches regardless of backend: zero/assemble
// the CSR values, build the Jacobi preconditioner, then the PCG recurrence
// as SpMV, dot-product and vector-combine launches with only reduced scalars
// crossing back to the host loop.
package compute

import (
	"github.com/geovox/voxfem/mesh"
)

// Well-known vector names used by the solver's kernel launches. Backends
// allocate one array of length NumDOFs per name on first use.
const (
	VecU    = "u"    // displacement solution
	VecF    = "f"    // nodal force / right-hand side
	VecR    = "r"    // residual
	VecZ    = "z"    // preconditioned residual
	VecP    = "p"    // search direction
	VecQ    = "q"    // K·p
	VecMinv = "minv" // inverse-diagonal preconditioner
)

// Problem bundles the assembled system state shared by all backends. The
// backend reads the mesh, pattern and boundary arrays; it owns the lifetime
// of any device-side mirrors.
type Problem struct {
	Mesh   *mesh.Mesh
	CSR    *mesh.CSR
	Layout *mesh.PartitionLayout

	IsDirichlet  []int8    // per DOF, 1 = constrained
	DirichletVal []float64 // prescribed displacement per constrained DOF
	Force        []float64 // applied nodal loads
}

// Backend is the kernel-launch contract. Every call is a complete kernel:
// it returns only after the device has finished, so consecutive calls are
// barrier-separated exactly as the PCG recurrence requires.
type Backend interface {
	Name() string

	// Init binds the problem and allocates backend storage. Must be called
	// before any kernel.
	Init(p *Problem) error

	// AssembleStiffness rebuilds the CSR values from every element's
	// Bᵀ·D·B Gauss integral: an element pass into a contribution buffer,
	// then a per-slot gather in a fixed plan order, so identical inputs
	// always assemble to identical bits. Local entries with magnitude below
	// ScatterEpsilon are skipped. Reads the mesh's per-element moduli on
	// every call, so a damage-degraded re-assembly needs no extra plumbing.
	AssembleStiffness() error

	// BuildPreconditioner fills minv with the inverse CSR diagonal, falling
	// back to 1.0 wherever the diagonal is non-positive.
	BuildPreconditioner() error

	// SyncDirichlet forces f[dof] = dirichletValue wherever isDirichlet is
	// set, so the solver never perturbs constrained DOFs.
	SyncDirichlet() error

	SetVector(name string, src []float64) error
	GetVector(name string, dst []float64) error

	// SpMV computes y = K·x, treating Dirichlet rows as identity.
	SpMV(x, y string) error

	// Dot reduces aᵀ·b block-wise and finishes the sum on the host.
	Dot(a, b string) (float64, error)

	// Axpy computes y += alpha·x.
	Axpy(alpha float64, x, y string) error

	// Xpby computes y = x + beta·y.
	Xpby(x string, beta float64, y string) error

	// PrecondApply computes z = minv ∘ r (Jacobi application).
	PrecondApply(r, z string) error

	// RecoverStress evaluates strain and stress at every element centroid
	// from the current displacement vector and paints them onto the nearest
	// voxel (last write wins). Both outputs are 6-stride per-voxel arrays.
	RecoverStress(stress, strain []float64) error

	// Values copies the current CSR values back to the host slice.
	Values(dst []float64) error

	// Free releases backend resources. Safe to call more than once.
	Free()
}

// ScatterEpsilon bounds scatter cost: local stiffness entries below this
// magnitude are not written to the global matrix.
const ScatterEpsilon = 1e-12
