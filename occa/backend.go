package occa

import (
	"fmt"

	"github.com/geovox/voxfem/compute"
)

// Backend runs the solver's kernel set on an OCCA device. Assembly is
// two-pass: every element writes its full 24×24 integral into a private
// contribution buffer, then a gather kernel reduces each CSR slot from a
// host-built index plan. No device atomics are needed and the reduction
// order per slot is fixed, so re-assembly of identical inputs reproduces
// identical values.
type Backend struct {
	r    *runner
	prob *compute.Problem

	numDOFs  int
	nnz      int
	numElems int
	numVox   int

	dofBlocks int
	partial   []float64
	stress    []float64
	strain    []float64

	freed bool
}

// NewBackend opens a device of the requested mode ("" walks the built-in
// preference order) and wraps it in a kernel runner.
func NewBackend(mode string) (*Backend, error) {
	device, err := OpenDevice(mode)
	if err != nil {
		return nil, err
	}
	return &Backend{r: newRunner(device)}, nil
}

func (b *Backend) Name() string {
	return "OCCA/" + b.r.device.Mode()
}

// Init uploads the mesh, sparsity pattern and boundary arrays, builds the
// gather plan, and compiles every kernel against the problem's sizes.
func (b *Backend) Init(p *compute.Problem) error {
	b.prob = p
	m := p.Mesh
	b.numDOFs = m.NumDOFs
	b.nnz = len(p.CSR.ColIdx)
	b.numElems = len(m.Elems)
	b.numVox = m.Dims.Count()
	b.dofBlocks = (b.numDOFs + 255) / 256
	b.partial = make([]float64, b.dofBlocks)
	b.stress = make([]float64, 6*b.numVox)
	b.strain = make([]float64, 6*b.numVox)

	b.r.preamble = buildPreamble(b.numDOFs, b.nnz, b.numElems, b.numVox,
		len(p.Layout.Partitions), p.Layout.KpartMax)

	coords := make([]float64, 3*len(m.Nodes))
	for i, n := range m.Nodes {
		coords[3*i] = n[0]
		coords[3*i+1] = n[1]
		coords[3*i+2] = n[2]
	}
	conn := make([]int32, 8*b.numElems)
	for e, el := range m.Elems {
		copy(conn[8*e:], el[:])
	}
	partStart := make([]int32, len(p.Layout.Partitions))
	for i, part := range p.Layout.Partitions {
		partStart[i] = int32(part.Start)
	}
	isDir := make([]int32, b.numDOFs)
	for i, d := range p.IsDirichlet {
		isDir[i] = int32(d)
	}

	gatherPtr, gatherIdx := compute.BuildGatherPlan(p)
	diagSlot := make([]int32, b.numDOFs)
	for i := 0; i < b.numDOFs; i++ {
		diagSlot[i] = p.CSR.Find(int32(i), int32(i))
	}

	b.r.allocInt32("rowPtr", p.CSR.RowPtr)
	b.r.allocInt32("colIdx", p.CSR.ColIdx)
	b.r.allocFloat64("values", b.nnz, nil)
	b.r.allocInt32("isDir", isDir)
	b.r.allocFloat64("dval", b.numDOFs, p.DirichletVal)
	b.r.allocInt32("diagSlot", diagSlot)

	b.r.allocFloat64("coords", len(coords), coords)
	b.r.allocInt32("conn", conn)
	b.r.allocInt32("elemVoxel", m.ElemVoxel)
	b.r.allocFloat64("emod", b.numElems, m.Emod)
	b.r.allocFloat64("nu", b.numElems, m.Nu)
	b.r.allocInt32("partStart", partStart)
	b.r.allocInt32("partCount", p.Layout.Counts())
	b.r.allocFloat64("contrib", 576*b.numElems, nil)
	b.r.allocInt32("gatherPtr", gatherPtr)
	b.r.allocInt32("gatherIdx", gatherIdx)

	b.r.allocFloat64("partial", b.dofBlocks, nil)
	b.r.allocFloat64("stress", 6*b.numVox, nil)
	b.r.allocFloat64("strain", 6*b.numVox, nil)

	for _, name := range []string{
		compute.VecU, compute.VecF, compute.VecR, compute.VecZ,
		compute.VecP, compute.VecQ, compute.VecMinv,
	} {
		b.r.allocFloat64(name, b.numDOFs, nil)
	}

	return b.buildKernels()
}

func (b *Backend) buildKernels() error {
	type spec struct {
		name   string
		source string
		params []paramSpec
	}
	specs := []spec{
		{"assemblePartial", assemblePartialSource, []paramSpec{
			arr("partStart"), arr("partCount"), arr("conn"), arr("coords"),
			arr("emod"), arr("nu"), arr("contrib"),
		}},
		{"gatherAdd", gatherAddSource, []paramSpec{
			arr("gatherPtr"), arr("gatherIdx"), arr("contrib"), arr("values"),
		}},
		{"spmv", spmvSource, []paramSpec{
			arr("rowPtr"), arr("colIdx"), arr("values"), arr("isDir"),
			arr("x"), arr("y"),
		}},
		{"dotPartial", dotPartialSource, []paramSpec{
			arr("a"), arr("b"), arr("partial"),
		}},
		{"axpy", axpySource, []paramSpec{
			scalar("alpha"), arr("x"), arr("y"),
		}},
		{"xpby", xpbySource, []paramSpec{
			scalar("beta"), arr("x"), arr("y"),
		}},
		{"hadamard", hadamardSource, []paramSpec{
			arr("a"), arr("b"), arr("dst"),
		}},
		{"syncDirichlet", syncDirichletSource, []paramSpec{
			arr("isDir"), arr("dval"), arr("f"),
		}},
		{"buildPrecond", buildPrecondSource, []paramSpec{
			arr("diagSlot"), arr("values"), arr("minv"),
		}},
		{"recoverStress", recoverStressSource, []paramSpec{
			arr("partStart"), arr("partCount"), arr("conn"), arr("coords"),
			arr("emod"), arr("nu"), arr("elemVoxel"), arr("u"),
			arr("stress"), arr("strain"),
		}},
	}
	for _, s := range specs {
		if err := b.r.defineAndBuild(s.name, s.source, s.params...); err != nil {
			return err
		}
	}
	return nil
}

// AssembleStiffness re-uploads the per-element moduli (they change when
// damage degrades stiffness) and runs the two assembly passes.
func (b *Backend) AssembleStiffness() error {
	if err := b.r.copyIn("emod", b.prob.Mesh.Emod); err != nil {
		return err
	}
	if err := b.r.copyIn("nu", b.prob.Mesh.Nu); err != nil {
		return err
	}
	if err := b.r.run("assemblePartial"); err != nil {
		return err
	}
	return b.r.run("gatherAdd")
}

func (b *Backend) BuildPreconditioner() error {
	return b.r.run("buildPrecond")
}

func (b *Backend) SyncDirichlet() error {
	return b.r.run("syncDirichlet")
}

func (b *Backend) SetVector(name string, src []float64) error {
	return b.r.copyIn(name, src)
}

func (b *Backend) GetVector(name string, dst []float64) error {
	return b.r.copyOut(name, dst)
}

func (b *Backend) SpMV(x, y string) error {
	return b.r.runWith("spmv", map[string]string{"x": x, "y": y})
}

// Dot reduces block partials on the device and finishes the sum on the
// host, in block order.
func (b *Backend) Dot(x, y string) (float64, error) {
	if err := b.r.runWith("dotPartial", map[string]string{"a": x, "b": y}); err != nil {
		return 0, err
	}
	if err := b.r.copyOut("partial", b.partial); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range b.partial {
		sum += v
	}
	return sum, nil
}

func (b *Backend) Axpy(alpha float64, x, y string) error {
	return b.r.runWith("axpy", map[string]string{"x": x, "y": y}, alpha)
}

func (b *Backend) Xpby(x string, beta float64, y string) error {
	return b.r.runWith("xpby", map[string]string{"x": x, "y": y}, beta)
}

func (b *Backend) PrecondApply(r, z string) error {
	return b.r.runWith("hadamard", map[string]string{"a": compute.VecMinv, "b": r, "dst": z})
}

// RecoverStress evaluates centroid stress and strain on the device and
// copies both voxel fields back. Voxels with no element read back as zero.
func (b *Backend) RecoverStress(stress, strain []float64) error {
	if len(stress) != len(b.stress) || len(strain) != len(b.strain) {
		return fmt.Errorf("occa: stress buffers sized %d/%d, want %d", len(stress), len(strain), len(b.stress))
	}
	if err := b.r.run("recoverStress"); err != nil {
		return err
	}
	if err := b.r.copyOut("stress", b.stress); err != nil {
		return err
	}
	if err := b.r.copyOut("strain", b.strain); err != nil {
		return err
	}
	copy(stress, b.stress)
	copy(strain, b.strain)
	return nil
}

func (b *Backend) Values(dst []float64) error {
	return b.r.copyOut("values", dst)
}

func (b *Backend) Free() {
	if b.freed {
		return
	}
	b.freed = true
	b.r.free()
}
