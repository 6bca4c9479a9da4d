package compute

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/geovox/voxfem/element"
)

// CPU is the host implementation of the kernel set. Each kernel runs its
// partition loop on a pool of goroutines with a WaitGroup barrier, mirroring
// the @outer/@inner structure of the device kernels. Assembly is the same
// two-pass scheme as the device backend: an element pass into a private
// contribution buffer, then a per-slot gather in plan order, so re-assembly
// of identical inputs is bit-identical at any worker or partition count.
type CPU struct {
	prob    *Problem
	vec     map[string][]float64
	workers int

	contrib   []float64
	gatherPtr []int32
	gatherIdx []int32
}

// NewCPU creates a host backend. workers <= 0 selects GOMAXPROCS.
func NewCPU(workers int) *CPU {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &CPU{workers: workers, vec: make(map[string][]float64)}
}

func (c *CPU) Name() string { return "CPU" }

func (c *CPU) Init(p *Problem) error {
	if p.Mesh == nil || p.CSR == nil || p.Layout == nil {
		return fmt.Errorf("cpu backend: incomplete problem (mesh/csr/layout required)")
	}
	c.prob = p
	c.contrib = make([]float64, 576*len(p.Mesh.Elems))
	c.gatherPtr, c.gatherIdx = BuildGatherPlan(p)
	return nil
}

func (c *CPU) vector(name string) []float64 {
	v, ok := c.vec[name]
	if !ok {
		v = make([]float64, c.prob.Mesh.NumDOFs)
		c.vec[name] = v
	}
	return v
}

// parallelRange runs fn over [0,n) split into worker chunks and waits for
// all of them; the barrier between consecutive kernels.
func (c *CPU) parallelRange(n int, fn func(lo, hi int)) {
	nw := c.workers
	if nw > n {
		nw = n
	}
	if nw <= 1 {
		fn(0, n)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + nw - 1) / nw
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

func (c *CPU) AssembleStiffness() error {
	m := c.prob.Mesh
	csr := c.prob.CSR

	// Element pass: each element fills its own 576-entry span, no shared
	// writes between partitions.
	var wg sync.WaitGroup
	for _, part := range c.prob.Layout.Partitions {
		wg.Add(1)
		go func(start, count int) {
			defer wg.Done()
			var coords [element.NodesPerElem][3]float64
			for k := start; k < start+count; k++ {
				m.ElemCoords(k, &coords)
				ke := element.StiffnessMatrix(&coords, m.Emod[k], m.Nu[k])
				base := 576 * k
				for a := 0; a < element.DOFPerElem; a++ {
					for b := 0; b < element.DOFPerElem; b++ {
						c.contrib[base+24*a+b] = ke.At(a, b)
					}
				}
			}
		}(part.Start, part.Count)
	}
	wg.Wait()

	// Gather pass: each CSR slot sums its contributions in plan order. The
	// order never depends on worker scheduling.
	c.parallelRange(csr.NNZ(), func(lo, hi int) {
		for s := lo; s < hi; s++ {
			sum := 0.0
			for g := c.gatherPtr[s]; g < c.gatherPtr[s+1]; g++ {
				v := c.contrib[c.gatherIdx[g]]
				if v > -ScatterEpsilon && v < ScatterEpsilon {
					continue
				}
				sum += v
			}
			csr.Values[s] = sum
		}
	})
	return nil
}

func (c *CPU) BuildPreconditioner() error {
	csr := c.prob.CSR
	minv := c.vector(VecMinv)
	c.parallelRange(len(minv), func(lo, hi int) {
		for row := lo; row < hi; row++ {
			s := csr.Find(int32(row), int32(row))
			if s >= 0 && csr.Values[s] > 0 {
				minv[row] = 1.0 / csr.Values[s]
			} else {
				minv[row] = 1.0
			}
		}
	})
	return nil
}

func (c *CPU) SyncDirichlet() error {
	p := c.prob
	f := c.vector(VecF)
	c.parallelRange(len(f), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if p.IsDirichlet[i] != 0 {
				f[i] = p.DirichletVal[i]
			}
		}
	})
	return nil
}

func (c *CPU) SetVector(name string, src []float64) error {
	v := c.vector(name)
	if len(src) != len(v) {
		return fmt.Errorf("cpu backend: vector %s length %d, want %d", name, len(src), len(v))
	}
	copy(v, src)
	return nil
}

func (c *CPU) GetVector(name string, dst []float64) error {
	v, ok := c.vec[name]
	if !ok {
		return fmt.Errorf("cpu backend: vector %s not allocated", name)
	}
	if len(dst) != len(v) {
		return fmt.Errorf("cpu backend: vector %s length %d, want %d", name, len(dst), len(v))
	}
	copy(dst, v)
	return nil
}

func (c *CPU) SpMV(xname, yname string) error {
	csr := c.prob.CSR
	dir := c.prob.IsDirichlet
	x := c.vector(xname)
	y := c.vector(yname)
	c.parallelRange(len(y), func(lo, hi int) {
		for row := lo; row < hi; row++ {
			if dir[row] != 0 {
				y[row] = x[row] // Dirichlet rows pass through as identity
				continue
			}
			sum := 0.0
			for s := csr.RowPtr[row]; s < csr.RowPtr[row+1]; s++ {
				sum += csr.Values[s] * x[csr.ColIdx[s]]
			}
			y[row] = sum
		}
	})
	return nil
}

func (c *CPU) Dot(aname, bname string) (float64, error) {
	a := c.vector(aname)
	b := c.vector(bname)
	nw := c.workers
	if nw > len(a) {
		nw = len(a)
	}
	if nw < 1 {
		nw = 1
	}
	partial := make([]float64, nw)
	var wg sync.WaitGroup
	chunk := (len(a) + nw - 1) / nw
	for w := 0; w < nw; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(a) {
			hi = len(a)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			s := 0.0
			for i := lo; i < hi; i++ {
				s += a[i] * b[i]
			}
			partial[w] = s
		}(w, lo, hi)
	}
	wg.Wait()
	// Host-side final sum in fixed block order keeps the reduction
	// deterministic for a given worker count.
	sum := 0.0
	for _, s := range partial {
		sum += s
	}
	return sum, nil
}

func (c *CPU) Axpy(alpha float64, xname, yname string) error {
	x := c.vector(xname)
	y := c.vector(yname)
	c.parallelRange(len(y), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			y[i] += alpha * x[i]
		}
	})
	return nil
}

func (c *CPU) Xpby(xname string, beta float64, yname string) error {
	x := c.vector(xname)
	y := c.vector(yname)
	c.parallelRange(len(y), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			y[i] = x[i] + beta*y[i]
		}
	})
	return nil
}

func (c *CPU) PrecondApply(rname, zname string) error {
	r := c.vector(rname)
	z := c.vector(zname)
	minv := c.vector(VecMinv)
	c.parallelRange(len(z), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			z[i] = minv[i] * r[i]
		}
	})
	return nil
}

func (c *CPU) RecoverStress(stress, strain []float64) error {
	m := c.prob.Mesh
	u := c.vector(VecU)
	var wg sync.WaitGroup
	for _, part := range c.prob.Layout.Partitions {
		wg.Add(1)
		go func(start, count int) {
			defer wg.Done()
			var coords [element.NodesPerElem][3]float64
			var ue [element.DOFPerElem]float64
			for k := start; k < start+count; k++ {
				m.ElemCoords(k, &coords)
				conn := m.Elems[k]
				for i, n := range conn {
					ue[3*i] = u[3*n]
					ue[3*i+1] = u[3*n+1]
					ue[3*i+2] = u[3*n+2]
				}
				eps, sig := element.CentroidStress(&coords, &ue, m.Emod[k], m.Nu[k])
				vox := int(m.ElemVoxel[k])
				// Last write wins; atomic stores only prevent torn values
				// when adjacent partitions map to the same voxel.
				for cidx := 0; cidx < element.StrainComponents; cidx++ {
					AtomicStoreFloat64(&stress[6*vox+cidx], sig[cidx])
					AtomicStoreFloat64(&strain[6*vox+cidx], eps[cidx])
				}
			}
		}(part.Start, part.Count)
	}
	wg.Wait()
	return nil
}

func (c *CPU) Values(dst []float64) error {
	if len(dst) != len(c.prob.CSR.Values) {
		return fmt.Errorf("cpu backend: values length %d, want %d", len(dst), len(c.prob.CSR.Values))
	}
	copy(dst, c.prob.CSR.Values)
	return nil
}

func (c *CPU) Free() {
	c.vec = make(map[string][]float64)
}
