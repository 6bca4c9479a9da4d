package occa

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"
)

// paramKind distinguishes the entries of a kernel definition.
type paramKind int

const (
	paramArray paramKind = iota
	paramScalar
)

// paramSpec names one kernel parameter. Arrays resolve to pooled device
// memory by name at launch time; scalars are matched in declaration order
// against the values passed to run. This replaces positional argument
// binding: a misspelled or unallocated array name fails the launch instead
// of silently shifting every later argument.
type paramSpec struct {
	kind paramKind
	name string
}

// arr declares a pooled-array parameter.
func arr(name string) paramSpec { return paramSpec{kind: paramArray, name: name} }

// scalar declares a scalar parameter slot.
func scalar(name string) paramSpec { return paramSpec{kind: paramScalar, name: name} }

// kernelDef is a compiled kernel plus its named parameter block.
type kernelDef struct {
	name   string
	params []paramSpec
	kernel *gocca.OCCAKernel
}

// runner owns the device, the pooled memory map and the kernel registry.
type runner struct {
	device   *gocca.OCCADevice
	preamble string
	pooled   map[string]*gocca.OCCAMemory
	kernels  map[string]*kernelDef
}

func newRunner(device *gocca.OCCADevice) *runner {
	return &runner{
		device:  device,
		pooled:  make(map[string]*gocca.OCCAMemory),
		kernels: make(map[string]*kernelDef),
	}
}

// allocFloat64 uploads src (or zeroes, when src is nil) into a pooled
// float64 array of n entries.
func (r *runner) allocFloat64(name string, n int, src []float64) {
	bytes := int64(n * 8)
	var ptr unsafe.Pointer
	if src != nil {
		ptr = unsafe.Pointer(&src[0])
	} else {
		zero := make([]float64, n)
		ptr = unsafe.Pointer(&zero[0])
	}
	r.pooled[name] = r.device.Malloc(bytes, ptr, nil)
}

// allocInt32 uploads src into a pooled int32 array.
func (r *runner) allocInt32(name string, src []int32) {
	r.pooled[name] = r.device.Malloc(int64(len(src)*4), unsafe.Pointer(&src[0]), nil)
}

// copyIn replaces the contents of a pooled float64 array from the host.
func (r *runner) copyIn(name string, src []float64) error {
	mem, ok := r.pooled[name]
	if !ok {
		return fmt.Errorf("occa: array %s not allocated", name)
	}
	mem.CopyFrom(unsafe.Pointer(&src[0]), int64(len(src)*8))
	return nil
}

// copyOut reads a pooled float64 array back to the host.
func (r *runner) copyOut(name string, dst []float64) error {
	mem, ok := r.pooled[name]
	if !ok {
		return fmt.Errorf("occa: array %s not allocated", name)
	}
	mem.CopyTo(unsafe.Pointer(&dst[0]), int64(len(dst)*8))
	return nil
}

// defineAndBuild registers a kernel's parameter block and compiles its
// source against the generated preamble.
func (r *runner) defineAndBuild(name, source string, params ...paramSpec) error {
	fullSource := r.preamble + "\n" + source

	var kernel *gocca.OCCAKernel
	var err error
	if r.device.Mode() == "OpenMP" {
		// OCCA's OpenMP backend misses the default -O3 flag.
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = r.device.BuildKernelFromString(fullSource, name, props)
	} else {
		kernel, err = r.device.BuildKernelFromString(fullSource, name, nil)
	}
	if err != nil {
		return fmt.Errorf("occa: building kernel %s failed: %w (reduce the domain, enable disk offload, or use the CPU fallback)", name, err)
	}
	r.kernels[name] = &kernelDef{name: name, params: params, kernel: kernel}
	return nil
}

// run launches a defined kernel. Array parameters are resolved from the
// pool by name; scalar values are consumed in declaration order.
func (r *runner) run(name string, scalars ...interface{}) error {
	return r.runWith(name, nil, scalars...)
}

// runWith launches a kernel with some array parameters rebound through the
// alias map, so one compiled kernel can serve different pooled vectors.
func (r *runner) runWith(name string, aliases map[string]string, scalars ...interface{}) error {
	def, ok := r.kernels[name]
	if !ok {
		return fmt.Errorf("occa: kernel %s not defined", name)
	}
	args := make([]interface{}, 0, len(def.params))
	si := 0
	for _, p := range def.params {
		switch p.kind {
		case paramArray:
			pooledName := p.name
			if alias, ok := aliases[p.name]; ok {
				pooledName = alias
			}
			mem, ok := r.pooled[pooledName]
			if !ok {
				return fmt.Errorf("occa: kernel %s parameter %s not allocated", name, pooledName)
			}
			args = append(args, mem)
		case paramScalar:
			if si >= len(scalars) {
				return fmt.Errorf("occa: kernel %s missing value for scalar %s", name, p.name)
			}
			args = append(args, scalars[si])
			si++
		}
	}
	if si != len(scalars) {
		return fmt.Errorf("occa: kernel %s given %d scalars, definition takes %d", name, len(scalars), si)
	}
	if err := def.kernel.RunWithArgs(args...); err != nil {
		return fmt.Errorf("occa: kernel %s execution failed: %w", name, err)
	}
	// Full completion barrier: the PCG recurrence requires every kernel's
	// output before the next launch reads it.
	r.device.Finish()
	return nil
}

// free releases kernels, memory and the device.
func (r *runner) free() {
	for _, def := range r.kernels {
		if def.kernel != nil {
			def.kernel.Free()
		}
	}
	r.kernels = make(map[string]*kernelDef)
	for _, mem := range r.pooled {
		mem.Free()
	}
	r.pooled = make(map[string]*gocca.OCCAMemory)
	if r.device != nil {
		r.device.Free()
		r.device = nil
	}
}
