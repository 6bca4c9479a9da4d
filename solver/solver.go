// Package solver orchestrates the full run: mesh generation, stiffness
// assembly, the preconditioned conjugate-gradient solve, stress recovery,
// failure/damage evaluation and, when enabled, the fluid-injection fracture
// stage. The heavy numerics execute as kernel launches on a compute backend;
// this package holds only host-side control flow.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geovox/voxfem/compute"
	"github.com/geovox/voxfem/config"
	"github.com/geovox/voxfem/fluid"
	"github.com/geovox/voxfem/grid"
	"github.com/geovox/voxfem/mesh"
	occabk "github.com/geovox/voxfem/occa"
)

// ProgressFunc receives fractional progress in [0,1] at defined checkpoints.
type ProgressFunc func(float64)

// Solver runs one simulation over a labeled voxel volume.
type Solver struct {
	cfg     config.Config
	labels  *grid.LabelVolume
	density *grid.ScalarField // optional, gravity/energy bookkeeping only

	log      *slog.Logger
	backend  compute.Backend
	progress ProgressFunc

	mesh *mesh.Mesh
	csr  *mesh.CSR
	prob *compute.Problem
}

// Option configures a Solver.
type Option func(*Solver)

// WithLogger sets the structured logger; nil selects slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.log = l }
}

// WithProgress sets the progress callback.
func WithProgress(p ProgressFunc) Option {
	return func(s *Solver) { s.progress = p }
}

// WithBackend injects a compute backend, overriding the UseGPU selection.
func WithBackend(b compute.Backend) Option {
	return func(s *Solver) { s.backend = b }
}

// WithDensity attaches the density volume.
func WithDensity(density *grid.ScalarField) Option {
	return func(s *Solver) { s.density = density }
}

// New validates the configuration and prepares a solver. Configuration
// errors fail here, before any compute resource is touched.
func New(labels *grid.LabelVolume, cfg config.Config, opts ...Option) (*Solver, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Solver{cfg: cfg, labels: labels}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.density != nil {
		if err := grid.CheckSameDims(labels.Dims, s.density.Dims); err != nil {
			return nil, err
		}
	}
	if cfg.FluidInjection.Enabled {
		// Negative coordinates select the domain center later; explicit
		// points must lie inside the volume.
		ip := cfg.FluidInjection.InjectionPoint
		if ip[0] >= 0 && ip[1] >= 0 && ip[2] >= 0 && !labels.Dims.Inside(ip[0], ip[1], ip[2]) {
			return nil, fmt.Errorf("%w: injection point %v outside %dx%dx%d domain",
				config.ErrInvalidConfig, ip, labels.Dims.NX, labels.Dims.NY, labels.Dims.NZ)
		}
	}
	if s.backend == nil {
		if cfg.UseGPU {
			b, err := occabk.NewBackend(cfg.DevicePref)
			if err != nil {
				return nil, err
			}
			s.backend = b
		} else {
			s.backend = compute.NewCPU(0)
		}
	}
	return s, nil
}

func (s *Solver) reportProgress(frac float64) {
	if s.progress != nil {
		if frac > 1 {
			frac = 1
		}
		s.progress(frac)
	}
}

// Run executes the pipeline. On cancellation the most recently completed
// consistent state is returned together with ctx.Err(); non-convergence of
// the linear solve is reported through Results, not as an error.
func (s *Solver) Run(ctx context.Context) (*Results, error) {
	start := time.Now()
	defer s.backend.Free()

	s.reportProgress(0)

	m, err := mesh.Build(s.labels, s.cfg.VoxelPitch)
	if err != nil {
		return nil, err
	}
	m.SetUniformMaterial(s.cfg.YoungsModulus, s.cfg.PoissonRatio)
	s.mesh = m
	s.log.Info("mesh generated",
		"elements", m.NumElements(), "nodes", len(m.Nodes), "dofs", m.NumDOFs)
	s.reportProgress(0.05)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.csr = mesh.BuildCSR(m)
	layout := m.PartitionElements(partitionCount(m.NumElements()))
	s.prob = &compute.Problem{Mesh: m, CSR: s.csr, Layout: layout}
	s.applyBoundary()

	if err := s.backend.Init(s.prob); err != nil {
		return nil, fmt.Errorf("backend %s init: %w", s.backend.Name(), err)
	}
	if err := s.backend.AssembleStiffness(); err != nil {
		return nil, fmt.Errorf("stiffness assembly: %w", err)
	}
	s.reportProgress(0.20)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := NewFields(s.labels.Dims)
	if s.cfg.Plasticity {
		fields.EnablePlasticity()
	}
	res := &Results{Fields: fields}

	pcg, err := s.runPCG(ctx, solveProgressLo, solveProgressHi)
	res.Converged = pcg.Converged
	res.Iterations = pcg.Iterations
	if err != nil {
		// Cancellation: seal whatever state exists and hand it back.
		res.WallTime = time.Since(start)
		return res, err
	}
	if !pcg.Converged {
		w := fmt.Sprintf("solver did not converge within %d iterations (residual %.3e); results may be approximate",
			s.cfg.EffectiveMaxIterations(), pcg.Residual)
		res.Warnings = append(res.Warnings, w)
		s.log.Warn("pcg did not converge", "iterations", pcg.Iterations, "residual", pcg.Residual)
	}

	if err := s.backend.RecoverStress(fields.Stress, fields.Strain); err != nil {
		return res, fmt.Errorf("stress recovery: %w", err)
	}
	s.reportProgress(0.80)
	s.evaluateFailure(fields)
	s.reportProgress(0.90)
	if err := ctx.Err(); err != nil {
		res.WallTime = time.Since(start)
		return res, err
	}

	// Single corrective cycle: degrade element stiffness by the damage
	// field, re-assemble, re-solve and re-evaluate.
	if s.cfg.Damage != config.DamageNone && s.degradeStiffness(fields) {
		s.log.Info("re-assembling with damage-degraded stiffness")
		if err := s.backend.AssembleStiffness(); err != nil {
			return res, fmt.Errorf("degraded re-assembly: %w", err)
		}
		pcg2, err := s.runPCG(ctx, resolveProgressLo, resolveProgressHi)
		if err != nil {
			res.WallTime = time.Since(start)
			return res, err
		}
		res.Converged = res.Converged && pcg2.Converged
		res.Iterations += pcg2.Iterations
		if err := s.backend.RecoverStress(fields.Stress, fields.Strain); err != nil {
			return res, fmt.Errorf("stress recovery: %w", err)
		}
		s.evaluateFailure(fields)
	}
	s.reportProgress(0.92)

	if s.cfg.FluidInjection.Enabled {
		fields.EnableFluid()
		outcome, ferr := s.runFluid(ctx, fields)
		if outcome != nil {
			res.BreakdownPressure = outcome.BreakdownPressure
			res.BreakdownTime = outcome.BreakdownTime
			res.PropagationPressure = outcome.PropagationPressure
			res.TotalFractureVolume = outcome.TotalFractureVolume
			res.GeothermalPotential = outcome.GeothermalPotential
			res.AvgThermalGradient = outcome.AvgThermalGradient
			res.Series = TimeSeries{
				Time:           outcome.Series.Time,
				Pressure:       outcome.Series.Pressure,
				FlowRate:       outcome.Series.FlowRate,
				FractureVolume: outcome.Series.FractureVolume,
				EnergyRate:     outcome.Series.EnergyRate,
			}
		}
		if ferr != nil {
			s.finishResults(res)
			res.WallTime = time.Since(start)
			return res, ferr
		}
	}

	s.finishResults(res)
	res.WallTime = time.Since(start)
	s.reportProgress(1.0)
	s.log.Info("run complete",
		"converged", res.Converged,
		"iterations", res.Iterations,
		"failedVoxels", res.FailedVoxelCount,
		"wallTime", res.WallTime)
	return res, nil
}

// runFluid wires the shared per-voxel state into the fluid engine and maps
// its progress into the 0.92–1.0 band.
func (s *Solver) runFluid(ctx context.Context, f *Fields) (*fluid.Outcome, error) {
	var density []float64
	if s.density != nil {
		density = s.density.Data
	}
	shared := &fluid.Shared{
		Dims:         f.Dims,
		Pitch:        s.cfg.VoxelPitch,
		Labels:       s.labels.Data,
		Density:      density,
		Stress:       f.Stress,
		Principal:    f.Principal,
		FailureIndex: f.FailureIndex,
		Fractured:    f.Fractured,
		Pressure:     f.Pressure,
		Temperature:  f.Temperature,
		Aperture:     f.Aperture,
		Saturation:   f.Saturation,
		Connected:    f.Connected,
	}
	engine, err := fluid.NewEngine(&s.cfg, shared, s.log)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, func(frac float64) {
		s.reportProgress(0.92 + 0.08*frac)
	})
}

// partitionCount sizes the element decomposition: one partition per ~4096
// elements, at least 1, at most 64.
func partitionCount(elems int) int {
	n := elems / 4096
	if n < 1 {
		n = 1
	}
	if n > 64 {
		n = 64
	}
	return n
}
