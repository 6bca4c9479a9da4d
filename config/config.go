// Package config defines the immutable parameter record consumed by every
// stage of the stress and fracture engine, plus the fail-fast validation run
// before any compute is launched.
package config

import (
	"errors"
	"fmt"
)

// LoadingMode selects which boundary faces carry applied tractions.
type LoadingMode int

const (
	Uniaxial LoadingMode = iota // axial σ1 only
	Biaxial                     // σ1 + one confining stress
	Triaxial                    // σ1 + σ2 + σ3
	Custom                      // all three as given, no symmetry assumption
)

func (m LoadingMode) String() string {
	switch m {
	case Uniaxial:
		return "Uniaxial"
	case Biaxial:
		return "Biaxial"
	case Triaxial:
		return "Triaxial"
	case Custom:
		return "Custom"
	}
	return fmt.Sprintf("LoadingMode(%d)", int(m))
}

// FailureCriterion selects the failure-index formula.
type FailureCriterion int

const (
	MohrCoulomb FailureCriterion = iota
	DruckerPrager
	HoekBrown
	Griffith
)

func (c FailureCriterion) String() string {
	switch c {
	case MohrCoulomb:
		return "MohrCoulomb"
	case DruckerPrager:
		return "DruckerPrager"
	case HoekBrown:
		return "HoekBrown"
	case Griffith:
		return "Griffith"
	}
	return fmt.Sprintf("FailureCriterion(%d)", int(c))
}

// DamageModel selects the post-failure softening law.
type DamageModel int

const (
	DamageNone DamageModel = iota
	DamageExponential
)

// Drainage selects the pore-pressure regime.
type Drainage int

const (
	Drained Drainage = iota
	Undrained
)

// Fluid holds the injection / fracture-propagation parameters. All units are
// SI-consistent with the mechanical block (stresses in MPa, lengths in m,
// time in s) unless noted.
type Fluid struct {
	Enabled bool

	InjectionPressure float64 // MPa, held inside the source sphere
	InjectionRate     float64 // m³/s, for volume bookkeeping
	InjectionRadius   float64 // m, source sphere radius
	InjectionPoint    [3]int  // voxel coordinates; (-1,-1,-1) = domain center

	Permeability       float64 // m², matrix
	Porosity           float64 // fraction
	Viscosity          float64 // Pa·s
	Compressibility    float64 // 1/Pa, total (fluid + pore)
	TimeStep           float64 // s, mechanical step
	TotalTime          float64 // s
	DiffusionSubsteps  int     // pressure sub-steps per mechanical step
	FractureToughness  float64 // MPa·√m, K_Ic
	MinimumAperture    float64 // m
	AquiferBoundary    bool    // fixed far-field pressure on domain faces
	FractureFlow       bool    // cubic-law enhanced diffusion after breakdown
	Geothermal         bool    // temperature + energy bookkeeping
	InjectionTemp      float64 // °C, injected fluid
	SurfaceTemp        float64 // °C at z=0
	ThermalGradient    float64 // °C/m along +z
	FluidDensity       float64 // kg/m³
	FluidHeatCapacity  float64 // J/(kg·°C)
	GravityCoefficient float64 // m/s², 0 disables the gravity head term
}

// Config is the loading/failure parameter value object. It is treated as
// immutable once handed to the solver.
type Config struct {
	// Elasticity
	YoungsModulus float64 // MPa
	PoissonRatio  float64

	// Applied principal stresses, compression-positive as configured by the
	// caller. Ordering σ1 ≥ σ2 ≥ σ3 is enforced by Validate.
	Sigma1, Sigma2, Sigma3 float64 // MPa

	Loading   LoadingMode
	Criterion FailureCriterion
	Damage    DamageModel
	Drainage  Drainage

	// Pore pressure
	PorePressure    float64 // MPa
	BiotCoefficient float64

	// Strength parameters
	Cohesion        float64 // MPa
	FrictionAngle   float64 // degrees
	DilationAngle   float64 // degrees
	TensileStrength float64 // MPa

	// Hoek-Brown constants
	HoekMi float64
	HoekMb float64
	HoekS  float64
	HoekA  float64

	// Plasticity (von Mises correction)
	Plasticity       bool
	YieldStress      float64 // MPa
	HardeningModulus float64 // MPa

	// Solver
	Tolerance     float64 // clamped to ≤ 1e-4; 0 means default 1e-6
	MaxIterations int     // 0 means default 2000

	// Geometry
	VoxelPitch float64 // m

	// Backend
	UseGPU     bool
	DevicePref string // optional OCCA mode override, e.g. "CUDA"

	// Disk offload for huge volumes (storage contract only; the numerical
	// core always sees the indexed-access interface).
	OffloadToDisk bool
	OffloadDir    string

	FluidInjection Fluid
}

// Solver defaults and clamps.
const (
	DefaultTolerance = 1e-6
	MaxTolerance     = 1e-4
	DefaultMaxIters  = 2000
)

// ErrInvalidConfig tags all fail-fast configuration errors.
var ErrInvalidConfig = errors.New("invalid configuration")

// EffectiveTolerance returns the configured tolerance with the default and
// the ≤1e-4 clamp applied.
func (c *Config) EffectiveTolerance() float64 {
	tol := c.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	if tol > MaxTolerance {
		tol = MaxTolerance
	}
	return tol
}

// EffectiveMaxIterations returns MaxIterations with the default applied.
func (c *Config) EffectiveMaxIterations() int {
	if c.MaxIterations <= 0 {
		return DefaultMaxIters
	}
	return c.MaxIterations
}

// Validate performs the fail-fast checks run before any mesh or kernel work.
func (c *Config) Validate() error {
	if c.YoungsModulus <= 0 {
		return fmt.Errorf("%w: Young's modulus must be positive, got %g", ErrInvalidConfig, c.YoungsModulus)
	}
	if c.PoissonRatio <= 0 || c.PoissonRatio >= 0.5 {
		return fmt.Errorf("%w: Poisson ratio must lie in (0,0.5), got %g", ErrInvalidConfig, c.PoissonRatio)
	}
	if c.Sigma1 < c.Sigma2 || c.Sigma2 < c.Sigma3 {
		return fmt.Errorf("%w: principal stresses must satisfy σ1 ≥ σ2 ≥ σ3, got %g, %g, %g",
			ErrInvalidConfig, c.Sigma1, c.Sigma2, c.Sigma3)
	}
	if c.VoxelPitch <= 0 {
		return fmt.Errorf("%w: voxel pitch must be positive, got %g", ErrInvalidConfig, c.VoxelPitch)
	}
	if c.BiotCoefficient < 0 || c.BiotCoefficient > 1 {
		return fmt.Errorf("%w: Biot coefficient must lie in [0,1], got %g", ErrInvalidConfig, c.BiotCoefficient)
	}
	if c.Plasticity && c.YieldStress <= 0 {
		return fmt.Errorf("%w: plasticity requires a positive yield stress", ErrInvalidConfig)
	}
	if f := &c.FluidInjection; f.Enabled {
		if f.TimeStep <= 0 || f.TotalTime <= 0 {
			return fmt.Errorf("%w: fluid injection requires positive time step and total time", ErrInvalidConfig)
		}
		if f.Viscosity <= 0 || f.Porosity <= 0 || f.Compressibility <= 0 {
			return fmt.Errorf("%w: fluid injection requires positive viscosity, porosity and compressibility", ErrInvalidConfig)
		}
		if f.Permeability < 0 || f.InjectionRadius < 0 {
			return fmt.Errorf("%w: fluid permeability and injection radius must be non-negative", ErrInvalidConfig)
		}
	}
	return nil
}

// WithDefaults returns a copy with zero-valued optional parameters replaced
// by their documented defaults. The original value is not modified.
func (c Config) WithDefaults() Config {
	if c.HoekA == 0 {
		c.HoekA = 0.5
	}
	if c.HoekS == 0 {
		c.HoekS = 1.0
	}
	f := &c.FluidInjection
	if f.Enabled {
		if f.DiffusionSubsteps <= 0 {
			f.DiffusionSubsteps = 5
		}
		if f.FluidDensity <= 0 {
			f.FluidDensity = 1000
		}
		if f.FluidHeatCapacity <= 0 {
			f.FluidHeatCapacity = 4186
		}
		if f.MinimumAperture <= 0 {
			f.MinimumAperture = 1e-6
		}
	}
	return c
}
