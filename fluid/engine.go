// Package fluid implements the injection / fracture-propagation engine: an
// explicit time-stepping loop over the shared per-voxel state that diffuses
// pore pressure, nucleates and grows fractures, and keeps the injection
// time-series and energy bookkeeping.
//
// Each mechanical time step is a barrier-separated pipeline of data-parallel
// sub-passes (source, diffusion, effective stress, nucleation, apertures,
// fracture flow) followed by the sequential bounded-frontier connectivity
// search. The loop never fails outright: it always leaves consistent partial
// results up to the point reached.
package fluid

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/geovox/voxfem/config"
	"github.com/geovox/voxfem/failure"
	"github.com/geovox/voxfem/grid"
)

// State is the engine's phase over the run.
type State int

const (
	Idle State = iota
	Injecting
	Propagating // after breakdown
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Injecting:
		return "Injecting"
	case Propagating:
		return "Propagating"
	case Completed:
		return "Completed"
	case Cancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// Shared is the cross-stage state the fluid engine reads and writes: the
// mechanical solve's outputs plus the fluid fields. All slices alias the
// solver's per-voxel storage.
type Shared struct {
	Dims   grid.Dims
	Pitch  float64
	Labels []uint8

	Density []float64 // optional, kg/m³ per voxel

	Stress       []float64 // 6 per voxel, tension-positive
	Principal    []float64 // 3 per voxel
	FailureIndex []float64
	Fractured    []bool

	Pressure    []float64 // MPa
	Temperature []float64 // °C
	Aperture    []float64 // m
	Saturation  []float64
	Connected   []bool
}

// Series holds the sampled time histories (every 10 steps).
type Series struct {
	Time           []float64
	Pressure       []float64
	FlowRate       []float64
	FractureVolume []float64
	EnergyRate     []float64
}

// Outcome is the fluid stage's summary record.
type Outcome struct {
	State State

	BreakdownPressure   float64
	BreakdownTime       float64
	PropagationPressure float64
	TotalFractureVolume float64
	InjectedVolume      float64
	GeothermalPotential float64 // J extracted over the run
	AvgThermalGradient  float64 // °C/m
	Series              Series
}

// Engine steps the fluid state machine.
type Engine struct {
	cfg  *config.Config
	fl   *config.Fluid
	sh   *Shared
	eval *failure.Evaluator
	log  *slog.Logger

	state     State
	injVoxel  [3]int
	injRadius int // voxels

	breakdown     bool
	breakdownTime float64
	breakdownP    float64

	propagationSum float64
	propagationN   int

	injectedVolume float64
	prevFracVolume float64
	totalEnergy    float64

	pScratch []float64
	series   Series

	// connectivity scratch, reused between searches
	visitGen   int32
	visitStamp []int32
	queue      []int32
}

// NewEngine prepares an engine over the shared state. An injection point
// with any negative coordinate selects the domain center; a point beyond the
// domain extent is a configuration error.
func NewEngine(cfg *config.Config, sh *Shared, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:   cfg,
		fl:    &cfg.FluidInjection,
		sh:    sh,
		eval:  failure.NewEvaluator(cfg),
		log:   log,
		state: Idle,
	}
	e.injVoxel = e.fl.InjectionPoint
	if e.injVoxel[0] < 0 || e.injVoxel[1] < 0 || e.injVoxel[2] < 0 {
		e.injVoxel = [3]int{sh.Dims.NX / 2, sh.Dims.NY / 2, sh.Dims.NZ / 2}
	} else if !sh.Dims.Inside(e.injVoxel[0], e.injVoxel[1], e.injVoxel[2]) {
		return nil, fmt.Errorf("%w: injection point %v outside %dx%dx%d domain",
			config.ErrInvalidConfig, e.injVoxel, sh.Dims.NX, sh.Dims.NY, sh.Dims.NZ)
	}
	e.injRadius = int(math.Ceil(e.fl.InjectionRadius / sh.Pitch))
	if e.injRadius < 1 {
		e.injRadius = 1
	}
	e.pScratch = make([]float64, sh.Dims.Count())
	e.visitStamp = make([]int32, sh.Dims.Count())
	return e, nil
}

// State returns the current phase.
func (e *Engine) State() State { return e.state }

// sampleInterval is the step interval of connectivity recomputation and
// time-series sampling.
const sampleInterval = 10

// Run executes the time-stepping loop until the configured total time, or
// until cancellation, whichever comes first. On cancellation the partial
// outcome is returned together with ctx.Err().
func (e *Engine) Run(ctx context.Context, progress func(float64)) (*Outcome, error) {
	dt := e.fl.TimeStep
	steps := int(e.fl.TotalTime / dt)
	if steps < 1 {
		steps = 1
	}

	e.initTemperature()
	e.state = Injecting
	e.log.Info("fluid injection started",
		"steps", steps, "dt", dt,
		"injectionPressure", e.fl.InjectionPressure,
		"point", e.injVoxel)

	for step := 1; step <= steps; step++ {
		if err := ctx.Err(); err != nil {
			e.state = Cancelled
			return e.outcome(), err
		}
		t := float64(step) * dt

		e.applyInjectionSource()
		e.diffusePressure(dt)
		e.nucleateFractures(t)
		e.updateApertures()
		if e.fl.FractureFlow && e.breakdown {
			e.fractureFlowPass(dt)
		}
		e.updateSaturation()
		if e.fl.Geothermal {
			e.extractEnergy(dt)
		}
		e.injectedVolume += e.fl.InjectionRate * dt

		if step%sampleInterval == 0 || step == steps {
			e.recomputeConnectivity()
			e.recordSample(t, dt)
		}
		if progress != nil {
			progress(float64(step) / float64(steps))
		}
	}
	e.state = Completed
	out := e.outcome()
	e.log.Info("fluid injection finished",
		"state", e.state.String(),
		"breakdownPressure", out.BreakdownPressure,
		"fractureVolume", out.TotalFractureVolume)
	return out, nil
}

func (e *Engine) outcome() *Outcome {
	o := &Outcome{
		State:               e.state,
		BreakdownPressure:   e.breakdownP,
		BreakdownTime:       e.breakdownTime,
		TotalFractureVolume: e.fractureVolume(),
		InjectedVolume:      e.injectedVolume,
		GeothermalPotential: e.totalEnergy,
		Series:              e.series,
	}
	if e.propagationN > 0 {
		o.PropagationPressure = e.propagationSum / float64(e.propagationN)
	}
	if e.fl.Geothermal {
		o.AvgThermalGradient = e.thermalGradient()
	}
	return o
}

// applyInjectionSource holds the injection pressure inside the spherical
// source region around the injection voxel.
func (e *Engine) applyInjectionSource() {
	d := e.sh.Dims
	r := e.injRadius
	r2 := r * r
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if dx*dx+dy*dy+dz*dz > r2 {
					continue
				}
				x, y, z := e.injVoxel[0]+dx, e.injVoxel[1]+dy, e.injVoxel[2]+dz
				if !d.Inside(x, y, z) {
					continue
				}
				v := d.Index(x, y, z)
				if e.sh.Labels[v] == 0 {
					continue
				}
				e.sh.Pressure[v] = e.fl.InjectionPressure
			}
		}
	}
}

// injectionRegionPressure averages pressure over the source sphere, the
// quantity reported as injection pressure in the time series.
func (e *Engine) injectionRegionPressure() float64 {
	d := e.sh.Dims
	r := e.injRadius
	sum, n := 0.0, 0
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				x, y, z := e.injVoxel[0]+dx, e.injVoxel[1]+dy, e.injVoxel[2]+dz
				if !d.Inside(x, y, z) {
					continue
				}
				v := d.Index(x, y, z)
				if e.sh.Labels[v] == 0 {
					continue
				}
				sum += e.sh.Pressure[v]
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (e *Engine) fractureVolume() float64 {
	area := e.sh.Pitch * e.sh.Pitch
	vol := 0.0
	for v, frac := range e.sh.Fractured {
		if frac {
			vol += e.sh.Aperture[v] * area
		}
	}
	return vol
}

// updateSaturation tracks the pressurized region: saturation rises with
// pressure toward 1 at the injection pressure.
func (e *Engine) updateSaturation() {
	pInj := e.fl.InjectionPressure
	if pInj <= 0 {
		return
	}
	for v, label := range e.sh.Labels {
		if label == 0 {
			continue
		}
		s := e.sh.Pressure[v] / pInj
		if s > 1 {
			s = 1
		}
		if s > e.sh.Saturation[v] {
			e.sh.Saturation[v] = s
		}
	}
}

func (e *Engine) recordSample(t, dt float64) {
	fracVol := e.fractureVolume()
	flowRate := e.fl.InjectionRate
	window := float64(sampleInterval) * dt
	if window > 0 {
		flowRate += (fracVol - e.prevFracVolume) / window
	}
	e.prevFracVolume = fracVol

	pInj := e.injectionRegionPressure()
	if e.breakdown {
		e.propagationSum += pInj
		e.propagationN++
	}

	energyRate := 0.0
	if e.fl.Geothermal {
		energyRate = e.currentEnergyRate(flowRate)
	}

	e.series.Time = append(e.series.Time, t)
	e.series.Pressure = append(e.series.Pressure, pInj)
	e.series.FlowRate = append(e.series.FlowRate, flowRate)
	e.series.FractureVolume = append(e.series.FractureVolume, fracVol)
	e.series.EnergyRate = append(e.series.EnergyRate, energyRate)
}
