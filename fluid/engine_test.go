package fluid

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/geovox/voxfem/config"
	"github.com/geovox/voxfem/grid"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, cfg *config.Config, sh *Shared) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, sh, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func testShared(nx, ny, nz int, pitch float64) *Shared {
	d := grid.Dims{NX: nx, NY: ny, NZ: nz}
	n := d.Count()
	labels := make([]uint8, n)
	for i := range labels {
		labels[i] = 1
	}
	return &Shared{
		Dims:         d,
		Pitch:        pitch,
		Labels:       labels,
		Stress:       make([]float64, 6*n),
		Principal:    make([]float64, 3*n),
		FailureIndex: make([]float64, n),
		Fractured:    make([]bool, n),
		Pressure:     make([]float64, n),
		Temperature:  make([]float64, n),
		Aperture:     make([]float64, n),
		Saturation:   make([]float64, n),
		Connected:    make([]bool, n),
	}
}

func testConfig() *config.Config {
	cfg := config.Config{
		YoungsModulus: 50000,
		PoissonRatio:  0.25,
		Sigma1:        1,
		Criterion:     config.MohrCoulomb,
		Cohesion:      1000, // criterion never triggers on its own
		FrictionAngle: 30,
		VoxelPitch:    0.1,
		FluidInjection: config.Fluid{
			Enabled:           true,
			InjectionPressure: 10,
			InjectionRate:     0.001,
			InjectionRadius:   0.1,
			InjectionPoint:    [3]int{-1, -1, -1},
			Permeability:      1e-15,
			Porosity:          0.1,
			Viscosity:         1e-3,
			Compressibility:   1e-9,
			TimeStep:          1,
			TotalTime:         20,
			FractureToughness: 1000, // far beyond any K_I here
		},
	}
	cfg = cfg.WithDefaults()
	return &cfg
}

func TestRunStableMatrix(t *testing.T) {
	cfg := testConfig()
	sh := testShared(5, 5, 5, cfg.VoxelPitch)
	e := newTestEngine(t, cfg, sh)

	if e.State() != Idle {
		t.Fatalf("initial state %v, want Idle", e.State())
	}

	out, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != Completed {
		t.Errorf("state %v, want Completed", out.State)
	}
	if e.State() != Completed {
		t.Errorf("engine state %v, want Completed", e.State())
	}

	// 20 steps at 0.001 m³/s over 1 s each.
	if want := 0.02; math.Abs(out.InjectedVolume-want) > 1e-12 {
		t.Errorf("InjectedVolume = %g, want %g", out.InjectedVolume, want)
	}

	// No fracturing: breakdown never declared, fracture volume zero.
	if out.BreakdownPressure != 0 || out.BreakdownTime != 0 {
		t.Errorf("spurious breakdown: P=%g t=%g", out.BreakdownPressure, out.BreakdownTime)
	}
	if out.TotalFractureVolume != 0 {
		t.Errorf("fracture volume %g without fractures", out.TotalFractureVolume)
	}
	for v, frac := range sh.Fractured {
		if frac {
			t.Fatalf("voxel %d fractured under high toughness", v)
		}
	}

	// The source region stays near the injection pressure; the source is
	// re-applied at the start of every step, so diffusion within the final
	// step may pull it slightly below the plateau.
	center := sh.Dims.Index(2, 2, 2)
	if p := sh.Pressure[center]; p < 0.5*cfg.FluidInjection.InjectionPressure {
		t.Errorf("injection voxel pressure %g, want near %g",
			p, cfg.FluidInjection.InjectionPressure)
	}

	// Pressure diffused outward but stays bounded by the source value.
	neighbor := sh.Dims.Index(3, 2, 2)
	if sh.Pressure[neighbor] <= 0 {
		t.Error("pressure did not diffuse to the neighbor voxel")
	}
	for v, p := range sh.Pressure {
		if p < 0 || p > cfg.FluidInjection.InjectionPressure+1e-9 {
			t.Fatalf("voxel %d pressure %g outside [0, P_inj]", v, p)
		}
	}

	// Saturation follows pressure and is clamped to [0,1].
	if sh.Saturation[center] < 0.9 {
		t.Errorf("source saturation %g, want near 1", sh.Saturation[center])
	}
	for v, s := range sh.Saturation {
		if s < 0 || s > 1 {
			t.Fatalf("voxel %d saturation %g outside [0,1]", v, s)
		}
	}
}

func TestSeriesSampling(t *testing.T) {
	cfg := testConfig()
	sh := testShared(4, 4, 4, cfg.VoxelPitch)
	e := newTestEngine(t, cfg, sh)

	out, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	// 20 steps sampled every 10: two samples.
	s := out.Series
	if len(s.Time) != 2 {
		t.Fatalf("samples = %d, want 2", len(s.Time))
	}
	if len(s.Pressure) != len(s.Time) || len(s.FlowRate) != len(s.Time) ||
		len(s.FractureVolume) != len(s.Time) || len(s.EnergyRate) != len(s.Time) {
		t.Error("series arrays have unequal lengths")
	}
	if s.Time[0] != 10 || s.Time[1] != 20 {
		t.Errorf("sample times %v, want [10 20]", s.Time)
	}
	if s.Pressure[0] <= 0 {
		t.Error("sampled injection-region pressure not positive")
	}
}

func TestBreakdownAndPropagation(t *testing.T) {
	cfg := testConfig()
	// K_I = ΔP·√(π·a) = 10·√(π·0.1) ≈ 5.6 MPa·√m, far above 0.1.
	cfg.FluidInjection.FractureToughness = 0.1
	sh := testShared(5, 5, 5, cfg.VoxelPitch)
	e := newTestEngine(t, cfg, sh)

	out, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if out.State != Completed {
		t.Errorf("state %v, want Completed", out.State)
	}
	if out.BreakdownPressure <= 0 {
		t.Fatal("no breakdown recorded")
	}
	if out.BreakdownTime != cfg.FluidInjection.TimeStep {
		t.Errorf("breakdown at t=%g, want first step", out.BreakdownTime)
	}
	if out.PropagationPressure <= 0 {
		t.Error("no propagation pressure averaged after breakdown")
	}

	fractured := 0
	wMin := cfg.FluidInjection.MinimumAperture
	wMax := cfg.VoxelPitch / 10
	for v, frac := range sh.Fractured {
		if !frac {
			continue
		}
		fractured++
		if ap := sh.Aperture[v]; ap < wMin || ap > wMax {
			t.Fatalf("voxel %d aperture %g outside [%g, %g]", v, ap, wMin, wMax)
		}
	}
	if fractured == 0 {
		t.Fatal("breakdown without fractured voxels")
	}
	if out.TotalFractureVolume <= 0 {
		t.Error("fracture volume not accumulated")
	}

	// The injection region belongs to the connected network.
	center := sh.Dims.Index(2, 2, 2)
	if !sh.Connected[center] {
		t.Error("injection voxel not connected")
	}
}

func TestFracturesNeverHeal(t *testing.T) {
	cfg := testConfig()
	cfg.FluidInjection.FractureToughness = 0.1
	sh := testShared(4, 4, 4, cfg.VoxelPitch)
	e := newTestEngine(t, cfg, sh)

	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	snapshot := make([]bool, len(sh.Fractured))
	copy(snapshot, sh.Fractured)

	// Continue stepping with the pressure source removed: flags persist.
	cfg2 := testConfig()
	cfg2.FluidInjection.FractureToughness = 0.1
	cfg2.FluidInjection.InjectionPressure = 0
	e2 := newTestEngine(t, cfg2, sh)
	if _, err := e2.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	for v, was := range snapshot {
		if was && !sh.Fractured[v] {
			t.Fatalf("voxel %d fracture flag cleared", v)
		}
	}
}

func TestBackgroundStaysDry(t *testing.T) {
	cfg := testConfig()
	sh := testShared(5, 5, 5, cfg.VoxelPitch)
	// Hollow out a corner region.
	d := sh.Dims
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				sh.Labels[d.Index(x, y, z)] = 0
			}
		}
	}
	e := newTestEngine(t, cfg, sh)
	if _, err := e.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	for v, label := range sh.Labels {
		if label == 0 && sh.Pressure[v] != 0 {
			t.Fatalf("background voxel %d pressurized to %g", v, sh.Pressure[v])
		}
	}
}

func TestRunCancellation(t *testing.T) {
	cfg := testConfig()
	sh := testShared(4, 4, 4, cfg.VoxelPitch)
	e := newTestEngine(t, cfg, sh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := e.Run(ctx, nil)
	if err == nil {
		t.Fatal("cancelled run returned no error")
	}
	if out == nil {
		t.Fatal("cancelled run returned no partial outcome")
	}
	if out.State != Cancelled {
		t.Errorf("state %v, want Cancelled", out.State)
	}
}

func TestRejectsOutOfDomainInjectionPoint(t *testing.T) {
	cfg := testConfig()
	cfg.FluidInjection.InjectionPoint = [3]int{10, 10, 10}
	sh := testShared(4, 4, 4, cfg.VoxelPitch)
	if _, err := NewEngine(cfg, sh, quietLogger()); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("out-of-domain injection point: got %v, want ErrInvalidConfig", err)
	}
}

func TestCoolingScalesWithTimeStep(t *testing.T) {
	// The extraction rate is per second of simulated time: one full step
	// and two half steps must cool a voxel by (nearly) the same amount.
	run := func(steps int, dt float64) float64 {
		cfg := testConfig()
		fl := &cfg.FluidInjection
		fl.Geothermal = true
		fl.InjectionTemp = 20
		sh := testShared(3, 3, 3, cfg.VoxelPitch)
		e := newTestEngine(t, cfg, sh)
		v := sh.Dims.Index(1, 1, 1)
		sh.Fractured[v] = true
		sh.Connected[v] = true
		sh.Temperature[v] = 120
		e.breakdown = true
		for i := 0; i < steps; i++ {
			e.extractEnergy(dt)
		}
		return sh.Temperature[v]
	}
	full := run(1, 1.0)
	halved := run(2, 0.5)
	if diff := math.Abs(full - halved); diff > 0.1 {
		t.Fatalf("cooling depends on step size: %g vs %g", full, halved)
	}
}

func TestGeothermal(t *testing.T) {
	cfg := testConfig()
	fl := &cfg.FluidInjection
	fl.FractureToughness = 0.1
	fl.Geothermal = true
	fl.InjectionTemp = 20
	fl.SurfaceTemp = 20
	fl.ThermalGradient = 30

	sh := testShared(4, 4, 6, cfg.VoxelPitch)
	e := newTestEngine(t, cfg, sh)
	out, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Deepest layer starts at surface + gradient * depth and can only be
	// cooled from there.
	d := sh.Dims
	deep := d.Index(0, 0, d.NZ-1)
	maxT := fl.SurfaceTemp + fl.ThermalGradient*float64(d.NZ-1)*cfg.VoxelPitch
	if sh.Temperature[deep] > maxT+1e-9 {
		t.Errorf("deep voxel temperature %g above initial %g", sh.Temperature[deep], maxT)
	}
	if sh.Temperature[deep] < fl.InjectionTemp {
		t.Errorf("deep voxel cooled below injection temperature: %g", sh.Temperature[deep])
	}

	if out.GeothermalPotential <= 0 {
		t.Error("no energy extracted from a fractured hot domain")
	}
	if out.AvgThermalGradient <= 0 || out.AvgThermalGradient > fl.ThermalGradient+1e-9 {
		t.Errorf("AvgThermalGradient = %g, want in (0, %g]", out.AvgThermalGradient, fl.ThermalGradient)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle:        "Idle",
		Injecting:   "Injecting",
		Propagating: "Propagating",
		Completed:   "Completed",
		Cancelled:   "Cancelled",
		State(99):   "Unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
