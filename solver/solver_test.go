package solver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"gonum.org/v1/exp/linsolve"
	"gonum.org/v1/gonum/mat"

	"github.com/geovox/voxfem/compute"
	"github.com/geovox/voxfem/config"
	"github.com/geovox/voxfem/grid"
	"github.com/geovox/voxfem/mesh"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fullLabels(nx, ny, nz int) *grid.LabelVolume {
	v := grid.NewLabelVolume(grid.Dims{NX: nx, NY: ny, NZ: nz})
	v.Fill(0, nx, 0, ny, 0, nz, 1)
	return v
}

func uniaxialConfig() config.Config {
	return config.Config{
		YoungsModulus: 50000,
		PoissonRatio:  0.25,
		Sigma1:        100,
		Loading:       config.Uniaxial,
		Criterion:     config.MohrCoulomb,
		Cohesion:      1000, // far from failure
		FrictionAngle: 30,
		VoxelPitch:    0.1,
		Tolerance:     1e-8,
		MaxIterations: 2000,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := uniaxialConfig()
	cfg.PoissonRatio = 0.7
	if _, err := New(fullLabels(2, 2, 2), cfg); err == nil {
		t.Fatal("invalid Poisson ratio accepted")
	}
}

func TestUniaxialCompressionAnalytic(t *testing.T) {
	labels := fullLabels(4, 4, 4)
	cfg := uniaxialConfig()
	s, err := New(labels, cfg,
		WithBackend(compute.NewCPU(2)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("solve did not converge: %v", res.Warnings)
	}

	// Homogeneous uniaxial compression: sigma_zz = -100 MPa everywhere
	// (tension-positive storage), lateral stresses free, and the axial
	// strain matches sigma/E.
	wantStrain := -cfg.Sigma1 / cfg.YoungsModulus
	f := res.Fields
	for v, label := range labels.Data {
		if label == 0 {
			continue
		}
		sv := f.StressAt(v)
		if math.Abs(sv[2]+cfg.Sigma1) > 1.0 {
			t.Fatalf("voxel %d sigma_zz = %g, want %g", v, sv[2], -cfg.Sigma1)
		}
		if math.Abs(sv[0]) > 1.0 || math.Abs(sv[1]) > 1.0 {
			t.Fatalf("voxel %d lateral stress (%g, %g) not free", v, sv[0], sv[1])
		}
		ez := f.Strain[6*v+2]
		if math.Abs(ez-wantStrain) > 0.02*math.Abs(wantStrain) {
			t.Fatalf("voxel %d strain_zz = %g, want %g", v, ez, wantStrain)
		}
		// Most compressive principal carries the axial load.
		if s3 := f.Principal[3*v+2]; math.Abs(s3+cfg.Sigma1) > 1.5 {
			t.Fatalf("voxel %d principal s3 = %g, want %g", v, s3, -cfg.Sigma1)
		}
	}

	if res.FailedVoxelCount != 0 {
		t.Errorf("stable scenario reports %d failed voxels", res.FailedVoxelCount)
	}
	if math.Abs(res.MeanStress+cfg.Sigma1/3) > 1.0 {
		t.Errorf("MeanStress = %g, want about %g", res.MeanStress, -cfg.Sigma1/3)
	}
	if math.Abs(res.VonMisesMean-cfg.Sigma1) > 2.0 {
		t.Errorf("VonMisesMean = %g, want about %g", res.VonMisesMean, cfg.Sigma1)
	}
	if len(res.MohrSamples) != 4 {
		t.Errorf("MohrSamples = %d, want 4", len(res.MohrSamples))
	}
	for _, ms := range res.MohrSamples {
		if ms.Radius < 0 {
			t.Errorf("sample %s has negative Mohr radius %g", ms.Name, ms.Radius)
		}
		if want := (ms.Sigma1 + ms.Sigma3) / 2; ms.Center != want {
			t.Errorf("sample %s center %g, want %g", ms.Name, ms.Center, want)
		}
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	if res.Iterations <= 0 {
		t.Error("iteration count not recorded")
	}
}

func TestTriaxialCompressionAnalytic(t *testing.T) {
	labels := fullLabels(10, 10, 10)
	cfg := uniaxialConfig()
	cfg.Loading = config.Triaxial
	cfg.Sigma1, cfg.Sigma2, cfg.Sigma3 = 100, 50, 20

	s, err := New(labels, cfg,
		WithBackend(compute.NewCPU(4)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("solve did not converge: %v", res.Warnings)
	}

	// Homogeneous triaxial state: sigma1 acts along z, sigma2 along x,
	// sigma3 along y, all compressive under tension-positive storage.
	f := res.Fields
	for v := range labels.Data {
		sv := f.StressAt(v)
		if math.Abs(sv[2]+cfg.Sigma1) > 1.5 {
			t.Fatalf("voxel %d sigma_zz = %g, want %g", v, sv[2], -cfg.Sigma1)
		}
		if math.Abs(sv[0]+cfg.Sigma2) > 1.5 {
			t.Fatalf("voxel %d sigma_xx = %g, want %g", v, sv[0], -cfg.Sigma2)
		}
		if math.Abs(sv[1]+cfg.Sigma3) > 1.5 {
			t.Fatalf("voxel %d sigma_yy = %g, want %g", v, sv[1], -cfg.Sigma3)
		}
		// Principals sort descending, so the least compressive stress
		// leads and the axial load lands in s3.
		if s1 := f.Principal[3*v]; math.Abs(s1+cfg.Sigma3) > 2.0 {
			t.Fatalf("voxel %d principal s1 = %g, want %g", v, s1, -cfg.Sigma3)
		}
		if s3 := f.Principal[3*v+2]; math.Abs(s3+cfg.Sigma1) > 2.0 {
			t.Fatalf("voxel %d principal s3 = %g, want %g", v, s3, -cfg.Sigma1)
		}
	}

	if res.FailedVoxelCount != 0 {
		t.Errorf("confined scenario reports %d failed voxels", res.FailedVoxelCount)
	}
	if res.FailedVoxelPercentage != 0 {
		t.Errorf("FailedVoxelPercentage = %g, want 0", res.FailedVoxelPercentage)
	}
	want := -(cfg.Sigma1 + cfg.Sigma2 + cfg.Sigma3) / 3
	if math.Abs(res.MeanStress-want) > 0.1*math.Abs(want) {
		t.Errorf("MeanStress = %g, want within 10%% of %g", res.MeanStress, want)
	}
}

func TestNewRejectsOutOfDomainInjectionPoint(t *testing.T) {
	cfg := uniaxialConfig()
	cfg.FluidInjection = config.Fluid{
		Enabled:           true,
		InjectionPressure: 10,
		InjectionRate:     0.001,
		InjectionRadius:   0.1,
		InjectionPoint:    [3]int{10, 10, 10},
		Permeability:      1e-15,
		Porosity:          0.1,
		Viscosity:         1e-3,
		Compressibility:   1e-9,
		TimeStep:          1,
		TotalTime:         20,
	}
	_, err := New(fullLabels(4, 4, 4), cfg, WithBackend(compute.NewCPU(1)))
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("out-of-domain injection point: got %v, want ErrInvalidConfig", err)
	}
}

func TestOverloadedDomainFailsEverywhere(t *testing.T) {
	labels := fullLabels(3, 3, 3)
	cfg := uniaxialConfig()
	cfg.Sigma1 = 500
	cfg.Cohesion = 10
	cfg.Damage = config.DamageExponential

	s, err := New(labels, cfg,
		WithBackend(compute.NewCPU(1)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("solve did not converge: %v", res.Warnings)
	}

	f := res.Fields
	for v, label := range labels.Data {
		if label == 0 {
			continue
		}
		if f.FailureIndex[v] < 1.0 {
			t.Fatalf("voxel %d index %g, want >= 1", v, f.FailureIndex[v])
		}
		if !f.Fractured[v] {
			t.Fatalf("voxel %d not flagged fractured", v)
		}
		if d := f.Damage[v]; d < 0.8 || d > 0.95 {
			t.Fatalf("voxel %d damage %g outside softening band", v, d)
		}
	}
	if res.FailedVoxelPercentage != 100 {
		t.Errorf("FailedVoxelPercentage = %g, want 100", res.FailedVoxelPercentage)
	}
}

func TestPlasticityAccumulates(t *testing.T) {
	labels := fullLabels(2, 2, 2)
	cfg := uniaxialConfig()
	cfg.Plasticity = true
	cfg.YieldStress = 50 // well below the 100 MPa von Mises state

	s, err := New(labels, cfg,
		WithBackend(compute.NewCPU(1)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	f := res.Fields
	if f.PlasticStrain == nil {
		t.Fatal("plastic strain not allocated")
	}
	for v, label := range labels.Data {
		if label == 0 {
			continue
		}
		if f.PlasticStrain[v] <= 0 {
			t.Fatalf("voxel %d accumulated no plastic strain", v)
		}
	}
	// The return mapping caps the corrected von Mises stress at yield.
	if res.VonMisesMax > cfg.YieldStress*1.01 {
		t.Errorf("VonMisesMax = %g exceeds yield %g", res.VonMisesMax, cfg.YieldStress)
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := New(fullLabels(3, 3, 3), uniaxialConfig(),
		WithBackend(compute.NewCPU(1)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(ctx); err == nil {
		t.Fatal("cancelled run returned no error")
	}
}

func TestProgressMonotonic(t *testing.T) {
	// The damage case forces the corrective re-solve, which reports in its
	// own band after the 90% post-processing checkpoint.
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"Stable", func(*config.Config) {}},
		{"DamageResolve", func(c *config.Config) {
			c.Sigma1 = 500
			c.Cohesion = 10
			c.Damage = config.DamageExponential
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := uniaxialConfig()
			tc.mutate(&cfg)
			var seen []float64
			s, err := New(fullLabels(3, 3, 3), cfg,
				WithBackend(compute.NewCPU(1)),
				WithLogger(quietLogger()),
				WithProgress(func(f float64) { seen = append(seen, f) }))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := s.Run(context.Background()); err != nil {
				t.Fatal(err)
			}

			if len(seen) < 2 {
				t.Fatalf("only %d progress reports", len(seen))
			}
			for i := 1; i < len(seen); i++ {
				if seen[i] < seen[i-1] {
					t.Fatalf("progress regressed: %g after %g", seen[i], seen[i-1])
				}
			}
			if seen[0] != 0 {
				t.Errorf("first report %g, want 0", seen[0])
			}
			if last := seen[len(seen)-1]; last != 1 {
				t.Errorf("final report %g, want 1", last)
			}
		})
	}
}

func TestBoundaryConditions(t *testing.T) {
	labels := fullLabels(3, 3, 2)
	cfg := uniaxialConfig()
	s, err := New(labels, cfg,
		WithBackend(compute.NewCPU(1)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	m, err := mesh.Build(labels, cfg.VoxelPitch)
	if err != nil {
		t.Fatal(err)
	}
	m.SetUniformMaterial(cfg.YoungsModulus, cfg.PoissonRatio)
	s.mesh = m
	s.csr = mesh.BuildCSR(m)
	s.prob = &compute.Problem{Mesh: m, CSR: s.csr, Layout: m.PartitionElements(1)}
	s.applyBoundary()

	// Roller counts: one constrained component per node on each minimum
	// face.
	nodesPerFace := (labels.Dims.NX + 1) * (labels.Dims.NY + 1)
	zFixed := 0
	for n := range m.Nodes {
		if s.prob.IsDirichlet[3*n+2] != 0 {
			zFixed++
		}
	}
	if zFixed != nodesPerFace {
		t.Errorf("z rollers on %d nodes, want %d", zFixed, nodesPerFace)
	}

	// Total axial force equals traction times loaded area, compressive.
	sumZ := 0.0
	for n := range m.Nodes {
		sumZ += s.prob.Force[3*n+2]
	}
	area := float64(labels.Dims.NX) * cfg.VoxelPitch * float64(labels.Dims.NY) * cfg.VoxelPitch
	if want := -cfg.Sigma1 * area; math.Abs(sumZ-want) > 1e-9 {
		t.Errorf("total z force = %g, want %g", sumZ, want)
	}

	// Uniaxial loading leaves the lateral faces traction free.
	for n := range m.Nodes {
		if s.prob.Force[3*n] != 0 || s.prob.Force[3*n+1] != 0 {
			t.Fatal("uniaxial loading applied lateral forces")
		}
	}
}

// csrOperator exposes the constrained stiffness matrix to gonum's iterative
// solvers: Dirichlet rows act as identity and Dirichlet columns are masked,
// which keeps the operator symmetric on the free subspace.
type csrOperator struct {
	csr *mesh.CSR
	dir []int8
}

func (m *csrOperator) MulVecTo(dst *mat.VecDense, _ bool, x mat.Vector) {
	n := len(m.dir)
	for row := 0; row < n; row++ {
		if m.dir[row] != 0 {
			dst.SetVec(row, x.AtVec(row))
			continue
		}
		sum := 0.0
		for s := m.csr.RowPtr[row]; s < m.csr.RowPtr[row+1]; s++ {
			col := m.csr.ColIdx[s]
			if m.dir[col] != 0 {
				continue
			}
			sum += m.csr.Values[s] * x.AtVec(int(col))
		}
		dst.SetVec(row, sum)
	}
}

func TestPCGMatchesGonumCG(t *testing.T) {
	labels := fullLabels(2, 2, 2)
	cfg := uniaxialConfig()
	s, err := New(labels, cfg,
		WithBackend(compute.NewCPU(1)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	m, err := mesh.Build(labels, cfg.VoxelPitch)
	if err != nil {
		t.Fatal(err)
	}
	m.SetUniformMaterial(cfg.YoungsModulus, cfg.PoissonRatio)
	s.mesh = m
	s.csr = mesh.BuildCSR(m)
	s.prob = &compute.Problem{Mesh: m, CSR: s.csr, Layout: m.PartitionElements(1)}
	s.applyBoundary()
	if err := s.backend.Init(s.prob); err != nil {
		t.Fatal(err)
	}
	if err := s.backend.AssembleStiffness(); err != nil {
		t.Fatal(err)
	}

	pcg, err := s.runPCG(context.Background(), solveProgressLo, solveProgressHi)
	if err != nil {
		t.Fatal(err)
	}
	if !pcg.Converged {
		t.Fatalf("pcg did not converge, residual %g", pcg.Residual)
	}
	u := make([]float64, m.NumDOFs)
	if err := s.backend.GetVector(compute.VecU, u); err != nil {
		t.Fatal(err)
	}

	// Reference solve of the same constrained system. The CPU backend
	// assembles directly into the shared CSR values.
	b := make([]float64, m.NumDOFs)
	for i, fv := range s.prob.Force {
		if s.prob.IsDirichlet[i] == 0 {
			b[i] = fv
		}
	}
	ref, err := linsolve.Iterative(
		&csrOperator{csr: s.csr, dir: s.prob.IsDirichlet},
		mat.NewVecDense(m.NumDOFs, b), &linsolve.CG{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	uMax := 0.0
	for _, v := range u {
		if a := math.Abs(v); a > uMax {
			uMax = a
		}
	}
	if uMax == 0 {
		t.Fatal("zero displacement solution")
	}
	for i := range u {
		if diff := math.Abs(u[i] - ref.X.AtVec(i)); diff > 1e-4*uMax {
			t.Fatalf("dof %d: pcg %g vs reference %g", i, u[i], ref.X.AtVec(i))
		}
	}
}

func TestRunWithFluidInjection(t *testing.T) {
	labels := fullLabels(4, 4, 4)
	cfg := uniaxialConfig()
	cfg.FluidInjection = config.Fluid{
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
		FractureToughness: 0.1,
	}

	s, err := New(labels, cfg,
		WithBackend(compute.NewCPU(1)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	f := res.Fields
	if f.Pressure == nil || f.Aperture == nil || f.Connected == nil {
		t.Fatal("fluid fields not allocated")
	}
	if res.BreakdownPressure <= 0 {
		t.Error("low-toughness injection produced no breakdown")
	}
	if res.TotalFractureVolume <= 0 {
		t.Error("no fracture volume reported")
	}
	if len(res.Series.Time) == 0 {
		t.Fatal("empty time series")
	}
	if len(res.Series.Pressure) != len(res.Series.Time) {
		t.Error("series arrays have unequal lengths")
	}
	if len(res.Segments) == 0 {
		t.Error("no fracture segments emitted")
	}
	for _, seg := range res.Segments {
		if seg.Aperture <= 0 {
			t.Fatal("segment with non-positive aperture")
		}
		if want := seg.Aperture * seg.Aperture / 12; math.Abs(seg.Permeability-want) > 1e-18 {
			t.Fatalf("segment permeability %g, want cubic-law %g", seg.Permeability, want)
		}
	}
}

func TestPartitionCount(t *testing.T) {
	cases := []struct {
		elems, want int
	}{
		{1, 1},
		{4096, 1},
		{8192, 2},
		{1 << 30, 64},
	}
	for _, c := range cases {
		if got := partitionCount(c.elems); got != c.want {
			t.Errorf("partitionCount(%d) = %d, want %d", c.elems, got, c.want)
		}
	}
}
