package solver

import (
	"context"
	"math"

	"github.com/geovox/voxfem/compute"
)

// pcgResult reports the outcome of one linear solve.
type pcgResult struct {
	Converged  bool
	Iterations int
	Residual   float64
}

// Progress bands of the linear solves within the run pipeline: the primary
// solve and the damage-corrected re-solve, which runs after post-processing
// has already reported 90%.
const (
	solveProgressLo = 0.35
	solveProgressHi = 0.75

	resolveProgressLo = 0.90
	resolveProgressHi = 0.92
)

// runPCG solves K·u = f by Jacobi-preconditioned conjugate gradient. Every
// step is a kernel launch on the backend; only the reduced dot-product
// scalars drive the host-side control flow here. Non-convergence at the
// iteration cap is reported, not treated as an error. Cancellation is
// checked every iteration; progress reported every 10 into [progLo,progHi].
func (s *Solver) runPCG(ctx context.Context, progLo, progHi float64) (pcgResult, error) {
	be := s.backend
	tol := s.cfg.EffectiveTolerance()
	maxIter := s.cfg.EffectiveMaxIterations()

	zero := make([]float64, s.mesh.NumDOFs)
	if err := be.SetVector(compute.VecU, zero); err != nil {
		return pcgResult{}, err
	}
	if err := be.SetVector(compute.VecF, s.prob.Force); err != nil {
		return pcgResult{}, err
	}
	if err := be.SyncDirichlet(); err != nil {
		return pcgResult{}, err
	}
	if err := be.BuildPreconditioner(); err != nil {
		return pcgResult{}, err
	}

	// u = 0, so r = f.
	f := make([]float64, s.mesh.NumDOFs)
	if err := be.GetVector(compute.VecF, f); err != nil {
		return pcgResult{}, err
	}
	if err := be.SetVector(compute.VecR, f); err != nil {
		return pcgResult{}, err
	}
	if err := be.PrecondApply(compute.VecR, compute.VecZ); err != nil {
		return pcgResult{}, err
	}
	if err := be.SetVector(compute.VecP, zero); err != nil {
		return pcgResult{}, err
	}
	if err := be.Xpby(compute.VecZ, 0, compute.VecP); err != nil {
		return pcgResult{}, err
	}

	rho, err := be.Dot(compute.VecR, compute.VecZ)
	if err != nil {
		return pcgResult{}, err
	}
	rho0 := rho
	if rho0 <= 0 {
		// Zero right-hand side: u = 0 is the exact solution.
		return pcgResult{Converged: true}, nil
	}

	res := pcgResult{}
	for it := 1; it <= maxIter; it++ {
		if err := ctx.Err(); err != nil {
			res.Iterations = it - 1
			return res, err
		}

		if err := be.SpMV(compute.VecP, compute.VecQ); err != nil {
			return res, err
		}
		pq, err := be.Dot(compute.VecP, compute.VecQ)
		if err != nil {
			return res, err
		}
		if pq <= 0 {
			// Lost positive definiteness, keep the best iterate.
			res.Iterations = it - 1
			s.log.Warn("pcg: non-positive curvature, stopping early", "iteration", it)
			return res, nil
		}
		alpha := rho / pq
		if err := be.Axpy(alpha, compute.VecP, compute.VecU); err != nil {
			return res, err
		}
		if err := be.Axpy(-alpha, compute.VecQ, compute.VecR); err != nil {
			return res, err
		}

		rr, err := be.Dot(compute.VecR, compute.VecR)
		if err != nil {
			return res, err
		}
		res.Iterations = it
		res.Residual = math.Sqrt(rr) / math.Sqrt(rho0)
		if res.Residual < tol {
			res.Converged = true
			break
		}

		if err := be.PrecondApply(compute.VecR, compute.VecZ); err != nil {
			return res, err
		}
		rhoNew, err := be.Dot(compute.VecR, compute.VecZ)
		if err != nil {
			return res, err
		}
		beta := rhoNew / rho
		if err := be.Xpby(compute.VecZ, beta, compute.VecP); err != nil {
			return res, err
		}
		rho = rhoNew

		if it%10 == 0 {
			frac := float64(it) / float64(maxIter)
			s.reportProgress(progLo + (progHi-progLo)*frac)
			s.log.Debug("pcg iteration", "iteration", it, "residual", res.Residual)
		}
	}
	s.reportProgress(progHi)
	return res, nil
}
