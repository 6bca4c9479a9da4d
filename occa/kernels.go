package occa

import "fmt"

// buildPreamble embeds the problem sizes as compile-time constants, the way
// OCCA @inner loop bounds must be known when the kernel is built.
func buildPreamble(numDOFs, nnz, numElems, numVox, npart, kpartMax int) string {
	return fmt.Sprintf(`
#define BLOCK 256
#define NUM_DOFS %d
#define DOF_BLOCKS %d
#define NNZ %d
#define NNZ_BLOCKS %d
#define NUM_ELEMS %d
#define NUM_VOX %d
#define NPART %d
#define KPART_MAX %d
#define SCATTER_EPS 1e-12
typedef double real_t;
`,
		numDOFs, (numDOFs+255)/256,
		nnz, (nnz+255)/256,
		numElems, numVox, npart, kpartMax)
}

// assemblePartialSource computes every element's 24×24 stiffness integral
// into the contributions buffer (no global conflicts; the gather kernel
// reduces per CSR slot afterwards). One partition per @outer iteration,
// elements padded to KPART_MAX per @inner so every partition runs the
// same trip count.
const assemblePartialSource = `
@kernel void assemblePartial(const int *partStart,
                             const int *partCount,
                             const int *conn,
                             const real_t *coords,
                             const real_t *emod,
                             const real_t *poisson,
                             real_t *contrib) {
  for (int part = 0; part < NPART; ++part; @outer) {
    for (int i = 0; i < KPART_MAX; ++i; @inner) {
      if (i < partCount[part]) {
        const int e = partStart[part] + i;

        real_t xe[8][3];
        for (int n = 0; n < 8; ++n) {
          const int node = conn[8 * e + n];
          xe[n][0] = coords[3 * node + 0];
          xe[n][1] = coords[3 * node + 1];
          xe[n][2] = coords[3 * node + 2];
        }

        const real_t refs[8][3] = {
          {-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
          {-1, -1, 1},  {1, -1, 1},  {1, 1, 1},  {-1, 1, 1}};
        const real_t g = 0.5773502691896258;

        const real_t E = emod[e];
        const real_t nu = poisson[e];
        const real_t f = E / ((1 + nu) * (1 - 2 * nu));
        const real_t dDiag = f * (1 - nu);
        const real_t dOff = f * nu;
        const real_t dShear = E / (2 * (1 + nu));

        real_t ke[24][24];
        for (int a = 0; a < 24; ++a)
          for (int b = 0; b < 24; ++b)
            ke[a][b] = 0.0;

        for (int gp = 0; gp < 8; ++gp) {
          const real_t xi   = (gp & 1) ? g : -g;
          const real_t eta  = (gp & 2) ? g : -g;
          const real_t zeta = (gp & 4) ? g : -g;

          real_t dN[8][3];
          for (int n = 0; n < 8; ++n) {
            dN[n][0] = 0.125 * refs[n][0] * (1 + eta * refs[n][1]) * (1 + zeta * refs[n][2]);
            dN[n][1] = 0.125 * refs[n][1] * (1 + xi * refs[n][0]) * (1 + zeta * refs[n][2]);
            dN[n][2] = 0.125 * refs[n][2] * (1 + xi * refs[n][0]) * (1 + eta * refs[n][1]);
          }

          real_t J[3][3];
          for (int a = 0; a < 3; ++a)
            for (int b = 0; b < 3; ++b) {
              real_t s = 0.0;
              for (int n = 0; n < 8; ++n) s += dN[n][a] * xe[n][b];
              J[a][b] = s;
            }

          const real_t c00 = J[1][1] * J[2][2] - J[1][2] * J[2][1];
          const real_t c01 = J[1][2] * J[2][0] - J[1][0] * J[2][2];
          const real_t c02 = J[1][0] * J[2][1] - J[1][1] * J[2][0];
          const real_t det = J[0][0] * c00 + J[0][1] * c01 + J[0][2] * c02;
          if (det > 0) {
            const real_t id = 1.0 / det;
            real_t inv[3][3];
            inv[0][0] = c00 * id;
            inv[1][0] = c01 * id;
            inv[2][0] = c02 * id;
            inv[0][1] = (J[0][2] * J[2][1] - J[0][1] * J[2][2]) * id;
            inv[1][1] = (J[0][0] * J[2][2] - J[0][2] * J[2][0]) * id;
            inv[2][1] = (J[0][1] * J[2][0] - J[0][0] * J[2][1]) * id;
            inv[0][2] = (J[0][1] * J[1][2] - J[0][2] * J[1][1]) * id;
            inv[1][2] = (J[0][2] * J[1][0] - J[0][0] * J[1][2]) * id;
            inv[2][2] = (J[0][0] * J[1][1] - J[0][1] * J[1][0]) * id;

            real_t B[6][24];
            for (int r = 0; r < 6; ++r)
              for (int c = 0; c < 24; ++c)
                B[r][c] = 0.0;
            for (int n = 0; n < 8; ++n) {
              const real_t dx = inv[0][0] * dN[n][0] + inv[0][1] * dN[n][1] + inv[0][2] * dN[n][2];
              const real_t dy = inv[1][0] * dN[n][0] + inv[1][1] * dN[n][1] + inv[1][2] * dN[n][2];
              const real_t dz = inv[2][0] * dN[n][0] + inv[2][1] * dN[n][1] + inv[2][2] * dN[n][2];
              B[0][3 * n + 0] = dx;
              B[1][3 * n + 1] = dy;
              B[2][3 * n + 2] = dz;
              B[3][3 * n + 0] = dy;
              B[3][3 * n + 1] = dx;
              B[4][3 * n + 1] = dz;
              B[4][3 * n + 2] = dy;
              B[5][3 * n + 0] = dz;
              B[5][3 * n + 2] = dx;
            }

            for (int a = 0; a < 24; ++a) {
              real_t db[6];
              db[0] = dDiag * B[0][a] + dOff * (B[1][a] + B[2][a]);
              db[1] = dDiag * B[1][a] + dOff * (B[0][a] + B[2][a]);
              db[2] = dDiag * B[2][a] + dOff * (B[0][a] + B[1][a]);
              db[3] = dShear * B[3][a];
              db[4] = dShear * B[4][a];
              db[5] = dShear * B[5][a];
              for (int b = 0; b < 24; ++b) {
                real_t s = 0.0;
                for (int r = 0; r < 6; ++r) s += B[r][b] * db[r];
                ke[b][a] += s * det;
              }
            }
          }
        }

        for (int a = 0; a < 24; ++a)
          for (int b = 0; b < 24; ++b)
            contrib[576 * e + 24 * a + b] = ke[a][b];
      }
    }
  }
}
`

// gatherAddSource reduces the contribution lists into the CSR values, one
// slot per thread: the conflict-free alternative to atomic scatter-adds.
const gatherAddSource = `
@kernel void gatherAdd(const int *gatherPtr,
                       const int *gatherIdx,
                       const real_t *contrib,
                       real_t *values) {
  for (int blk = 0; blk < NNZ_BLOCKS; ++blk; @outer) {
    for (int t = 0; t < BLOCK; ++t; @inner) {
      const int s = blk * BLOCK + t;
      if (s < NNZ) {
        real_t sum = 0.0;
        for (int g = gatherPtr[s]; g < gatherPtr[s + 1]; ++g) {
          const real_t v = contrib[gatherIdx[g]];
          if (v > SCATTER_EPS || v < -SCATTER_EPS) sum += v;
        }
        values[s] = sum;
      }
    }
  }
}
`

// spmvSource is the CSR matrix-vector product with Dirichlet rows passed
// through as identity.
const spmvSource = `
@kernel void spmv(const int *rowPtr,
                  const int *colIdx,
                  const real_t *values,
                  const int *isDir,
                  const real_t *x,
                  real_t *y) {
  for (int blk = 0; blk < DOF_BLOCKS; ++blk; @outer) {
    for (int t = 0; t < BLOCK; ++t; @inner) {
      const int row = blk * BLOCK + t;
      if (row < NUM_DOFS) {
        if (isDir[row]) {
          y[row] = x[row];
        } else {
          real_t sum = 0.0;
          for (int s = rowPtr[row]; s < rowPtr[row + 1]; ++s)
            sum += values[s] * x[colIdx[s]];
          y[row] = sum;
        }
      }
    }
  }
}
`

// dotPartialSource reduces each block into one partial sum; the host adds
// the partials.
const dotPartialSource = `
@kernel void dotPartial(const real_t *a,
                        const real_t *b,
                        real_t *partial) {
  for (int blk = 0; blk < DOF_BLOCKS; ++blk; @outer) {
    @shared real_t s[BLOCK];
    for (int t = 0; t < BLOCK; ++t; @inner) {
      const int i = blk * BLOCK + t;
      s[t] = (i < NUM_DOFS) ? a[i] * b[i] : 0.0;
    }
    for (int t = 0; t < BLOCK; ++t; @inner) {
      if (t == 0) {
        real_t sum = 0.0;
        for (int k = 0; k < BLOCK; ++k) sum += s[k];
        partial[blk] = sum;
      }
    }
  }
}
`

const axpySource = `
@kernel void axpy(const real_t alpha,
                  const real_t *x,
                  real_t *y) {
  for (int blk = 0; blk < DOF_BLOCKS; ++blk; @outer) {
    for (int t = 0; t < BLOCK; ++t; @inner) {
      const int i = blk * BLOCK + t;
      if (i < NUM_DOFS) y[i] += alpha * x[i];
    }
  }
}
`

const xpbySource = `
@kernel void xpby(const real_t beta,
                  const real_t *x,
                  real_t *y) {
  for (int blk = 0; blk < DOF_BLOCKS; ++blk; @outer) {
    for (int t = 0; t < BLOCK; ++t; @inner) {
      const int i = blk * BLOCK + t;
      if (i < NUM_DOFS) y[i] = x[i] + beta * y[i];
    }
  }
}
`

const hadamardSource = `
@kernel void hadamard(const real_t *a,
                      const real_t *b,
                      real_t *dst) {
  for (int blk = 0; blk < DOF_BLOCKS; ++blk; @outer) {
    for (int t = 0; t < BLOCK; ++t; @inner) {
      const int i = blk * BLOCK + t;
      if (i < NUM_DOFS) dst[i] = a[i] * b[i];
    }
  }
}
`

const syncDirichletSource = `
@kernel void syncDirichlet(const int *isDir,
                           const real_t *dval,
                           real_t *f) {
  for (int blk = 0; blk < DOF_BLOCKS; ++blk; @outer) {
    for (int t = 0; t < BLOCK; ++t; @inner) {
      const int i = blk * BLOCK + t;
      if (i < NUM_DOFS && isDir[i]) f[i] = dval[i];
    }
  }
}
`

// buildPrecondSource inverts the CSR diagonal with the 1.0 fallback on
// non-positive pivots.
const buildPrecondSource = `
@kernel void buildPrecond(const int *diagSlot,
                          const real_t *values,
                          real_t *minv) {
  for (int blk = 0; blk < DOF_BLOCKS; ++blk; @outer) {
    for (int t = 0; t < BLOCK; ++t; @inner) {
      const int i = blk * BLOCK + t;
      if (i < NUM_DOFS) {
        const int s = diagSlot[i];
        const real_t d = (s >= 0) ? values[s] : 0.0;
        minv[i] = (d > 0.0) ? (1.0 / d) : 1.0;
      }
    }
  }
}
`

// recoverStressSource evaluates strain and stress at each element centroid
// and paints them onto the element's voxel. Overlaps resolve by last write.
const recoverStressSource = `
@kernel void recoverStress(const int *partStart,
                           const int *partCount,
                           const int *conn,
                           const real_t *coords,
                           const real_t *emod,
                           const real_t *poisson,
                           const int *elemVoxel,
                           const real_t *u,
                           real_t *stress,
                           real_t *strain) {
  for (int part = 0; part < NPART; ++part; @outer) {
    for (int i = 0; i < KPART_MAX; ++i; @inner) {
      if (i < partCount[part]) {
        const int e = partStart[part] + i;

        const real_t refs[8][3] = {
          {-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
          {-1, -1, 1},  {1, -1, 1},  {1, 1, 1},  {-1, 1, 1}};

        real_t xe[8][3];
        real_t ue[24];
        for (int n = 0; n < 8; ++n) {
          const int node = conn[8 * e + n];
          xe[n][0] = coords[3 * node + 0];
          xe[n][1] = coords[3 * node + 1];
          xe[n][2] = coords[3 * node + 2];
          ue[3 * n + 0] = u[3 * node + 0];
          ue[3 * n + 1] = u[3 * node + 1];
          ue[3 * n + 2] = u[3 * node + 2];
        }

        real_t dN[8][3];
        for (int n = 0; n < 8; ++n) {
          dN[n][0] = 0.125 * refs[n][0];
          dN[n][1] = 0.125 * refs[n][1];
          dN[n][2] = 0.125 * refs[n][2];
        }

        real_t J[3][3];
        for (int a = 0; a < 3; ++a)
          for (int b = 0; b < 3; ++b) {
            real_t s = 0.0;
            for (int n = 0; n < 8; ++n) s += dN[n][a] * xe[n][b];
            J[a][b] = s;
          }

        const real_t c00 = J[1][1] * J[2][2] - J[1][2] * J[2][1];
        const real_t c01 = J[1][2] * J[2][0] - J[1][0] * J[2][2];
        const real_t c02 = J[1][0] * J[2][1] - J[1][1] * J[2][0];
        const real_t det = J[0][0] * c00 + J[0][1] * c01 + J[0][2] * c02;
        if (det > 0) {
          const real_t id = 1.0 / det;
          real_t inv[3][3];
          inv[0][0] = c00 * id;
          inv[1][0] = c01 * id;
          inv[2][0] = c02 * id;
          inv[0][1] = (J[0][2] * J[2][1] - J[0][1] * J[2][2]) * id;
          inv[1][1] = (J[0][0] * J[2][2] - J[0][2] * J[2][0]) * id;
          inv[2][1] = (J[0][1] * J[2][0] - J[0][0] * J[2][1]) * id;
          inv[0][2] = (J[0][1] * J[1][2] - J[0][2] * J[1][1]) * id;
          inv[1][2] = (J[0][2] * J[1][0] - J[0][0] * J[1][2]) * id;
          inv[2][2] = (J[0][0] * J[1][1] - J[0][1] * J[1][0]) * id;

          real_t eps[6];
          for (int r = 0; r < 6; ++r) eps[r] = 0.0;
          for (int n = 0; n < 8; ++n) {
            const real_t dx = inv[0][0] * dN[n][0] + inv[0][1] * dN[n][1] + inv[0][2] * dN[n][2];
            const real_t dy = inv[1][0] * dN[n][0] + inv[1][1] * dN[n][1] + inv[1][2] * dN[n][2];
            const real_t dz = inv[2][0] * dN[n][0] + inv[2][1] * dN[n][1] + inv[2][2] * dN[n][2];
            eps[0] += dx * ue[3 * n + 0];
            eps[1] += dy * ue[3 * n + 1];
            eps[2] += dz * ue[3 * n + 2];
            eps[3] += dy * ue[3 * n + 0] + dx * ue[3 * n + 1];
            eps[4] += dz * ue[3 * n + 1] + dy * ue[3 * n + 2];
            eps[5] += dz * ue[3 * n + 0] + dx * ue[3 * n + 2];
          }

          const real_t E = emod[e];
          const real_t nu = poisson[e];
          const real_t f = E / ((1 + nu) * (1 - 2 * nu));
          const real_t dDiag = f * (1 - nu);
          const real_t dOff = f * nu;
          const real_t dShear = E / (2 * (1 + nu));

          const int vox = elemVoxel[e];
          stress[6 * vox + 0] = dDiag * eps[0] + dOff * (eps[1] + eps[2]);
          stress[6 * vox + 1] = dDiag * eps[1] + dOff * (eps[0] + eps[2]);
          stress[6 * vox + 2] = dDiag * eps[2] + dOff * (eps[0] + eps[1]);
          stress[6 * vox + 3] = dShear * eps[3];
          stress[6 * vox + 4] = dShear * eps[4];
          stress[6 * vox + 5] = dShear * eps[5];
          for (int r = 0; r < 6; ++r) strain[6 * vox + r] = eps[r];
        }
      }
    }
  }
}
`
