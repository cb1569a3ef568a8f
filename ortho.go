package glmpca

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/glmpca/pkg/errors"
)

// orthogonalize post-processes the raw optimizer output into a canonical
// representation. The optimizer's latent slices are only identified up to
// an invertible transformation, so this step:
//
//  1. residualizes the factors U against the covariates X, folding the
//     explained part into the coefficients A (the total linear predictor is
//     unchanged);
//  2. if feature covariates are present, residualizes the loadings V
//     against Z the same way, folding into G;
//  3. rotates via a thin SVD so the loadings are orthonormal and the
//     factors absorb the singular values (the PCA identifiability
//     convention);
//  4. orders the latent dimensions by decreasing factor column norm, so the
//     first dimension explains the most variance.
//
// U is N x L, V is J x L, X is N x Ko (intercept included), A is J x Ko,
// Z is J x Kf and G is N x Kf (both nil when there are no feature
// covariates). Results are stored on the receiver.
func (m *GLMPCA) orthogonalize(U, V, A, X *mat.Dense, G, Z *mat.Dense) error {
	const op = "GLMPCA.ortho"
	N, L := U.Dims()
	J, _ := V.Dims()

	// Least-squares coefficients of U on X; at minimum this centers the
	// factors.
	var betaX mat.Dense
	if err := betaX.Solve(X, U); err != nil {
		return errors.Wrap(err, op+": least squares of factors on covariates failed")
	}
	factors := mat.NewDense(N, L, nil)
	var fittedX mat.Dense
	fittedX.Mul(X, &betaX)
	factors.Sub(U, &fittedX)

	var dA mat.Dense
	dA.Mul(V, betaX.T())
	A.Add(A, &dA)

	loadings := V
	if G != nil {
		var betaZ mat.Dense
		if err := betaZ.Solve(Z, V); err != nil {
			return errors.Wrap(err, op+": least squares of loadings on feature covariates failed")
		}
		resid := mat.NewDense(J, L, nil)
		var fittedZ mat.Dense
		fittedZ.Mul(Z, &betaZ)
		resid.Sub(V, &fittedZ)
		loadings = resid

		var dG mat.Dense
		dG.Mul(factors, betaZ.T())
		G.Add(G, &dG)
	}

	// Rotate so the loadings are orthonormal and the factors carry the
	// singular spectrum.
	var svd mat.SVD
	if ok := svd.Factorize(loadings, mat.SVDThin); !ok {
		return errors.New(op + ": SVD of loadings failed to converge")
	}
	var left, right mat.Dense
	svd.UTo(&left)
	svd.VTo(&right)
	d := svd.Values(nil)

	var rotated mat.Dense
	rotated.Mul(factors, &right)
	for k := range d {
		for i := 0; i < N; i++ {
			rotated.Set(i, k, rotated.At(i, k)*d[k])
		}
	}

	// Decreasing L2 norm of the factor columns, matching PCA ordering.
	_, nc := rotated.Dims()
	order := make([]int, nc)
	norms := make([]float64, nc)
	for k := 0; k < nc; k++ {
		order[k] = k
		norms[k] = floats.Norm(mat.Col(nil, k, &rotated), 2)
	}
	sort.SliceStable(order, func(a, b int) bool { return norms[order[a]] > norms[order[b]] })

	m.factors = permuteColumns(&rotated, order)
	m.loadings = permuteColumns(&left, order)
	m.coefX = A
	m.coefZ = G
	return nil
}

// permuteColumns returns a copy of a with columns arranged per order.
func permuteColumns(a *mat.Dense, order []int) *mat.Dense {
	r, _ := a.Dims()
	out := mat.NewDense(r, len(order), nil)
	for dst, src := range order {
		for i := 0; i < r; i++ {
			out.Set(i, dst, a.At(i, src))
		}
	}
	return out
}
