package glmpca

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/glmpca/core"
	"github.com/YuminosukeSato/glmpca/core/model"
	"github.com/YuminosukeSato/glmpca/pkg/errors"
	"github.com/YuminosukeSato/glmpca/pkg/log"
)

// GLMPCA is a dimension reducer in the sense of the core interfaces.
var _ core.DimensionReducer = (*GLMPCA)(nil)

// GLMPCA is the generalized PCA estimator for count data.
//
// Fit expects Y with features as rows and observations as columns. The
// fitted factors have one row per observation and one column per latent
// dimension, analogous to principal component scores; the loadings have one
// row per feature.
//
// A GLMPCA instance must not be shared between concurrent Fit calls: the
// factor and loading matrices are mutated in place during optimization.
type GLMPCA struct {
	model.BaseEstimator

	// Hyperparameters
	nComponents int        // number of latent dimensions L
	family      FamilyName // likelihood family
	maxIter     int        // maximum number of iterations
	eps         float64    // relative convergence tolerance on the deviance
	penalty     float64    // L2 penalty on the latent dimensions
	verbose     bool       // per-iteration deviance logging
	nbTheta     float64    // initial negative binomial dispersion
	randomState int64      // random seed, -1 for time-based

	// Optional warm start
	initFactors  *mat.Dense
	initLoadings *mat.Dense

	// Fitted parameters
	factors  *mat.Dense // N x L
	loadings *mat.Dense // J x L
	coefX    *mat.Dense // J x Ko coefficients of X (intercept first)
	coefZ    *mat.Dense // N x Kf coefficients of Z, nil without Z
	dev      []float64  // deviance trace, one entry per completed iteration
	gf       *GlmpcaFamily

	// Internal state
	rng    *rand.Rand
	logger log.Logger
}

// Option is a functional option for GLMPCA.
type Option func(*GLMPCA)

// WithNComponents sets the number of latent dimensions.
func WithNComponents(n int) Option {
	return func(m *GLMPCA) { m.nComponents = n }
}

// WithFamily sets the likelihood family.
func WithFamily(f FamilyName) Option {
	return func(m *GLMPCA) { m.family = f }
}

// WithMaxIter sets the maximum number of iterations.
func WithMaxIter(maxIter int) Option {
	return func(m *GLMPCA) { m.maxIter = maxIter }
}

// WithTol sets the relative convergence tolerance on the deviance.
func WithTol(eps float64) Option {
	return func(m *GLMPCA) { m.eps = eps }
}

// WithPenalty sets the L2 penalty applied to the latent dimensions.
// Regression coefficients are never penalized. Increasing the penalty
// improves numerical stability at some cost in fit.
func WithPenalty(penalty float64) Option {
	return func(m *GLMPCA) { m.penalty = penalty }
}

// WithVerbose enables per-iteration deviance logging.
func WithVerbose(verbose bool) Option {
	return func(m *GLMPCA) { m.verbose = verbose }
}

// WithNBTheta sets the initial negative binomial dispersion. Smaller values
// mean more dispersion; as theta goes to infinity the model approaches
// Poisson. Convergence requires starting large.
func WithNBTheta(theta float64) Option {
	return func(m *GLMPCA) { m.nbTheta = theta }
}

// WithRandomState sets the random seed for reproducible initialization.
// Negative values seed from the current time.
func WithRandomState(seed int64) Option {
	return func(m *GLMPCA) {
		m.randomState = seed
		if seed >= 0 {
			m.rng = rand.New(rand.NewSource(seed))
		}
	}
}

// WithInitFactors supplies a warm start for the latent factors. Only the
// first min(nComponents, provided) columns are used.
func WithInitFactors(factors *mat.Dense) Option {
	return func(m *GLMPCA) { m.initFactors = factors }
}

// WithInitLoadings supplies a warm start for the latent loadings. Only the
// first min(nComponents, provided) columns are used.
func WithInitLoadings(loadings *mat.Dense) Option {
	return func(m *GLMPCA) { m.initLoadings = loadings }
}

// WithLogger sets the logger used for verbose output.
func WithLogger(logger log.Logger) Option {
	return func(m *GLMPCA) { m.logger = logger }
}

// NewGLMPCA creates a GLMPCA estimator with the given options. Defaults:
// 1 component, Poisson family, 1000 iterations, tolerance 1e-4, penalty 1,
// initial nb_theta 100.
func NewGLMPCA(opts ...Option) *GLMPCA {
	m := &GLMPCA{
		nComponents: 1,
		family:      Poisson,
		maxIter:     1000,
		eps:         1e-4,
		penalty:     1,
		verbose:     false,
		nbTheta:     100,
		randomState: -1,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m.logger == nil {
		m.logger = log.GetLoggerWithName("GLMPCA")
	}

	return m
}

// Fit runs GLM-PCA on the count matrix Y (features by observations) with no
// covariates and default size factors.
func (m *GLMPCA) Fit(Y mat.Matrix) error {
	return m.FitWithCovariates(Y, nil, nil, nil)
}

// FitWithCovariates runs GLM-PCA on Y with optional observation covariates
// X (one row per observation; any constant column is removed because an
// intercept is always included), optional feature covariates Z (one row per
// feature), and an optional size-factor vector sz (one entry per
// observation, used by the poi and nb families in place of total counts).
func (m *GLMPCA) FitWithCovariates(Y mat.Matrix, X, Z mat.Matrix, sz []float64) error {
	const op = "GLMPCA.Fit"

	if m.nComponents < 1 {
		return errors.NewConfigurationError("n_components", m.nComponents)
	}
	if m.maxIter < 1 {
		return errors.NewConfigurationError("max_iter", m.maxIter)
	}
	if m.eps <= 0 {
		return errors.NewConfigurationError("eps", m.eps)
	}
	if m.penalty < 0 {
		return errors.NewConfigurationError("penalty", m.penalty)
	}

	gf, err := NewGlmpcaFamily(m.family, m.nbTheta)
	if err != nil {
		return err
	}

	Yd := mat.DenseCopyOf(Y)
	J, N := Yd.Dims()
	L := m.nComponents

	if err := validateCounts(op, Yd, m.family); err != nil {
		return err
	}

	// Covariate preprocessing. An intercept column is always forced, so any
	// constant column of X must go to avoid collinearity.
	var Xd *mat.Dense
	if X != nil {
		xr, _ := X.Dims()
		if xr != N {
			return errors.NewDimensionError(op, N, xr, 0)
		}
		Xd = removeIntercept(X)
	} else {
		Xd = mat.NewDense(N, 0, nil)
	}
	_, kx := Xd.Dims()
	Ko := kx + 1

	var Zd *mat.Dense
	if Z != nil {
		zr, _ := Z.Dims()
		if zr != J {
			return errors.NewDimensionError(op, J, zr, 0)
		}
		Zd = mat.DenseCopyOf(Z)
	} else {
		Zd = mat.NewDense(J, 0, nil)
	}
	_, Kf := Zd.Dims()

	if sz != nil && len(sz) != N {
		return errors.NewDimensionError(op, N, len(sz), 1)
	}

	// Column index groups. lid are the penalized latent columns; uid and
	// vid are the columns of U and V subject to optimization. The groups
	// are fixed for the whole fit.
	lid := make([]int, L)
	for i := range lid {
		lid[i] = Ko + Kf + i
	}
	uid := make([]int, Kf+L)
	for i := range uid {
		uid[i] = Ko + i
	}
	vid := make([]int, 0, Ko+L)
	for k := 0; k < Ko; k++ {
		vid = append(vid, k)
	}
	vid = append(vid, lid...)
	Ku := len(uid)
	Kv := len(vid)

	if err := gf.Initialize(Yd, sz); err != nil {
		return err
	}

	U, err := m.initFactorMatrix(N, Ko, Kf, Xd, Ku)
	if err != nil {
		return err
	}
	V, err := m.initLoadingMatrix(J, Ko, Kf, Zd, Kv, gf.Intercepts())
	if err != nil {
		return err
	}

	if m.verbose {
		m.logger.Info("starting GLM-PCA fit",
			log.OperationKey, "fit",
			log.FamilyKey, string(m.family),
			log.FeaturesKey, J,
			log.SamplesKey, N,
			log.ComponentsKey, L)
	}

	inLid := make(map[int]bool, L)
	for _, k := range lid {
		inLid[k] = true
	}

	dev := make([]float64, 0, m.maxIter)
	nbTheta := m.nbTheta
	converged := false

	for t := 0; t < m.maxIter; t++ {
		R := gf.LinearPredictor(U, V)
		d := gf.Deviance(Yd, R)
		if !isFinite(d) {
			return errors.NewNumericalDivergenceError(op, t, d)
		}
		dev = append(dev, d)

		if t > 4 && math.Abs(dev[t]-dev[t-1])/(0.1+math.Abs(dev[t-1])) < m.eps {
			converged = true
			break
		}

		if m.verbose {
			fields := []any{
				log.OperationKey, "fit",
				log.IterationKey, t,
				log.DevianceKey, d,
			}
			if m.family == NegativeBinomial {
				fields = append(fields, log.ThetaKey, nbTheta)
			}
			m.logger.Info("iteration", fields...)
		}

		// Gauss-Seidel sweep: every loading column, then every factor
		// column, with the score and information recomputed before each
		// single-column update. The ordering is load-bearing; updates
		// within a sweep see each other.
		for _, k := range vid {
			updateLoadingColumn(gf, Yd, U, V, k, m.penalty, inLid[k])
		}
		for _, k := range uid {
			updateFactorColumn(gf, Yd, U, V, k, m.penalty, inLid[k])
		}

		if m.family == NegativeBinomial {
			M := gf.Mean(gf.LinearPredictor(U, V))
			nbTheta = estimateNBTheta(Yd, M, nbTheta)
			if err := errors.CheckScalar(op+".nb_theta", nbTheta, t); err != nil {
				return err
			}
			if err := gf.Refresh(Yd, sz, nbTheta); err != nil {
				return err
			}
		}
	}

	if !converged {
		errors.Warn(errors.NewConvergenceWarning("GLMPCA", m.maxIter,
			"deviance still changing; consider increasing max_iter or the penalty"))
	}

	// Postprocessing: pull out regression coefficients, restore the forced
	// intercept column of X, and orthogonalize the latent slices.
	var G *mat.Dense
	if Kf > 0 {
		G = copyColumns(U, Ko, Ko+Kf)
	}
	Xfull := mat.NewDense(N, Ko, nil)
	for i := 0; i < N; i++ {
		Xfull.Set(i, 0, 1)
		for k := 0; k < kx; k++ {
			Xfull.Set(i, k+1, Xd.At(i, k))
		}
	}
	A := copyColumns(V, 0, Ko)
	Ulat := copyColumns(U, Ko+Kf, Ko+Kf+L)
	Vlat := copyColumns(V, Ko+Kf, Ko+Kf+L)

	var Zortho *mat.Dense
	if Kf > 0 {
		Zortho = Zd
	}
	if err := m.orthogonalize(Ulat, Vlat, A, Xfull, G, Zortho); err != nil {
		return err
	}

	m.dev = dev
	m.gf = gf
	m.SetFitted()

	if m.verbose {
		m.logger.Info("fit complete",
			log.OperationKey, "fit",
			log.IterationKey, len(dev)-1,
			log.DevianceKey, dev[len(dev)-1])
	}
	return nil
}

// validateCounts enforces the family domain on Y: non-negative counts, no
// all-zero feature row, and values at most 1 for the Bernoulli family.
func validateCounts(op string, Y *mat.Dense, family FamilyName) error {
	J, N := Y.Dims()
	for j := 0; j < J; j++ {
		row := Y.RawRowView(j)
		rowMax := math.Inf(-1)
		for n := 0; n < N; n++ {
			v := row[n]
			if v < 0 {
				return errors.NewRangeError(op, "for count data, the minimum value must be >= 0")
			}
			if v > rowMax {
				rowMax = v
			}
		}
		if rowMax == 0 {
			return errors.NewDegenerateInputError(op, "some rows were all zero, please remove them")
		}
		if family == Bernoulli && rowMax > 1 {
			return errors.NewRangeError(op, "for Bernoulli model, the maximum value must be <= 1")
		}
	}
	return nil
}

// removeIntercept centers the columns of X and drops any column whose
// centered norm is negligible (constant columns).
func removeIntercept(X mat.Matrix) *mat.Dense {
	r, c := X.Dims()
	keep := make([]int, 0, c)
	centered := mat.DenseCopyOf(X)
	for k := 0; k < c; k++ {
		var mean float64
		for i := 0; i < r; i++ {
			mean += centered.At(i, k)
		}
		mean /= float64(r)
		var ss float64
		for i := 0; i < r; i++ {
			v := centered.At(i, k) - mean
			centered.Set(i, k, v)
			ss += v * v
		}
		if math.Sqrt(ss) > 1e-12 {
			keep = append(keep, k)
		}
	}
	out := mat.NewDense(r, len(keep), nil)
	for dst, src := range keep {
		for i := 0; i < r; i++ {
			out.Set(i, dst, centered.At(i, src))
		}
	}
	return out
}

// initFactorMatrix builds U = [1 | X | noise], with the warm-start factors
// overwriting the leading latent columns if supplied.
func (m *GLMPCA) initFactorMatrix(N, Ko, Kf int, Xd *mat.Dense, Ku int) (*mat.Dense, error) {
	L := m.nComponents
	U := mat.NewDense(N, Ko+Kf+L, nil)
	for i := 0; i < N; i++ {
		U.Set(i, 0, 1)
		for k := 0; k < Ko-1; k++ {
			U.Set(i, k+1, Xd.At(i, k))
		}
		for k := Ko; k < Ko+Kf+L; k++ {
			U.Set(i, k, m.rng.NormFloat64()*1e-5/float64(Ku))
		}
	}
	if m.initFactors != nil {
		fr, fc := m.initFactors.Dims()
		if fr != N {
			return nil, errors.NewDimensionError("GLMPCA.Fit init factors", N, fr, 0)
		}
		L0 := L
		if fc < L0 {
			L0 = fc
		}
		for i := 0; i < N; i++ {
			for k := 0; k < L0; k++ {
				U.Set(i, Ko+Kf+k, m.initFactors.At(i, k))
			}
		}
	}
	return U, nil
}

// initLoadingMatrix builds V = [intercepts | noise | Z | noise], with the
// warm-start loadings overwriting the leading latent columns if supplied.
func (m *GLMPCA) initLoadingMatrix(J, Ko, Kf int, Zd *mat.Dense, Kv int, intercepts []float64) (*mat.Dense, error) {
	L := m.nComponents
	V := mat.NewDense(J, Ko+Kf+L, nil)
	for j := 0; j < J; j++ {
		V.Set(j, 0, intercepts[j])
		for k := 1; k < Ko; k++ {
			V.Set(j, k, m.rng.NormFloat64()*1e-5/float64(Kv))
		}
		for k := 0; k < Kf; k++ {
			V.Set(j, Ko+k, Zd.At(j, k))
		}
		for k := Ko + Kf; k < Ko+Kf+L; k++ {
			V.Set(j, k, m.rng.NormFloat64()*1e-5/float64(Kv))
		}
	}
	if m.initLoadings != nil {
		lr, lc := m.initLoadings.Dims()
		if lr != J {
			return nil, errors.NewDimensionError("GLMPCA.Fit init loadings", J, lr, 0)
		}
		L0 := L
		if lc < L0 {
			L0 = lc
		}
		for j := 0; j < J; j++ {
			for k := 0; k < L0; k++ {
				V.Set(j, Ko+Kf+k, m.initLoadings.At(j, k))
			}
		}
	}
	return V, nil
}

// updateLoadingColumn applies one penalized Fisher-scoring step to column k
// of V. The penalty applies only to latent columns.
func updateLoadingColumn(gf *GlmpcaFamily, Y, U, V *mat.Dense, k int, penalty float64, latent bool) {
	grad, info := gf.Infograd(Y, gf.LinearPredictor(U, V))
	N, _ := U.Dims()
	J, _ := V.Dims()

	ucol := mat.NewVecDense(N, mat.Col(nil, k, U))
	ucol2 := mat.NewVecDense(N, nil)
	ucol2.MulElemVec(ucol, ucol)

	var g, h mat.VecDense
	g.MulVec(grad, ucol)
	h.MulVec(info, ucol2)

	var pen float64
	if latent {
		pen = penalty
	}
	for j := 0; j < J; j++ {
		step := (g.AtVec(j) - pen*V.At(j, k)) / (h.AtVec(j) + pen)
		V.Set(j, k, V.At(j, k)+step)
	}
}

// updateFactorColumn applies one penalized Fisher-scoring step to column k
// of U.
func updateFactorColumn(gf *GlmpcaFamily, Y, U, V *mat.Dense, k int, penalty float64, latent bool) {
	grad, info := gf.Infograd(Y, gf.LinearPredictor(U, V))
	N, _ := U.Dims()
	J, _ := V.Dims()

	vcol := mat.NewVecDense(J, mat.Col(nil, k, V))
	vcol2 := mat.NewVecDense(J, nil)
	vcol2.MulElemVec(vcol, vcol)

	var g, h mat.VecDense
	g.MulVec(grad.T(), vcol)
	h.MulVec(info.T(), vcol2)

	var pen float64
	if latent {
		pen = penalty
	}
	for i := 0; i < N; i++ {
		step := (g.AtVec(i) - pen*U.At(i, k)) / (h.AtVec(i) + pen)
		U.Set(i, k, U.At(i, k)+step)
	}
}

// copyColumns returns a copy of columns [from, to) of a.
func copyColumns(a *mat.Dense, from, to int) *mat.Dense {
	r, _ := a.Dims()
	out := mat.NewDense(r, to-from, nil)
	for i := 0; i < r; i++ {
		for k := from; k < to; k++ {
			out.Set(i, k-from, a.At(i, k))
		}
	}
	return out
}

// ===========================================================================
//
//	Fitted-model accessors
//
// ===========================================================================

// Factors returns the fitted latent factors (observations by components),
// analogous to principal component scores.
func (m *GLMPCA) Factors() (*mat.Dense, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("GLMPCA", "Factors")
	}
	return m.factors, nil
}

// Loadings returns the fitted latent loadings (features by components).
func (m *GLMPCA) Loadings() (*mat.Dense, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("GLMPCA", "Loadings")
	}
	return m.loadings, nil
}

// CoefX returns the fitted coefficients of the observation covariates,
// one row per feature; the first column holds the feature intercepts.
func (m *GLMPCA) CoefX() (*mat.Dense, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("GLMPCA", "CoefX")
	}
	return m.coefX, nil
}

// CoefZ returns the fitted coefficients of the feature covariates, one row
// per observation, or nil when no feature covariates were supplied.
func (m *GLMPCA) CoefZ() (*mat.Dense, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("GLMPCA", "CoefZ")
	}
	return m.coefZ, nil
}

// Deviance returns the deviance trace, one value per completed iteration.
func (m *GLMPCA) Deviance() ([]float64, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("GLMPCA", "Deviance")
	}
	return m.dev, nil
}

// Family returns the fitted family wrapper; for the negative binomial
// family it carries the final dispersion estimate.
func (m *GLMPCA) Family() (*GlmpcaFamily, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("GLMPCA", "Family")
	}
	return m.gf, nil
}
