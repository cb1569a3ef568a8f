package glmpca

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/glmpca/core/parallel"
	"github.com/YuminosukeSato/glmpca/pkg/errors"
)

// FamilyName selects the likelihood used to model the count data.
type FamilyName string

// Supported likelihood families.
const (
	// Poisson uses a Poisson likelihood with canonical log link.
	Poisson FamilyName = "poi"
	// NegativeBinomial uses a negative binomial likelihood with log link
	// and a dispersion parameter re-estimated during fitting.
	NegativeBinomial FamilyName = "nb"
	// Multinomial uses a binomial approximation to the multinomial with
	// per-observation totals taken from the column sums of Y.
	Multinomial FamilyName = "mult"
	// Bernoulli uses a Bernoulli likelihood with logit link for binary data.
	Bernoulli FamilyName = "bern"
)

// Row count above which the elementwise score/information loops run in
// parallel.
const infogradParallelThreshold = 256

// likelihood is the per-family capability set: GLM primitives plus the
// closed-form score and Fisher information used by the coordinate updates.
// The generic GLM formula grad=(Y-M)*W*h, info=W*h^2 is algebraically
// simplifiable for every family here; the closed forms are used instead for
// numerical stability.
type likelihood interface {
	// link maps a mean value to the linear predictor scale.
	link(mu float64) float64
	// invLink maps a linear predictor value to the mean scale.
	invLink(eta float64) float64
	// variance is the GLM variance function evaluated at the mean.
	variance(mu float64) float64
	// gradInfo returns the score and Fisher information for one element.
	// col is the observation (column) index, needed by families with
	// per-observation totals.
	gradInfo(y, eta float64, col int) (grad, info float64)
	// devianceTerm returns one element's contribution to the deviance
	// (before the overall factor of 2).
	devianceTerm(y, eta float64, col int) float64
}

// poissonLikelihood: M = exp(R); grad = Y-M; info = M.
type poissonLikelihood struct{}

func (poissonLikelihood) link(mu float64) float64     { return math.Log(mu) }
func (poissonLikelihood) invLink(eta float64) float64 { return math.Exp(eta) }
func (poissonLikelihood) variance(mu float64) float64 { return mu }

func (poissonLikelihood) gradInfo(y, eta float64, _ int) (float64, float64) {
	m := math.Exp(eta)
	return y - m, m
}

func (poissonLikelihood) devianceTerm(y, eta float64, _ int) float64 {
	m := math.Exp(eta)
	return xlogy(y, y/m) - (y - m)
}

// negBinomialLikelihood: M = exp(R); W = 1/variance(M); grad = (Y-M)*W*M;
// info = W*M^2. The dispersion theta is mutated by the optimizer's
// dispersion refresh, never concurrently with use.
type negBinomialLikelihood struct {
	theta float64
}

func (negBinomialLikelihood) link(mu float64) float64     { return math.Log(mu) }
func (negBinomialLikelihood) invLink(eta float64) float64 { return math.Exp(eta) }

func (l *negBinomialLikelihood) variance(mu float64) float64 {
	return mu + mu*mu/l.theta
}

func (l *negBinomialLikelihood) gradInfo(y, eta float64, _ int) (float64, float64) {
	m := math.Exp(eta)
	w := 1 / l.variance(m)
	return (y - m) * w * m, w * m * m
}

func (l *negBinomialLikelihood) devianceTerm(y, eta float64, _ int) float64 {
	m := math.Exp(eta)
	th := l.theta
	return xlogy(y, y/m) - (y+th)*math.Log((y+th)/(m+th))
}

// multinomialLikelihood: P = sigmoid(R); grad = Y - n*P; info = n*P*(1-P),
// with per-observation totals n fixed at initialization to the column sums
// of Y. Non-finite deviance terms (0*log(0) artifacts) contribute zero, a
// documented numerical convention rather than an error path.
type multinomialLikelihood struct {
	totals []float64
}

func (multinomialLikelihood) link(mu float64) float64     { return math.Log(mu / (1 - mu)) }
func (multinomialLikelihood) invLink(eta float64) float64 { return sigmoid(eta) }
func (multinomialLikelihood) variance(mu float64) float64 { return mu * (1 - mu) }

func (l *multinomialLikelihood) gradInfo(y, eta float64, col int) (float64, float64) {
	p := sigmoid(eta)
	n := l.totals[col]
	return y - n*p, n * p * (1 - p)
}

func (l *multinomialLikelihood) devianceTerm(y, eta float64, col int) float64 {
	p := sigmoid(eta)
	n := l.totals[col]
	var d float64
	if t := y * math.Log(y/(n*p)); isFinite(t) {
		d += t
	}
	if t := (n - y) * math.Log((n-y)/(n*(1-p))); isFinite(t) {
		d += t
	}
	return d
}

// bernoulliLikelihood: P = sigmoid(R); grad = Y-P; info = P*(1-P).
type bernoulliLikelihood struct{}

func (bernoulliLikelihood) link(mu float64) float64     { return math.Log(mu / (1 - mu)) }
func (bernoulliLikelihood) invLink(eta float64) float64 { return sigmoid(eta) }
func (bernoulliLikelihood) variance(mu float64) float64 { return mu * (1 - mu) }

func (bernoulliLikelihood) gradInfo(y, eta float64, _ int) (float64, float64) {
	p := sigmoid(eta)
	return y - p, p * (1 - p)
}

func (bernoulliLikelihood) devianceTerm(y, eta float64, _ int) float64 {
	p := sigmoid(eta)
	return xlogy(y, y/p) + xlogy(1-y, (1-y)/(1-p))
}

// GlmpcaFamily pairs a likelihood with the per-dataset derived state the
// optimizer needs: offsets, feature intercepts, size factors and, for the
// multinomial family, per-observation totals. Initialize must be called
// before LinearPredictor, Infograd or Deviance.
type GlmpcaFamily struct {
	name FamilyName
	lik  likelihood

	// Derived state, recomputed by Initialize.
	offsets    []float64 // length N, nil when the family carries no offsets
	intercepts []float64 // length J, maximum-likelihood feature intercepts
	sz         []float64 // size factors, poi/nb only
	nbTheta    float64
}

// NewGlmpcaFamily constructs the family wrapper for the given likelihood.
// nbTheta is only consulted for the negative binomial family, where it must
// be positive.
func NewGlmpcaFamily(name FamilyName, nbTheta float64) (*GlmpcaFamily, error) {
	f := &GlmpcaFamily{name: name}
	switch name {
	case Poisson:
		f.lik = poissonLikelihood{}
	case NegativeBinomial:
		if nbTheta <= 0 || math.IsNaN(nbTheta) {
			return nil, errors.NewDegenerateInputError("NewGlmpcaFamily",
				"negative binomial dispersion parameter 'nb_theta' must be specified and positive")
		}
		f.nbTheta = nbTheta
		f.lik = &negBinomialLikelihood{theta: nbTheta}
	case Multinomial:
		f.lik = &multinomialLikelihood{}
	case Bernoulli:
		f.lik = bernoulliLikelihood{}
	default:
		return nil, errors.NewConfigurationError("family", string(name))
	}
	return f, nil
}

// Name returns the likelihood family name.
func (f *GlmpcaFamily) Name() FamilyName { return f.name }

// Theta returns the current negative binomial dispersion estimate; it is
// meaningful only for the "nb" family.
func (f *GlmpcaFamily) Theta() float64 { return f.nbTheta }

// Link applies the family link function to a mean value.
func (f *GlmpcaFamily) Link(mu float64) float64 { return f.lik.link(mu) }

// InvLink applies the inverse link to a linear predictor value.
func (f *GlmpcaFamily) InvLink(eta float64) float64 { return f.lik.invLink(eta) }

// Variance evaluates the family variance function at a mean value.
func (f *GlmpcaFamily) Variance(mu float64) float64 { return f.lik.variance(mu) }

// Initialize computes the dataset-level constants for Y: offsets from the
// size factors (defaulting to the column means of Y when none are
// supplied), per-observation totals for the multinomial family, and the
// maximum-likelihood feature intercepts.
func (f *GlmpcaFamily) Initialize(Y *mat.Dense, sz []float64) error {
	J, N := Y.Dims()

	if sz != nil && len(sz) != N {
		return errors.NewDimensionError("GlmpcaFamily.Initialize", N, len(sz), 1)
	}

	switch f.name {
	case Poisson, NegativeBinomial:
		if sz == nil {
			sz = colMeans(Y)
		}
		f.sz = sz
		f.offsets = make([]float64, N)
		for n, s := range sz {
			f.offsets[n] = f.lik.link(s)
		}
		total := floats.Sum(sz)
		f.intercepts = make([]float64, J)
		for j, rs := range rowSums(Y) {
			f.intercepts[j] = f.lik.link(rs / total)
		}

	case Multinomial:
		totals := colSums(Y)
		if len(totals) == 0 {
			return errors.NewDegenerateInputError("GlmpcaFamily.Initialize",
				"multinomial sample size vector 'mult_n' must be specified")
		}
		f.lik.(*multinomialLikelihood).totals = totals
		f.offsets = nil
		total := floats.Sum(totals)
		f.intercepts = make([]float64, J)
		for j, rs := range rowSums(Y) {
			f.intercepts[j] = f.lik.link(rs / total)
		}

	case Bernoulli:
		f.offsets = nil
		f.intercepts = make([]float64, J)
		for j := 0; j < J; j++ {
			f.intercepts[j] = f.lik.link(floats.Sum(Y.RawRowView(j)) / float64(N))
		}
	}

	for _, a := range f.intercepts {
		if math.IsInf(a, 0) {
			return errors.NewDegenerateInputError("GlmpcaFamily.Initialize",
				"some rows were all zero, please remove them")
		}
	}
	return nil
}

// Refresh updates the negative binomial dispersion and recomputes the
// derived state. It is the semantic equivalent of reconstructing the family
// wrapper with a new theta. No-op for other families.
func (f *GlmpcaFamily) Refresh(Y *mat.Dense, sz []float64, nbTheta float64) error {
	if f.name != NegativeBinomial {
		return nil
	}
	f.nbTheta = nbTheta
	f.lik.(*negBinomialLikelihood).theta = nbTheta
	return f.Initialize(Y, sz)
}

// Intercepts returns the maximum-likelihood feature intercepts computed by
// Initialize.
func (f *GlmpcaFamily) Intercepts() []float64 { return f.intercepts }

// LinearPredictor computes R = offsets + V*U' where U holds factors
// (observations by columns) and V holds loadings (features by columns).
func (f *GlmpcaFamily) LinearPredictor(U, V *mat.Dense) *mat.Dense {
	var R mat.Dense
	R.Mul(V, U.T())
	if f.offsets != nil {
		J, N := R.Dims()
		for j := 0; j < J; j++ {
			row := R.RawRowView(j)
			for n := 0; n < N; n++ {
				row[n] += f.offsets[n]
			}
		}
	}
	return &R
}

// Mean maps a linear predictor matrix to the mean scale elementwise.
func (f *GlmpcaFamily) Mean(R *mat.Dense) *mat.Dense {
	J, N := R.Dims()
	M := mat.NewDense(J, N, nil)
	parallel.ParallelizeWithThreshold(J, infogradParallelThreshold, func(start, end int) {
		for j := start; j < end; j++ {
			for n := 0; n < N; n++ {
				M.Set(j, n, f.lik.invLink(R.At(j, n)))
			}
		}
	})
	return M
}

// Infograd returns the score (gradient of the log-likelihood with respect
// to the linear predictor) and the Fisher information, elementwise over Y.
func (f *GlmpcaFamily) Infograd(Y, R *mat.Dense) (grad, info *mat.Dense) {
	J, N := Y.Dims()
	grad = mat.NewDense(J, N, nil)
	info = mat.NewDense(J, N, nil)
	parallel.ParallelizeWithThreshold(J, infogradParallelThreshold, func(start, end int) {
		for j := start; j < end; j++ {
			for n := 0; n < N; n++ {
				g, h := f.lik.gradInfo(Y.At(j, n), R.At(j, n), n)
				grad.Set(j, n, g)
				info.Set(j, n, h)
			}
		}
	})
	return grad, info
}

// Deviance evaluates the family deviance of Y against the linear predictor
// R. This is the objective minimized by the optimizer.
func (f *GlmpcaFamily) Deviance(Y, R *mat.Dense) float64 {
	J, N := Y.Dims()
	var dev float64
	for j := 0; j < J; j++ {
		for n := 0; n < N; n++ {
			dev += f.lik.devianceTerm(Y.At(j, n), R.At(j, n), n)
		}
	}
	return 2 * dev
}

// ===========================================================================
//
//	Scalar and reduction helpers
//
// ===========================================================================

// sigmoid is the inverse logit link.
func sigmoid(eta float64) float64 {
	return 1 / (1 + math.Exp(-eta))
}

// xlogy returns x*log(y) with the convention 0*log(0) = 0.
func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func rowSums(a *mat.Dense) []float64 {
	J, _ := a.Dims()
	s := make([]float64, J)
	for j := 0; j < J; j++ {
		s[j] = floats.Sum(a.RawRowView(j))
	}
	return s
}

func colSums(a *mat.Dense) []float64 {
	J, N := a.Dims()
	s := make([]float64, N)
	for j := 0; j < J; j++ {
		floats.Add(s, a.RawRowView(j))
	}
	return s
}

func colMeans(a *mat.Dense) []float64 {
	J, _ := a.Dims()
	s := colSums(a)
	floats.Scale(1/float64(J), s)
	return s
}
