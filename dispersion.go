package glmpca

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

// estimateNBTheta performs one Newton update of the negative binomial
// dispersion theta given counts Y and fitted means M (all positive).
//
// The step is taken on u = log(theta) with the prior u ~ N(0,1) acting as
// an L2 penalty, which regularizes theta toward 1 (a lognormal(0,1) prior
// on theta). It uses observed rather than expected information. The fixed
// point is sensitive to the starting value, so callers should start theta
// large (e.g. 100); the optimizer's default does this.
func estimateNBTheta(Y, M *mat.Dense, theta float64) float64 {
	J, N := Y.Dims()
	u := math.Log(theta)

	// score = theta * d(logLik)/d(theta), via dtheta/du = theta.
	var s float64
	// curvature = d2(logLik)/d(theta)^2 * theta^2.
	var c float64
	dgTheta := mathext.Digamma(theta)
	tgTheta := trigamma(theta)
	for j := 0; j < J; j++ {
		for n := 0; n < N; n++ {
			y := Y.At(j, n)
			mu := M.At(j, n)
			s += mathext.Digamma(theta+y) - dgTheta +
				math.Log(theta) + 1 - math.Log(theta+mu) - (y+theta)/(mu+theta)
			c += trigamma(theta+mu) - tgTheta +
				1/theta - 2/(mu+theta) + (y+theta)/((mu+theta)*(mu+theta))
		}
	}
	score := theta * s
	// d2L/du2 = theta^2 * d2L/dtheta2 + theta * dL/dtheta; the second term
	// equals the score on the u scale.
	info := -theta*theta*c - score

	// Penalized Newton step on u; the +1 terms come from the N(0,1) prior.
	return math.Exp(u + (score-u)/(info+1))
}

// trigamma evaluates the derivative of the digamma function for x > 0,
// using the recurrence to shift x above 6 and then the asymptotic series.
// gonum/mathext provides Digamma but not Trigamma.
func trigamma(x float64) float64 {
	if math.IsNaN(x) || x <= 0 {
		return math.NaN()
	}
	var value float64
	for x < 6 {
		value += 1 / (x * x)
		x++
	}
	invX := 1 / x
	invX2 := invX * invX
	// psi'(x) ~ 1/x + 1/(2x^2) + 1/(6x^3) - 1/(30x^5) + 1/(42x^7) - 1/(30x^9)
	value += invX + 0.5*invX2 +
		invX*invX2*(1.0/6-invX2*(1.0/30-invX2*(1.0/42-invX2/30)))
	return value
}
