// Package glmpca implements GLM-PCA, a generalization of principal
// component analysis to the exponential family, for dimension reduction of
// high-dimensional count data such as single-cell RNA-seq.
//
// The model is R = AX' + ZG' + VU' with E[Y] = M = linkinv(R), where Y is a
// features-by-observations count matrix, A and G are regression
// coefficients for optional covariates, and U (factors) and V (loadings)
// are the low-rank latent matrices. The objective is the model deviance
// plus an L2 (ridge) penalty on the latent dimensions, minimized by
// alternating Fisher scoring over the columns of V and U.
//
// Supported likelihoods are Poisson ("poi"), negative binomial ("nb"),
// a binomial approximation to the multinomial ("mult"), and Bernoulli
// ("bern"). For the negative binomial family the dispersion parameter is
// re-estimated by a penalized Newton step once per iteration.
//
// Basic usage:
//
//	m := glmpca.NewGLMPCA(
//		glmpca.WithNComponents(2),
//		glmpca.WithFamily(glmpca.Poisson),
//		glmpca.WithRandomState(42),
//	)
//	if err := m.Fit(Y); err != nil {
//		// handle error
//	}
//	factors, _ := m.Factors() // one row per observation, one column per latent dimension
//
// GLM-PCA uses a random initialization; set a random state for fully
// reproducible results.
//
// References:
//
//	Townes FW, Hicks SC, Aryee MJ, Irizarry RA. "Feature selection and
//	dimension reduction for single-cell RNA-seq based on a multinomial
//	model." Genome Biology, 2019.
//	Townes FW. "Generalized principal component analysis." arXiv, 2019.
package glmpca
