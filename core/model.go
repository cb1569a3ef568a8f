// Package core defines the interfaces shared by glmpca estimators.
package core

import "gonum.org/v1/gonum/mat"

// Fitter is a model that can be trained on a data matrix.
type Fitter interface {
	// Fit trains the model on the data matrix.
	Fit(Y mat.Matrix) error
}

// DimensionReducer is a fitted low-rank model exposing latent factors and
// loadings whose product approximates the systematic part of the data.
type DimensionReducer interface {
	Fitter

	// Factors returns the latent representation of the observations,
	// one row per observation and one column per latent dimension.
	Factors() (*mat.Dense, error)

	// Loadings returns the latent representation of the features,
	// one row per feature and one column per latent dimension.
	Loadings() (*mat.Dense, error)
}
