// Package log provides a structured logging interface for glmpca model
// fitting.
//
// The interface is deliberately small and slog-shaped so that backends can
// be swapped; the default implementation is built on zerolog. Attribute key
// constants are provided for the fields the optimizer reports, so log
// consumers can filter on stable names.
package log

// Logger defines a structured logging interface.
//
// Fields are alternating key/value pairs, as in log/slog. With returns a
// derived logger whose events all carry the given fields.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional structured fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message with optional structured fields.
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger
}

// Standard attribute keys used by the fitting routines.
const (
	// ModelNameKey identifies the estimator emitting the event.
	ModelNameKey = "model"
	// OperationKey identifies the phase of the fit ("fit", "ortho", ...).
	OperationKey = "operation"
	// FamilyKey is the likelihood family in use.
	FamilyKey = "family"
	// IterationKey is the optimizer iteration index.
	IterationKey = "iteration"
	// DevianceKey is the current value of the deviance objective.
	DevianceKey = "deviance"
	// ThetaKey is the current negative binomial dispersion estimate.
	ThetaKey = "nb_theta"
	// FeaturesKey and SamplesKey describe the data dimensions.
	FeaturesKey = "n_features"
	SamplesKey  = "n_samples"
	// ComponentsKey is the number of latent dimensions being fitted.
	ComponentsKey = "n_components"
)
