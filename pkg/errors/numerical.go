package errors

import (
	"math"
)

// CheckScalar checks a single scalar value and returns a
// NumericalDivergenceError if it is NaN or infinite.
func CheckScalar(operation string, value float64, iteration int) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NewNumericalDivergenceError(operation, iteration, value)
	}
	return nil
}

// CheckNumericalStability checks a slice of values and returns a
// NumericalDivergenceError if any value is NaN or infinite.
func CheckNumericalStability(operation string, values []float64, iteration int) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewNumericalDivergenceError(operation, iteration, v)
		}
	}
	return nil
}

// SafeDivide performs division with protection against division by zero.
// Returns 0 if the denominator is zero or close to zero.
func SafeDivide(numerator, denominator float64) float64 {
	if math.Abs(denominator) < 1e-10 {
		return 0
	}
	return numerator / denominator
}
