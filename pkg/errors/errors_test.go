package errors

import (
	"math"
	"strings"
	"testing"
)

func TestRangeError_AsAndMessage(t *testing.T) {
	err := NewRangeError("Fit", "for count data, the minimum value must be >= 0")
	var re *RangeError
	if !As(err, &re) {
		t.Fatal("expected errors.As to find *RangeError")
	}
	if re.Op != "Fit" {
		t.Errorf("Op: expected Fit, got %s", re.Op)
	}
	if !strings.Contains(err.Error(), "minimum value") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestDimensionError_Message(t *testing.T) {
	err := NewDimensionError("Fit", 5, 4, 0)
	var de *DimensionError
	if !As(err, &de) {
		t.Fatal("expected errors.As to find *DimensionError")
	}
	msg := err.Error()
	if !strings.Contains(msg, "Expected 5, got 4") || !strings.Contains(msg, "rows") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestNumericalDivergenceError_HintsAtPenalty(t *testing.T) {
	err := NewNumericalDivergenceError("Fit", 12, 0)
	if !strings.Contains(err.Error(), "penalty") {
		t.Errorf("divergence message must hint at increasing the penalty: %s", err.Error())
	}
	var nd *NumericalDivergenceError
	if !As(err, &nd) {
		t.Fatal("expected errors.As to find *NumericalDivergenceError")
	}
	if nd.Iteration != 12 {
		t.Errorf("Iteration: expected 12, got %d", nd.Iteration)
	}
}

func TestDegenerateInputError(t *testing.T) {
	err := NewDegenerateInputError("Initialize", "some rows were all zero")
	var de *DegenerateInputError
	if !As(err, &de) {
		t.Fatal("expected errors.As to find *DegenerateInputError")
	}
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("family", "gauss")
	var ce *ConfigurationError
	if !As(err, &ce) {
		t.Fatal("expected errors.As to find *ConfigurationError")
	}
	if !strings.Contains(err.Error(), "family") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestNotFittedError(t *testing.T) {
	err := NewNotFittedError("GLMPCA", "Factors")
	if !strings.Contains(err.Error(), "Call Fit()") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestWarn_CustomHandler(t *testing.T) {
	var captured error
	SetZerologWarnFunc(nil)
	SetWarningHandler(func(w error) { captured = w })
	defer SetWarningHandler(func(w error) {})

	w := NewConvergenceWarning("GLMPCA", 1000, "")
	Warn(w)
	if captured == nil {
		t.Fatal("warning handler was not invoked")
	}
	if !strings.Contains(captured.Error(), "failed to converge after 1000 iterations") {
		t.Errorf("unexpected warning: %v", captured)
	}
}

func TestCheckScalar(t *testing.T) {
	if err := CheckScalar("dev", 1.5, 0); err != nil {
		t.Errorf("finite value should pass: %v", err)
	}
	var nd *NumericalDivergenceError
	if err := CheckScalar("dev", math.Inf(1), 3); !As(err, &nd) {
		t.Errorf("expected NumericalDivergenceError for +Inf, got %v", err)
	}
}

func TestSafeDivide(t *testing.T) {
	if got := SafeDivide(1, 0); got != 0 {
		t.Errorf("division by zero should return 0, got %v", got)
	}
	if got := SafeDivide(6, 3); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
}
