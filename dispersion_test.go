package glmpca

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestTrigamma_KnownValues(t *testing.T) {
	cases := []struct {
		x    float64
		want float64
	}{
		{1, math.Pi * math.Pi / 6},
		{0.5, math.Pi * math.Pi / 2},
		{2, math.Pi*math.Pi/6 - 1},
		{10, 0.10516633568168575},
	}
	for _, c := range cases {
		if got := trigamma(c.x); math.Abs(got-c.want) > 1e-10 {
			t.Errorf("trigamma(%v): expected %v, got %v", c.x, c.want, got)
		}
	}
}

func TestTrigamma_Recurrence(t *testing.T) {
	// trigamma(x) = trigamma(x+1) + 1/x^2
	for _, x := range []float64{0.3, 1.7, 4.2, 9.9} {
		lhs := trigamma(x)
		rhs := trigamma(x+1) + 1/(x*x)
		if math.Abs(lhs-rhs) > 1e-10 {
			t.Errorf("recurrence at %v: %v vs %v", x, lhs, rhs)
		}
	}
}

func TestTrigamma_InvalidInput(t *testing.T) {
	if !math.IsNaN(trigamma(0)) || !math.IsNaN(trigamma(-1)) {
		t.Error("trigamma should be NaN for non-positive input")
	}
}

func TestEstimateNBTheta_FiniteAndPositive(t *testing.T) {
	Y := testCounts()
	J, N := Y.Dims()
	M := mat.NewDense(J, N, nil)
	for j := 0; j < J; j++ {
		for n := 0; n < N; n++ {
			M.Set(j, n, math.Max(Y.At(j, n), 0.5))
		}
	}

	theta := 100.0
	for i := 0; i < 5; i++ {
		theta = estimateNBTheta(Y, M, theta)
		if theta <= 0 || math.IsNaN(theta) || math.IsInf(theta, 0) {
			t.Fatalf("theta update %d produced %v", i, theta)
		}
	}
}

func TestEstimateNBTheta_Deterministic(t *testing.T) {
	Y := testCounts()
	J, N := Y.Dims()
	M := mat.NewDense(J, N, nil)
	for j := 0; j < J; j++ {
		for n := 0; n < N; n++ {
			M.Set(j, n, 1.5)
		}
	}
	a := estimateNBTheta(Y, M, 100)
	b := estimateNBTheta(Y, M, 100)
	if a != b {
		t.Errorf("theta update should be deterministic: %v vs %v", a, b)
	}
}
