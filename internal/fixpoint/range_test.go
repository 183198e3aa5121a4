// Package fixpoint provides unit tests for range estimation.
package fixpoint

import (
	"math"
	"testing"
)

// TestEstimateRangeMax tests that RangeMax returns the maximum absolute value.
func TestEstimateRangeMax(t *testing.T) {
	x := []float64{-10, -1, 0, 1, 10}
	rd := EstimateRange(x, RangeMax, 8)

	if rd.Value != 10 {
		t.Errorf("RangeMax value = %v, want 10", rd.Value)
	}
	if rd.Method != RangeMax {
		t.Errorf("RangeMax method = %v, want RangeMax", rd.Method)
	}
}

// TestEstimateRangeMaxNegativeDominant tests that sign does not matter.
func TestEstimateRangeMaxNegativeDominant(t *testing.T) {
	x := []float64{-20, 1, 2}
	rd := EstimateRange(x, RangeMax, 8)

	if rd.Value != 20 {
		t.Errorf("RangeMax value = %v, want 20", rd.Value)
	}
}

// TestThreeSigmaNeverExceedsMax tests that the 3-sigma estimate is clipped
// at the true maximum for every tensor.
func TestThreeSigmaNeverExceedsMax(t *testing.T) {
	tensors := [][]float64{
		{-10, -1, 0, 1, 10},
		{0.5, 0.5, 0.5, 0.5},
		{-3, 7, 0.1, -0.2, 100},
		{1e-6, -1e-6},
	}
	for _, x := range tensors {
		maxRD := EstimateRange(x, RangeMax, 8)
		sigmaRD := EstimateRange(x, RangeThreeSigma, 8)
		if sigmaRD.Value > maxRD.Value {
			t.Errorf("3sigma range %v exceeds max range %v for %v", sigmaRD.Value, maxRD.Value, x)
		}
	}
}

// TestThreeSigmaFormula tests the mean + 3*std computation when it does not
// hit the max clip.
func TestThreeSigmaFormula(t *testing.T) {
	x := []float64{1, 2, 3, 4, 100}
	abs := []float64{1, 2, 3, 4, 100}

	mean := 0.0
	for _, v := range abs {
		mean += v
	}
	mean /= float64(len(abs))

	variance := 0.0
	for _, v := range abs {
		variance += (v - mean) * (v - mean)
	}
	// Sample standard deviation (n-1 divisor), matching gonum's stat.StdDev.
	std := math.Sqrt(variance / float64(len(abs)-1))

	want := mean + 3*std
	if want > 100 {
		want = 100
	}

	rd := EstimateRange(x, RangeThreeSigma, 8)
	if math.Abs(rd.Value-want) > 1e-9 {
		t.Errorf("3sigma range = %v, want %v", rd.Value, want)
	}
}

// TestSweepPicksLowerErrorRange tests that RangeSweep never does worse than
// RangeMax in total quantization error.
func TestSweepPicksLowerErrorRange(t *testing.T) {
	// A cluster of small values plus one outlier: the max-based grid wastes
	// almost all of its levels on the outlier.
	x := []float64{0.01, -0.02, 0.015, 0.005, -0.01, 0.02, 10}

	maxRD := EstimateRange(x, RangeMax, 8)
	sweepRD := EstimateRange(x, RangeSweep, 8)

	sse := func(rd RangeDescriptor) float64 {
		q := Quantize(x, 8, rd)
		var s float64
		for i := range x {
			d := x[i] - q[i]
			s += d * d
		}
		return s
	}

	if sse(sweepRD) > sse(maxRD)+1e-12 {
		t.Errorf("sweep error %v exceeds max error %v", sse(sweepRD), sse(maxRD))
	}
}

// TestZeroTensorRangeFloor tests that an all-zero tensor yields the minimum
// nonzero floor under every method, never a zero range.
func TestZeroTensorRangeFloor(t *testing.T) {
	x := make([]float64, 16)
	for _, method := range []RangeMethod{RangeMax, RangeThreeSigma, RangeSweep} {
		rd := EstimateRange(x, method, 8)
		if rd.Value <= 0 {
			t.Errorf("method %v: range %v, want > 0", method, rd.Value)
		}
		if rd.Scale(8) <= 0 {
			t.Errorf("method %v: scale %v, want > 0", method, rd.Scale(8))
		}
	}
}

// TestScale tests the scale derivation value/(2^(b-1)-1).
func TestScale(t *testing.T) {
	rd := RangeDescriptor{Method: RangeMax, Value: 10}
	want := 10.0 / 127.0
	if got := rd.Scale(8); math.Abs(got-want) > 1e-12 {
		t.Errorf("Scale(8) = %v, want %v", got, want)
	}
}
