package fixpoint

import (
	"math"
	"testing"
)

// TestQuantizeScenario tests the reference scenario: values [-10,-1,0,1,10]
// at bitwidth 8 under RangeMax quantize onto the 10/127 grid.
func TestQuantizeScenario(t *testing.T) {
	x := []float64{-10, -1, 0, 1, 10}
	rd := EstimateRange(x, RangeMax, 8)
	q := Quantize(x, 8, rd)

	scale := 10.0 / 127.0
	want := []float64{
		-127 * scale, // -10.0 exactly
		-13 * scale,  // nearest multiple to -1
		0,
		13 * scale,
		127 * scale, // 10.0 exactly
	}
	for i := range q {
		if math.Abs(q[i]-want[i]) > 1e-12 {
			t.Errorf("q[%d] = %v, want %v", i, q[i], want[i])
		}
	}
	if q[4] != 10.0 {
		t.Errorf("q[4] = %v, want exactly 10.0", q[4])
	}
}

// TestQuantizeIdempotent tests quantize(quantize(x)) == quantize(x) for all
// bitwidths >= 2 under a fixed range.
func TestQuantizeIdempotent(t *testing.T) {
	x := []float64{-3.7, -0.1, 0, 0.02, 1.9, 2.5, 3.99}
	for b := 2; b <= 16; b++ {
		rd := EstimateRange(x, RangeMax, b)
		once := Quantize(x, b, rd)
		twice := Quantize(once, b, rd)
		for i := range once {
			if once[i] != twice[i] {
				t.Errorf("bitwidth %d: quantize not idempotent at %d: %v != %v", b, i, once[i], twice[i])
			}
		}
	}
}

// TestQuantizeZeroTensor tests that an all-zero tensor quantizes to all
// zeros under every bitwidth and method, with no division by zero.
func TestQuantizeZeroTensor(t *testing.T) {
	x := make([]float64, 8)
	for _, method := range []RangeMethod{RangeMax, RangeThreeSigma, RangeSweep} {
		for b := 2; b <= 16; b += 7 {
			rd := EstimateRange(x, method, b)
			q := Quantize(x, b, rd)
			for i := range q {
				if q[i] != 0 {
					t.Errorf("method %v bitwidth %d: q[%d] = %v, want 0", method, b, i, q[i])
				}
				if math.IsNaN(q[i]) || math.IsInf(q[i], 0) {
					t.Errorf("method %v bitwidth %d: q[%d] is not finite", method, b, i)
				}
			}
		}
	}
}

// TestQuantizeSaturation tests that values beyond the range are clamped and
// flagged in the saturation mask.
func TestQuantizeSaturation(t *testing.T) {
	x := []float64{-50, -1, 0, 1, 50}
	rd := RangeDescriptor{Method: RangeMax, Value: 10}

	out := make([]float64, len(x))
	sat := make([]bool, len(x))
	QuantizeInto(x, out, 8, rd, sat)

	if out[0] != -10 || out[4] != 10 {
		t.Errorf("clamped values = %v / %v, want -10 / 10", out[0], out[4])
	}
	wantSat := []bool{true, false, false, false, true}
	for i := range sat {
		if sat[i] != wantSat[i] {
			t.Errorf("sat[%d] = %v, want %v", i, sat[i], wantSat[i])
		}
	}
}

// TestMaskGradient tests the straight-through rule: identity outside the
// clamp region, zero where saturated.
func TestMaskGradient(t *testing.T) {
	grad := []float64{1, 2, 3, 4}
	sat := []bool{true, false, true, false}

	MaskGradient(grad, sat)

	want := []float64{0, 2, 0, 4}
	for i := range grad {
		if grad[i] != want[i] {
			t.Errorf("grad[%d] = %v, want %v", i, grad[i], want[i])
		}
	}
}

// TestMaskGradientNilMask tests that a nil mask leaves the gradient intact.
func TestMaskGradientNilMask(t *testing.T) {
	grad := []float64{1, 2, 3}
	MaskGradient(grad, nil)
	if grad[0] != 1 || grad[1] != 2 || grad[2] != 3 {
		t.Errorf("grad modified by nil mask: %v", grad)
	}
}
