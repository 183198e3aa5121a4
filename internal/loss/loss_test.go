package loss

import (
	"math"
	"testing"
)

func TestMSEForward(t *testing.T) {
	m := MSE{}
	got := m.Forward([]float64{1, 2, 3}, []float64{1, 1, 1})
	want := (0.0 + 1.0 + 4.0) / 3.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("MSE = %f, want %f", got, want)
	}
}

func TestMSEBackward(t *testing.T) {
	m := MSE{}
	grad := m.Backward([]float64{1, 3}, []float64{0, 1})
	want := []float64{1.0, 2.0} // (2/n)(pred - true)
	for i := range want {
		if math.Abs(grad[i]-want[i]) > 1e-12 {
			t.Errorf("grad[%d] = %f, want %f", i, grad[i], want[i])
		}
	}
}

func TestMSEBackwardInPlace(t *testing.T) {
	m := MSE{}
	grad := make([]float64, 2)
	m.BackwardInPlace([]float64{1, 3}, []float64{0, 1}, grad)
	if math.Abs(grad[0]-1.0) > 1e-12 || math.Abs(grad[1]-2.0) > 1e-12 {
		t.Errorf("grad = %v, want [1 2]", grad)
	}
}

func TestSoftmaxCrossEntropyForward(t *testing.T) {
	c := SoftmaxCrossEntropy{}

	// Equal logits: -log(1/n).
	got := c.Forward([]float64{0, 0, 0, 0}, []float64{0, 1, 0, 0})
	want := math.Log(4)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Loss = %f, want %f", got, want)
	}

	// A confident correct prediction costs little.
	confident := c.Forward([]float64{10, 0, 0, 0}, []float64{1, 0, 0, 0})
	if confident > 0.01 {
		t.Errorf("Confident correct loss = %f, want near 0", confident)
	}

	// Shift invariance of the softmax.
	a := c.Forward([]float64{1, 2, 3}, []float64{0, 0, 1})
	b := c.Forward([]float64{101, 102, 103}, []float64{0, 0, 1})
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("Loss not shift invariant: %f vs %f", a, b)
	}
}

func TestSoftmaxCrossEntropyBackward(t *testing.T) {
	c := SoftmaxCrossEntropy{}
	logits := []float64{1, 2, 3}
	target := []float64{0, 0, 1}
	grad := c.Backward(logits, target)

	// Gradient is softmax(logits) - target and must sum to zero.
	var sum float64
	for _, g := range grad {
		sum += g
	}
	if math.Abs(sum) > 1e-12 {
		t.Errorf("Gradient sum = %g, want 0", sum)
	}
	if grad[2] >= 0 {
		t.Errorf("Gradient at target = %f, want negative", grad[2])
	}
	if grad[0] <= 0 || grad[1] <= 0 {
		t.Errorf("Gradient off target = %v, want positive", grad[:2])
	}
}
