package fixnn_test

import (
	"testing"

	"github.com/fixpointml/fixnn/fixnn"
)

// The convolutional model family must be assemblable through the package
// surface alone.
func TestFacadeBuildsConvolutionalModel(t *testing.T) {
	cfg := fixnn.DefaultFixConfig()

	conv, err := fixnn.Conv2D(1, 2, 3, 1, 1, fixnn.ReLU, cfg)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	bn, err := fixnn.BatchNorm2D(2, cfg)
	if err != nil {
		t.Fatalf("BatchNorm2D failed: %v", err)
	}
	dense, err := fixnn.Dense(2*2*2, 3, fixnn.Linear, cfg)
	if err != nil {
		t.Fatalf("Dense failed: %v", err)
	}

	n := fixnn.New(
		[]fixnn.Layer{conv, bn, fixnn.MaxPool2D(2, 2, 2, 0), fixnn.Flatten(), dense},
		fixnn.SoftmaxCrossEntropy,
		fixnn.SGD(0.05, 0.9, 5e-4),
	)
	n.SetFixMethod(fixnn.FixNone, nil)

	out := n.Forward(make([]float64, 16))
	if len(out) != 3 {
		t.Errorf("Output length = %d, want 3", len(out))
	}
}
