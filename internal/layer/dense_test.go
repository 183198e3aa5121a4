package layer

import (
	"math"
	"testing"

	"github.com/fixpointml/fixnn/internal/activations"
	"github.com/fixpointml/fixnn/internal/fixpoint"
)

// passthrough moves every policy of the layer to None so tests can check
// plain float arithmetic without a quantization grid in the way.
func passthrough(l Layer) {
	if f, ok := l.(Fixed); ok {
		if m := f.FixModule(); m != nil {
			m.SetMethod(fixpoint.None, nil)
		}
	}
}

func TestDenseForwardFloat(t *testing.T) {
	d, err := NewDense(2, 2, activations.Linear{}, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}
	passthrough(d)

	// W = [[1, 2], [3, 4]], b = [0.5, -0.5]
	d.SetParams([]float64{1, 2, 3, 4, 0.5, -0.5})

	out := d.Forward([]float64{1, 1})
	want := []float64{3.5, 6.5}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Errorf("Output[%d] = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestDenseForwardQuantizedWeights(t *testing.T) {
	d, err := NewDense(2, 1, activations.Linear{}, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}

	// W = [1.0, 0.4], b = [0]. Under max-based estimation at 8 bits the
	// scale is 1/127: 1.0 is representable exactly, 0.4 rounds to 51/127.
	d.SetParams([]float64{1.0, 0.4, 0})

	out := d.Forward([]float64{0, 1})
	want := 51.0 / 127.0
	if math.Abs(out[0]-want) > 1e-12 {
		t.Errorf("Output[0] = %f, want %f", out[0], want)
	}
}

func TestDenseBackwardFloat(t *testing.T) {
	d, err := NewDense(2, 2, activations.Linear{}, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}
	passthrough(d)
	d.SetParams([]float64{1, 2, 3, 4, 0, 0})

	x := []float64{0.5, -1.0}
	d.Forward(x)

	g := []float64{1.0, 2.0}
	gradIn := d.Backward(g)

	// gradIn = W^T g
	wantIn := []float64{1*1.0 + 3*2.0, 2*1.0 + 4*2.0}
	for i := range wantIn {
		if math.Abs(gradIn[i]-wantIn[i]) > 1e-12 {
			t.Errorf("gradIn[%d] = %f, want %f", i, gradIn[i], wantIn[i])
		}
	}

	// gradW = g outer x, gradB = g
	grads := d.Gradients()
	wantGrads := []float64{
		1.0 * 0.5, 1.0 * -1.0,
		2.0 * 0.5, 2.0 * -1.0,
		1.0, 2.0,
	}
	for i := range wantGrads {
		if math.Abs(grads[i]-wantGrads[i]) > 1e-12 {
			t.Errorf("Gradients[%d] = %f, want %f", i, grads[i], wantGrads[i])
		}
	}
}

func TestDenseBackwardAccumulates(t *testing.T) {
	d, err := NewDense(1, 1, activations.Linear{}, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}
	passthrough(d)
	d.SetParams([]float64{1, 0})

	d.Forward([]float64{2})
	d.Backward([]float64{1})
	d.Forward([]float64{3})
	d.Backward([]float64{1})

	grads := d.Gradients()
	if math.Abs(grads[0]-5.0) > 1e-12 {
		t.Errorf("Accumulated gradW = %f, want 5", grads[0])
	}

	d.ClearGradients()
	grads = d.Gradients()
	if grads[0] != 0 || grads[1] != 0 {
		t.Errorf("Gradients after clear = %v, want zeros", grads)
	}
}

func TestDenseSaturationBlocksGradient(t *testing.T) {
	d, err := NewDense(1, 1, activations.Linear{}, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}
	d.SetParams([]float64{1, 0})

	// Freeze the output range on a small activation, then drive a larger
	// one through: the output saturates and the straight-through rule must
	// zero the gradient behind that quantization point.
	d.Forward([]float64{1})
	d.FixModule().SetMethod(fixpoint.Fixed, nil)
	d.Forward([]float64{10})

	d.Backward([]float64{1})
	grads := d.Gradients()
	if grads[0] != 0 || grads[1] != 0 {
		t.Errorf("Gradients through saturated output = %v, want zeros", grads)
	}
}

func TestDenseGradientQuantization(t *testing.T) {
	cfg := fixpoint.DefaultConfig()
	cfg.FixGradients = true
	cfg.BitwidthGrad = 8

	d, err := NewDense(2, 1, activations.Linear{}, cfg)
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}
	if d.FixModule().GradPolicy("weight") == nil {
		t.Fatal("Expected a gradient policy for weight")
	}

	d.SetGradients([]float64{1.0, 0.3, 0})
	d.QuantizeGradients()

	grads := d.Gradients()
	want := math.Round(0.3*127.0) / 127.0
	if math.Abs(grads[1]-want) > 1e-12 {
		t.Errorf("Quantized grad = %f, want %f", grads[1], want)
	}
	if math.Abs(grads[0]-1.0) > 1e-12 {
		t.Errorf("Quantized grad at range max = %f, want 1", grads[0])
	}
}

func TestDenseNoGradPolicyByDefault(t *testing.T) {
	d, err := NewDense(2, 1, activations.Linear{}, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}
	for _, name := range []string{"weight", "bias", "output"} {
		if d.FixModule().GradPolicy(name) != nil {
			t.Errorf("Unexpected gradient policy for %q", name)
		}
	}
}

func TestDenseCloneIndependence(t *testing.T) {
	d, err := NewDense(1, 1, activations.Linear{}, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDense failed: %v", err)
	}
	d.SetParams([]float64{1, 0})
	d.Forward([]float64{1})
	d.FixModule().SetMethod(fixpoint.Fixed, nil)

	c := d.Clone().(*Dense)

	// Diverge the clone's range state; the original stays frozen at 1.
	c.FixModule().SetMethod(fixpoint.Auto, nil)
	c.Forward([]float64{100})

	rd, ok := d.FixModule().Policy("output").Range()
	if !ok || math.Abs(rd.Value-1.0) > 1e-12 {
		t.Errorf("Original range = %v (ok=%v), want 1", rd.Value, ok)
	}

	// Parameters diverge independently too.
	c.SetParams([]float64{5, 5})
	if d.Params()[0] != 1 {
		t.Errorf("Original params changed by clone mutation")
	}
}
