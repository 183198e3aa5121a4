package layer

import (
	"math"
	"testing"

	"github.com/fixpointml/fixnn/internal/fixpoint"
)

func floatBNConfig() fixpoint.Config {
	cfg := fixpoint.DefaultConfig()
	cfg.FloatBatchNorm = true
	return cfg
}

func TestBatchNorm2DTrainingNormalizes(t *testing.T) {
	bn, err := NewBatchNorm2D(2, 1e-5, 0.1, floatBNConfig())
	if err != nil {
		t.Fatalf("NewBatchNorm2D failed: %v", err)
	}

	// Feature 0: [1, 5] -> mean 3, std 2. Feature 1: [2, 6] -> mean 4, std 2.
	input := []float64{1, 5, 2, 6}
	output := bn.Forward(input)

	expected := []float64{-1, 1, -1, 1}
	for i := range expected {
		if math.Abs(output[i]-expected[i]) > 1e-3 {
			t.Errorf("Output[%d] = %f, expected %f", i, output[i], expected[i])
		}
	}
}

func TestBatchNorm2DFloatModeHasNoPolicies(t *testing.T) {
	bn, err := NewBatchNorm2D(2, 1e-5, 0.1, floatBNConfig())
	if err != nil {
		t.Fatalf("NewBatchNorm2D failed: %v", err)
	}
	if bn.FixModule() != nil {
		t.Error("Float batch norm should not track policies")
	}
}

func TestBatchNorm2DRunningStatsStayRaw(t *testing.T) {
	bn, err := NewBatchNorm2D(1, 1e-5, 0.1, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewBatchNorm2D failed: %v", err)
	}
	// Buffers exempt from quantization during training, everything else auto.
	bn.FixModule().SetMethod(fixpoint.Auto, map[fixpoint.TypeRole]fixpoint.Mode{
		{Kind: fixpoint.KindBatchNorm2D, Role: fixpoint.RoleBuffer}: fixpoint.None,
	})

	// Mean 3, variance 4. The raw running statistics must see the exact
	// float update even while the rest of the layer quantizes.
	bn.Forward([]float64{1, 5})

	wantMean := 0.9*0 + 0.1*3.0
	wantVar := 0.9*1 + 0.1*4.0
	if math.Abs(bn.RunningMean()[0]-wantMean) > 1e-12 {
		t.Errorf("RunningMean = %f, want %f", bn.RunningMean()[0], wantMean)
	}
	if math.Abs(bn.RunningVar()[0]-wantVar) > 1e-12 {
		t.Errorf("RunningVar = %f, want %f", bn.RunningVar()[0], wantVar)
	}
}

func TestBatchNorm2DEvalUsesRunningStats(t *testing.T) {
	bn, err := NewBatchNorm2D(1, 1e-5, 0.1, floatBNConfig())
	if err != nil {
		t.Fatalf("NewBatchNorm2D failed: %v", err)
	}
	bn.SetBuffers([]float64{2.0, 4.0})
	bn.SetTraining(false)

	// (x - 2) / sqrt(4 + eps)
	out := bn.Forward([]float64{6})
	want := 4.0 / math.Sqrt(4.0+1e-5)
	if math.Abs(out[0]-want) > 1e-9 {
		t.Errorf("Eval output = %f, want %f", out[0], want)
	}

	// Eval must not touch the running statistics.
	bufs := bn.Buffers()
	if bufs[0] != 2.0 || bufs[1] != 4.0 {
		t.Errorf("Buffers after eval = %v, want [2 4]", bufs)
	}
}

func TestBatchNorm2DEvalQuantizesBuffers(t *testing.T) {
	bn, err := NewBatchNorm2D(1, 1e-5, 0.1, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewBatchNorm2D failed: %v", err)
	}
	bn.FixModule().SetMethod(fixpoint.Auto, nil)
	bn.SetBuffers([]float64{2.0, 4.0})
	bn.SetTraining(false)

	out := bn.Forward([]float64{6})
	want := 4.0 / math.Sqrt(4.0+1e-5)

	// Running mean 2 and variance 4 are single-element tensors, exactly
	// representable at their own max range, so only the output grid shows:
	// the result lands within half an output quantization step.
	step := math.Abs(want) / 127.0
	if math.Abs(out[0]-want) > step {
		t.Errorf("Eval output = %f, want %f within %f", out[0], want, step)
	}
}

func TestBatchNorm2DEvalBackwardUsesQuantizedStats(t *testing.T) {
	bn, err := NewBatchNorm2D(2, 1e-5, 0.1, fixpoint.DefaultConfig())
	if err != nil {
		t.Fatalf("NewBatchNorm2D failed: %v", err)
	}
	// Quantize only the running statistics so the normalization grid is
	// the single quantization point.
	bn.FixModule().SetMethod(fixpoint.None, map[fixpoint.TypeRole]fixpoint.Mode{
		{Kind: fixpoint.KindBatchNorm2D, Role: fixpoint.RoleBuffer}: fixpoint.Auto,
	})
	bn.SetBuffers([]float64{0, 0, 4, 1})
	bn.SetTraining(false)

	bn.Forward([]float64{1, 2, 3, 4})
	gradIn := bn.Backward([]float64{1, 1, 1, 1})

	// Channel 1's variance of 1 quantizes on channel 0's range of 4:
	// round(1 * 127/4) = 32 steps. The backward pass must normalize with
	// that quantized value, exactly as the forward did.
	qVar := 32.0 * 4.0 / 127.0
	want := 1.0 / math.Sqrt(qVar+1e-5)
	raw := 1.0 / math.Sqrt(1.0+1e-5)
	if math.Abs(gradIn[2]-want) > 1e-12 {
		t.Errorf("gradIn[2] = %v, want %v (raw stats would give %v)", gradIn[2], want, raw)
	}
	// Channel 0's variance sits at the range maximum and is exact.
	want0 := 1.0 / math.Sqrt(4.0+1e-5)
	if math.Abs(gradIn[0]-want0) > 1e-12 {
		t.Errorf("gradIn[0] = %v, want %v", gradIn[0], want0)
	}
}

func TestBatchNorm2DBackwardGradientCheck(t *testing.T) {
	newBN := func() *BatchNorm2D {
		bn, err := NewBatchNorm2D(1, 1e-5, 0.1, floatBNConfig())
		if err != nil {
			t.Fatalf("NewBatchNorm2D failed: %v", err)
		}
		return bn
	}

	input := []float64{1, 2, 4, 7}
	gamma, beta := 1.5, -0.5

	bn := newBN()
	bn.SetParams([]float64{gamma, beta})
	out := bn.Forward(input)
	upstream := make([]float64, len(out))
	for i := range upstream {
		upstream[i] = float64(i+1) * 0.1
	}
	gradIn := bn.Backward(upstream)

	f := func(x []float64) float64 {
		b := newBN()
		b.SetParams([]float64{gamma, beta})
		o := b.Forward(x)
		var s float64
		for i, v := range o {
			s += upstream[i] * v
		}
		return s
	}

	const h = 1e-6
	for i := range input {
		plus := append([]float64(nil), input...)
		minus := append([]float64(nil), input...)
		plus[i] += h
		minus[i] -= h
		numeric := (f(plus) - f(minus)) / (2 * h)
		if math.Abs(gradIn[i]-numeric) > 1e-4 {
			t.Errorf("gradIn[%d] = %f, finite difference %f", i, gradIn[i], numeric)
		}
	}
}

func TestBatchNorm2DBuffersRoundTrip(t *testing.T) {
	bn, err := NewBatchNorm2D(3, 1e-5, 0.1, floatBNConfig())
	if err != nil {
		t.Fatalf("NewBatchNorm2D failed: %v", err)
	}
	in := []float64{0.1, 0.2, 0.3, 1.1, 1.2, 1.3}
	bn.SetBuffers(in)
	out := bn.Buffers()
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("Buffers[%d] = %f, want %f", i, out[i], in[i])
		}
	}
}
