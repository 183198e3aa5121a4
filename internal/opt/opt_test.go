package opt

import (
	"math"
	"testing"
)

func TestSGDStep(t *testing.T) {
	s := NewSGD(0.1, 0, 0)
	params := []float64{1.0, 2.0}
	grads := []float64{0.5, -0.5}

	updated := s.Step(0, params, grads)
	want := []float64{0.95, 2.05}
	for i := range want {
		if math.Abs(updated[i]-want[i]) > 1e-12 {
			t.Errorf("param[%d] = %f, want %f", i, updated[i], want[i])
		}
	}
}

func TestSGDMomentum(t *testing.T) {
	s := NewSGD(0.1, 0.9, 0)
	params := []float64{1.0}
	grads := []float64{1.0}

	// Step 1: v = 1, p = 1 - 0.1.
	p1 := s.Step(0, params, grads)
	if math.Abs(p1[0]-0.9) > 1e-12 {
		t.Errorf("After step 1: %f, want 0.9", p1[0])
	}

	// Step 2: v = 0.9 + 1 = 1.9, p = 0.9 - 0.19.
	p2 := s.Step(0, p1, grads)
	if math.Abs(p2[0]-0.71) > 1e-12 {
		t.Errorf("After step 2: %f, want 0.71", p2[0])
	}
}

func TestSGDWeightDecay(t *testing.T) {
	s := NewSGD(0.1, 0, 0.5)
	// g_eff = 0 + 0.5*2 = 1, p = 2 - 0.1.
	updated := s.Step(0, []float64{2.0}, []float64{0})
	if math.Abs(updated[0]-1.9) > 1e-12 {
		t.Errorf("param = %f, want 1.9", updated[0])
	}
}

func TestSGDSlotsIndependent(t *testing.T) {
	s := NewSGD(0.1, 0.9, 0)
	s.Step(0, []float64{1}, []float64{1})
	// Slot 1 has no accumulated velocity from slot 0.
	p := s.Step(1, []float64{1}, []float64{1})
	if math.Abs(p[0]-0.9) > 1e-12 {
		t.Errorf("Slot 1 first step = %f, want 0.9", p[0])
	}
}

func TestAdamStepDirection(t *testing.T) {
	a := NewAdam(0.01)
	params := []float64{1.0, -1.0}
	grads := []float64{0.5, -0.5}

	updated := a.Step(0, params, grads)
	if updated[0] >= params[0] {
		t.Errorf("param[0] = %f, expected decrease", updated[0])
	}
	if updated[1] <= params[1] {
		t.Errorf("param[1] = %f, expected increase", updated[1])
	}

	// With bias correction the very first step moves by about the
	// learning rate.
	if math.Abs(math.Abs(updated[0]-params[0])-0.01) > 1e-3 {
		t.Errorf("First step magnitude = %f, want about 0.01", math.Abs(updated[0]-params[0]))
	}
}

func TestAdamTimestepIndependentOfSlot(t *testing.T) {
	// Bias correction must advance even when slot 0 is never stepped,
	// as happens when a model's first layers carry no parameters.
	withZero := NewAdam(0.1)
	withoutZero := NewAdam(0.1)

	p1 := []float64{0}
	p2 := []float64{0}
	grads := []float64{1}
	for i := 0; i < 200; i++ {
		withZero.BeginStep()
		p1 = withZero.Step(0, p1, grads)
		withoutZero.BeginStep()
		p2 = withoutZero.Step(3, p2, grads)
	}
	if math.Abs(p1[0]-p2[0]) > 1e-12 {
		t.Errorf("Slot-3-only trajectory = %f, slot-0 trajectory = %f", p2[0], p1[0])
	}
	// With a constant gradient of 1, every bias-corrected update is
	// close to -lr once the timestep advances correctly.
	if math.Abs(p2[0]-(-20.0)) > 0.2 {
		t.Errorf("After 200 steps param = %f, want about -20", p2[0])
	}
}

func TestStepLRDecay(t *testing.T) {
	s := NewSGD(0.05, 0.9, 0)
	sched := NewStepLR(s, 10, 0.5)

	for epoch := 1; epoch <= 25; epoch++ {
		sched.Step()
		var want float64
		switch {
		case epoch < 10:
			want = 0.05
		case epoch < 20:
			want = 0.025
		default:
			want = 0.0125
		}
		if math.Abs(sched.GetLR()-want) > 1e-12 {
			t.Fatalf("Epoch %d: lr = %f, want %f", epoch, sched.GetLR(), want)
		}
	}
}

func TestExponentialLRDecay(t *testing.T) {
	s := NewSGD(1.0, 0, 0)
	sched := NewExponentialLR(s, 0.9)
	sched.Step()
	sched.Step()
	if math.Abs(sched.GetLR()-0.81) > 1e-12 {
		t.Errorf("lr = %f, want 0.81", sched.GetLR())
	}
}
