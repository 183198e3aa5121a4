// Package opt provides optimization algorithms.
package opt

import "math"

// Optimizer updates network parameters based on gradients. The slot
// identifies a parameter group (one per layer) so stateful optimizers can
// keep per-group moment buffers.
type Optimizer interface {
	// BeginStep marks the start of one optimization step spanning all
	// slots. Stateful optimizers advance their timestep here, so it must
	// be called exactly once before the per-slot Step calls.
	BeginStep()

	// Step computes updated parameters for the given slot:
	// returns a new slice with updated values.
	Step(slot int, params, gradients []float64) []float64

	// LR returns the current learning rate.
	LR() float64

	// SetLR updates the learning rate (used by schedulers).
	SetLR(lr float64)
}

// SGD (Stochastic Gradient Descent) optimizer with classical momentum and
// decoupled L2 weight decay.
type SGD struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	velocities map[int][]float64
}

// NewSGD creates an SGD optimizer.
func NewSGD(lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		LearningRate: lr,
		Momentum:     momentum,
		WeightDecay:  weightDecay,
		velocities:   make(map[int][]float64),
	}
}

// BeginStep is a no-op; SGD keeps no timestep.
func (s *SGD) BeginStep() {}

// Step computes updated parameters: v = momentum*v + (grad + wd*param);
// param = param - lr*v.
func (s *SGD) Step(slot int, params, gradients []float64) []float64 {
	if s.velocities == nil {
		s.velocities = make(map[int][]float64)
	}
	v, ok := s.velocities[slot]
	if !ok || len(v) != len(params) {
		v = make([]float64, len(params))
		s.velocities[slot] = v
	}

	result := make([]float64, len(params))
	for i := range params {
		g := gradients[i] + s.WeightDecay*params[i]
		v[i] = s.Momentum*v[i] + g
		result[i] = params[i] - s.LearningRate*v[i]
	}
	return result
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 { return s.LearningRate }

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float64) { s.LearningRate = lr }

// Adam optimizer for faster convergence.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	m map[int][]float64
	v map[int][]float64
	t int
}

// NewAdam creates a new Adam optimizer with default moment coefficients.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		m:            make(map[int][]float64),
		v:            make(map[int][]float64),
	}
}

// BeginStep advances the shared timestep. Keying the timestep to any
// particular slot would freeze bias correction in models whose first layers
// carry no parameters.
func (a *Adam) BeginStep() { a.t++ }

// Step computes updated parameters using bias-corrected Adam moments.
func (a *Adam) Step(slot int, params, gradients []float64) []float64 {
	if a.m == nil {
		a.m = make(map[int][]float64)
		a.v = make(map[int][]float64)
	}
	if a.t == 0 {
		a.t = 1
	}
	m, ok := a.m[slot]
	if !ok || len(m) != len(params) {
		m = make([]float64, len(params))
		a.m[slot] = m
	}
	v, ok := a.v[slot]
	if !ok || len(v) != len(params) {
		v = make([]float64, len(params))
		a.v[slot] = v
	}

	result := make([]float64, len(params))
	bc1 := 1.0
	bc2 := 1.0
	for i := 0; i < a.t; i++ {
		bc1 *= a.Beta1
		bc2 *= a.Beta2
	}
	for i := range params {
		g := gradients[i]
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		mHat := m[i] / (1 - bc1)
		vHat := v[i] / (1 - bc2)
		result[i] = params[i] - a.LearningRate*mHat/(math.Sqrt(vHat)+a.Epsilon)
	}
	return result
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.LearningRate }

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float64) { a.LearningRate = lr }
