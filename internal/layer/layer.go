// Package layer provides neural network layer implementations that consume
// fixed-point quantized views of their parameters. Quantization is a
// read-time transform: the underlying float parameters remain what the
// optimizer updates, never overwritten in place by a quantized value.
package layer

import "github.com/fixpointml/fixnn/internal/fixpoint"

// Layer is a neural network layer.
type Layer interface {
	Forward(x []float64) []float64
	Backward(grad []float64) []float64

	// Params returns all parameters flattened (copy).
	Params() []float64

	// SetParams updates parameters from a flattened slice.
	SetParams([]float64)

	// Gradients returns the accumulated gradients flattened (copy), in the
	// same order as Params.
	Gradients() []float64

	// ScaleGradients multiplies the accumulated gradients in place, used to
	// average over a batch before an optimizer step.
	ScaleGradients(f float64)

	// SetGradients overwrites the accumulated gradients from a flattened
	// slice, used when gradients are aggregated across replicas.
	SetGradients([]float64)

	// ClearGradients zeroes the accumulated gradients.
	ClearGradients()

	// Clone creates a deep copy of the layer, including any quantization
	// policy range state, so replicas evolve independently.
	Clone() Layer
}

// Fixed is implemented by layers that track fixed-point policies. A nil
// module means the layer is exempt from quantization.
type Fixed interface {
	FixModule() *fixpoint.Module
}

// GradQuantizer is implemented by layers whose accumulated parameter
// gradients should pass through their gradient policies before the
// optimizer consumes them.
type GradQuantizer interface {
	QuantizeGradients()
}

// TrainingAware is implemented by layers whose forward computation differs
// between training and evaluation.
type TrainingAware interface {
	SetTraining(training bool)
}

// RNG is a small deterministic generator (splitmix64) for reproducible
// parameter initialization.
type RNG struct {
	state uint64
}

// NewRNG creates a deterministic RNG with the given seed.
func NewRNG(seed uint64) *RNG {
	return &RNG{state: seed}
}

// RandFloat returns a uniform float64 in [0, 1).
func (r *RNG) RandFloat() float64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return float64(z>>11) / (1 << 53)
}
