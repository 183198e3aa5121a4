package layer

import (
	"math"

	"github.com/fixpointml/fixnn/internal/activations"
	"github.com/fixpointml/fixnn/internal/fixpoint"
)

// Dense is a fully connected layer with fixed-point simulation attached to
// its weight, bias and output activation. Uses contiguous memory layout with
// pre-allocated buffers for minimal allocations.
type Dense struct {
	// Weights stored row-major: weight for output o, input i is at
	// weights[o*in + i].
	weights []float64
	biases  []float64
	act     activations.Activation
	inSize  int
	outSize int

	fix *fixpoint.Module

	// Quantized views used by the last forward pass, with their saturation
	// masks. Policy-owned, valid until the next forward.
	qWeights []float64
	qBiases  []float64
	wSat     []bool
	bSat     []bool
	outSat   []bool

	// Reusable buffers
	inputBuf   []float64
	preActBuf  []float64
	outputBuf  []float64
	gradW      []float64
	gradB      []float64
	gradInBuf  []float64
	gradOutBuf []float64
	dzBuf      []float64
}

// NewDense creates a dense layer with Xavier-initialized weights and the
// given quantization configuration. The tracked tensor roles are fixed here
// at construction.
func NewDense(in, out int, act activations.Activation, cfg fixpoint.Config) (*Dense, error) {
	weights := make([]float64, out*in)
	biases := make([]float64, out)

	rng := NewRNG(uint64(in*out + 42))
	scale := math.Sqrt(2.0 / (float64(in) + float64(out)))
	for i := range weights {
		weights[i] = rng.RandFloat()*2*scale - scale
	}
	for i := range biases {
		biases[i] = rng.RandFloat()*0.2 - 0.1
	}

	fix := fixpoint.NewModule(fixpoint.KindDense)
	if err := fix.Track("weight", fixpoint.RoleWeight, cfg); err != nil {
		return nil, err
	}
	if err := fix.Track("bias", fixpoint.RoleBias, cfg); err != nil {
		return nil, err
	}
	if err := fix.Track("output", fixpoint.RoleActivation, cfg); err != nil {
		return nil, err
	}

	return &Dense{
		weights:    weights,
		biases:     biases,
		act:        act,
		inSize:     in,
		outSize:    out,
		fix:        fix,
		inputBuf:   make([]float64, in),
		preActBuf:  make([]float64, out),
		outputBuf:  make([]float64, out),
		gradW:      make([]float64, out*in),
		gradB:      make([]float64, out),
		gradInBuf:  make([]float64, in),
		gradOutBuf: make([]float64, out),
		dzBuf:      make([]float64, out),
	}, nil
}

// FixModule returns the layer's quantization policies.
func (d *Dense) FixModule() *fixpoint.Module { return d.fix }

// Forward computes activation(Wx + b) where W and b are the quantized views
// of the float parameters, then quantizes the output activation.
func (d *Dense) Forward(x []float64) []float64 {
	copy(d.inputBuf, x)

	wp := d.fix.Policy("weight")
	bp := d.fix.Policy("bias")
	d.qWeights = wp.Apply(d.weights)
	d.wSat = wp.Saturation()
	d.qBiases = bp.Apply(d.biases)
	d.bSat = bp.Saturation()

	for o := 0; o < d.outSize; o++ {
		sum := d.qBiases[o]
		wBase := o * d.inSize
		for i := 0; i < d.inSize; i++ {
			sum += d.qWeights[wBase+i] * d.inputBuf[i]
		}
		d.preActBuf[o] = sum
		d.outputBuf[o] = d.act.Activate(sum)
	}

	op := d.fix.Policy("output")
	out := op.Apply(d.outputBuf[:d.outSize])
	d.outSat = op.Saturation()
	return out
}

// Backward accumulates parameter gradients and returns the gradient with
// respect to the input. The straight-through rule is applied explicitly at
// each quantization point: gradients pass unchanged where the forward value
// stayed in range and are zeroed where it saturated.
func (d *Dense) Backward(grad []float64) []float64 {
	g := d.gradOutBuf[:d.outSize]
	copy(g, grad)
	fixpoint.MaskGradient(g, d.outSat)
	if gp := d.fix.GradPolicy("output"); gp != nil {
		g = gp.Apply(g)
	}

	for o := 0; o < d.outSize; o++ {
		d.dzBuf[o] = g[o] * d.act.Derivative(d.preActBuf[o])
	}

	for o := 0; o < d.outSize; o++ {
		dzo := d.dzBuf[o]
		wBase := o * d.inSize
		for i := 0; i < d.inSize; i++ {
			idx := wBase + i
			if d.wSat == nil || !d.wSat[idx] {
				d.gradW[idx] += dzo * d.inputBuf[i]
			}
		}
		if d.bSat == nil || !d.bSat[o] {
			d.gradB[o] += dzo
		}
	}

	// Input gradient flows through the quantized weights the forward pass
	// actually consumed.
	for i := 0; i < d.inSize; i++ {
		sum := 0.0
		for o := 0; o < d.outSize; o++ {
			sum += d.dzBuf[o] * d.qWeights[o*d.inSize+i]
		}
		d.gradInBuf[i] = sum
	}
	return d.gradInBuf[:d.inSize]
}

// QuantizeGradients passes the accumulated parameter gradients through the
// layer's gradient policies, in place, before the optimizer step.
func (d *Dense) QuantizeGradients() {
	if gp := d.fix.GradPolicy("weight"); gp != nil {
		copy(d.gradW, gp.Apply(d.gradW))
	}
	if gp := d.fix.GradPolicy("bias"); gp != nil {
		copy(d.gradB, gp.Apply(d.gradB))
	}
}

// Params returns weights then biases flattened (copy).
func (d *Dense) Params() []float64 {
	params := make([]float64, 0, len(d.weights)+len(d.biases))
	params = append(params, d.weights...)
	params = append(params, d.biases...)
	return params
}

// SetParams updates weights and biases from a flattened slice.
func (d *Dense) SetParams(params []float64) {
	copy(d.weights, params[:len(d.weights)])
	copy(d.biases, params[len(d.weights):])
}

// Gradients returns the accumulated gradients flattened, weights then biases.
func (d *Dense) Gradients() []float64 {
	grads := make([]float64, 0, len(d.gradW)+len(d.gradB))
	grads = append(grads, d.gradW...)
	grads = append(grads, d.gradB...)
	return grads
}

// ScaleGradients multiplies accumulated gradients in place.
func (d *Dense) ScaleGradients(f float64) {
	for i := range d.gradW {
		d.gradW[i] *= f
	}
	for i := range d.gradB {
		d.gradB[i] *= f
	}
}

// SetGradients overwrites the accumulated gradients, weights then biases.
func (d *Dense) SetGradients(grads []float64) {
	copy(d.gradW, grads[:len(d.gradW)])
	copy(d.gradB, grads[len(d.gradW):])
}

// ClearGradients zeroes the accumulated gradients.
func (d *Dense) ClearGradients() {
	for i := range d.gradW {
		d.gradW[i] = 0
	}
	for i := range d.gradB {
		d.gradB[i] = 0
	}
}

// Clone creates a deep copy including policy range state.
func (d *Dense) Clone() Layer {
	c := &Dense{
		weights:    append([]float64(nil), d.weights...),
		biases:     append([]float64(nil), d.biases...),
		act:        d.act,
		inSize:     d.inSize,
		outSize:    d.outSize,
		fix:        d.fix.Clone(),
		inputBuf:   make([]float64, d.inSize),
		preActBuf:  make([]float64, d.outSize),
		outputBuf:  make([]float64, d.outSize),
		gradW:      make([]float64, len(d.gradW)),
		gradB:      make([]float64, len(d.gradB)),
		gradInBuf:  make([]float64, d.inSize),
		gradOutBuf: make([]float64, d.outSize),
		dzBuf:      make([]float64, d.outSize),
	}
	return c
}

// InSize returns the input size of the layer.
func (d *Dense) InSize() int { return d.inSize }

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int { return d.outSize }

// Activation returns the activation function used by this layer.
func (d *Dense) Activation() activations.Activation { return d.act }
