package layer

import (
	"fmt"
	"math"

	"github.com/fixpointml/fixnn/internal/activations"
	"github.com/fixpointml/fixnn/internal/fixpoint"
)

// Conv2D implements a 2D convolutional layer with fixed-point simulation
// attached to its weight, bias and output activation. Uses direct
// convolution computation for correctness.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	// Input spatial dimensions; inferred square from input length unless
	// set explicitly.
	inputHeight    int
	inputWidth     int
	setInputHeight int
	setInputWidth  int

	// Weights: [outChannels, inChannels, kernelSize, kernelSize] flattened.
	weights []float64
	biases  []float64

	act activations.Activation
	fix *fixpoint.Module

	qWeights []float64
	qBiases  []float64
	wSat     []bool
	bSat     []bool
	outSat   []bool

	preActBuf  []float64
	outputBuf  []float64
	gradW      []float64
	gradB      []float64
	gradInBuf  []float64
	gradOutBuf []float64
	savedInput []float64
}

// NewConv2D creates a 2D convolutional layer with He-initialized weights and
// the given quantization configuration.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int,
	act activations.Activation, cfg fixpoint.Config) (*Conv2D, error) {

	// He initialization (better for ReLU)
	scale := math.Sqrt(2.0 / float64(inChannels*kernelSize*kernelSize))

	weights := make([]float64, outChannels*inChannels*kernelSize*kernelSize)
	biases := make([]float64, outChannels)

	rng := NewRNG(uint64(inChannels*outChannels*kernelSize + 42))
	for i := range weights {
		weights[i] = rng.RandFloat()*2*scale - scale
	}
	for i := range biases {
		biases[i] = rng.RandFloat()*0.2 - 0.1
	}

	fix := fixpoint.NewModule(fixpoint.KindConv2D)
	if err := fix.Track("weight", fixpoint.RoleWeight, cfg); err != nil {
		return nil, err
	}
	if err := fix.Track("bias", fixpoint.RoleBias, cfg); err != nil {
		return nil, err
	}
	if err := fix.Track("output", fixpoint.RoleActivation, cfg); err != nil {
		return nil, err
	}

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weights:     weights,
		biases:      biases,
		act:         act,
		fix:         fix,
		gradW:       make([]float64, len(weights)),
		gradB:       make([]float64, len(biases)),
	}, nil
}

// FixModule returns the layer's quantization policies.
func (c *Conv2D) FixModule() *fixpoint.Module { return c.fix }

// SetInputDimensions explicitly sets the input spatial dimensions, allowing
// non-square inputs.
func (c *Conv2D) SetInputDimensions(height, width int) {
	c.setInputHeight = height
	c.setInputWidth = width
}

func (c *Conv2D) computeOutputSize(inputHeight, inputWidth int) (int, int) {
	outH := (inputHeight+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (inputWidth+2*c.padding-c.kernelSize)/c.stride + 1
	return outH, outW
}

func (c *Conv2D) resolveInputDims(total int) (int, int) {
	channelSize := total / c.inChannels
	if c.setInputHeight > 0 && c.setInputWidth > 0 {
		if c.setInputHeight*c.setInputWidth != channelSize {
			panic(fmt.Sprintf("Conv2D: input dimensions %dx%d don't match channel size %d",
				c.setInputHeight, c.setInputWidth, channelSize))
		}
		return c.setInputHeight, c.setInputWidth
	}
	h := int(math.Sqrt(float64(channelSize)))
	if h*h != channelSize {
		panic(fmt.Sprintf("Conv2D: cannot infer square dimensions from channel size %d", channelSize))
	}
	return h, h
}

// Forward performs a forward pass using the quantized views of weight and
// bias. Input: flattened [inChannels, inputHeight, inputWidth]. Returns
// flattened [outChannels, outputHeight, outputWidth].
func (c *Conv2D) Forward(input []float64) []float64 {
	if len(input)%c.inChannels != 0 {
		panic("Conv2D: input length not divisible by inChannels")
	}
	inputHeight, inputWidth := c.resolveInputDims(len(input))
	c.inputHeight = inputHeight
	c.inputWidth = inputWidth

	outH, outW := c.computeOutputSize(inputHeight, inputWidth)
	requiredOutput := c.outChannels * outH * outW
	if len(c.preActBuf) < requiredOutput {
		c.preActBuf = make([]float64, requiredOutput)
		c.outputBuf = make([]float64, requiredOutput)
		c.gradOutBuf = make([]float64, requiredOutput)
	}
	if len(c.gradInBuf) < len(input) {
		c.gradInBuf = make([]float64, len(input))
	}
	if cap(c.savedInput) < len(input) {
		c.savedInput = make([]float64, len(input))
	}
	c.savedInput = c.savedInput[:len(input)]
	copy(c.savedInput, input)

	wp := c.fix.Policy("weight")
	bp := c.fix.Policy("bias")
	c.qWeights = wp.Apply(c.weights)
	c.wSat = wp.Saturation()
	c.qBiases = bp.Apply(c.biases)
	c.bSat = bp.Saturation()

	for i := 0; i < requiredOutput; i++ {
		c.preActBuf[i] = 0
	}

	outSize := outH * outW
	icWeightStride := c.kernelSize * c.kernelSize
	ocWeightStride := c.inChannels * icWeightStride

	for oc := 0; oc < c.outChannels; oc++ {
		ocWeightBase := oc * ocWeightStride
		ocOutBase := oc * outSize

		for ic := 0; ic < c.inChannels; ic++ {
			icWeightBase := ocWeightBase + ic*icWeightStride
			inputChannelOffset := ic * inputHeight * inputWidth

			for kh := 0; kh < c.kernelSize; kh++ {
				khWeightBase := icWeightBase + kh*c.kernelSize

				for kw := 0; kw < c.kernelSize; kw++ {
					wVal := c.qWeights[khWeightBase+kw]

					for oh := 0; oh < outH; oh++ {
						inH := oh*c.stride + kh - c.padding
						if inH < 0 || inH >= inputHeight {
							continue
						}
						inHOffset := inputChannelOffset + inH*inputWidth
						ohOffset := ocOutBase + oh*outW
						for ow := 0; ow < outW; ow++ {
							inW := ow*c.stride + kw - c.padding
							if inW >= 0 && inW < inputWidth {
								c.preActBuf[ohOffset+ow] += wVal * input[inHOffset+inW]
							}
						}
					}
				}
			}
		}

		biasVal := c.qBiases[oc]
		for oh := 0; oh < outH; oh++ {
			ohOffset := ocOutBase + oh*outW
			for ow := 0; ow < outW; ow++ {
				pos := ohOffset + ow
				sum := c.preActBuf[pos] + biasVal
				c.preActBuf[pos] = sum
				c.outputBuf[pos] = c.act.Activate(sum)
			}
		}
	}

	op := c.fix.Policy("output")
	out := op.Apply(c.outputBuf[:requiredOutput])
	c.outSat = op.Saturation()
	return out
}

// Backward accumulates parameter gradients and returns the gradient with
// respect to the input, applying the straight-through rule at every
// quantization point of the forward pass.
func (c *Conv2D) Backward(grad []float64) []float64 {
	outH, outW := c.computeOutputSize(c.inputHeight, c.inputWidth)
	outSize := outH * outW

	g := c.gradOutBuf[:len(grad)]
	copy(g, grad)
	fixpoint.MaskGradient(g, c.outSat)
	if gp := c.fix.GradPolicy("output"); gp != nil {
		g = gp.Apply(g)
	}

	gradInput := c.gradInBuf[:c.inChannels*c.inputHeight*c.inputWidth]
	for i := range gradInput {
		gradInput[i] = 0
	}

	icWeightStride := c.kernelSize * c.kernelSize
	ocWeightStride := c.inChannels * icWeightStride

	for oc := 0; oc < c.outChannels; oc++ {
		ocWeightBase := oc * ocWeightStride
		ocOutBase := oc * outSize

		for oh := 0; oh < outH; oh++ {
			ohOffset := ocOutBase + oh*outW
			for ow := 0; ow < outW; ow++ {
				pos := ohOffset + ow
				gradAfterAct := g[pos] * c.act.Derivative(c.preActBuf[pos])
				if gradAfterAct == 0 {
					continue
				}

				if c.bSat == nil || !c.bSat[oc] {
					c.gradB[oc] += gradAfterAct
				}

				for ic := 0; ic < c.inChannels; ic++ {
					icWeightBase := ocWeightBase + ic*icWeightStride
					inputChannelOffset := ic * c.inputHeight * c.inputWidth

					for kh := 0; kh < c.kernelSize; kh++ {
						inH := oh*c.stride + kh - c.padding
						if inH < 0 || inH >= c.inputHeight {
							continue
						}
						inHOffset := inputChannelOffset + inH*c.inputWidth
						khWeightBase := icWeightBase + kh*c.kernelSize

						for kw := 0; kw < c.kernelSize; kw++ {
							inW := ow*c.stride + kw - c.padding
							if inW < 0 || inW >= c.inputWidth {
								continue
							}
							inputIdx := inHOffset + inW
							weightIdx := khWeightBase + kw

							if c.wSat == nil || !c.wSat[weightIdx] {
								c.gradW[weightIdx] += gradAfterAct * c.savedInput[inputIdx]
							}
							gradInput[inputIdx] += gradAfterAct * c.qWeights[weightIdx]
						}
					}
				}
			}
		}
	}

	return gradInput
}

// QuantizeGradients passes the accumulated parameter gradients through the
// layer's gradient policies before the optimizer step.
func (c *Conv2D) QuantizeGradients() {
	if gp := c.fix.GradPolicy("weight"); gp != nil {
		copy(c.gradW, gp.Apply(c.gradW))
	}
	if gp := c.fix.GradPolicy("bias"); gp != nil {
		copy(c.gradB, gp.Apply(c.gradB))
	}
}

// Params returns weights then biases flattened (copy).
func (c *Conv2D) Params() []float64 {
	params := make([]float64, len(c.weights)+len(c.biases))
	copy(params, c.weights)
	copy(params[len(c.weights):], c.biases)
	return params
}

// SetParams updates weights and biases from a flattened slice.
func (c *Conv2D) SetParams(params []float64) {
	copy(c.weights, params[:len(c.weights)])
	copy(c.biases, params[len(c.weights):])
}

// Gradients returns the accumulated gradients flattened (copy).
func (c *Conv2D) Gradients() []float64 {
	grads := make([]float64, len(c.gradW)+len(c.gradB))
	copy(grads, c.gradW)
	copy(grads[len(c.gradW):], c.gradB)
	return grads
}

// ScaleGradients multiplies accumulated gradients in place.
func (c *Conv2D) ScaleGradients(f float64) {
	for i := range c.gradW {
		c.gradW[i] *= f
	}
	for i := range c.gradB {
		c.gradB[i] *= f
	}
}

// SetGradients overwrites the accumulated gradients, weights then biases.
func (c *Conv2D) SetGradients(grads []float64) {
	copy(c.gradW, grads[:len(c.gradW)])
	copy(c.gradB, grads[len(c.gradW):])
}

// ClearGradients zeroes the accumulated gradients.
func (c *Conv2D) ClearGradients() {
	for i := range c.gradW {
		c.gradW[i] = 0
	}
	for i := range c.gradB {
		c.gradB[i] = 0
	}
}

// Clone creates a deep copy including policy range state.
func (c *Conv2D) Clone() Layer {
	return &Conv2D{
		inChannels:     c.inChannels,
		outChannels:    c.outChannels,
		kernelSize:     c.kernelSize,
		stride:         c.stride,
		padding:        c.padding,
		setInputHeight: c.setInputHeight,
		setInputWidth:  c.setInputWidth,
		weights:        append([]float64(nil), c.weights...),
		biases:         append([]float64(nil), c.biases...),
		act:            c.act,
		fix:            c.fix.Clone(),
		gradW:          make([]float64, len(c.gradW)),
		gradB:          make([]float64, len(c.gradB)),
	}
}

// InChannels returns the number of input channels.
func (c *Conv2D) InChannels() int { return c.inChannels }

// OutChannels returns the number of output feature maps.
func (c *Conv2D) OutChannels() int { return c.outChannels }

// KernelSize returns the (square) kernel size.
func (c *Conv2D) KernelSize() int { return c.kernelSize }

// Stride returns the stride.
func (c *Conv2D) Stride() int { return c.stride }

// Padding returns the zero padding size.
func (c *Conv2D) Padding() int { return c.padding }

// Activation returns the activation function.
func (c *Conv2D) Activation() activations.Activation { return c.act }
