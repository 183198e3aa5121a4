package layer

import (
	"fmt"
	"math"
)

// MaxPool2D implements 2D max pooling. Downsamples by taking the maximum
// over sliding windows and stores argmax indices for gradient routing in the
// backward pass. Pooling has no parameters and is not a quantization point.
type MaxPool2D struct {
	inChannels int
	kernelSize int
	stride     int
	padding    int

	inputHeight  int
	inputWidth   int
	outputHeight int
	outputWidth  int

	outputBuf []float64
	gradInBuf []float64
	argmaxBuf []int
}

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D(inChannels, kernelSize, stride, padding int) *MaxPool2D {
	return &MaxPool2D{
		inChannels: inChannels,
		kernelSize: kernelSize,
		stride:     stride,
		padding:    padding,
	}
}

// Forward pools the input, flattened [inChannels, H, W].
func (m *MaxPool2D) Forward(input []float64) []float64 {
	if len(input)%m.inChannels != 0 {
		panic("MaxPool2D: input length not divisible by inChannels")
	}
	channelSize := len(input) / m.inChannels
	h := int(math.Sqrt(float64(channelSize)))
	if h*h != channelSize {
		panic(fmt.Sprintf("MaxPool2D: cannot infer square dimensions from channel size %d", channelSize))
	}
	m.inputHeight, m.inputWidth = h, h
	m.outputHeight = (m.inputHeight+2*m.padding-m.kernelSize)/m.stride + 1
	m.outputWidth = (m.inputWidth+2*m.padding-m.kernelSize)/m.stride + 1

	outTotal := m.inChannels * m.outputHeight * m.outputWidth
	if len(m.outputBuf) < outTotal {
		m.outputBuf = make([]float64, outTotal)
		m.argmaxBuf = make([]int, outTotal)
	}
	if len(m.gradInBuf) < len(input) {
		m.gradInBuf = make([]float64, len(input))
	}

	outSize := m.outputHeight * m.outputWidth
	for c := 0; c < m.inChannels; c++ {
		inBase := c * channelSize
		outBase := c * outSize
		for oh := 0; oh < m.outputHeight; oh++ {
			for ow := 0; ow < m.outputWidth; ow++ {
				best := math.Inf(-1)
				bestIdx := -1
				for kh := 0; kh < m.kernelSize; kh++ {
					inH := oh*m.stride + kh - m.padding
					if inH < 0 || inH >= m.inputHeight {
						continue
					}
					for kw := 0; kw < m.kernelSize; kw++ {
						inW := ow*m.stride + kw - m.padding
						if inW < 0 || inW >= m.inputWidth {
							continue
						}
						idx := inBase + inH*m.inputWidth + inW
						if input[idx] > best {
							best = input[idx]
							bestIdx = idx
						}
					}
				}
				pos := outBase + oh*m.outputWidth + ow
				m.outputBuf[pos] = best
				m.argmaxBuf[pos] = bestIdx
			}
		}
	}
	return m.outputBuf[:outTotal]
}

// Backward routes each output gradient to the input position that produced
// the maximum.
func (m *MaxPool2D) Backward(grad []float64) []float64 {
	inTotal := m.inChannels * m.inputHeight * m.inputWidth
	gradIn := m.gradInBuf[:inTotal]
	for i := range gradIn {
		gradIn[i] = 0
	}
	for pos, idx := range m.argmaxBuf[:len(grad)] {
		if idx >= 0 {
			gradIn[idx] += grad[pos]
		}
	}
	return gradIn
}

// Params returns nil; pooling has no parameters.
func (m *MaxPool2D) Params() []float64 { return nil }

// SetParams is a no-op.
func (m *MaxPool2D) SetParams([]float64) {}

// Gradients returns nil.
func (m *MaxPool2D) Gradients() []float64 { return nil }

// ScaleGradients is a no-op.
func (m *MaxPool2D) ScaleGradients(float64) {}

// SetGradients is a no-op.
func (m *MaxPool2D) SetGradients([]float64) {}

// ClearGradients is a no-op.
func (m *MaxPool2D) ClearGradients() {}

// Clone creates a copy of the pooling layer.
func (m *MaxPool2D) Clone() Layer {
	return NewMaxPool2D(m.inChannels, m.kernelSize, m.stride, m.padding)
}

// InChannels returns the number of input channels.
func (m *MaxPool2D) InChannels() int { return m.inChannels }

// KernelSize returns the pooling window size.
func (m *MaxPool2D) KernelSize() int { return m.kernelSize }

// Stride returns the pooling stride.
func (m *MaxPool2D) Stride() int { return m.stride }

// Padding returns the pooling padding.
func (m *MaxPool2D) Padding() int { return m.padding }
