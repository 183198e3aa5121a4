package layer

import (
	"math"

	"github.com/fixpointml/fixnn/internal/fixpoint"
)

// BatchNorm2D implements 2D batch normalization over per-channel spatial
// statistics, with fixed-point simulation attached to its learnable scale
// and shift, its running statistics, and its output activation.
//
// The running statistics are tracked under the buffer role so the
// orchestrator can exempt them from quantization during training: quantizing
// a running statistic on every batch compounds rounding error through the
// exponential moving average, which degrades accuracy disproportionately at
// small bitwidths. The raw float statistics are always what the moving
// average updates; quantization happens only when the statistics are read.
type BatchNorm2D struct {
	numFeatures int
	eps         float64
	momentum    float64

	training bool

	gamma []float64
	beta  []float64

	runningMean []float64
	runningVar  []float64

	fix *fixpoint.Module

	qGamma   []float64
	qBeta    []float64
	gammaSat []bool
	betaSat  []bool
	outSat   []bool

	gradGamma  []float64
	gradBeta   []float64
	gradInBuf  []float64
	gradOutBuf []float64
	outputBuf  []float64
	savedInput []float64
	savedMean  []float64
	savedStd   []float64
}

// NewBatchNorm2D creates a batch normalization layer over numFeatures
// channels. When cfg.FloatBatchNorm is set the layer tracks no policies and
// stays entirely in floating point.
func NewBatchNorm2D(numFeatures int, eps, momentum float64, cfg fixpoint.Config) (*BatchNorm2D, error) {
	b := &BatchNorm2D{
		numFeatures: numFeatures,
		eps:         eps,
		momentum:    momentum,
		training:    true,
		gamma:       make([]float64, numFeatures),
		beta:        make([]float64, numFeatures),
		runningMean: make([]float64, numFeatures),
		runningVar:  make([]float64, numFeatures),
		gradGamma:   make([]float64, numFeatures),
		gradBeta:    make([]float64, numFeatures),
		savedMean:   make([]float64, numFeatures),
		savedStd:    make([]float64, numFeatures),
	}
	for i := 0; i < numFeatures; i++ {
		b.gamma[i] = 1.0
		b.runningVar[i] = 1.0
	}

	if !cfg.FloatBatchNorm {
		fix := fixpoint.NewModule(fixpoint.KindBatchNorm2D)
		for _, tr := range []struct {
			name string
			role fixpoint.Role
		}{
			{"weight", fixpoint.RoleWeight},
			{"bias", fixpoint.RoleBias},
			{"running_mean", fixpoint.RoleBuffer},
			{"running_var", fixpoint.RoleBuffer},
			{"output", fixpoint.RoleActivation},
		} {
			if err := fix.Track(tr.name, tr.role, cfg); err != nil {
				return nil, err
			}
		}
		b.fix = fix
	}
	return b, nil
}

// FixModule returns the layer's quantization policies, or nil when the layer
// is exempt from quantization.
func (b *BatchNorm2D) FixModule() *fixpoint.Module { return b.fix }

// SetTraining switches between batch statistics (training) and running
// statistics (evaluation).
func (b *BatchNorm2D) SetTraining(training bool) { b.training = training }

// IsTraining reports the current mode.
func (b *BatchNorm2D) IsTraining() bool { return b.training }

// readParams refreshes the quantized views of gamma and beta.
func (b *BatchNorm2D) readParams() {
	if b.fix == nil {
		b.qGamma, b.qBeta = b.gamma, b.beta
		b.gammaSat, b.betaSat = nil, nil
		return
	}
	wp := b.fix.Policy("weight")
	bp := b.fix.Policy("bias")
	b.qGamma = wp.Apply(b.gamma)
	b.gammaSat = wp.Saturation()
	b.qBeta = bp.Apply(b.beta)
	b.betaSat = bp.Saturation()
}

// Forward normalizes x, flattened [numFeatures, H, W]. In training mode it
// uses batch statistics and updates the raw running statistics; in
// evaluation mode it reads the running statistics through their policies.
func (b *BatchNorm2D) Forward(x []float64) []float64 {
	total := len(x)
	spatialSize := total / b.numFeatures

	if len(b.outputBuf) < total {
		b.outputBuf = make([]float64, total)
		b.gradInBuf = make([]float64, total)
		b.gradOutBuf = make([]float64, total)
	}
	output := b.outputBuf[:total]

	b.readParams()

	if b.training {
		if cap(b.savedInput) < total {
			b.savedInput = make([]float64, total)
		}
		b.savedInput = b.savedInput[:total]
		copy(b.savedInput, x)

		for f := 0; f < b.numFeatures; f++ {
			base := f * spatialSize
			sum := 0.0
			for s := 0; s < spatialSize; s++ {
				sum += x[base+s]
			}
			mean := sum / float64(spatialSize)

			sumSq := 0.0
			for s := 0; s < spatialSize; s++ {
				diff := x[base+s] - mean
				sumSq += diff * diff
			}
			variance := sumSq / float64(spatialSize)
			std := math.Sqrt(variance + b.eps)

			b.savedMean[f] = mean
			b.savedStd[f] = std

			// The moving average always updates the raw float statistics.
			b.runningMean[f] = (1-b.momentum)*b.runningMean[f] + b.momentum*mean
			b.runningVar[f] = (1-b.momentum)*b.runningVar[f] + b.momentum*variance

			for s := 0; s < spatialSize; s++ {
				norm := (x[base+s] - mean) / std
				output[base+s] = b.qGamma[f]*norm + b.qBeta[f]
			}
		}
	} else {
		rm, rv := b.runningMean, b.runningVar
		if b.fix != nil {
			rm = b.fix.Policy("running_mean").Apply(b.runningMean)
			rv = b.fix.Policy("running_var").Apply(b.runningVar)
		}
		for f := 0; f < b.numFeatures; f++ {
			base := f * spatialSize
			std := math.Sqrt(rv[f] + b.eps)
			// Saved so the backward pass normalizes with the same
			// (possibly quantized) statistics the forward consumed.
			b.savedMean[f] = rm[f]
			b.savedStd[f] = std
			for s := 0; s < spatialSize; s++ {
				norm := (x[base+s] - rm[f]) / std
				output[base+s] = b.qGamma[f]*norm + b.qBeta[f]
			}
		}
	}

	if b.fix == nil {
		b.outSat = nil
		return output
	}
	op := b.fix.Policy("output")
	out := op.Apply(output)
	b.outSat = op.Saturation()
	return out
}

// Backward accumulates gamma/beta gradients and returns the gradient with
// respect to the input using the saved batch statistics.
func (b *BatchNorm2D) Backward(grad []float64) []float64 {
	total := len(grad)
	spatialSize := total / b.numFeatures

	g := b.gradOutBuf[:total]
	copy(g, grad)
	fixpoint.MaskGradient(g, b.outSat)
	if b.fix != nil {
		if gp := b.fix.GradPolicy("output"); gp != nil {
			g = gp.Apply(g)
		}
	}

	gradIn := b.gradInBuf[:total]

	if !b.training {
		for f := 0; f < b.numFeatures; f++ {
			base := f * spatialSize
			std := b.savedStd[f]
			for s := 0; s < spatialSize; s++ {
				gradIn[base+s] = g[base+s] * b.qGamma[f] / std
			}
		}
		return gradIn
	}

	m := float64(spatialSize)
	for f := 0; f < b.numFeatures; f++ {
		base := f * spatialSize
		mean := b.savedMean[f]
		std := b.savedStd[f]

		sumGrad := 0.0
		sumGradXMean := 0.0
		for s := 0; s < spatialSize; s++ {
			diff := b.savedInput[base+s] - mean
			sumGrad += g[base+s]
			sumGradXMean += g[base+s] * diff
		}

		gm := b.qGamma[f]
		for s := 0; s < spatialSize; s++ {
			diff := b.savedInput[base+s] - mean
			norm := diff / std
			gradIn[base+s] = gm * (g[base+s]/std - sumGrad/m/std - diff*sumGradXMean/m/(std*std*std))

			if b.gammaSat == nil || !b.gammaSat[f] {
				b.gradGamma[f] += g[base+s] * norm
			}
			if b.betaSat == nil || !b.betaSat[f] {
				b.gradBeta[f] += g[base+s]
			}
		}
	}
	return gradIn
}

// QuantizeGradients passes the accumulated gamma/beta gradients through the
// layer's gradient policies before the optimizer step.
func (b *BatchNorm2D) QuantizeGradients() {
	if b.fix == nil {
		return
	}
	if gp := b.fix.GradPolicy("weight"); gp != nil {
		copy(b.gradGamma, gp.Apply(b.gradGamma))
	}
	if gp := b.fix.GradPolicy("bias"); gp != nil {
		copy(b.gradBeta, gp.Apply(b.gradBeta))
	}
}

// Params returns gamma then beta flattened (copy). Running statistics are
// buffers, not learnable parameters; they are persisted separately.
func (b *BatchNorm2D) Params() []float64 {
	params := make([]float64, 0, 2*b.numFeatures)
	params = append(params, b.gamma...)
	params = append(params, b.beta...)
	return params
}

// SetParams updates gamma and beta from a flattened slice.
func (b *BatchNorm2D) SetParams(params []float64) {
	copy(b.gamma, params[:b.numFeatures])
	copy(b.beta, params[b.numFeatures:])
}

// Buffers returns running mean then running variance flattened (copy).
func (b *BatchNorm2D) Buffers() []float64 {
	bufs := make([]float64, 0, 2*b.numFeatures)
	bufs = append(bufs, b.runningMean...)
	bufs = append(bufs, b.runningVar...)
	return bufs
}

// SetBuffers restores running statistics from a flattened slice.
func (b *BatchNorm2D) SetBuffers(bufs []float64) {
	copy(b.runningMean, bufs[:b.numFeatures])
	copy(b.runningVar, bufs[b.numFeatures:])
}

// Gradients returns the accumulated gradients flattened, gamma then beta.
func (b *BatchNorm2D) Gradients() []float64 {
	grads := make([]float64, 0, 2*b.numFeatures)
	grads = append(grads, b.gradGamma...)
	grads = append(grads, b.gradBeta...)
	return grads
}

// ScaleGradients multiplies accumulated gradients in place.
func (b *BatchNorm2D) ScaleGradients(f float64) {
	for i := range b.gradGamma {
		b.gradGamma[i] *= f
	}
	for i := range b.gradBeta {
		b.gradBeta[i] *= f
	}
}

// SetGradients overwrites the accumulated gradients, gamma then beta.
func (b *BatchNorm2D) SetGradients(grads []float64) {
	copy(b.gradGamma, grads[:b.numFeatures])
	copy(b.gradBeta, grads[b.numFeatures:])
}

// ClearGradients zeroes the accumulated gradients.
func (b *BatchNorm2D) ClearGradients() {
	for i := range b.gradGamma {
		b.gradGamma[i] = 0
	}
	for i := range b.gradBeta {
		b.gradBeta[i] = 0
	}
}

// Clone creates a deep copy including running statistics and policy range
// state.
func (b *BatchNorm2D) Clone() Layer {
	c := &BatchNorm2D{
		numFeatures: b.numFeatures,
		eps:         b.eps,
		momentum:    b.momentum,
		training:    b.training,
		gamma:       append([]float64(nil), b.gamma...),
		beta:        append([]float64(nil), b.beta...),
		runningMean: append([]float64(nil), b.runningMean...),
		runningVar:  append([]float64(nil), b.runningVar...),
		gradGamma:   make([]float64, b.numFeatures),
		gradBeta:    make([]float64, b.numFeatures),
		savedMean:   make([]float64, b.numFeatures),
		savedStd:    make([]float64, b.numFeatures),
	}
	if b.fix != nil {
		c.fix = b.fix.Clone()
	}
	return c
}

// NumFeatures returns the number of normalized channels.
func (b *BatchNorm2D) NumFeatures() int { return b.numFeatures }

// RunningMean returns the raw running mean (live slice).
func (b *BatchNorm2D) RunningMean() []float64 { return b.runningMean }

// RunningVar returns the raw running variance (live slice).
func (b *BatchNorm2D) RunningVar() []float64 { return b.runningVar }

// Eps returns the numerical stability constant.
func (b *BatchNorm2D) Eps() float64 { return b.eps }

// Momentum returns the running-statistics momentum.
func (b *BatchNorm2D) Momentum() float64 { return b.momentum }
