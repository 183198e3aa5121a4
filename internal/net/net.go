// Package net provides the FixNet orchestrator: a network of fix-aware
// layers with bulk policy control, training, checkpointing and reporting.
package net

import (
	"gonum.org/v1/gonum/floats"

	"github.com/fixpointml/fixnn/internal/fixpoint"
	"github.com/fixpointml/fixnn/internal/layer"
	"github.com/fixpointml/fixnn/internal/loss"
	"github.com/fixpointml/fixnn/internal/opt"
)

// Network is a collection of layers that can be forwarded and backwarded.
// It is the single point of truth for bulk policy mutation: all quantization
// mode state lives in the layer modules it owns, never in process-wide
// globals.
type Network struct {
	layers []layer.Layer
	loss   loss.Loss
	opt    opt.Optimizer

	// Pre-allocated gradient buffer for training
	lossGradBuf []float64
}

// New creates a new network with the given layers.
func New(layers []layer.Layer, lossFn loss.Loss, optimizer opt.Optimizer) *Network {
	return &Network{layers: layers, loss: lossFn, opt: optimizer}
}

// Layers returns the network's layers slice.
func (n *Network) Layers() []layer.Layer { return n.layers }

// Forward performs a forward pass through all layers.
func (n *Network) Forward(x []float64) []float64 {
	curr := x
	for i := range n.layers {
		curr = n.layers[i].Forward(curr)
	}
	return curr
}

// Backward performs a backward pass through all layers, accumulating
// parameter gradients.
func (n *Network) Backward(grad []float64) []float64 {
	curr := grad
	for i := len(n.layers) - 1; i >= 0; i-- {
		curr = n.layers[i].Backward(curr)
	}
	return curr
}

// Step performs one optimization step. Accumulated parameter gradients pass
// through each layer's gradient policies (when gradient quantization is
// enabled) immediately before the optimizer consumes them.
func (n *Network) Step() {
	n.opt.BeginStep()
	for i, l := range n.layers {
		if gq, ok := l.(layer.GradQuantizer); ok {
			gq.QuantizeGradients()
		}
		params := l.Params()
		if len(params) == 0 {
			continue
		}
		updated := n.opt.Step(i, params, l.Gradients())
		l.SetParams(updated)
	}
}

// SetTraining switches every layer between training and evaluation
// computation.
func (n *Network) SetTraining(training bool) {
	for _, l := range n.layers {
		if ta, ok := l.(layer.TrainingAware); ok {
			ta.SetTraining(training)
		}
	}
}

// SetFixMethod moves every quantization policy in the tree to the default
// mode, with overrides keyed by (layer kind, tensor role) applied on top.
// Unmatched policies take the default. Idempotent: repeating the call with
// the same arguments produces the same configuration.
func (n *Network) SetFixMethod(def fixpoint.Mode, overrides map[fixpoint.TypeRole]fixpoint.Mode) {
	for _, l := range n.layers {
		if f, ok := l.(layer.Fixed); ok {
			if m := f.FixModule(); m != nil {
				m.SetMethod(def, overrides)
			}
		}
	}
}

// ClearGradients zeroes every layer's accumulated gradients.
func (n *Network) ClearGradients() {
	for _, l := range n.layers {
		l.ClearGradients()
	}
}

// Train performs a training step on a single sample and returns the loss.
func (n *Network) Train(x, y []float64) float64 {
	n.ClearGradients()
	l, _ := n.forwardBackward(x, y)
	n.Step()
	return l
}

// TrainBatch accumulates gradients over a batch, averages them, and takes a
// single optimizer step. Returns the mean loss and each sample's predicted
// class, taken from the training forward itself so accuracy tracking needs
// no extra pass that would disturb running statistics.
func (n *Network) TrainBatch(batchX, batchY [][]float64) (float64, []int) {
	batchSize := len(batchX)
	if batchSize == 0 {
		return 0, nil
	}
	n.ClearGradients()
	preds := make([]int, batchSize)
	var totalLoss float64
	for i := range batchX {
		l, p := n.forwardBackward(batchX[i], batchY[i])
		totalLoss += l
		preds[i] = p
	}
	inv := 1.0 / float64(batchSize)
	for _, l := range n.layers {
		l.ScaleGradients(inv)
	}
	n.Step()
	return totalLoss * inv, preds
}

// forwardBackward runs one forward pass, computes the loss gradient, and
// accumulates parameter gradients. Returns the loss and the predicted class.
func (n *Network) forwardBackward(x, y []float64) (float64, int) {
	yPred := n.Forward(x)
	pred := floats.MaxIdx(yPred)
	l := n.loss.Forward(yPred, y)

	if cap(n.lossGradBuf) < len(yPred) {
		n.lossGradBuf = make([]float64, len(yPred))
	}
	grad := n.lossGradBuf[:len(yPred)]
	if bip, ok := n.loss.(loss.BackwardInPlacer); ok {
		bip.BackwardInPlace(yPred, y, grad)
	} else {
		grad = n.loss.Backward(yPred, y)
	}
	n.Backward(grad)
	return l, pred
}

// Evaluate returns the mean loss over a dataset.
func (n *Network) Evaluate(x, y [][]float64) float64 {
	var totalLoss float64
	for i := range x {
		pred := n.Forward(x[i])
		totalLoss += n.loss.Forward(pred, y[i])
	}
	return totalLoss / float64(len(x))
}

// Predict returns the index of the largest output, i.e. the predicted class.
func (n *Network) Predict(x []float64) int {
	return floats.MaxIdx(n.Forward(x))
}

// Params returns all network parameters flattened (copy).
func (n *Network) Params() []float64 {
	var params []float64
	for _, l := range n.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// Gradients returns all network gradients flattened (copy).
func (n *Network) Gradients() []float64 {
	var gradients []float64
	for _, l := range n.layers {
		gradients = append(gradients, l.Gradients()...)
	}
	return gradients
}

// Clone creates a deep copy of the network's layers, including every
// policy's cached range state. The clone shares the loss function but no
// optimizer: clones are replicas, and only the primary steps.
func (n *Network) Clone() *Network {
	cloned := make([]layer.Layer, len(n.layers))
	for i, l := range n.layers {
		cloned[i] = l.Clone()
	}
	return &Network{layers: cloned, loss: n.loss}
}
