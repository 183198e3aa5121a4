// Package loss provides optimized loss functions.
package loss

import "math"

// BackwardInPlacer is an optional interface for loss functions that support
// in-place gradient computation to avoid allocations.
type BackwardInPlacer interface {
	BackwardInPlace(yPred, yTrue, grad []float64)
}

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(yPred, yTrue []float64) float64

	// Backward computes the gradient of the loss w.r.t. prediction.
	Backward(yPred, yTrue []float64) []float64
}

// MSE (Mean Squared Error) loss.
type MSE struct{}

// Forward computes mean squared error: (1/n) * sum((y_pred - y_true)^2)
func (m MSE) Forward(yPred, yTrue []float64) float64 {
	n := len(yPred)
	if n != len(yTrue) {
		panic("MSE: prediction and target must have same length")
	}
	var sum float64
	for i := 0; i < n; i++ {
		diff := yPred[i] - yTrue[i]
		sum += diff * diff
	}
	return sum / float64(n)
}

// Backward computes gradient: dL/dy_pred = (2/n) * (y_pred - y_true)
func (m MSE) Backward(yPred, yTrue []float64) []float64 {
	grad := make([]float64, len(yPred))
	m.BackwardInPlace(yPred, yTrue, grad)
	return grad
}

// BackwardInPlace computes the gradient into a pre-allocated slice.
func (m MSE) BackwardInPlace(yPred, yTrue, grad []float64) {
	n := len(yPred)
	if n != len(yTrue) || n != len(grad) {
		panic("MSE: slices must have same length")
	}
	factor := 2.0 / float64(n)
	for i := 0; i < n; i++ {
		grad[i] = factor * (yPred[i] - yTrue[i])
	}
}

// SoftmaxCrossEntropy combines a softmax over logits with cross entropy
// against a one-hot target. Operating on logits keeps the backward pass
// numerically simple: the gradient is softmax(logits) - target.
type SoftmaxCrossEntropy struct{}

// softmax computes a numerically stable softmax into out.
func softmax(logits, out []float64) {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}

// Forward computes -sum(y_true * log softmax(y_pred)).
func (c SoftmaxCrossEntropy) Forward(yPred, yTrue []float64) float64 {
	n := len(yPred)
	if n != len(yTrue) {
		panic("SoftmaxCrossEntropy: prediction and target must have same length")
	}
	probs := make([]float64, n)
	softmax(yPred, probs)

	const eps = 1e-12
	var sum float64
	for i := 0; i < n; i++ {
		if yTrue[i] != 0 {
			p := probs[i]
			if p < eps {
				p = eps
			}
			sum -= yTrue[i] * math.Log(p)
		}
	}
	return sum
}

// Backward computes softmax(y_pred) - y_true.
func (c SoftmaxCrossEntropy) Backward(yPred, yTrue []float64) []float64 {
	grad := make([]float64, len(yPred))
	c.BackwardInPlace(yPred, yTrue, grad)
	return grad
}

// BackwardInPlace computes the gradient into a pre-allocated slice.
func (c SoftmaxCrossEntropy) BackwardInPlace(yPred, yTrue, grad []float64) {
	n := len(yPred)
	if n != len(yTrue) || n != len(grad) {
		panic("SoftmaxCrossEntropy: slices must have same length")
	}
	softmax(yPred, grad)
	for i := 0; i < n; i++ {
		grad[i] -= yTrue[i]
	}
}
