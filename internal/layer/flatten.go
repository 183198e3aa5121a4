package layer

// Flatten marks the transition from spatial feature maps to a flat feature
// vector. Tensors already flow flattened between layers, so the forward and
// backward passes are identity; the layer exists to make model definitions
// read like their architecture.
type Flatten struct{}

// NewFlatten creates a flatten layer.
func NewFlatten() *Flatten { return &Flatten{} }

// Forward returns the input unchanged.
func (f *Flatten) Forward(x []float64) []float64 { return x }

// Backward returns the gradient unchanged.
func (f *Flatten) Backward(grad []float64) []float64 { return grad }

// Params returns nil; flatten has no parameters.
func (f *Flatten) Params() []float64 { return nil }

// SetParams is a no-op.
func (f *Flatten) SetParams([]float64) {}

// Gradients returns nil.
func (f *Flatten) Gradients() []float64 { return nil }

// ScaleGradients is a no-op.
func (f *Flatten) ScaleGradients(float64) {}

// SetGradients is a no-op.
func (f *Flatten) SetGradients([]float64) {}

// ClearGradients is a no-op.
func (f *Flatten) ClearGradients() {}

// Clone returns a new flatten layer.
func (f *Flatten) Clone() Layer { return NewFlatten() }
