package fixnn

import (
	"github.com/fixpointml/fixnn/internal/activations"
	"github.com/fixpointml/fixnn/internal/fixpoint"
	"github.com/fixpointml/fixnn/internal/layer"
	"github.com/fixpointml/fixnn/internal/loss"
	"github.com/fixpointml/fixnn/internal/net"
	"github.com/fixpointml/fixnn/internal/opt"
)

// Re-export common types and functions for easier access
type (
	Network   = net.Network
	Layer     = layer.Layer
	Optimizer = opt.Optimizer
	Loss      = loss.Loss

	FixConfig       = fixpoint.Config
	FixMode         = fixpoint.Mode
	FixRole         = fixpoint.Role
	FixKind         = fixpoint.Kind
	FixTypeRole     = fixpoint.TypeRole
	RangeMethod     = fixpoint.RangeMethod
	RangeDescriptor = fixpoint.RangeDescriptor

	Checkpoint    = net.Checkpoint
	DataParallel  = net.DataParallel
	MetricsLogger = net.MetricsLogger
)

// Quantization modes
const (
	FixAuto  = fixpoint.Auto
	FixFixed = fixpoint.Fixed
	FixNone  = fixpoint.None
)

// Tensor roles
const (
	RoleWeight     = fixpoint.RoleWeight
	RoleBias       = fixpoint.RoleBias
	RoleBuffer     = fixpoint.RoleBuffer
	RoleActivation = fixpoint.RoleActivation
	RoleGradient   = fixpoint.RoleGradient
)

// Layer kinds
const (
	KindDense       = fixpoint.KindDense
	KindConv2D      = fixpoint.KindConv2D
	KindBatchNorm2D = fixpoint.KindBatchNorm2D
)

// Range estimation methods
const (
	RangeMax        = fixpoint.RangeMax
	RangeThreeSigma = fixpoint.RangeThreeSigma
	RangeSweep      = fixpoint.RangeSweep
)

// DefaultFixConfig returns the standard quantization configuration: 8-bit
// data, 16-bit gradients, max-based range estimation.
func DefaultFixConfig() FixConfig {
	return fixpoint.DefaultConfig()
}

// Model creation
func New(layers []Layer, lossFn Loss, optimizer Optimizer) *Network {
	return net.New(layers, lossFn, optimizer)
}

func NewDataParallel(n *Network, count int) *DataParallel {
	return net.NewDataParallel(n, count)
}

// Activations
var (
	ReLU    = activations.ReLU{}
	Sigmoid = activations.Sigmoid{}
	Tanh    = activations.Tanh{}
	Linear  = activations.Linear{}
)

// Layers
func Dense(in, out int, act activations.Activation, cfg FixConfig) (Layer, error) {
	return layer.NewDense(in, out, act, cfg)
}

func Conv2D(inChannels, outChannels, kernelSize, stride, padding int,
	act activations.Activation, cfg FixConfig) (Layer, error) {
	return layer.NewConv2D(inChannels, outChannels, kernelSize, stride, padding, act, cfg)
}

func BatchNorm2D(numFeatures int, cfg FixConfig) (Layer, error) {
	return layer.NewBatchNorm2D(numFeatures, 1e-5, 0.1, cfg)
}

func MaxPool2D(inChannels, kernelSize, stride, padding int) Layer {
	return layer.NewMaxPool2D(inChannels, kernelSize, stride, padding)
}

func Flatten() Layer {
	return layer.NewFlatten()
}

// Optimizers
func SGD(lr, momentum, weightDecay float64) Optimizer {
	return opt.NewSGD(lr, momentum, weightDecay)
}

func Adam(lr float64) Optimizer {
	return opt.NewAdam(lr)
}

// Schedulers
func StepLR(optimizer Optimizer, stepSize int, gamma float64) opt.Scheduler {
	return opt.NewStepLR(optimizer, stepSize, gamma)
}

func ExponentialLR(optimizer Optimizer, gamma float64) opt.Scheduler {
	return opt.NewExponentialLR(optimizer, gamma)
}

// Losses
var (
	MSE                 = loss.MSE{}
	SoftmaxCrossEntropy = loss.SoftmaxCrossEntropy{}
)

// Model persistence
func LoadCheckpoint(filename string, cfg FixConfig, lossFn Loss, optimizer Optimizer) (*Network, Checkpoint, error) {
	return net.LoadCheckpoint(filename, cfg, lossFn, optimizer)
}
