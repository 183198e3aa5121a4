package main

import (
	"fmt"

	"github.com/fixpointml/fixnn/internal/activations"
	"github.com/fixpointml/fixnn/internal/fixpoint"
	"github.com/fixpointml/fixnn/internal/layer"
	"github.com/fixpointml/fixnn/internal/loss"
	"github.com/fixpointml/fixnn/internal/net"
	"github.com/fixpointml/fixnn/internal/opt"
)

// rangeMethodFromCode maps the CLI codes (0 max, 1 three-sigma, 3 sweep) to
// range methods.
func rangeMethodFromCode(code int64) (fixpoint.RangeMethod, error) {
	switch code {
	case 0:
		return fixpoint.RangeMax, nil
	case 1:
		return fixpoint.RangeThreeSigma, nil
	case 3:
		return fixpoint.RangeSweep, nil
	default:
		return 0, fmt.Errorf("unknown range method code %d (expected 0, 1 or 3)", code)
	}
}

// fixConfigFromOptions derives the quantization configuration from the CLI.
func fixConfigFromOptions(opts *options) (fixpoint.Config, error) {
	dataMethod, err := rangeMethodFromCode(opts.rangeMethod)
	if err != nil {
		return fixpoint.Config{}, err
	}
	gradMethod, err := rangeMethodFromCode(opts.gradRangeMethod)
	if err != nil {
		return fixpoint.Config{}, err
	}
	cfg := fixpoint.Config{
		BitwidthData:    int(opts.bitwidthData),
		BitwidthGrad:    int(opts.bitwidthGrad),
		RangeMethodData: dataMethod,
		RangeMethodGrad: gradMethod,
		FixGradients:    opts.fixGrad,
		FloatBatchNorm:  opts.floatBN,
	}
	return cfg, cfg.Validate()
}

// buildModel constructs the CIFAR-10 classifier: three conv-relu / batchnorm
// / maxpool stages followed by a linear classifier feeding a softmax cross
// entropy loss. Input is a flattened 3x32x32 image.
func buildModel(cfg fixpoint.Config, optimizer opt.Optimizer) (*net.Network, error) {
	type stage struct {
		in, out int
	}
	stages := []stage{{3, 32}, {32, 64}, {64, 128}}

	var layers []layer.Layer
	for _, s := range stages {
		conv, err := layer.NewConv2D(s.in, s.out, 3, 1, 1, activations.ReLU{}, cfg)
		if err != nil {
			return nil, err
		}
		bn, err := layer.NewBatchNorm2D(s.out, 1e-5, 0.1, cfg)
		if err != nil {
			return nil, err
		}
		layers = append(layers, conv, bn, layer.NewMaxPool2D(s.out, 2, 2, 0))
	}

	// 32x32 -> 16x16 -> 8x8 -> 4x4 spatial after the three pooling stages.
	dense, err := layer.NewDense(128*4*4, 10, activations.Linear{}, cfg)
	if err != nil {
		return nil, err
	}
	layers = append(layers, layer.NewFlatten(), dense)

	return net.New(layers, loss.SoftmaxCrossEntropy{}, optimizer), nil
}

// fixMethodSetter is satisfied by both Network and DataParallel; mode
// transitions during training must reach every replica.
type fixMethodSetter interface {
	SetFixMethod(def fixpoint.Mode, overrides map[fixpoint.TypeRole]fixpoint.Mode)
}

// Train/eval mode presets. The running statistics of batch normalization are
// exempt from quantization during training and read through a fresh range at
// evaluation; everything else follows the bulk mode.
func setFixMethodTrain(n fixMethodSetter) {
	n.SetFixMethod(fixpoint.Auto, map[fixpoint.TypeRole]fixpoint.Mode{
		{Kind: fixpoint.KindBatchNorm2D, Role: fixpoint.RoleBuffer}: fixpoint.None,
	})
}

func setFixMethodEval(n fixMethodSetter) {
	n.SetFixMethod(fixpoint.Fixed, map[fixpoint.TypeRole]fixpoint.Mode{
		{Kind: fixpoint.KindBatchNorm2D, Role: fixpoint.RoleBuffer}: fixpoint.Auto,
	})
}
