package net

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/fixpointml/fixnn/internal/activations"
	"github.com/fixpointml/fixnn/internal/fixpoint"
	"github.com/fixpointml/fixnn/internal/layer"
	"github.com/fixpointml/fixnn/internal/loss"
	"github.com/fixpointml/fixnn/internal/opt"
)

// LayerConfig holds the configuration needed to reconstruct a layer. Params
// and Buffers carry the raw float values, never a quantized view: policies
// transform values at read time, so persisting the quantized view would
// double-quantize on resume.
type LayerConfig struct {
	Type string

	// Dense
	InSize  int
	OutSize int

	// Conv2D / MaxPool2D
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int

	// BatchNorm2D
	NumFeatures int
	Eps         float64
	Momentum    float64

	Activation string
	Params     []float64
	Buffers    []float64
}

// Checkpoint couples a network snapshot with training progress so a run can
// resume where it stopped. Quantization policy configuration is not
// persisted: it is re-derived from the fixpoint.Config passed at load time,
// the same way it was derived at construction.
type Checkpoint struct {
	Epoch   int
	BestAcc float64
	Layers  []LayerConfig
}

// ExtractLayerConfig extracts the reconstruction configuration from a layer.
func ExtractLayerConfig(l layer.Layer) LayerConfig {
	switch t := l.(type) {
	case *layer.Dense:
		return LayerConfig{
			Type:       "Dense",
			InSize:     t.InSize(),
			OutSize:    t.OutSize(),
			Activation: activations.Name(t.Activation()),
			Params:     t.Params(),
		}
	case *layer.Conv2D:
		return LayerConfig{
			Type:        "Conv2D",
			InChannels:  t.InChannels(),
			OutChannels: t.OutChannels(),
			KernelSize:  t.KernelSize(),
			Stride:      t.Stride(),
			Padding:     t.Padding(),
			Activation:  activations.Name(t.Activation()),
			Params:      t.Params(),
		}
	case *layer.BatchNorm2D:
		return LayerConfig{
			Type:        "BatchNorm2D",
			NumFeatures: t.NumFeatures(),
			Eps:         t.Eps(),
			Momentum:    t.Momentum(),
			Params:      t.Params(),
			Buffers:     t.Buffers(),
		}
	case *layer.MaxPool2D:
		return LayerConfig{
			Type:       "MaxPool2D",
			InChannels: t.InChannels(),
			KernelSize: t.KernelSize(),
			Stride:     t.Stride(),
			Padding:    t.Padding(),
		}
	case *layer.Flatten:
		return LayerConfig{Type: "Flatten"}
	default:
		return LayerConfig{Type: "Unknown", Params: l.Params()}
	}
}

// CreateLayer reconstructs a layer from the configuration, attaching fresh
// quantization policies derived from cfg.
func (c *LayerConfig) CreateLayer(cfg fixpoint.Config) (layer.Layer, error) {
	switch c.Type {
	case "Dense":
		d, err := layer.NewDense(c.InSize, c.OutSize, activations.ByName(c.Activation), cfg)
		if err != nil {
			return nil, err
		}
		d.SetParams(c.Params)
		return d, nil
	case "Conv2D":
		conv, err := layer.NewConv2D(c.InChannels, c.OutChannels, c.KernelSize, c.Stride, c.Padding,
			activations.ByName(c.Activation), cfg)
		if err != nil {
			return nil, err
		}
		conv.SetParams(c.Params)
		return conv, nil
	case "BatchNorm2D":
		bn, err := layer.NewBatchNorm2D(c.NumFeatures, c.Eps, c.Momentum, cfg)
		if err != nil {
			return nil, err
		}
		bn.SetParams(c.Params)
		bn.SetBuffers(c.Buffers)
		return bn, nil
	case "MaxPool2D":
		return layer.NewMaxPool2D(c.InChannels, c.KernelSize, c.Stride, c.Padding), nil
	case "Flatten":
		return layer.NewFlatten(), nil
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", c.Type)
	}
}

// SaveCheckpoint saves the network and training progress to a file using gob
// encoding. Optimizer state is not saved.
func (n *Network) SaveCheckpoint(filename string, epoch int, bestAcc float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	ckpt := Checkpoint{
		Epoch:   epoch,
		BestAcc: bestAcc,
		Layers:  make([]LayerConfig, len(n.layers)),
	}
	for i, l := range n.layers {
		ckpt.Layers[i] = ExtractLayerConfig(l)
	}

	if err := gob.NewEncoder(file).Encode(&ckpt); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint loads a network from a checkpoint file. Layers are
// reconstructed with policies derived from cfg; the loss and optimizer are
// supplied by the caller. A missing file is an error.
func LoadCheckpoint(filename string, cfg fixpoint.Config, lossFn loss.Loss, optimizer opt.Optimizer) (*Network, Checkpoint, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, Checkpoint{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var ckpt Checkpoint
	if err := gob.NewDecoder(file).Decode(&ckpt); err != nil {
		return nil, Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	layers := make([]layer.Layer, len(ckpt.Layers))
	for i := range ckpt.Layers {
		l, err := ckpt.Layers[i].CreateLayer(cfg)
		if err != nil {
			return nil, Checkpoint{}, fmt.Errorf("failed to create layer %d: %w", i, err)
		}
		layers[i] = l
	}
	return New(layers, lossFn, optimizer), ckpt, nil
}
