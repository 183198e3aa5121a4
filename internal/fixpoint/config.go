package fixpoint

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for malformed quantization configuration:
// a non-positive bitwidth or an unknown range method. Configuration errors
// are rejected up front, never silently defaulted.
var ErrInvalidConfig = errors.New("fixpoint: invalid config")

// Config is the default policy configuration a model is constructed with.
// It is the single source the checkpoint boundary re-derives policy state
// from: reloading a checkpoint must be paired with the same Config used
// originally, or numeric behavior silently changes.
type Config struct {
	// BitwidthData is the bitwidth for parameters, buffers and activations.
	BitwidthData int

	// BitwidthGrad is the bitwidth for gradients, independent from the
	// forward-value configuration.
	BitwidthGrad int

	// RangeMethodData selects range estimation for forward values.
	RangeMethodData RangeMethod

	// RangeMethodGrad selects range estimation for gradients.
	RangeMethodGrad RangeMethod

	// FixGradients enables quantization of gradients during backpropagation.
	FixGradients bool

	// FloatBatchNorm exempts normalization layers from quantization
	// entirely, keeping them in floating point.
	FloatBatchNorm bool
}

// DefaultConfig returns the standard configuration: 8-bit data, 16-bit
// gradients, max-based range estimation, gradient quantization disabled.
func DefaultConfig() Config {
	return Config{
		BitwidthData:    8,
		BitwidthGrad:    16,
		RangeMethodData: RangeMax,
		RangeMethodGrad: RangeMax,
	}
}

// Validate rejects malformed configuration with ErrInvalidConfig.
func (c Config) Validate() error {
	if c.BitwidthData <= 0 {
		return fmt.Errorf("%w: data bitwidth %d (must be > 0)", ErrInvalidConfig, c.BitwidthData)
	}
	if c.BitwidthGrad <= 0 {
		return fmt.Errorf("%w: gradient bitwidth %d (must be > 0)", ErrInvalidConfig, c.BitwidthGrad)
	}
	if c.RangeMethodData < RangeMax || c.RangeMethodData > RangeSweep {
		return fmt.Errorf("%w: unknown data range method %d", ErrInvalidConfig, int(c.RangeMethodData))
	}
	if c.RangeMethodGrad < RangeMax || c.RangeMethodGrad > RangeSweep {
		return fmt.Errorf("%w: unknown gradient range method %d", ErrInvalidConfig, int(c.RangeMethodGrad))
	}
	return nil
}
