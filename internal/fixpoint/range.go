// Package fixpoint simulates limited-bitwidth fixed-point arithmetic on top
// of ordinary float64 tensors. Values are quantized to a signed grid derived
// from an estimated dynamic range, while gradients flow through a
// straight-through estimator so the surrounding optimizer keeps training in
// floating point.
package fixpoint

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RangeMethod selects how the dynamic range of a tensor is estimated.
type RangeMethod int

const (
	// RangeMax uses the maximum absolute value observed in the tensor.
	RangeMax RangeMethod = iota

	// RangeThreeSigma uses mean(|x|) + 3*stddev(|x|), clipped at the true
	// maximum. More robust to outliers than RangeMax at the cost of a small
	// clipping error on the tails.
	RangeThreeSigma

	// RangeSweep evaluates geometrically spaced fractions of the maximum and
	// picks the one minimizing the sum of squared quantization error. The
	// most expensive method: O(candidates * len(x)).
	RangeSweep
)

// String returns the method name.
func (m RangeMethod) String() string {
	switch m {
	case RangeMax:
		return "max"
	case RangeThreeSigma:
		return "3sigma"
	case RangeSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// rangeFloor is substituted for a degenerate (all-zero) tensor so the
// derived scale never divides by zero. Zero tensors are a legitimate
// transient state, e.g. a freshly zero-initialized bias.
const rangeFloor = 1e-12

// sweepCandidates is the number of fractions of the maximum evaluated by
// RangeSweep: max * 2^-k for k in [0, sweepCandidates).
const sweepCandidates = 8

// RangeDescriptor is the maximum representable magnitude used to derive a
// fixed-point scale factor. Immutable once computed for a given pass.
type RangeDescriptor struct {
	Method RangeMethod
	Value  float64
}

// Scale returns the quantization step for the given bitwidth:
// Value / (2^(bitwidth-1) - 1).
func (rd RangeDescriptor) Scale(bitwidth int) float64 {
	return rd.Value / float64(int64(1)<<(bitwidth-1)-1)
}

// EstimateRange computes the dynamic range of x under the given method.
// Pure function of the tensor values and the method choice; bitwidth is only
// consulted by RangeSweep to evaluate candidate quantization error.
func EstimateRange(x []float64, method RangeMethod, bitwidth int) RangeDescriptor {
	switch method {
	case RangeThreeSigma:
		return RangeDescriptor{Method: method, Value: threeSigmaRange(x)}
	case RangeSweep:
		return RangeDescriptor{Method: method, Value: sweepRange(x, bitwidth)}
	default:
		return RangeDescriptor{Method: RangeMax, Value: maxAbs(x)}
	}
}

// maxAbs returns max(|x|), floored so scale derivation stays well-defined.
func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	if m < rangeFloor {
		return rangeFloor
	}
	return m
}

// threeSigmaRange returns mean(|x|) + 3*stddev(|x|), clipped at max(|x|).
// The clip keeps RangeMax an upper bound for every tensor.
func threeSigmaRange(x []float64) float64 {
	if len(x) == 0 {
		return rangeFloor
	}
	abs := make([]float64, len(x))
	for i, v := range x {
		abs[i] = math.Abs(v)
	}
	mean, std := stat.MeanStdDev(abs, nil)
	if math.IsNaN(std) {
		// Single-element tensor: stddev is undefined, fall back to the mean.
		std = 0
	}
	r := mean + 3*std
	if m := maxAbs(x); r > m {
		r = m
	}
	if r < rangeFloor {
		return rangeFloor
	}
	return r
}

// sweepRange evaluates max * 2^-k candidates and returns the one with the
// smallest sum of squared quantization error on the current tensor.
func sweepRange(x []float64, bitwidth int) float64 {
	m := maxAbs(x)
	if m <= rangeFloor {
		return rangeFloor
	}

	best := m
	bestErr := math.Inf(1)
	levels := float64(int64(1) << (bitwidth - 1))
	candidate := m
	for k := 0; k < sweepCandidates; k++ {
		scale := candidate / (levels - 1)
		var sse float64
		for _, v := range x {
			q := math.Round(v / scale)
			if q > levels-1 {
				q = levels - 1
			} else if q < -(levels - 1) {
				q = -(levels - 1)
			}
			d := v - q*scale
			sse += d * d
		}
		if sse < bestErr {
			bestErr = sse
			best = candidate
		}
		candidate /= 2
	}
	if best < rangeFloor {
		return rangeFloor
	}
	return best
}
