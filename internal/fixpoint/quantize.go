package fixpoint

import "math"

// Quantize returns x rounded onto the fixed-point grid derived from the
// range descriptor: round(x/scale) * scale, clamped to the representable
// signed range [-(2^(b-1)-1), 2^(b-1)-1] * scale.
//
// Saturation is not an error: values beyond the range are clamped and
// silently lose precision, since that is the operating point being
// evaluated. Bitwidth validity is checked at configuration time, not here.
func Quantize(x []float64, bitwidth int, rd RangeDescriptor) []float64 {
	out := make([]float64, len(x))
	QuantizeInto(x, out, bitwidth, rd, nil)
	return out
}

// QuantizeInto quantizes x into out, which must have the same length.
// When sat is non-nil it records, per element, whether the forward clamp
// saturated; the mask drives the straight-through backward rule.
func QuantizeInto(x, out []float64, bitwidth int, rd RangeDescriptor, sat []bool) {
	qmax := float64(int64(1)<<(bitwidth-1) - 1)
	scale := rd.Value / qmax
	for i, v := range x {
		q := math.Round(v / scale)
		saturated := false
		if q > qmax {
			q = qmax
			saturated = true
		} else if q < -qmax {
			q = -qmax
			saturated = true
		}
		out[i] = q * scale
		if sat != nil {
			sat[i] = saturated
		}
	}
}

// MaskGradient applies the straight-through estimator to grad in place.
// This is a deliberate approximation, not the true derivative of rounding
// (which is zero almost everywhere): the gradient is treated as identity
// where the forward pass stayed inside the representable range, and zeroed
// where the clamp saturated, so the optimizer is still penalized for
// inputs that saturate. A nil mask leaves grad untouched.
func MaskGradient(grad []float64, sat []bool) {
	if sat == nil {
		return
	}
	for i := range grad {
		if sat[i] {
			grad[i] = 0
		}
	}
}
