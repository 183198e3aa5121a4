package fixpoint

import "fmt"

// Mode is the quantization state of a single policy.
type Mode int

const (
	// Auto recomputes the range descriptor from current tensor values on
	// every use, then quantizes. Used during training forward passes so the
	// representable range tracks the evolving distribution.
	Auto Mode = iota

	// Fixed reuses the most recently computed range descriptor and
	// quantizes with it. Used at evaluation time so inference sees a
	// stable, reproducible quantization grid.
	Fixed

	// None skips quantization entirely; the tensor passes through
	// unchanged. Used for buffers that must not be quantized during
	// training, e.g. a normalization layer's running statistics.
	None
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Fixed:
		return "fixed"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// Role is the functional category of a tracked tensor, used to key policy
// overrides.
type Role int

const (
	RoleWeight Role = iota
	RoleBias
	RoleBuffer
	RoleActivation
	RoleGradient
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleWeight:
		return "weight"
	case RoleBias:
		return "bias"
	case RoleBuffer:
		return "buffer"
	case RoleActivation:
		return "activation"
	case RoleGradient:
		return "gradient"
	default:
		return "unknown"
	}
}

// Policy is the per-tensor quantization state machine. It holds the current
// mode, the configured bitwidth and range method, and the cached range
// descriptor. Mode transitions are externally triggered only; bitwidth and
// method are configuration, set once at construction.
type Policy struct {
	mode     Mode
	role     Role
	bitwidth int
	method   RangeMethod

	rd       RangeDescriptor
	hasRange bool

	// Reusable buffers. out and sat are valid until the next Apply.
	out []float64
	sat []bool
}

// NewPolicy creates a policy in Auto mode. An invalid bitwidth or range
// method is a configuration error, rejected here rather than on every call.
func NewPolicy(role Role, bitwidth int, method RangeMethod) (*Policy, error) {
	if bitwidth <= 0 {
		return nil, fmt.Errorf("%w: bitwidth %d (must be > 0)", ErrInvalidConfig, bitwidth)
	}
	if method < RangeMax || method > RangeSweep {
		return nil, fmt.Errorf("%w: unknown range method %d", ErrInvalidConfig, int(method))
	}
	return &Policy{mode: Auto, role: role, bitwidth: bitwidth, method: method}, nil
}

// Mode returns the current mode.
func (p *Policy) Mode() Mode { return p.mode }

// Role returns the tensor role this policy governs.
func (p *Policy) Role() Role { return p.role }

// Bitwidth returns the configured bitwidth.
func (p *Policy) Bitwidth() int { return p.bitwidth }

// Method returns the configured range estimation method.
func (p *Policy) Method() RangeMethod { return p.method }

// Range returns the cached range descriptor and whether one has been
// computed yet.
func (p *Policy) Range() (RangeDescriptor, bool) { return p.rd, p.hasRange }

// SetMode transitions the policy. Switching Auto -> Fixed freezes the range
// last computed under Auto; switching back to Auto recomputes from current
// tensor values on the next use rather than reusing the frozen one.
func (p *Policy) SetMode(mode Mode) { p.mode = mode }

// Apply quantizes x under the current mode and returns the result. In None
// mode x is returned unchanged. The returned slice is owned by the policy
// and valid until the next Apply; the recompute-then-apply sequence under
// Auto is a single unit, so a caller never observes a partially updated
// range.
func (p *Policy) Apply(x []float64) []float64 {
	if p.mode == None {
		p.sat = nil
		return x
	}
	if p.mode == Auto || !p.hasRange {
		// A policy that starts out Fixed with no cached range computes one
		// from the first tensor it sees, then freezes it.
		p.rd = EstimateRange(x, p.method, p.bitwidth)
		p.hasRange = true
	}
	if cap(p.out) < len(x) {
		p.out = make([]float64, len(x))
		p.sat = make([]bool, len(x))
	}
	p.out = p.out[:len(x)]
	p.sat = p.sat[:len(x)]
	QuantizeInto(x, p.out, p.bitwidth, p.rd, p.sat)
	return p.out
}

// Saturation returns the saturation mask of the last Apply, or nil if the
// last Apply passed through (None mode). Valid until the next Apply.
func (p *Policy) Saturation() []bool { return p.sat }

// Clone returns an independent copy of the policy, including the cached
// range state. Replicas of a model must each carry their own copy: an
// Auto-computed range reflects only the batch shard its replica processed.
func (p *Policy) Clone() *Policy {
	return &Policy{
		mode:     p.mode,
		role:     p.role,
		bitwidth: p.bitwidth,
		method:   p.method,
		rd:       p.rd,
		hasRange: p.hasRange,
	}
}
