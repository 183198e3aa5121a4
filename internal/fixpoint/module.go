package fixpoint

import "fmt"

// Kind identifies a fix-aware layer type. Overrides are keyed by a closed
// enumeration of (Kind, Role) pairs resolved at model construction time;
// there is no runtime string-based dispatch.
type Kind int

const (
	KindDense Kind = iota
	KindConv2D
	KindBatchNorm2D
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDense:
		return "Dense"
	case KindConv2D:
		return "Conv2D"
	case KindBatchNorm2D:
		return "BatchNorm2D"
	default:
		return "unknown"
	}
}

// TypeRole addresses a set of policies by layer kind and tensor role.
type TypeRole struct {
	Kind Kind
	Role Role
}

// tracked is one tensor slot of a module: a data policy and, when gradient
// quantization is enabled, an independent gradient policy.
type tracked struct {
	name string
	role Role
	data *Policy
	grad *Policy
}

// Module is the quantization state attached to one layer. It owns one data
// policy per tracked tensor role, plus optional gradient policies. The set
// of tracked tensors is fixed at construction; only policy mode, and the
// cached ranges behind it, mutate afterward.
type Module struct {
	kind    Kind
	tensors []tracked
	index   map[string]int
}

// NewModule creates an empty module for a layer of the given kind.
func NewModule(kind Kind) *Module {
	return &Module{kind: kind, index: make(map[string]int)}
}

// Kind returns the layer kind this module is attached to.
func (m *Module) Kind() Kind { return m.kind }

// Track registers a tensor under the given name and role, creating its data
// policy from cfg. Buffers never receive gradient policies: no gradient
// flows through a running statistic. Must only be called during layer
// construction.
func (m *Module) Track(name string, role Role, cfg Config) error {
	if _, ok := m.index[name]; ok {
		return fmt.Errorf("%w: tensor %q tracked twice", ErrInvalidConfig, name)
	}
	data, err := NewPolicy(role, cfg.BitwidthData, cfg.RangeMethodData)
	if err != nil {
		return err
	}
	t := tracked{name: name, role: role, data: data}
	if cfg.FixGradients && role != RoleBuffer {
		grad, err := NewPolicy(RoleGradient, cfg.BitwidthGrad, cfg.RangeMethodGrad)
		if err != nil {
			return err
		}
		t.grad = grad
	}
	m.index[name] = len(m.tensors)
	m.tensors = append(m.tensors, t)
	return nil
}

// Policy returns the data policy for the named tensor, or nil if the tensor
// is not tracked.
func (m *Module) Policy(name string) *Policy {
	if i, ok := m.index[name]; ok {
		return m.tensors[i].data
	}
	return nil
}

// GradPolicy returns the gradient policy for the named tensor, or nil when
// gradient quantization is disabled or the tensor is not tracked.
func (m *Module) GradPolicy(name string) *Policy {
	if i, ok := m.index[name]; ok {
		return m.tensors[i].grad
	}
	return nil
}

// SetMethod moves every data policy to the default mode, then applies
// overrides keyed by (Kind, Role) on top; unmatched policies take the
// default. Gradient policies are only touched by an explicit
// (Kind, RoleGradient) override: backward passes only run in training, so
// a bulk eval-time switch to Fixed has no meaning for them. Idempotent.
func (m *Module) SetMethod(def Mode, overrides map[TypeRole]Mode) {
	for _, t := range m.tensors {
		mode := def
		if o, ok := overrides[TypeRole{Kind: m.kind, Role: t.role}]; ok {
			mode = o
		}
		t.data.SetMode(mode)
		if t.grad != nil {
			if o, ok := overrides[TypeRole{Kind: m.kind, Role: RoleGradient}]; ok {
				t.grad.SetMode(o)
			}
		}
	}
}

// PolicyConfig is one row of the configuration report.
type PolicyConfig struct {
	Tensor   string  `json:"tensor"`
	Role     string  `json:"role"`
	Gradient bool    `json:"gradient"`
	Mode     string  `json:"mode"`
	Bitwidth int     `json:"bitwidth"`
	Method   string  `json:"method"`
	Range    float64 `json:"range"`
	HasRange bool    `json:"has_range"`
}

// Configs enumerates every tracked policy in construction order: data
// policies first for each tensor, then its gradient policy. Deterministic
// and complete, for audit and debugging.
func (m *Module) Configs() []PolicyConfig {
	var out []PolicyConfig
	for _, t := range m.tensors {
		rd, has := t.data.Range()
		out = append(out, PolicyConfig{
			Tensor:   t.name,
			Role:     t.role.String(),
			Mode:     t.data.Mode().String(),
			Bitwidth: t.data.Bitwidth(),
			Method:   t.data.Method().String(),
			Range:    rd.Value,
			HasRange: has,
		})
		if t.grad != nil {
			rd, has := t.grad.Range()
			out = append(out, PolicyConfig{
				Tensor:   t.name,
				Role:     t.role.String(),
				Gradient: true,
				Mode:     t.grad.Mode().String(),
				Bitwidth: t.grad.Bitwidth(),
				Method:   t.grad.Method().String(),
				Range:    rd.Value,
				HasRange: has,
			})
		}
	}
	return out
}

// Clone returns an independent copy of the module with every policy's
// cached range state deep-copied.
func (m *Module) Clone() *Module {
	c := &Module{kind: m.kind, index: make(map[string]int, len(m.index))}
	for _, t := range m.tensors {
		nt := tracked{name: t.name, role: t.role, data: t.data.Clone()}
		if t.grad != nil {
			nt.grad = t.grad.Clone()
		}
		c.index[nt.name] = len(c.tensors)
		c.tensors = append(c.tensors, nt)
	}
	return c
}
