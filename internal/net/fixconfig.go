package net

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/fixpointml/fixnn/internal/fixpoint"
	"github.com/fixpointml/fixnn/internal/layer"
)

// LayerFixConfig reports the quantization configuration of one layer.
type LayerFixConfig struct {
	Layer    int                     `json:"layer"`
	Kind     string                  `json:"kind"`
	Policies []fixpoint.PolicyConfig `json:"policies"`
}

// FixConfigs enumerates every tracked policy in the network, in layer order
// and per-layer construction order. The enumeration is deterministic and
// complete: an observability hook for audit and debugging, not a
// performance path.
func (n *Network) FixConfigs() []LayerFixConfig {
	var out []LayerFixConfig
	for i, l := range n.layers {
		f, ok := l.(layer.Fixed)
		if !ok {
			continue
		}
		m := f.FixModule()
		if m == nil {
			continue
		}
		out = append(out, LayerFixConfig{
			Layer:    i,
			Kind:     m.Kind().String(),
			Policies: m.Configs(),
		})
	}
	return out
}

// PrintFixConfigs formats the full policy enumeration as a human-readable
// table.
func (n *Network) PrintFixConfigs() string {
	var sb strings.Builder
	sb.WriteString("layer  kind         tensor        grad   mode    bitwidth  method  range\n")
	for _, lc := range n.FixConfigs() {
		for _, p := range lc.Policies {
			grad := " "
			if p.Gradient {
				grad = "g"
			}
			rng := "-"
			if p.HasRange {
				rng = fmt.Sprintf("%.6g", p.Range)
			}
			sb.WriteString(fmt.Sprintf("%-6d %-12s %-13s %-6s %-7s %-9d %-7s %s\n",
				lc.Layer, lc.Kind, p.Tensor, grad, p.Mode, p.Bitwidth, p.Method, rng))
		}
	}
	return sb.String()
}

// WriteFixConfigsJSON writes the policy enumeration as indented JSON.
func (n *Network) WriteFixConfigsJSON(w io.Writer) error {
	data, err := json.MarshalIndent(n.FixConfigs(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fix configs: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}
