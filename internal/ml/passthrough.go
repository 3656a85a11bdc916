package ml

import (
	"fmt"

	"stacking-explainer/internal/features"
)

// PassthroughMode selects which raw features, if any, bypass the first layer and are
// appended to the meta learner's input.
type PassthroughMode string

const (
	PassthroughNone     PassthroughMode = "none"
	PassthroughAll      PassthroughMode = "all"
	PassthroughSelected PassthroughMode = "selected"
)

// PassthroughSpec is the artifact's pass-through declaration.
type PassthroughSpec struct {
	Mode     PassthroughMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	Features []string        `json:"features,omitempty" yaml:"features,omitempty"`
}

// passthrough is the resolved plan: canonical positions of forwarded raw features.
type passthrough struct {
	mode    PassthroughMode
	indices []int
	names   []string
}

func resolvePassthrough(spec PassthroughSpec, schema *features.Schema) (passthrough, error) {
	switch spec.Mode {
	case "", PassthroughNone:
		if len(spec.Features) > 0 {
			return passthrough{}, fmt.Errorf("pass-through features listed but mode is %q", PassthroughNone)
		}
		return passthrough{mode: PassthroughNone}, nil
	case PassthroughAll:
		p := passthrough{mode: PassthroughAll}
		for i := 0; i < schema.Len(); i++ {
			p.indices = append(p.indices, i)
			p.names = append(p.names, schema.At(i).Name)
		}
		return p, nil
	case PassthroughSelected:
		if len(spec.Features) == 0 {
			return passthrough{}, fmt.Errorf("pass-through mode %q needs at least one feature", PassthroughSelected)
		}
		p := passthrough{mode: PassthroughSelected}
		seen := make(map[string]bool, len(spec.Features))
		for _, name := range spec.Features {
			idx, ok := schema.Index(name)
			if !ok {
				return passthrough{}, fmt.Errorf("pass-through feature %q is not declared", name)
			}
			if seen[name] {
				return passthrough{}, fmt.Errorf("pass-through feature %q listed twice", name)
			}
			seen[name] = true
			p.indices = append(p.indices, idx)
			p.names = append(p.names, name)
		}
		return p, nil
	}
	return passthrough{}, fmt.Errorf("unknown pass-through mode %q", spec.Mode)
}

func (p passthrough) len() int { return len(p.indices) }

// appendTo appends the forwarded raw features of x to z.
func (p passthrough) appendTo(z, x []float64) []float64 {
	for _, idx := range p.indices {
		z = append(z, x[idx])
	}
	return z
}
