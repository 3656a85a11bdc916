// Package features validates raw clinical inputs against their declared domains and
// assembles them into the fixed-order numeric vector consumed by the learners.
//
// The canonical ordering is owned by the Schema, which is loaded from the model artifact.
// Reordering the schema invalidates every learner trained against it, so the Schema is
// immutable once built.
package features

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Kind is the declared kind of a feature domain.
type Kind string

const (
	KindContinuous  Kind = "continuous"
	KindCategorical Kind = "categorical"
)

// Spec declares a single feature: its name, position (implied by order), and domain.
type Spec struct {
	Name        string         `json:"name" yaml:"name"`
	Kind        Kind           `json:"kind" yaml:"kind"`
	Min         float64        `json:"min,omitempty" yaml:"min,omitempty"`
	Max         float64        `json:"max,omitempty" yaml:"max,omitempty"`
	Codes       []int          `json:"codes,omitempty" yaml:"codes,omitempty"`
	Labels      map[int]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Default     float64        `json:"default" yaml:"default"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// Domain renders the declared domain, e.g. "[21, 100]" or "{1, 2, 3, 4, 5}".
func (s Spec) Domain() string {
	if s.Kind == KindCategorical {
		parts := make([]string, len(s.Codes))
		for i, c := range s.Codes {
			parts[i] = fmt.Sprint(c)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprintf("[%s, %s]", formatValue(s.Min), formatValue(s.Max))
}

// Contains reports whether v lies in the declared domain.
func (s Spec) Contains(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	switch s.Kind {
	case KindContinuous:
		return v >= s.Min && v <= s.Max
	case KindCategorical:
		code := int(v)
		if float64(code) != v {
			return false
		}
		return slices.Contains(s.Codes, code)
	}
	return false
}

// Label returns the display label for a categorical code, or the formatted value.
func (s Spec) Label(v float64) string {
	if s.Kind == KindCategorical {
		if l, ok := s.Labels[int(v)]; ok {
			return l
		}
	}
	return formatValue(v)
}

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("feature name cannot be empty")
	}
	switch s.Kind {
	case KindContinuous:
		if math.IsNaN(s.Min) || math.IsNaN(s.Max) || math.IsInf(s.Min, 0) || math.IsInf(s.Max, 0) {
			return fmt.Errorf("feature %q: bounds must be finite", s.Name)
		}
		if s.Min > s.Max {
			return fmt.Errorf("feature %q: min %v greater than max %v", s.Name, s.Min, s.Max)
		}
	case KindCategorical:
		if len(s.Codes) == 0 {
			return fmt.Errorf("feature %q: categorical feature needs at least one code", s.Name)
		}
		seen := make(map[int]bool, len(s.Codes))
		for _, c := range s.Codes {
			if seen[c] {
				return fmt.Errorf("feature %q: duplicate code %d", s.Name, c)
			}
			seen[c] = true
		}
		for code := range s.Labels {
			if !seen[code] {
				return fmt.Errorf("feature %q: label for undeclared code %d", s.Name, code)
			}
		}
	default:
		return fmt.Errorf("feature %q: unknown kind %q", s.Name, s.Kind)
	}
	if !s.Contains(s.Default) {
		return fmt.Errorf("feature %q: default %v outside domain %s", s.Name, s.Default, s.Domain())
	}
	return nil
}

// Schema is the ordered, immutable set of declared features.
type Schema struct {
	specs []Spec
	index map[string]int
}

// NewSchema validates the specs and freezes their order.
func NewSchema(specs []Spec) (*Schema, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("schema must declare at least one feature")
	}

	s := &Schema{
		specs: make([]Spec, len(specs)),
		index: make(map[string]int, len(specs)),
	}
	for i, spec := range specs {
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if _, dup := s.index[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", spec.Name)
		}
		spec.Codes = slices.Clone(spec.Codes)
		s.specs[i] = spec
		s.index[spec.Name] = i
	}
	return s, nil
}

// Len returns the number of declared features.
func (s *Schema) Len() int { return len(s.specs) }

// Names returns feature names in canonical order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// Specs returns a copy of the declared specs in canonical order.
func (s *Schema) Specs() []Spec {
	return slices.Clone(s.specs)
}

// At returns the spec at canonical position i.
func (s *Schema) At(i int) Spec { return s.specs[i] }

// Index returns the canonical position of a feature.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Defaults returns the documented default value of every feature.
func (s *Schema) Defaults() map[string]float64 {
	out := make(map[string]float64, len(s.specs))
	for _, spec := range s.specs {
		out[spec.Name] = spec.Default
	}
	return out
}
