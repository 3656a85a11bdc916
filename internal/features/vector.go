package features

import (
	"errors"
	"fmt"
	"slices"
)

// Vector is a validated feature vector in canonical order.
type Vector struct {
	schema *Schema
	values []float64
}

// Build validates raw named inputs and assembles them in canonical order.
// The input must cover exactly the declared feature set. Every problem is reported,
// in canonical order followed by unknown names in sorted order.
func (s *Schema) Build(raw map[string]float64) (Vector, error) {
	var problems []error

	values := make([]float64, len(s.specs))
	for i, spec := range s.specs {
		v, ok := raw[spec.Name]
		if !ok {
			problems = append(problems, &MissingFeatureError{Feature: spec.Name})
			continue
		}
		if !spec.Contains(v) {
			problems = append(problems, &DomainError{Feature: spec.Name, Value: v, Domain: spec.Domain()})
			continue
		}
		values[i] = v
	}

	var unknown []string
	for name := range raw {
		if _, ok := s.index[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	slices.Sort(unknown)
	for _, name := range unknown {
		problems = append(problems, &UnknownFeatureError{Feature: name})
	}

	if len(problems) > 0 {
		return Vector{}, errors.Join(problems...)
	}
	return Vector{schema: s, values: values}, nil
}

// FromValues validates a positional row (e.g. a reference row from an artifact).
func (s *Schema) FromValues(values []float64) (Vector, error) {
	if len(values) != len(s.specs) {
		return Vector{}, &ShapeError{Expected: len(s.specs), Actual: len(values)}
	}
	var problems []error
	for i, spec := range s.specs {
		if !spec.Contains(values[i]) {
			problems = append(problems, &DomainError{Feature: spec.Name, Value: values[i], Domain: spec.Domain()})
		}
	}
	if len(problems) > 0 {
		return Vector{}, errors.Join(problems...)
	}
	return Vector{schema: s, values: slices.Clone(values)}, nil
}

// ShapeError reports a positional row of the wrong length.
type ShapeError struct {
	Expected, Actual int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("feature row length mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ShapeError) Is(target error) bool { return target == ErrValidation }

// IsZero reports whether the vector was never built.
func (v Vector) IsZero() bool { return v.schema == nil }

// Schema returns the schema the vector was built against.
func (v Vector) Schema() *Schema { return v.schema }

// Len returns the number of features.
func (v Vector) Len() int { return len(v.values) }

// Values returns a copy of the values in canonical order.
func (v Vector) Values() []float64 { return slices.Clone(v.values) }

// Get returns the value of a named feature.
func (v Vector) Get(name string) (float64, bool) {
	if v.schema == nil {
		return 0, false
	}
	i, ok := v.schema.index[name]
	if !ok {
		return 0, false
	}
	return v.values[i], true
}

// Map returns the vector as a name -> value mapping.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(v.values))
	if v.schema == nil {
		return out
	}
	for i, spec := range v.schema.specs {
		out[spec.Name] = v.values[i]
	}
	return out
}

// Labels returns the display label of every feature value (categorical codes resolved).
func (v Vector) Labels() map[string]string {
	out := make(map[string]string, len(v.values))
	if v.schema == nil {
		return out
	}
	for i, spec := range v.schema.specs {
		out[spec.Name] = spec.Label(v.values[i])
	}
	return out
}
