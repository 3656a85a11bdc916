package ml

import (
	"fmt"
	"slices"
)

// Linear is a linear model with an optional logistic link.
//
//	z = Intercept + sum(Weight_i * x_i)
//	y = link(z)
//
// With the identity link it is the linear-regression meta learner of a stacking regressor;
// with the logistic link it is a logistic-regression base learner.
type Linear struct {
	name      string
	intercept float64
	weights   []float64
	link      Link
}

func newLinear(spec LearnerSpec) (Learner, error) {
	if len(spec.Weights) == 0 {
		return nil, fmt.Errorf("linear learner needs weights")
	}
	if spec.Arity != 0 && spec.Arity != len(spec.Weights) {
		return nil, fmt.Errorf("declared arity %d but %d weights", spec.Arity, len(spec.Weights))
	}
	if !finite(spec.Intercept) {
		return nil, fmt.Errorf("intercept must be finite")
	}
	for i, w := range spec.Weights {
		if !finite(w) {
			return nil, fmt.Errorf("weight %d must be finite", i)
		}
	}
	link, err := parseLink(spec.Link)
	if err != nil {
		return nil, err
	}
	return &Linear{
		name:      spec.Name,
		intercept: spec.Intercept,
		weights:   slices.Clone(spec.Weights),
		link:      link,
	}, nil
}

func (m *Linear) Name() string { return m.name }
func (m *Linear) Kind() string { return KindLinear }
func (m *Linear) Arity() int   { return len(m.weights) }

// Weights returns a copy of the coefficients.
func (m *Linear) Weights() []float64 { return slices.Clone(m.weights) }

func (m *Linear) Predict(x []float64) (float64, error) {
	if err := checkArity(m.name, len(m.weights), x); err != nil {
		return 0, err
	}
	z := m.intercept
	for i, w := range m.weights {
		z += w * x[i]
	}
	return m.link.apply(z), nil
}
