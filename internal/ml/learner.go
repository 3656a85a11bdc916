// Package ml implements the two-layer stacking ensemble: a pool of heterogeneous base
// learners, a meta learner over their outputs, and the Stack that wires them together.
//
// Learners are a closed set of variants (linear, random forest, gradient boosted trees)
// selected at artifact-load time through a kind dispatch table. Every learner is immutable
// once built and safe for concurrent use, so a single Stack is shared read-only by all
// in-flight requests.
package ml

import (
	"fmt"
	"math"
	"slices"
)

// Learner is the capability every predictor in the stack provides.
type Learner interface {
	Name() string
	Kind() string
	// Arity is the exact number of inputs Predict expects.
	Arity() int
	Predict(x []float64) (float64, error)
}

// Learner kinds understood by the artifact loader.
const (
	KindLinear           = "linear"
	KindRandomForest     = "random_forest"
	KindGradientBoosting = "gradient_boosting"
)

// Link is the output transform applied to a learner's raw score.
type Link string

const (
	LinkIdentity Link = "identity"
	LinkLogistic Link = "logistic"
)

func (l Link) apply(z float64) float64 {
	if l == LinkLogistic {
		return sigmoid(z)
	}
	return z
}

func parseLink(s Link) (Link, error) {
	switch s {
	case "", LinkIdentity:
		return LinkIdentity, nil
	case LinkLogistic:
		return LinkLogistic, nil
	}
	return "", fmt.Errorf("unknown link %q", s)
}

// LearnerSpec is the serialized form of a learner inside the artifact bundle.
type LearnerSpec struct {
	Name  string `json:"name" yaml:"name"`
	Kind  string `json:"kind" yaml:"kind"`
	Arity int    `json:"arity,omitempty" yaml:"arity,omitempty"`
	Link  Link   `json:"link,omitempty" yaml:"link,omitempty"`
	// Fallback is substituted for this learner's output under the fallback failure policy.
	Fallback *float64 `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// linear
	Intercept float64   `json:"intercept,omitempty" yaml:"intercept,omitempty"`
	Weights   []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`

	// tree ensembles
	BaseScore float64    `json:"base_score,omitempty" yaml:"base_score,omitempty"`
	Trees     []TreeSpec `json:"trees,omitempty" yaml:"trees,omitempty"`
}

type constructor func(spec LearnerSpec) (Learner, error)

// learnerKinds is the dispatch table from artifact kind tag to concrete variant.
var learnerKinds = map[string]constructor{
	KindLinear:           newLinear,
	KindRandomForest:     newForest,
	KindGradientBoosting: newBoosted,
}

// NewLearner builds the concrete learner selected by spec.Kind.
func NewLearner(spec LearnerSpec) (Learner, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("learner name cannot be empty")
	}
	build, ok := learnerKinds[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("learner %q: unknown kind %q (known: %v)", spec.Name, spec.Kind, Kinds())
	}
	l, err := build(spec)
	if err != nil {
		return nil, fmt.Errorf("learner %q: %w", spec.Name, err)
	}
	return l, nil
}

// Kinds lists the learner kinds the loader can dispatch on.
func Kinds() []string {
	kinds := make([]string, 0, len(learnerKinds))
	for k := range learnerKinds {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

func checkArity(name string, arity int, x []float64) error {
	if len(x) != arity {
		return &ShapeMismatchError{Component: "learner " + name, Expected: arity, Actual: len(x)}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
