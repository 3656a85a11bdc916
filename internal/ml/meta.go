package ml

// MetaLearner is the second layer. Its input is the base-learner outputs in pool order,
// followed by any configured pass-through raw features.
type MetaLearner struct {
	learner Learner
}

// NewMetaLearner wraps a learner as the meta learner.
func NewMetaLearner(l Learner) *MetaLearner {
	return &MetaLearner{learner: l}
}

func (m *MetaLearner) Name() string { return m.learner.Name() }
func (m *MetaLearner) Kind() string { return m.learner.Kind() }
func (m *MetaLearner) Arity() int   { return m.learner.Arity() }

// Learner exposes the wrapped model (e.g. to read linear coefficients).
func (m *MetaLearner) Learner() Learner { return m.learner }

// Predict combines the first-layer outputs. An arity mismatch is a ShapeMismatchError,
// anything else the wrapped model reports is a LearnerFailure.
func (m *MetaLearner) Predict(z []float64) (float64, error) {
	if len(z) != m.learner.Arity() {
		return 0, &ShapeMismatchError{Component: "meta learner " + m.learner.Name(), Expected: m.learner.Arity(), Actual: len(z)}
	}
	score, err := m.learner.Predict(z)
	if err != nil {
		return 0, &LearnerFailure{Learner: m.learner.Name(), Index: MetaLearnerIndex, Cause: err}
	}
	if !finite(score) {
		return 0, &LearnerFailure{Learner: m.learner.Name(), Index: MetaLearnerIndex, Cause: ErrNonFinite}
	}
	return score, nil
}
