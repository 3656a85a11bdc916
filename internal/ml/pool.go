package ml

import "fmt"

// Pool is the ordered first layer of the stack. Its order is the positional contract
// consumed by the meta learner and is fixed at load time.
type Pool struct {
	learners []Learner
	arity    int
}

// NewPool checks that the learners have unique names and a common input arity.
func NewPool(learners []Learner) (*Pool, error) {
	if len(learners) == 0 {
		return nil, fmt.Errorf("pool needs at least one base learner")
	}
	seen := make(map[string]bool, len(learners))
	arity := learners[0].Arity()
	for _, l := range learners {
		if seen[l.Name()] {
			return nil, fmt.Errorf("duplicate base learner name %q", l.Name())
		}
		seen[l.Name()] = true
		if l.Arity() != arity {
			return nil, fmt.Errorf("base learner %q expects %d inputs, %q expects %d",
				l.Name(), l.Arity(), learners[0].Name(), arity)
		}
	}
	return &Pool{learners: append([]Learner(nil), learners...), arity: arity}, nil
}

// Len returns the number of base learners.
func (p *Pool) Len() int { return len(p.learners) }

// Arity returns the number of raw features every base learner expects.
func (p *Pool) Arity() int { return p.arity }

// Learner returns the base learner at pool position i.
func (p *Pool) Learner(i int) Learner { return p.learners[i] }

// Names returns learner names in pool order.
func (p *Pool) Names() []string {
	names := make([]string, len(p.learners))
	for i, l := range p.learners {
		names[i] = l.Name()
	}
	return names
}

// PredictOne runs the learner at position i, wrapping any failure in a LearnerFailure.
func (p *Pool) PredictOne(i int, x []float64) (float64, error) {
	l := p.learners[i]
	score, err := l.Predict(x)
	if err != nil {
		return 0, &LearnerFailure{Learner: l.Name(), Index: i, Cause: err}
	}
	if !finite(score) {
		return 0, &LearnerFailure{Learner: l.Name(), Index: i, Cause: ErrNonFinite}
	}
	return score, nil
}

// PredictAll returns one score per learner in pool order. The first failure aborts.
func (p *Pool) PredictAll(x []float64) ([]float64, error) {
	scores := make([]float64, len(p.learners))
	for i := range p.learners {
		s, err := p.PredictOne(i, x)
		if err != nil {
			return nil, err
		}
		scores[i] = s
	}
	return scores, nil
}
