package ml

import (
	"errors"
	"math"
	"sync"
	"testing"

	"stacking-explainer/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLearner returns a fixed output or error.
type stubLearner struct {
	name  string
	arity int
	out   float64
	err   error
}

func (s *stubLearner) Name() string { return s.name }
func (s *stubLearner) Kind() string { return "stub" }
func (s *stubLearner) Arity() int   { return s.arity }

func (s *stubLearner) Predict(x []float64) (float64, error) {
	if err := checkArity(s.name, s.arity, x); err != nil {
		return 0, err
	}
	return s.out, s.err
}

func nan() float64    { return math.NaN() }
func posInf() float64 { return math.Inf(1) }

func toyStack(t *testing.T, opts ...StackOption) *Stack {
	t.Helper()
	s, err := ToyArtifact().Build(opts...)
	require.NoError(t, err)
	return s
}

func defaults(t *testing.T, s *Stack) features.Vector {
	t.Helper()
	v, err := s.Schema().Build(s.Schema().Defaults())
	require.NoError(t, err)
	return v
}

// withFailingForest swaps the "rf" learner for one that always errors.
func withFailingForest(t *testing.T, s *Stack) *Stack {
	t.Helper()
	pool, err := NewPool([]Learner{
		s.pool.Learner(0),
		&stubLearner{name: "rf", arity: 3, err: errors.New("tree walk failed")},
		s.pool.Learner(2),
	})
	require.NoError(t, err)
	clone := *s
	clone.pool = pool
	return &clone
}

func TestStack_Predict(t *testing.T) {
	s := toyStack(t)

	pred, err := s.Predict(defaults(t, s))
	require.NoError(t, err)

	// lin = 0.5 + 1 + 4, rf = 1, gb = 0.1 - 1
	require.Len(t, pred.PerLearner, 3)
	assert.Equal(t, "lin", pred.PerLearner[0].Name)
	assert.InDelta(t, 5.5, pred.PerLearner[0].Score, 1e-12)
	assert.Equal(t, "rf", pred.PerLearner[1].Name)
	assert.InDelta(t, 1.0, pred.PerLearner[1].Score, 1e-12)
	assert.Equal(t, "gb", pred.PerLearner[2].Name)
	assert.InDelta(t, -0.9, pred.PerLearner[2].Score, 1e-12)
	assert.InDelta(t, 2.97, pred.Final, 1e-12)
	assert.Empty(t, pred.Degraded)
}

func TestStack_PredictIsDeterministic(t *testing.T) {
	s := toyStack(t)
	v := defaults(t, s)

	first, err := s.Predict(v)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Prediction, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.Predict(v)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, first, r)
	}
}

func TestStack_PredictRawMatchesPredict(t *testing.T) {
	s := toyStack(t)
	v := defaults(t, s)

	pred, err := s.Predict(v)
	require.NoError(t, err)
	final, base, err := s.PredictRaw(v.Values())
	require.NoError(t, err)

	assert.Equal(t, pred.Final, final)
	for i, ls := range pred.PerLearner {
		assert.Equal(t, ls.Score, base[i])
	}

	_, _, err = s.PredictRaw([]float64{1, 2})
	var shape *ShapeMismatchError
	assert.ErrorAs(t, err, &shape)
}

func TestStack_AbortPolicy(t *testing.T) {
	s := withFailingForest(t, toyStack(t))

	_, err := s.Predict(defaults(t, s))
	var failure *LearnerFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "rf", failure.Learner)
	assert.Equal(t, 1, failure.Index)
}

func TestStack_FallbackPolicy(t *testing.T) {
	metrics := &MockMetrics{}
	s := withFailingForest(t, toyStack(t, WithPolicy(PolicyFallback), WithMetrics(metrics)))

	pred, err := s.Predict(defaults(t, s))
	require.NoError(t, err)
	assert.Equal(t, []string{"rf"}, pred.Degraded)
	assert.True(t, pred.PerLearner[1].Fallback)
	assert.Equal(t, 2.0, pred.PerLearner[1].Score)
	assert.InDelta(t, 0.1+0.5*5.5+0.3*2-0.2*0.9, pred.Final, 1e-12)
	assert.Equal(t, 1, metrics.FallbackUses("rf"))

	// attribution never sees fallbacks
	_, _, err = s.PredictRaw(defaults(t, s).Values())
	assert.Error(t, err)
}

func TestStack_FallbackWithoutDeclaredScoreAborts(t *testing.T) {
	s := toyStack(t, WithPolicy(PolicyFallback))
	pool, err := NewPool([]Learner{
		&stubLearner{name: "lin", arity: 3, err: errors.New("boom")},
		s.pool.Learner(1),
		s.pool.Learner(2),
	})
	require.NoError(t, err)
	s.pool = pool

	_, err = s.Predict(defaults(t, s))
	var failure *LearnerFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "lin", failure.Learner)
}

func TestStack_Passthrough(t *testing.T) {
	a := ToyArtifact()
	a.Passthrough = PassthroughSpec{Mode: PassthroughSelected, Features: []string{"c"}}
	a.MetaLearner.Weights = []float64{0.5, 0.3, 0.2, 1.5}

	s, err := a.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"lin", "rf", "gb", "c"}, s.MetaInputNames())
	assert.Equal(t, []int{2}, s.PassthroughIndices())

	v, err := s.Schema().Build(map[string]float64{"a": 1, "b": 2, "c": 1})
	require.NoError(t, err)
	pred, err := s.Predict(v)
	require.NoError(t, err)
	// rf leaves the left branch on a=1, so only pass-through c moves the output
	assert.InDelta(t, 2.97+1.5, pred.Final, 1e-12)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAbort, p)

	p, err = ParsePolicy(" Fallback ")
	require.NoError(t, err)
	assert.Equal(t, PolicyFallback, p)

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}
