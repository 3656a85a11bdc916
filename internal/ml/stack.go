package ml

import (
	"errors"
	"slices"
	"time"

	"stacking-explainer/internal/features"

	"github.com/rs/zerolog/log"
)

// Metadata describes where a Stack came from.
type Metadata struct {
	Version     string    `json:"version"`
	Digest      string    `json:"digest"`
	TrainedAt   time.Time `json:"trained_at"`
	Task        string    `json:"task"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// LearnerScore is one base learner's output for a request.
type LearnerScore struct {
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Score    float64 `json:"score"`
	Fallback bool    `json:"fallback,omitempty"`
}

// Prediction is the orchestrator's result.
type Prediction struct {
	Final      float64        `json:"final_score"`
	PerLearner []LearnerScore `json:"per_learner_scores"`
	// Degraded names learners whose output was replaced by a fallback score.
	Degraded []string `json:"degraded,omitempty"`
}

// Stack is the two-layer stacking model. It is immutable after construction and shared
// read-only across concurrent requests; reloading means building a new Stack.
type Stack struct {
	metadata  Metadata
	schema    *features.Schema
	pool      *Pool
	meta      *MetaLearner
	pass      passthrough
	policy    Policy
	fallbacks fallbackScores
	reference [][]float64
	metrics   MetricsInterface
}

// Metadata returns the artifact metadata.
func (s *Stack) Metadata() Metadata { return s.metadata }

// Schema returns the feature schema the stack was trained against.
func (s *Stack) Schema() *features.Schema { return s.schema }

// Pool returns the first layer.
func (s *Stack) Pool() *Pool { return s.pool }

// Meta returns the second layer.
func (s *Stack) Meta() *MetaLearner { return s.meta }

// Policy returns the active failure policy.
func (s *Stack) Policy() Policy { return s.policy }

// PassthroughMode returns the configured pass-through mode.
func (s *Stack) PassthroughMode() PassthroughMode { return s.pass.mode }

// Passthrough returns the names of raw features forwarded to the meta learner.
func (s *Stack) Passthrough() []string { return slices.Clone(s.pass.names) }

// PassthroughIndices returns the canonical positions of the forwarded raw features.
func (s *Stack) PassthroughIndices() []int { return slices.Clone(s.pass.indices) }

// MetaInputNames names the meta learner's inputs: learners, then pass-through features.
func (s *Stack) MetaInputNames() []string {
	return append(s.pool.Names(), s.pass.names...)
}

// Reference returns a copy of the reference (background) rows in canonical order.
func (s *Stack) Reference() [][]float64 {
	out := make([][]float64, len(s.reference))
	for i, row := range s.reference {
		out[i] = slices.Clone(row)
	}
	return out
}

// MetaInput assembles the meta learner's input from base outputs and the raw vector.
func (s *Stack) MetaInput(base, x []float64) []float64 {
	z := make([]float64, 0, len(base)+s.pass.len())
	z = append(z, base...)
	return s.pass.appendTo(z, x)
}

// Predict runs the full pipeline: base learners, then the meta learner over their
// outputs (plus configured pass-through features). Raw features never reach the meta
// learner any other way.
func (s *Stack) Predict(v features.Vector) (Prediction, error) {
	if v.Len() != s.schema.Len() {
		return Prediction{}, &ShapeMismatchError{Component: "feature vector", Expected: s.schema.Len(), Actual: v.Len()}
	}
	x := v.Values()

	pred := Prediction{PerLearner: make([]LearnerScore, s.pool.Len())}
	base := make([]float64, s.pool.Len())
	for i := 0; i < s.pool.Len(); i++ {
		l := s.pool.Learner(i)
		score, err := s.pool.PredictOne(i, x)
		usedFallback := false
		if err != nil {
			fb, ok := s.fallbacks.substitute(s.policy, i)
			var failure *LearnerFailure
			if !ok || !errors.As(err, &failure) {
				return Prediction{}, err
			}
			log.Warn().Err(err).Str("learner", l.Name()).Float64("fallback", fb).Msg("base learner failed, using fallback score")
			s.metrics.FallbackUseInc(l.Name())
			score, usedFallback = fb, true
			pred.Degraded = append(pred.Degraded, l.Name())
		}
		base[i] = score
		pred.PerLearner[i] = LearnerScore{Name: l.Name(), Kind: l.Kind(), Score: score, Fallback: usedFallback}
	}

	final, err := s.meta.Predict(s.MetaInput(base, x))
	if err != nil {
		return Prediction{}, err
	}
	pred.Final = final
	return pred, nil
}

// PredictRaw runs the pipeline on a positional row without fallbacks. It is the value
// function used by attribution, which must never see substituted outputs.
func (s *Stack) PredictRaw(x []float64) (float64, []float64, error) {
	if len(x) != s.schema.Len() {
		return 0, nil, &ShapeMismatchError{Component: "feature vector", Expected: s.schema.Len(), Actual: len(x)}
	}
	base, err := s.pool.PredictAll(x)
	if err != nil {
		return 0, nil, err
	}
	final, err := s.meta.Predict(s.MetaInput(base, x))
	if err != nil {
		return 0, nil, err
	}
	return final, base, nil
}
