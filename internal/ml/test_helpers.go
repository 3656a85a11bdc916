package ml

import (
	"sync"
	"time"

	"stacking-explainer/internal/features"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	fallbackUse map[string]int
	reloadsOK   int
	reloadsFail int
	version     string
	learners    int
}

func (m *MockMetrics) FallbackUseInc(learner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallbackUse == nil {
		m.fallbackUse = make(map[string]int)
	}
	m.fallbackUse[learner]++
}

func (m *MockMetrics) ModelReloadInc(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.reloadsOK++
	} else {
		m.reloadsFail++
	}
}

func (m *MockMetrics) ModelInfoSet(version string, learners int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = version
	m.learners = learners
}

// FallbackUses returns how often learner's fallback score was substituted.
func (m *MockMetrics) FallbackUses(learner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbackUse[learner]
}

// Reloads returns the successful and failed activation counts.
func (m *MockMetrics) Reloads() (ok, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadsOK, m.reloadsFail
}

// ModelInfo returns the last published version and learner count.
func (m *MockMetrics) ModelInfo() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, m.learners
}

// ToyArtifact returns a small, valid three-feature artifact used across package tests:
// a linear, a forest and a boosted base learner under a linear meta learner.
func ToyArtifact() *Artifact {
	rfFallback := 2.0
	return &Artifact{
		Version:   "toy-1",
		TrainedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Task:      "regression",
		Features: []features.Spec{
			{Name: "a", Kind: features.KindContinuous, Min: 0, Max: 10, Default: 1},
			{Name: "b", Kind: features.KindContinuous, Min: 0, Max: 10, Default: 2},
			{Name: "c", Kind: features.KindCategorical, Codes: []int{0, 1}, Default: 0},
		},
		BaseLearners: []LearnerSpec{
			{Name: "lin", Kind: KindLinear, Intercept: 0.5, Weights: []float64{1, 2, 0}},
			{Name: "rf", Kind: KindRandomForest, Arity: 3, Fallback: &rfFallback, Trees: []TreeSpec{{Nodes: []NodeSpec{
				{Feature: 0, Threshold: 5, Left: 1, Right: 2},
				{Leaf: true, Value: 1},
				{Feature: 2, Threshold: 0.5, Left: 3, Right: 4},
				{Leaf: true, Value: 2},
				{Leaf: true, Value: 4},
			}}}},
			{Name: "gb", Kind: KindGradientBoosting, Arity: 3, BaseScore: 0.1, Trees: []TreeSpec{{Nodes: []NodeSpec{
				{Feature: 1, Threshold: 3, Left: 1, Right: 2},
				{Leaf: true, Value: -1},
				{Leaf: true, Value: 1},
			}}}},
		},
		MetaLearner: LearnerSpec{Name: "meta", Kind: KindLinear, Intercept: 0.1, Weights: []float64{0.5, 0.3, 0.2}},
		Passthrough: PassthroughSpec{Mode: PassthroughNone},
		Reference: [][]float64{
			{0, 0, 0},
			{2, 1, 0},
			{6, 4, 1},
			{9, 9, 1},
		},
	}
}
