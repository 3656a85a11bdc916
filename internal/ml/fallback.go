package ml

import (
	"fmt"
	"strings"
)

// Policy decides what the stack does when a base learner fails.
type Policy string

const (
	// PolicyAbort propagates the failure; no partial prediction is produced.
	PolicyAbort Policy = "abort"
	// PolicyFallback substitutes the learner's declared fallback score and marks the
	// prediction as degraded. Learners without a fallback still abort.
	PolicyFallback Policy = "fallback"
)

// ParsePolicy parses a policy name. The empty string means PolicyAbort.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyFallback:
		return PolicyFallback, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

// MetricsInterface defines the metrics the stack and registry report.
type MetricsInterface interface {
	FallbackUseInc(learner string)
	ModelReloadInc(success bool)
	ModelInfoSet(version string, learners int)
}

type noopMetrics struct{}

func (noopMetrics) FallbackUseInc(string)    {}
func (noopMetrics) ModelReloadInc(bool)      {}
func (noopMetrics) ModelInfoSet(string, int) {}

// fallbackScores holds the per-learner fallback values in pool order (nil = none declared).
type fallbackScores []*float64

// substitute returns the fallback for learner i, if the policy and the artifact allow one.
func (f fallbackScores) substitute(policy Policy, i int) (float64, bool) {
	if policy != PolicyFallback || i >= len(f) || f[i] == nil {
		return 0, false
	}
	return *f[i], true
}
