package api

import (
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/features"
	"stacking-explainer/internal/ml"
	"stacking-explainer/internal/panels"
)

// PredictRequest carries one raw feature vector keyed by feature name.
type PredictRequest struct {
	Features map[string]float64 `json:"features"`
}

// PredictResponse is the stack's prediction for one request.
type PredictResponse struct {
	RequestID    string            `json:"request_id"`
	ModelVersion string            `json:"model_version"`
	FinalScore   float64           `json:"final_score"`
	PerLearner   []ml.LearnerScore `json:"per_learner_scores"`
	Degraded     []string          `json:"degraded,omitempty"`
	// Labels renders categorical inputs with their display names.
	Labels    map[string]string `json:"labels,omitempty"`
	LatencyMs float64           `json:"latency_ms"`
	Timestamp time.Time         `json:"timestamp"`
}

// BudgetRequest overrides parts of the engine's default attribution budget. Zero fields
// keep the default.
type BudgetRequest struct {
	Samples        int    `json:"samples,omitempty"`
	TimeoutMs      int64  `json:"timeout_ms,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	Seed           uint64 `json:"seed,omitempty"`
	ExactMaxInputs int    `json:"exact_max_inputs,omitempty"`
}

// Budget converts the request into an engine budget; nil yields the zero budget.
func (b *BudgetRequest) Budget() attribution.Budget {
	if b == nil {
		return attribution.Budget{}
	}
	return attribution.Budget{
		Samples:        b.Samples,
		Timeout:        time.Duration(b.TimeoutMs) * time.Millisecond,
		Workers:        b.Workers,
		Seed:           b.Seed,
		ExactMaxInputs: b.ExactMaxInputs,
	}
}

// AttributeRequest asks for an attribution of one feature vector.
type AttributeRequest struct {
	Features map[string]float64 `json:"features"`
	Budget   *BudgetRequest     `json:"budget,omitempty"`
}

// AttributeResponse is one level's attribution.
type AttributeResponse struct {
	RequestID string `json:"request_id"`
	*attribution.Attribution
	LevelName string        `json:"level_name"`
	Cached    bool          `json:"cached"`
	Panel     *panels.Panel `json:"panel,omitempty"`
}

// ExplainResponse carries all three levels.
type ExplainResponse struct {
	RequestID string `json:"request_id"`
	*attribution.Explanation
	Cached bool           `json:"cached"`
	Panels []panels.Panel `json:"panels,omitempty"`
}

// LearnerInfo describes one learner of the served stack.
type LearnerInfo struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Arity int    `json:"arity"`
}

// ModelResponse describes the served stack and the registered versions.
type ModelResponse struct {
	ml.Metadata
	BaseLearners  []LearnerInfo     `json:"base_learners"`
	MetaLearner   LearnerInfo       `json:"meta_learner"`
	Passthrough   []string          `json:"passthrough,omitempty"`
	FailurePolicy ml.Policy         `json:"failure_policy"`
	ExpectedValue float64           `json:"expected_value"`
	Budget        BudgetRequest     `json:"default_budget"`
	Versions      []ml.ModelVersion `json:"versions,omitempty"`
}

// FeatureInfo describes one declared input.
type FeatureInfo struct {
	Index int `json:"index"`
	features.Spec
	DomainText string `json:"domain"`
}

// ReloadRequest selects what the reload endpoint activates. Exactly one field may be set;
// an empty request re-reads the current artifact.
type ReloadRequest struct {
	Version  string `json:"version,omitempty"`
	Path     string `json:"path,omitempty"`
	Rollback bool   `json:"rollback,omitempty"`
}

// SummaryResponse is the global importance table.
type SummaryResponse struct {
	ModelVersion string                     `json:"model_version"`
	Features     []attribution.FeatureStats `json:"features"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Healthy      bool      `json:"healthy"`
	ModelVersion string    `json:"model_version,omitempty"`
	ErrorRate    float64   `json:"error_rate"`
	Uptime       string    `json:"uptime"`
	CheckedAt    time.Time `json:"checked_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	RequestID string             `json:"request_id,omitempty"`
	Error     string             `json:"error"`
	Problems  []features.Problem `json:"problems,omitempty"`
}
