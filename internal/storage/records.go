package storage

import (
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/ml"
)

// PredictionRecord is one served prediction.
type PredictionRecord struct {
	RequestID    string             `json:"request_id"`
	ModelVersion string             `json:"model_version"`
	Timestamp    time.Time          `json:"timestamp"`
	Features     map[string]float64 `json:"features"`
	Final        float64            `json:"final_score"`
	PerLearner   []ml.LearnerScore  `json:"per_learner_scores"`
	Degraded     []string           `json:"degraded,omitempty"`
}

// AttributionRecord is one served attribution level. An explanation is stored as one
// record per level under the same request ID.
type AttributionRecord struct {
	RequestID     string                     `json:"request_id"`
	ModelVersion  string                     `json:"model_version"`
	Timestamp     time.Time                  `json:"timestamp"`
	Features      map[string]float64         `json:"features"`
	Level         attribution.Level          `json:"level"`
	Contributions []attribution.Contribution `json:"contributions"`
	Truncated     bool                       `json:"truncated,omitempty"`
	Elapsed       time.Duration              `json:"elapsed_ns"`
}

// StorePrediction stores a prediction record in the predictions bucket.
func (s *Store) StorePrediction(record PredictionRecord) error {
	return s.put(predictionsBucket, record.ModelVersion, record.Timestamp, record)
}

// StoreAttribution stores an attribution record in the attributions bucket.
func (s *Store) StoreAttribution(record AttributionRecord) error {
	return s.put(attributionsBucket, record.ModelVersion, record.Timestamp, record)
}

// GetPredictions retrieves the predictions served by one model version within a time
// range, oldest first. The range is inclusive of both ends.
func (s *Store) GetPredictions(version string, start, end time.Time, limit int) ([]PredictionRecord, error) {
	return getRecordsInRange[PredictionRecord](s, predictionsBucket, version, start, end, limit)
}

// GetAttributions retrieves the attributions served by one model version within a time
// range, oldest first. The range is inclusive of both ends.
func (s *Store) GetAttributions(version string, start, end time.Time, limit int) ([]AttributionRecord, error) {
	return getRecordsInRange[AttributionRecord](s, attributionsBucket, version, start, end, limit)
}
