package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/cache"
	"stacking-explainer/internal/common"
	"stacking-explainer/internal/features"
	"stacking-explainer/internal/storage"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest(fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

// buildVector validates raw features against the served schema, counting rejections.
func (s *Server) buildVector(cur *serving, raw map[string]float64) (features.Vector, error) {
	if raw == nil {
		return features.Vector{}, badRequest("features cannot be empty")
	}
	v, err := cur.stack.Schema().Build(raw)
	if err != nil {
		for _, p := range features.Problems(err) {
			s.metrics.ValidationErrorInc(p.Feature)
		}
		return features.Vector{}, err
	}
	return v, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errNoModel) {
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	status, reason := classify(err)
	s.metrics.PredictionFailureInc(reason)
	writeError(w, r, status, err)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	cur, err := s.current()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req PredictRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.buildVector(cur, req.Features)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	pred, err := cur.stack.Predict(v)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	elapsed := time.Since(start)
	s.metrics.PredictionObserve(pred.Final, elapsed)

	resp := PredictResponse{
		RequestID:    requestID(r.Context()),
		ModelVersion: cur.stack.Metadata().Version,
		FinalScore:   pred.Final,
		PerLearner:   pred.PerLearner,
		Degraded:     pred.Degraded,
		Labels:       v.Labels(),
		LatencyMs:    float64(elapsed.Microseconds()) / 1000,
		Timestamp:    time.Now().UTC(),
	}

	if s.store != nil {
		rec := storage.PredictionRecord{
			RequestID:    resp.RequestID,
			ModelVersion: resp.ModelVersion,
			Timestamp:    resp.Timestamp,
			Features:     v.Map(),
			Final:        pred.Final,
			PerLearner:   pred.PerLearner,
			Degraded:     pred.Degraded,
		}
		if err := s.store.StorePrediction(rec); err != nil {
			log.Warn().Err(err).Str("request_id", resp.RequestID).Msg("Failed to store prediction")
		}
	}

	w.Header().Set(common.HeaderModelVersion, resp.ModelVersion)
	writeJSON(w, http.StatusOK, resp)
}

// attributionInput is the shared front half of the attribution endpoints.
func (s *Server) attributionInput(w http.ResponseWriter, r *http.Request) (*serving, features.Vector, attribution.Budget, bool) {
	cur, err := s.current()
	if err != nil {
		s.fail(w, r, err)
		return nil, features.Vector{}, attribution.Budget{}, false
	}
	var req AttributeRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return nil, features.Vector{}, attribution.Budget{}, false
	}
	v, err := s.buildVector(cur, req.Features)
	if err != nil {
		s.fail(w, r, err)
		return nil, features.Vector{}, attribution.Budget{}, false
	}
	budget, err := cur.engine.ResolveBudget(req.Budget.Budget())
	if err != nil {
		s.fail(w, r, badRequest(err.Error()))
		return nil, features.Vector{}, attribution.Budget{}, false
	}
	return cur, v, clampBudget(budget, s.cfg.RequestTimeout), true
}

// clampBudget keeps sampling inside the request deadline so an expired time budget
// yields a truncated estimate instead of a timed out request.
func clampBudget(b attribution.Budget, requestTimeout time.Duration) attribution.Budget {
	limit := requestTimeout - requestTimeout/10
	if limit > 0 && b.Timeout > limit {
		b.Timeout = limit
	}
	return b
}

func (s *Server) handleAttribute(w http.ResponseWriter, r *http.Request) {
	level := attribution.LevelPipeline
	if q := r.URL.Query().Get("level"); q != "" {
		l, err := attribution.ParseLevel(q)
		if err != nil {
			s.fail(w, r, badRequest(err.Error()))
			return
		}
		level = l
	}

	cur, v, budget, ok := s.attributionInput(w, r)
	if !ok {
		return
	}

	key := cache.Key(cur.stack.Metadata().Digest, v, level.String(), budget)
	a, cached := s.results.Attribution(r.Context(), key, level)
	if !cached {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()

		var err error
		a, err = cur.engine.Attribute(ctx, v, level, budget)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.results.StoreAttribution(r.Context(), key, a)
		if level == attribution.LevelPipeline {
			cur.summary.Observe(a.Contributions[0])
		}
		s.audit(r, v, a)
	}

	resp := AttributeResponse{
		RequestID:   requestID(r.Context()),
		Attribution: a,
		LevelName:   level.String(),
		Cached:      cached,
	}
	if p, ok := s.panels.Lookup(level); ok {
		resp.Panel = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	cur, v, budget, ok := s.attributionInput(w, r)
	if !ok {
		return
	}

	key := cache.Key(cur.stack.Metadata().Digest, v, cache.ScopeExplain, budget)
	ex, cached := s.results.Explanation(r.Context(), key)
	if !cached {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()

		var err error
		ex, err = cur.engine.Explain(ctx, v, budget)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.results.StoreExplanation(r.Context(), key, ex)
		cur.summary.Observe(ex.Pipeline)
		for _, l := range attribution.Levels {
			s.audit(r, v, ex.Level(l))
		}
	}

	writeJSON(w, http.StatusOK, ExplainResponse{
		RequestID:   requestID(r.Context()),
		Explanation: ex,
		Cached:      cached,
		Panels:      s.panels.All(),
	})
}

func (s *Server) audit(r *http.Request, v features.Vector, a *attribution.Attribution) {
	if s.store == nil {
		return
	}
	rec := storage.AttributionRecord{
		RequestID:     requestID(r.Context()),
		ModelVersion:  a.ModelVersion,
		Timestamp:     time.Now().UTC(),
		Features:      v.Map(),
		Level:         a.Level,
		Contributions: a.Contributions,
		Truncated:     a.Truncated,
		Elapsed:       a.Elapsed,
	}
	if err := s.store.StoreAttribution(rec); err != nil {
		log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("Failed to store attribution")
	}
}
