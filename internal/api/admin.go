package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/ml"

	"github.com/rs/zerolog/log"
)

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	cur, err := s.current()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stack := cur.stack
	pool := stack.Pool()

	resp := ModelResponse{
		Metadata:      stack.Metadata(),
		BaseLearners:  make([]LearnerInfo, pool.Len()),
		MetaLearner:   LearnerInfo{Name: stack.Meta().Name(), Kind: stack.Meta().Kind(), Arity: stack.Meta().Arity()},
		Passthrough:   stack.Passthrough(),
		FailurePolicy: stack.Policy(),
		ExpectedValue: cur.engine.ExpectedValue(),
		Versions:      s.registry.ListVersions(),
	}
	for i := 0; i < pool.Len(); i++ {
		l := pool.Learner(i)
		resp.BaseLearners[i] = LearnerInfo{Name: l.Name(), Kind: l.Kind(), Arity: l.Arity()}
	}
	b := cur.engine.DefaultBudget()
	resp.Budget = BudgetRequest{
		Samples:        b.Samples,
		TimeoutMs:      b.Timeout.Milliseconds(),
		Workers:        b.Workers,
		Seed:           b.Seed,
		ExactMaxInputs: b.ExactMaxInputs,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	cur, err := s.current()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	specs := cur.stack.Schema().Specs()
	out := make([]FeatureInfo, len(specs))
	for i, spec := range specs {
		out[i] = FeatureInfo{Index: i, Spec: spec, DomainText: spec.Domain()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableModelAdmin {
		writeError(w, r, http.StatusForbidden, errors.New("model administration is disabled"))
		return
	}

	var req ReloadRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	var (
		stack *ml.Stack
		err   error
	)
	switch {
	case req.Rollback:
		stack, err = s.registry.Rollback()
	case req.Version != "":
		stack, err = s.registry.Activate(req.Version)
	case req.Path != "":
		stack, err = s.registry.Load(req.Path)
	default:
		stack, err = s.registry.Reload()
	}
	if err != nil {
		// the previous stack is still being served
		log.Error().Err(err).Msg("model activation rejected")
		status, _ := classify(err)
		if status == http.StatusInternalServerError {
			status = http.StatusConflict
		}
		writeError(w, r, status, err)
		return
	}

	log.Info().Str("version", stack.Metadata().Version).Msg("model activated")
	s.handleModel(w, r)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	cur, err := s.current()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n := -1
	if q := r.URL.Query().Get("top"); q != "" {
		if n, err = strconv.Atoi(q); err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, errors.New("top must be a non-negative integer"))
			return
		}
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		ModelVersion: cur.stack.Metadata().Version,
		Features:     cur.summary.Top(n),
	})
}

func (s *Server) handlePanels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.panels.All())
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	level, err := attribution.ParseLevel(r.PathValue("level"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	p, ok := s.panels.Lookup(level)
	if !ok {
		writeError(w, r, http.StatusNotFound, errors.New("no panel for level "+level.String()))
		return
	}
	f, err := os.Open(p.Path)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", p.ContentType)
	http.ServeContent(w, r, p.File, p.ModTime, f)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, http.StatusNotFound, errors.New("audit store is disabled"))
		return
	}

	q := r.URL.Query()
	version := q.Get("version")
	if version == "" {
		cur, err := s.current()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		version = cur.stack.Metadata().Version
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if v := q.Get("from"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, r, http.StatusBadRequest, errors.New("from must be RFC 3339"))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, r, http.StatusBadRequest, errors.New("to must be RFC 3339"))
			return
		}
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, r, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
	}

	switch kind := q.Get("kind"); kind {
	case "", "predictions":
		recs, err := s.store.GetPredictions(version, start, end, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	case "attributions":
		recs, err := s.store.GetAttributions(version, start, end, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	default:
		writeError(w, r, http.StatusBadRequest, errors.New("kind must be predictions or attributions"))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		ErrorRate: s.metrics.ErrorRate(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		CheckedAt: time.Now().UTC(),
	}
	status := http.StatusServiceUnavailable
	if cur := s.state.Load(); cur != nil {
		health.Healthy = true
		health.ModelVersion = cur.stack.Metadata().Version
		status = http.StatusOK
	}
	writeJSON(w, status, health)
}
