package main

import (
	"context"
	"time"

	"stacking-explainer/internal/api"
	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/features"
	"stacking-explainer/internal/ml"
)

// backend is where a command runs: an in-process stack or a remote server.
type backend interface {
	Features(ctx context.Context) ([]api.FeatureInfo, error)
	Predict(ctx context.Context, raw map[string]float64) (*api.PredictResponse, error)
	Attribute(ctx context.Context, raw map[string]float64, level attribution.Level, budget *api.BudgetRequest) (*api.AttributeResponse, error)
	Explain(ctx context.Context, raw map[string]float64, budget *api.BudgetRequest) (*api.ExplainResponse, error)
	Model(ctx context.Context) (*api.ModelResponse, error)
}

func newBackend() (backend, error) {
	if remote {
		return api.NewClient(serverURL, timeout), nil
	}
	return newLocalBackend(artifactPath, settings.Budget())
}

// localBackend runs the stack in-process.
type localBackend struct {
	stack  *ml.Stack
	engine *attribution.Engine
}

func newLocalBackend(path string, budget attribution.Budget) (*localBackend, error) {
	var opts []ml.StackOption
	if settings.FailurePolicy != "" {
		policy, err := ml.ParsePolicy(settings.FailurePolicy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ml.WithPolicy(policy))
	}
	stack, err := ml.LoadStack(path, opts...)
	if err != nil {
		return nil, err
	}
	engine, err := attribution.NewEngine(stack, attribution.WithDefaultBudget(budget))
	if err != nil {
		return nil, err
	}
	return &localBackend{stack: stack, engine: engine}, nil
}

func (b *localBackend) Features(context.Context) ([]api.FeatureInfo, error) {
	specs := b.stack.Schema().Specs()
	out := make([]api.FeatureInfo, len(specs))
	for i, spec := range specs {
		out[i] = api.FeatureInfo{Index: i, Spec: spec, DomainText: spec.Domain()}
	}
	return out, nil
}

func (b *localBackend) vector(raw map[string]float64) (features.Vector, error) {
	return b.stack.Schema().Build(raw)
}

func (b *localBackend) Predict(_ context.Context, raw map[string]float64) (*api.PredictResponse, error) {
	start := time.Now()
	v, err := b.vector(raw)
	if err != nil {
		return nil, err
	}
	pred, err := b.stack.Predict(v)
	if err != nil {
		return nil, err
	}
	return &api.PredictResponse{
		ModelVersion: b.stack.Metadata().Version,
		FinalScore:   pred.Final,
		PerLearner:   pred.PerLearner,
		Degraded:     pred.Degraded,
		Labels:       v.Labels(),
		LatencyMs:    float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:    time.Now().UTC(),
	}, nil
}

func (b *localBackend) Attribute(ctx context.Context, raw map[string]float64, level attribution.Level, budget *api.BudgetRequest) (*api.AttributeResponse, error) {
	v, err := b.vector(raw)
	if err != nil {
		return nil, err
	}
	a, err := b.engine.Attribute(ctx, v, level, budget.Budget())
	if err != nil {
		return nil, err
	}
	return &api.AttributeResponse{Attribution: a, LevelName: level.String()}, nil
}

func (b *localBackend) Explain(ctx context.Context, raw map[string]float64, budget *api.BudgetRequest) (*api.ExplainResponse, error) {
	v, err := b.vector(raw)
	if err != nil {
		return nil, err
	}
	ex, err := b.engine.Explain(ctx, v, budget.Budget())
	if err != nil {
		return nil, err
	}
	return &api.ExplainResponse{Explanation: ex}, nil
}

func (b *localBackend) Model(context.Context) (*api.ModelResponse, error) {
	pool := b.stack.Pool()
	meta := b.stack.Meta()
	resp := &api.ModelResponse{
		Metadata:      b.stack.Metadata(),
		BaseLearners:  make([]api.LearnerInfo, pool.Len()),
		MetaLearner:   api.LearnerInfo{Name: meta.Name(), Kind: meta.Kind(), Arity: meta.Arity()},
		Passthrough:   b.stack.Passthrough(),
		FailurePolicy: b.stack.Policy(),
		ExpectedValue: b.engine.ExpectedValue(),
	}
	for i := 0; i < pool.Len(); i++ {
		l := pool.Learner(i)
		resp.BaseLearners[i] = api.LearnerInfo{Name: l.Name(), Kind: l.Kind(), Arity: l.Arity()}
	}
	d := b.engine.DefaultBudget()
	resp.Budget = api.BudgetRequest{
		Samples:        d.Samples,
		TimeoutMs:      d.Timeout.Milliseconds(),
		Workers:        d.Workers,
		Seed:           d.Seed,
		ExactMaxInputs: d.ExactMaxInputs,
	}
	return resp, nil
}
