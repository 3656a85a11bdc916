package attribution

import (
	"context"
	"fmt"
	"time"

	"stacking-explainer/internal/features"
	"stacking-explainer/internal/ml"

	"github.com/rs/zerolog/log"
)

// PipelineModel is the Contribution.Model name of Level 3 results.
const PipelineModel = "pipeline"

// metaStream is the RNG stream of the Level 2 game; Level 1 games use the learner index.
const metaStream = 1 << 16

// MetricsInterface defines the metrics the engine reports.
type MetricsInterface interface {
	AttributionLatencyObserve(level string, seconds float64)
	AttributionSamplesObserve(level string, samples int)
	AttributionTruncatedInc(level string)
}

type noopMetrics struct{}

func (noopMetrics) AttributionLatencyObserve(string, float64) {}
func (noopMetrics) AttributionSamplesObserve(string, int)     {}
func (noopMetrics) AttributionTruncatedInc(string)            {}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches a metrics sink.
func WithMetrics(m MetricsInterface) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithDefaultBudget sets the budget used for fields a request leaves zero.
func WithDefaultBudget(b Budget) Option {
	return func(e *Engine) { e.defaults = b.Merge(DefaultBudget()) }
}

// Engine computes attributions for one Stack. Everything it derives from the stack's
// reference rows is computed once at construction; the engine is then read-only and safe
// for concurrent use.
type Engine struct {
	stack *ml.Stack
	// reference rows in raw feature space, and the same rows mapped to meta-learner inputs
	reference     [][]float64
	metaReference [][]float64
	// mean output over the reference rows, per base learner and for the whole stack
	learnerExpected []float64
	metaExpected    float64
	defaults        Budget
	metrics         MetricsInterface
}

// NewEngine prepares an engine for stack. It fails if any reference row cannot be
// pushed through the stack.
func NewEngine(stack *ml.Stack, opts ...Option) (*Engine, error) {
	e := &Engine{
		stack:     stack,
		reference: stack.Reference(),
		defaults:  DefaultBudget(),
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.defaults.Validate(); err != nil {
		return nil, err
	}

	e.learnerExpected = make([]float64, stack.Pool().Len())
	e.metaReference = make([][]float64, len(e.reference))
	for i, r := range e.reference {
		final, base, err := stack.PredictRaw(r)
		if err != nil {
			return nil, fmt.Errorf("reference row %d: %w", i, err)
		}
		e.metaReference[i] = stack.MetaInput(base, r)
		for l, score := range base {
			e.learnerExpected[l] += score
		}
		e.metaExpected += final
	}
	rows := float64(len(e.reference))
	for l := range e.learnerExpected {
		e.learnerExpected[l] /= rows
	}
	e.metaExpected /= rows

	return e, nil
}

// Stack returns the stack this engine explains.
func (e *Engine) Stack() *ml.Stack { return e.stack }

// DefaultBudget returns the budget applied to zero request fields.
func (e *Engine) DefaultBudget() Budget { return e.defaults }

// ExpectedValue returns the mean stack output over the reference rows.
func (e *Engine) ExpectedValue() float64 { return e.metaExpected }

// ResolveBudget merges b with the engine defaults and validates the result.
func (e *Engine) ResolveBudget(b Budget) (Budget, error) {
	b = b.Merge(e.defaults)
	if err := b.Validate(); err != nil {
		return Budget{}, err
	}
	return b, nil
}

// request is the per-call state shared by the level computations.
type request struct {
	x        []float64
	final    float64
	base     []float64
	budget   Budget
	deadline time.Time
}

func (e *Engine) newRequest(ctx context.Context, v features.Vector, b Budget) (*request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := e.ResolveBudget(b)
	if err != nil {
		return nil, err
	}
	if v.Len() != e.stack.Schema().Len() {
		return nil, &ml.ShapeMismatchError{Component: "feature vector", Expected: e.stack.Schema().Len(), Actual: v.Len()}
	}
	x := v.Values()
	final, base, err := e.stack.PredictRaw(x)
	if err != nil {
		return nil, err
	}
	return &request{x: x, final: final, base: base, budget: b, deadline: time.Now().Add(b.Timeout)}, nil
}

// Attribute explains one level of the stack for v.
func (e *Engine) Attribute(ctx context.Context, v features.Vector, level Level, b Budget) (*Attribution, error) {
	if !level.valid() {
		return nil, fmt.Errorf("unknown attribution level %d", level)
	}
	start := time.Now()
	req, err := e.newRequest(ctx, v, b)
	if err != nil {
		return nil, err
	}

	var contributions []Contribution
	switch level {
	case LevelLearners:
		contributions, err = e.learners(ctx, req)
	case LevelMeta:
		var c Contribution
		c, err = e.meta(ctx, req)
		contributions = []Contribution{c}
	case LevelPipeline:
		var l1 []Contribution
		if l1, err = e.learners(ctx, req); err != nil {
			break
		}
		var l2 Contribution
		if l2, err = e.meta(ctx, req); err != nil {
			break
		}
		contributions = []Contribution{e.compose(l1, l2)}
	}
	if err != nil {
		return nil, err
	}

	a := &Attribution{
		Level:         level,
		ModelVersion:  e.stack.Metadata().Version,
		Contributions: contributions,
		Elapsed:       time.Since(start),
	}
	for _, c := range contributions {
		a.Truncated = a.Truncated || c.Truncated
	}
	e.record(level, a.Elapsed, contributions, a.Truncated)
	return a, nil
}

// Explain computes all three levels, reusing the Level 1 and Level 2 results for Level 3.
func (e *Engine) Explain(ctx context.Context, v features.Vector, b Budget) (*Explanation, error) {
	start := time.Now()
	req, err := e.newRequest(ctx, v, b)
	if err != nil {
		return nil, err
	}
	l1, err := e.learners(ctx, req)
	if err != nil {
		return nil, err
	}
	l2, err := e.meta(ctx, req)
	if err != nil {
		return nil, err
	}
	l3 := e.compose(l1, l2)

	ex := &Explanation{
		ModelVersion: e.stack.Metadata().Version,
		Learners:     l1,
		Meta:         l2,
		Pipeline:     l3,
		Truncated:    l3.Truncated,
		Elapsed:      time.Since(start),
	}
	for _, level := range Levels {
		a := ex.Level(level)
		e.record(level, ex.Elapsed, a.Contributions, a.Truncated)
	}
	return ex, nil
}

// learners solves one Level 1 game per base learner, in pool order.
func (e *Engine) learners(ctx context.Context, req *request) ([]Contribution, error) {
	pool := e.stack.Pool()
	names := e.stack.Schema().Names()
	out := make([]Contribution, pool.Len())
	for l := 0; l < pool.Len(); l++ {
		g := &game{
			model:     pool.Learner(l).Name(),
			names:     names,
			f:         func(z []float64) (float64, error) { return pool.PredictOne(l, z) },
			x:         req.x,
			output:    req.base[l],
			reference: e.reference,
			expected:  e.learnerExpected[l],
			stream:    uint64(l),
		}
		c, err := g.solve(ctx, req.deadline, req.budget)
		if err != nil {
			return nil, fmt.Errorf("attributing base learner %q: %w", g.model, err)
		}
		out[l] = c
	}
	return out, nil
}

// meta solves the Level 2 game over the meta learner's inputs.
func (e *Engine) meta(ctx context.Context, req *request) (Contribution, error) {
	metaLearner := e.stack.Meta()
	g := &game{
		model:     metaLearner.Name(),
		names:     e.stack.MetaInputNames(),
		f:         metaLearner.Predict,
		x:         e.stack.MetaInput(req.base, req.x),
		output:    req.final,
		reference: e.metaReference,
		expected:  e.metaExpected,
		stream:    metaStream,
	}
	c, err := g.solve(ctx, req.deadline, req.budget)
	if err != nil {
		return Contribution{}, fmt.Errorf("attributing meta learner %q: %w", g.model, err)
	}
	return c, nil
}

func (e *Engine) compose(l1 []Contribution, l2 Contribution) Contribution {
	return chainRule(e.stack.Schema().Names(), l1, l2, e.stack.PassthroughIndices())
}

func (e *Engine) record(level Level, elapsed time.Duration, contributions []Contribution, truncated bool) {
	samples := 0
	for _, c := range contributions {
		samples += c.Samples
	}
	e.metrics.AttributionLatencyObserve(level.String(), elapsed.Seconds())
	e.metrics.AttributionSamplesObserve(level.String(), samples)
	if truncated {
		e.metrics.AttributionTruncatedInc(level.String())
		log.Warn().
			Str("level", level.String()).
			Dur("elapsed", elapsed).
			Int("samples", samples).
			Msg("Attribution budget exhausted, returning truncated estimate")
		return
	}
	log.Debug().
		Str("level", level.String()).
		Dur("elapsed", elapsed).
		Int("samples", samples).
		Msg("Attribution computed")
}
