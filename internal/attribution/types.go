// Package attribution decomposes stack predictions into additive per-input contributions
// using interventional Shapley values over the artifact's reference rows.
//
// Three levels are produced. Level 1 explains each base learner over the raw features,
// Level 2 explains the meta learner over the base-learner outputs (and any pass-through
// features), and Level 3 composes the two into raw-feature contributions for the whole
// pipeline. Every Contribution satisfies
//
//	sum(Values) + Baseline == Output
//
// up to floating-point rounding, whatever method produced it.
package attribution

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Level selects which layer of the stack is explained.
type Level int

const (
	LevelLearners Level = 1
	LevelMeta     Level = 2
	LevelPipeline Level = 3
)

// Levels lists every level in order.
var Levels = []Level{LevelLearners, LevelMeta, LevelPipeline}

func (l Level) String() string {
	switch l {
	case LevelLearners:
		return "learners"
	case LevelMeta:
		return "meta"
	case LevelPipeline:
		return "pipeline"
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

func (l Level) valid() bool { return l >= LevelLearners && l <= LevelPipeline }

// ParseLevel accepts "1".."3" or the level names.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range Levels {
		if s == strconv.Itoa(int(l)) || s == l.String() {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown attribution level %q (want 1, 2 or 3)", s)
}

// Method names how a Contribution was computed.
type Method string

const (
	// MethodExact enumerates every coalition.
	MethodExact Method = "exact"
	// MethodSampling averages antithetic permutation pairs.
	MethodSampling Method = "sampling"
	// MethodChainRule composes Level 1 and Level 2 results.
	MethodChainRule Method = "chain_rule"
)

// Contribution is the additive decomposition of one model's output.
type Contribution struct {
	// Model is the explained learner, the meta learner, or "pipeline".
	Model  string    `json:"model"`
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
	// StdErr is the per-input standard error of a sampled estimate.
	StdErr []float64 `json:"std_err,omitempty"`
	// Baseline is the reference value the contributions are measured from. For sampled
	// estimates it is the mean output over the reference rows actually drawn.
	Baseline float64 `json:"baseline"`
	// ExpectedValue is the mean output over the full reference set.
	ExpectedValue float64 `json:"expected_value"`
	Output        float64 `json:"output"`
	Method        Method  `json:"method"`
	// Samples counts permutations for sampled estimates, coalitions for exact ones, and
	// the total of both layers for chain-rule results.
	Samples   int  `json:"samples"`
	Truncated bool `json:"truncated,omitempty"`
}

// Sum returns the total of all contributions.
func (c Contribution) Sum() float64 {
	var s float64
	for _, v := range c.Values {
		s += v
	}
	return s
}

// Residual is Output - Baseline - Sum, zero up to rounding.
func (c Contribution) Residual() float64 {
	return c.Output - c.Baseline - c.Sum()
}

// Map returns name -> contribution.
func (c Contribution) Map() map[string]float64 {
	m := make(map[string]float64, len(c.Names))
	for i, n := range c.Names {
		m[n] = c.Values[i]
	}
	return m
}

// Get returns the contribution of a named input.
func (c Contribution) Get(name string) (float64, bool) {
	for i, n := range c.Names {
		if n == name {
			return c.Values[i], true
		}
	}
	return 0, false
}

// Attribution is the result for one level. Level 1 carries one Contribution per base
// learner in pool order, levels 2 and 3 carry exactly one.
type Attribution struct {
	Level         Level          `json:"level"`
	ModelVersion  string         `json:"model_version"`
	Contributions []Contribution `json:"contributions"`
	Truncated     bool           `json:"truncated,omitempty"`
	Elapsed       time.Duration  `json:"elapsed_ns"`
}

// Explanation bundles all three levels computed from one shared pass.
type Explanation struct {
	ModelVersion string         `json:"model_version"`
	Learners     []Contribution `json:"learners"`
	Meta         Contribution   `json:"meta"`
	Pipeline     Contribution   `json:"pipeline"`
	Truncated    bool           `json:"truncated,omitempty"`
	Elapsed      time.Duration  `json:"elapsed_ns"`
}

// Level returns the explanation restricted to one level.
func (e *Explanation) Level(l Level) *Attribution {
	a := &Attribution{Level: l, ModelVersion: e.ModelVersion, Elapsed: e.Elapsed}
	switch l {
	case LevelLearners:
		a.Contributions = e.Learners
	case LevelMeta:
		a.Contributions = []Contribution{e.Meta}
	case LevelPipeline:
		a.Contributions = []Contribution{e.Pipeline}
	}
	for _, c := range a.Contributions {
		a.Truncated = a.Truncated || c.Truncated
	}
	return a
}

// Budget bounds the cost of one attribution request.
type Budget struct {
	// Samples is the number of permutations drawn in sampling mode, taken in antithetic pairs.
	Samples int `json:"samples" yaml:"samples"`
	// Timeout caps sampling; on expiry the completed samples are returned as truncated.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Workers int           `json:"workers" yaml:"workers"`
	Seed    uint64        `json:"seed" yaml:"seed"`
	// ExactMaxInputs is the largest player count solved by full coalition enumeration.
	ExactMaxInputs int `json:"exact_max_inputs" yaml:"exact_max_inputs"`
}

// Default budget values.
const (
	DefaultSamples        = 512
	DefaultTimeout        = 5 * time.Second
	DefaultSeed           = 42
	DefaultExactMaxInputs = 10

	// MaxSamples and MaxWorkers bound what a single request may ask for.
	MaxSamples = 1_000_000
	MaxWorkers = 1024

	// maxExactInputs caps ExactMaxInputs; 2^20 coalitions per reference row is already slow.
	maxExactInputs = 20
)

// DefaultBudget returns the default budget.
func DefaultBudget() Budget {
	return Budget{
		Samples:        DefaultSamples,
		Timeout:        DefaultTimeout,
		Workers:        runtime.GOMAXPROCS(0),
		Seed:           DefaultSeed,
		ExactMaxInputs: DefaultExactMaxInputs,
	}
}

// Merge fills zero fields of b from defaults.
func (b Budget) Merge(defaults Budget) Budget {
	if b.Samples <= 0 {
		b.Samples = defaults.Samples
	}
	if b.Timeout <= 0 {
		b.Timeout = defaults.Timeout
	}
	if b.Workers <= 0 {
		b.Workers = defaults.Workers
	}
	if b.Seed == 0 {
		b.Seed = defaults.Seed
	}
	if b.ExactMaxInputs <= 0 {
		b.ExactMaxInputs = defaults.ExactMaxInputs
	}
	return b
}

// Validate checks a fully merged budget.
func (b Budget) Validate() error {
	if b.Samples < 2 || b.Samples > MaxSamples {
		return fmt.Errorf("attribution samples must be in [2, %d], got %d", MaxSamples, b.Samples)
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("attribution timeout must be positive")
	}
	if b.Workers < 1 || b.Workers > MaxWorkers {
		return fmt.Errorf("attribution workers must be in [1, %d], got %d", MaxWorkers, b.Workers)
	}
	if b.ExactMaxInputs < 0 || b.ExactMaxInputs > maxExactInputs {
		return fmt.Errorf("exact max inputs must be in [0, %d], got %d", maxExactInputs, b.ExactMaxInputs)
	}
	return nil
}
