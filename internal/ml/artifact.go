package ml

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stacking-explainer/internal/features"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Artifact is the serialized model bundle: feature schema, base learners, meta learner,
// pass-through plan, failure policy and the reference rows used as the attribution baseline.
type Artifact struct {
	Version       string            `json:"version" yaml:"version"`
	TrainedAt     time.Time         `json:"trained_at" yaml:"trained_at"`
	Task          string            `json:"task" yaml:"task"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Features      []features.Spec   `json:"features" yaml:"features"`
	BaseLearners  []LearnerSpec     `json:"base_learners" yaml:"base_learners"`
	MetaLearner   LearnerSpec       `json:"meta_learner" yaml:"meta_learner"`
	Passthrough   PassthroughSpec   `json:"passthrough" yaml:"passthrough"`
	FailurePolicy Policy            `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`
	Reference     [][]float64       `json:"reference" yaml:"reference"`
	Extra         map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// StackOption customizes how an artifact is turned into a Stack.
type StackOption func(*stackOptions)

type stackOptions struct {
	metrics MetricsInterface
	policy  Policy
	source  string
}

// WithMetrics attaches a metrics sink to the stack.
func WithMetrics(m MetricsInterface) StackOption {
	return func(o *stackOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithPolicy overrides the artifact's failure policy.
func WithPolicy(p Policy) StackOption {
	return func(o *stackOptions) { o.policy = p }
}

func withSource(path string) StackOption {
	return func(o *stackOptions) { o.source = path }
}

// ReadArtifact decodes a JSON or YAML bundle (chosen by file extension).
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	var a Artifact
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&a)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&a)
	}
	if err != nil {
		return nil, &ArtifactIncompatibleError{Path: path, Reason: "malformed bundle", Err: err}
	}
	return &a, nil
}

// LoadStack reads and validates an artifact file. Any inconsistency is reported as an
// ArtifactIncompatibleError before a single request can be served.
func LoadStack(path string, opts ...StackOption) (*Stack, error) {
	a, err := ReadArtifact(path)
	if err != nil {
		return nil, err
	}
	s, err := a.Build(append(opts, withSource(path))...)
	if err != nil {
		var incompatible *ArtifactIncompatibleError
		if errors.As(err, &incompatible) {
			incompatible.Path = path
		}
		return nil, err
	}
	log.Info().
		Str("artifact", path).
		Str("version", s.metadata.Version).
		Int("features", s.schema.Len()).
		Strs("base_learners", s.pool.Names()).
		Str("meta_learner", s.meta.Name()).
		Str("passthrough", string(s.pass.mode)).
		Int("reference_rows", len(s.reference)).
		Msg("Model artifact loaded")
	return s, nil
}

// Build validates the bundle and constructs the immutable Stack.
func (a *Artifact) Build(opts ...StackOption) (*Stack, error) {
	o := stackOptions{metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	schema, err := features.NewSchema(a.Features)
	if err != nil {
		return nil, &ArtifactIncompatibleError{Reason: "invalid feature schema", Err: err}
	}

	if len(a.BaseLearners) == 0 {
		return nil, incompatible("no base learners")
	}
	learners := make([]Learner, len(a.BaseLearners))
	fallbacks := make(fallbackScores, len(a.BaseLearners))
	for i, spec := range a.BaseLearners {
		l, err := NewLearner(spec)
		if err != nil {
			return nil, &ArtifactIncompatibleError{Reason: "invalid base learner", Err: err}
		}
		if l.Arity() != schema.Len() {
			return nil, incompatible("feature ordering declares %d features but base learner %q expects %d inputs",
				schema.Len(), l.Name(), l.Arity())
		}
		if spec.Fallback != nil {
			if !finite(*spec.Fallback) {
				return nil, incompatible("base learner %q: fallback score must be finite", spec.Name)
			}
			fb := *spec.Fallback
			fallbacks[i] = &fb
		}
		learners[i] = l
	}
	pool, err := NewPool(learners)
	if err != nil {
		return nil, &ArtifactIncompatibleError{Reason: "invalid base learner pool", Err: err}
	}

	pass, err := resolvePassthrough(a.Passthrough, schema)
	if err != nil {
		return nil, &ArtifactIncompatibleError{Reason: "invalid pass-through", Err: err}
	}

	metaLearner, err := NewLearner(a.MetaLearner)
	if err != nil {
		return nil, &ArtifactIncompatibleError{Reason: "invalid meta learner", Err: err}
	}
	if want := pool.Len() + pass.len(); metaLearner.Arity() != want {
		return nil, incompatible("meta learner %q expects %d inputs but the pool has %d learners and %d pass-through features",
			metaLearner.Name(), metaLearner.Arity(), pool.Len(), pass.len())
	}

	policy := o.policy
	if policy == "" {
		policy, err = ParsePolicy(string(a.FailurePolicy))
		if err != nil {
			return nil, &ArtifactIncompatibleError{Reason: "invalid failure policy", Err: err}
		}
	}

	if len(a.Reference) == 0 {
		return nil, incompatible("reference dataset is empty")
	}
	reference := make([][]float64, len(a.Reference))
	for i, row := range a.Reference {
		v, err := schema.FromValues(row)
		if err != nil {
			return nil, &ArtifactIncompatibleError{Reason: fmt.Sprintf("reference row %d", i), Err: err}
		}
		reference[i] = v.Values()
	}

	digest, err := a.Digest()
	if err != nil {
		return nil, &ArtifactIncompatibleError{Reason: "unencodable bundle", Err: err}
	}

	return &Stack{
		metadata: Metadata{
			Version:     a.Version,
			Digest:      digest,
			TrainedAt:   a.TrainedAt,
			Task:        a.Task,
			Description: a.Description,
			Source:      o.source,
			LoadedAt:    time.Now(),
		},
		schema:    schema,
		pool:      pool,
		meta:      NewMetaLearner(metaLearner),
		pass:      pass,
		policy:    policy,
		fallbacks: fallbacks,
		reference: reference,
		metrics:   o.metrics,
	}, nil
}

// Digest is the SHA-256 of the bundle's canonical JSON encoding. Two artifacts with the
// same declared version but different contents have different digests.
func (a *Artifact) Digest() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
