package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelVersion is one registered artifact.
type ModelVersion struct {
	Version   string    `json:"version"`
	Path      string    `json:"path"`
	AddedAt   time.Time `json:"added_at"`
	TrainedAt time.Time `json:"trained_at"`
	IsActive  bool      `json:"is_active"`
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// ModelsDir holds model_versions.json. Empty keeps the version list in memory only.
	ModelsDir string
	Options   []StackOption
	// Prepare runs on a freshly loaded stack before it is published. An error rejects
	// the activation and the previous stack keeps serving.
	Prepare func(*Stack) error
	Metrics MetricsInterface
}

// Registry owns the currently served Stack and the history of activated artifacts.
// Readers call Current, which is a single atomic load; activation builds a new Stack
// and swaps the pointer, so in-flight requests finish on the stack they started with.
type Registry struct {
	mu           sync.Mutex
	versionsFile string
	versions     []ModelVersion
	current      atomic.Pointer[Stack]
	opts         []StackOption
	prepare      func(*Stack) error
	metrics      MetricsInterface
}

// NewRegistry creates a registry, loading the version history if one exists.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	r := &Registry{
		versions: make([]ModelVersion, 0),
		opts:     cfg.Options,
		prepare:  cfg.Prepare,
		metrics:  cfg.Metrics,
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	r.opts = append(r.opts, WithMetrics(r.metrics))

	if cfg.ModelsDir != "" {
		if err := os.MkdirAll(cfg.ModelsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create models directory: %w", err)
		}
		r.versionsFile = filepath.Join(cfg.ModelsDir, "model_versions.json")
		if err := r.loadVersions(); err != nil {
			log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
		}
	}
	return r, nil
}

// Current returns the stack being served, or nil before the first activation.
func (r *Registry) Current() *Stack {
	return r.current.Load()
}

// Bootstrap activates path if given, otherwise the version marked active in the history.
func (r *Registry) Bootstrap(path string) (*Stack, error) {
	if path != "" {
		return r.Load(path)
	}
	if v, ok := r.ActiveVersion(); ok {
		return r.Load(v.Path)
	}
	return nil, fmt.Errorf("no artifact path configured and no active model version registered")
}

// Load validates the artifact at path, publishes it and records it as the active version.
func (r *Registry) Load(path string) (*Stack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stack, err := LoadStack(path, r.opts...)
	if err != nil {
		r.metrics.ModelReloadInc(false)
		return nil, err
	}
	if r.prepare != nil {
		if err := r.prepare(stack); err != nil {
			r.metrics.ModelReloadInc(false)
			return nil, fmt.Errorf("failed to prepare model %s: %w", path, err)
		}
	}

	r.current.Store(stack)
	r.metrics.ModelReloadInc(true)
	r.metrics.ModelInfoSet(stack.metadata.Version, stack.pool.Len())

	r.markActive(stack, path)
	if err := r.saveVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to persist model versions")
	}
	return stack, nil
}

// Reload re-reads the artifact the current stack was loaded from.
func (r *Registry) Reload() (*Stack, error) {
	cur := r.Current()
	if cur == nil || cur.metadata.Source == "" {
		return nil, fmt.Errorf("no model loaded from a file")
	}
	return r.Load(cur.metadata.Source)
}

// Activate loads a registered version.
func (r *Registry) Activate(version string) (*Stack, error) {
	r.mu.Lock()
	var path string
	for _, v := range r.versions {
		if v.Version == version {
			path = v.Path
			break
		}
	}
	r.mu.Unlock()

	if path == "" {
		return nil, fmt.Errorf("version %s not found", version)
	}
	return r.Load(path)
}

// Rollback activates the version registered before the active one.
func (r *Registry) Rollback() (*Stack, error) {
	r.mu.Lock()
	if len(r.versions) < 2 {
		r.mu.Unlock()
		return nil, fmt.Errorf("no previous version available for rollback")
	}
	currentIdx := -1
	for i, v := range r.versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		r.mu.Unlock()
		return nil, fmt.Errorf("no active version found")
	}
	if currentIdx+1 >= len(r.versions) {
		r.mu.Unlock()
		return nil, fmt.Errorf("no previous version available")
	}
	previous := r.versions[currentIdx+1].Version
	r.mu.Unlock()

	return r.Activate(previous)
}

// ActiveVersion returns the version currently marked active.
func (r *Registry) ActiveVersion() (ModelVersion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.IsActive {
			return v, true
		}
	}
	return ModelVersion{}, false
}

// ListVersions returns all registered versions, newest first.
func (r *Registry) ListVersions() []ModelVersion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ModelVersion(nil), r.versions...)
}

// markActive registers the stack's version (once per version/path pair) and flags it active.
// Callers hold r.mu.
func (r *Registry) markActive(stack *Stack, path string) {
	found := false
	for i := range r.versions {
		v := &r.versions[i]
		v.IsActive = v.Version == stack.metadata.Version && v.Path == path
		found = found || v.IsActive
	}
	if !found {
		r.versions = append(r.versions, ModelVersion{
			Version:   stack.metadata.Version,
			Path:      path,
			AddedAt:   time.Now(),
			TrainedAt: stack.metadata.TrainedAt,
			IsActive:  true,
		})
	}

	sort.SliceStable(r.versions, func(i, j int) bool {
		return r.versions[i].AddedAt.After(r.versions[j].AddedAt)
	})
}

// loadVersions loads model versions from file
func (r *Registry) loadVersions() error {
	data, err := os.ReadFile(r.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &r.versions)
}

// saveVersions saves model versions to file
func (r *Registry) saveVersions() error {
	if r.versionsFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(r.versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.versionsFile, data, 0o600)
}
