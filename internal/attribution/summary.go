package attribution

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FeatureStats aggregates one input's contributions across explained requests.
type FeatureStats struct {
	Name string `json:"name"`
	// Count is the number of contributions observed.
	Count int64 `json:"count"`
	// MeanAbs is the global importance: the running mean of |phi|.
	MeanAbs float64 `json:"mean_abs"`
	// Mean is the running mean of the signed contribution.
	Mean        float64   `json:"mean"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	LastUpdated time.Time `json:"last_updated"`
}

// SummaryConfig configures summary tracking
type SummaryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SavePath string `yaml:"save_path"`
}

// Summary tracks global feature importance from the pipeline-level contributions of
// every explained request.
type Summary struct {
	mu       sync.RWMutex
	names    []string
	stats    map[string]*FeatureStats
	enabled  bool
	savePath string
}

// NewSummary creates a summary for the given inputs and loads any saved state.
func NewSummary(names []string, config SummaryConfig) *Summary {
	s := &Summary{
		stats:    make(map[string]*FeatureStats),
		enabled:  config.Enabled,
		savePath: config.SavePath,
	}
	for _, name := range names {
		s.track(name)
	}

	if config.SavePath != "" {
		if err := s.Load(); err != nil {
			log.Warn().Err(err).Msg("Failed to load attribution summary")
		}
	}
	return s
}

// track registers an input; callers hold s.mu or own s exclusively.
func (s *Summary) track(name string) *FeatureStats {
	if st, ok := s.stats[name]; ok {
		return st
	}
	st := &FeatureStats{Name: name, Min: math.Inf(1), Max: math.Inf(-1)}
	s.stats[name] = st
	s.names = append(s.names, name)
	return st
}

// Observe folds a contribution into the running statistics. Inputs first seen here
// (after a model with a different schema is activated) are added on the fly.
func (s *Summary) Observe(c Contribution) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for i, name := range c.Names {
		v := c.Values[i]
		st := s.track(name)
		st.Count++
		n := float64(st.Count)
		st.MeanAbs += (math.Abs(v) - st.MeanAbs) / n
		st.Mean += (v - st.Mean) / n
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		st.LastUpdated = now
	}
}

// Stats returns a copy of every input's statistics in registration order. Min and Max
// are zero for inputs that have not been observed yet.
func (s *Summary) Stats() []FeatureStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FeatureStats, 0, len(s.names))
	for _, name := range s.names {
		st := *s.stats[name]
		if st.Count == 0 {
			st.Min, st.Max = 0, 0
		}
		out = append(out, st)
	}
	return out
}

// Top returns the n most important inputs by mean |phi|, ties broken by registration order.
func (s *Summary) Top(n int) []FeatureStats {
	stats := s.Stats()
	slices.SortStableFunc(stats, func(a, b FeatureStats) int {
		switch {
		case a.MeanAbs > b.MeanAbs:
			return -1
		case a.MeanAbs < b.MeanAbs:
			return 1
		}
		return 0
	})
	if n < 0 || n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// IsEnabled returns whether summary tracking is enabled
func (s *Summary) IsEnabled() bool {
	return s.enabled
}

// Reset clears all statistics.
func (s *Summary) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.names {
		s.stats[name] = &FeatureStats{Name: name, Min: math.Inf(1), Max: math.Inf(-1)}
	}
}

// Save saves the summary to disk
func (s *Summary) Save() error {
	if !s.enabled || s.savePath == "" {
		return nil
	}
	return s.SaveTo(s.savePath)
}

// SaveTo writes the summary to path regardless of the configured save path.
func (s *Summary) SaveTo(path string) error {
	if !s.enabled || path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.Stats(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load loads the summary from disk. A file written for a different set of inputs is
// ignored and the summary starts empty.
func (s *Summary) Load() error {
	if !s.enabled || s.savePath == "" {
		return nil
	}

	data, err := os.ReadFile(s.savePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var in []FeatureStats
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]string, len(in))
	for i, p := range in {
		saved[i] = p.Name
	}
	if !sameNames(saved, s.names) {
		log.Info().Str("path", s.savePath).Strs("saved", saved).Strs("inputs", s.names).
			Msg("Saved attribution summary covers other inputs, starting empty")
		return nil
	}

	for _, p := range in {
		if p.Count == 0 {
			continue
		}
		*s.stats[p.Name] = p
	}
	return nil
}

func sameNames(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
