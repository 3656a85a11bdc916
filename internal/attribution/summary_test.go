package attribution

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary_ObserveAndTop(t *testing.T) {
	s := NewSummary([]string{"a", "b", "c"}, SummaryConfig{Enabled: true})

	s.Observe(Contribution{Names: []string{"a", "b", "c"}, Values: []float64{1, -4, 0}})
	s.Observe(Contribution{Names: []string{"a", "b", "c"}, Values: []float64{-3, 2, 0}})

	stats := s.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, int64(2), stats[0].Count)
	assert.InDelta(t, 2, stats[0].MeanAbs, 1e-12)
	assert.InDelta(t, -1, stats[0].Mean, 1e-12)
	assert.Equal(t, -3.0, stats[0].Min)
	assert.Equal(t, 1.0, stats[0].Max)

	top := s.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Name)
	assert.Equal(t, "a", top[1].Name)
	assert.Len(t, s.Top(-1), 3)
}

func TestSummary_Disabled(t *testing.T) {
	s := NewSummary([]string{"a"}, SummaryConfig{})
	s.Observe(Contribution{Names: []string{"a"}, Values: []float64{1}})
	assert.Equal(t, int64(0), s.Stats()[0].Count)
	assert.False(t, s.IsEnabled())
}

func TestSummary_NewInputsAndReset(t *testing.T) {
	s := NewSummary([]string{"a"}, SummaryConfig{Enabled: true})
	s.Observe(Contribution{Names: []string{"a", "z"}, Values: []float64{1, 2}})

	stats := s.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "z", stats[1].Name)

	s.Reset()
	for _, st := range s.Stats() {
		assert.Zero(t, st.Count)
		assert.Zero(t, st.Min)
		assert.Zero(t, st.Max)
	}
}

func TestSummary_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summary.json")
	cfg := SummaryConfig{Enabled: true, SavePath: path}

	s := NewSummary([]string{"a", "b"}, cfg)
	s.Observe(Contribution{Names: []string{"a", "b"}, Values: []float64{0.5, -0.25}})
	require.NoError(t, s.Save())

	restored := NewSummary([]string{"a", "b"}, cfg)
	want, got := s.Stats(), restored.Stats()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].LastUpdated.Equal(got[i].LastUpdated))
		want[i].LastUpdated = got[i].LastUpdated
		assert.Equal(t, want[i], got[i])
	}

	// an untouched input keeps infinite bounds internally, so the next value sets both
	fresh := NewSummary([]string{"a", "b", "c"}, cfg)
	fresh.Observe(Contribution{Names: []string{"c"}, Values: []float64{-7}})
	c := fresh.Stats()[2]
	assert.Equal(t, -7.0, c.Min)
	assert.Equal(t, -7.0, c.Max)
}

func TestSummary_LoadIgnoresOtherInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	cfg := SummaryConfig{Enabled: true, SavePath: path}

	old := NewSummary([]string{"a", "b", "c"}, cfg)
	old.Observe(Contribution{Names: []string{"a", "b", "c"}, Values: []float64{1, 2, 3}})
	require.NoError(t, old.Save())

	renamed := NewSummary([]string{"z", "b", "c"}, cfg)
	stats := renamed.Stats()
	require.Len(t, stats, 3)
	for _, st := range stats {
		assert.Zero(t, st.Count, st.Name)
	}
	assert.Equal(t, "z", stats[0].Name)

	reordered := NewSummary([]string{"c", "b", "a"}, cfg)
	for _, st := range reordered.Stats() {
		assert.Equal(t, int64(1), st.Count, st.Name)
	}

	archive := filepath.Join(t.TempDir(), "old.json")
	require.NoError(t, old.SaveTo(archive))
	assert.FileExists(t, archive)
}
