package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/ml"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audit")

	store, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(dir, dbFile)); err != nil {
		t.Errorf("Database file was not created: %v", err)
	}
}

func TestNew_InvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := New(filepath.Join(file, "data"))
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func TestStore_Predictions(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := PredictionRecord{
			RequestID:    "req",
			ModelVersion: "v1",
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Features:     map[string]float64{"age": float64(50 + i)},
			Final:        0.1 * float64(i),
			PerLearner:   []ml.LearnerScore{{Name: "rf", Kind: "forest", Score: 0.2}},
		}
		if err := store.StorePrediction(rec); err != nil {
			t.Fatalf("Failed to store prediction %d: %v", i, err)
		}
	}
	// another version must not leak into v1 queries
	if err := store.StorePrediction(PredictionRecord{ModelVersion: "v10", Timestamp: base.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("Failed to store prediction: %v", err)
	}

	got, err := store.GetPredictions("v1", base.Add(time.Minute), base.Add(3*time.Minute), 0)
	if err != nil {
		t.Fatalf("Failed to get predictions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 predictions, got %d", len(got))
	}
	for i, rec := range got {
		if rec.ModelVersion != "v1" {
			t.Errorf("record %d: expected version v1, got %s", i, rec.ModelVersion)
		}
		if want := float64(51 + i); rec.Features["age"] != want {
			t.Errorf("record %d: expected age %v, got %v", i, want, rec.Features["age"])
		}
	}
	if got[0].PerLearner[0].Name != "rf" {
		t.Errorf("Expected learner scores to round-trip, got %+v", got[0].PerLearner)
	}

	limited, err := store.GetPredictions("v1", base, base.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("Failed to get predictions: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 predictions with limit, got %d", len(limited))
	}
}

func TestStore_SameTimestamp(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.StorePrediction(PredictionRecord{ModelVersion: "v1", Timestamp: ts, Final: float64(i)}); err != nil {
			t.Fatalf("Failed to store prediction: %v", err)
		}
	}

	got, err := store.GetPredictions("v1", ts, ts.Add(time.Second), 0)
	if err != nil {
		t.Fatalf("Failed to get predictions: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 predictions, got %d", len(got))
	}
}

func TestStore_Attributions(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := AttributionRecord{
		RequestID:    "abc",
		ModelVersion: "v1",
		Timestamp:    ts,
		Features:     map[string]float64{"age": 61},
		Level:        attribution.LevelPipeline,
		Contributions: []attribution.Contribution{{
			Model:  attribution.PipelineModel,
			Names:  []string{"age"},
			Values: []float64{0.25},
			Method: attribution.MethodChainRule,
		}},
		Elapsed: 3 * time.Millisecond,
	}
	if err := store.StoreAttribution(rec); err != nil {
		t.Fatalf("Failed to store attribution: %v", err)
	}

	got, err := store.GetAttributions("v1", ts.Add(-time.Second), ts.Add(time.Second), 0)
	if err != nil {
		t.Fatalf("Failed to get attributions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 attribution, got %d", len(got))
	}
	if got[0].Level != attribution.LevelPipeline {
		t.Errorf("Expected level 3, got %v", got[0].Level)
	}
	if got[0].Contributions[0].Values[0] != 0.25 {
		t.Errorf("Expected contribution 0.25, got %v", got[0].Contributions[0].Values[0])
	}
	if got[0].Elapsed != 3*time.Millisecond {
		t.Errorf("Expected elapsed 3ms, got %v", got[0].Elapsed)
	}
}

func TestStore_PruneAndCounts(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		if err := store.StorePrediction(PredictionRecord{ModelVersion: "v1", Timestamp: ts}); err != nil {
			t.Fatal(err)
		}
		if err := store.StoreAttribution(AttributionRecord{ModelVersion: "v1", Timestamp: ts, Level: attribution.LevelLearners}); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := store.Prune(base.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if removed != 4 {
		t.Errorf("Expected 4 records pruned, got %d", removed)
	}

	preds, attrs, err := store.Counts()
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if preds != 2 || attrs != 2 {
		t.Errorf("Expected 2/2 records left, got %d/%d", preds, attrs)
	}
}
