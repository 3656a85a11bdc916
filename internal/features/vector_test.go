package features

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binary(name string) Spec {
	return Spec{Name: name, Kind: KindCategorical, Codes: []int{0, 1}, Labels: map[int]string{0: "Absent", 1: "Present"}}
}

func noduleSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]Spec{
		{Name: "ITH_score", Kind: KindContinuous, Min: 0, Max: 1, Default: 0.41},
		{Name: "Size", Kind: KindContinuous, Min: 0, Max: 30, Default: 7.62},
		{Name: "Mean_CT_value", Kind: KindContinuous, Min: -800, Max: 0, Default: -480.66},
		binary("Pleural_indentation"),
		{Name: "Age", Kind: KindContinuous, Min: 21, Max: 100, Default: 64},
		{Name: "Location", Kind: KindCategorical, Codes: []int{1, 2, 3, 4, 5}, Default: 1,
			Labels: map[int]string{1: "RUL", 2: "RLL", 3: "RML", 4: "LUL", 5: "LLL"}},
		binary("Shape"),
		binary("Spiculation"),
		binary("Margin"),
		binary("Sex"),
		binary("Vacuole_sign"),
		binary("Vascular_convergence_sign"),
		binary("Lobulation"),
	})
	require.NoError(t, err)
	return s
}

func TestSchema_BuildDefaults(t *testing.T) {
	s := noduleSchema(t)

	v, err := s.Build(s.Defaults())
	require.NoError(t, err)

	want := []float64{0.41, 7.62, -480.66, 0, 64, 1, 0, 0, 0, 0, 0, 0, 0}
	if diff := cmp.Diff(want, v.Values()); diff != "" {
		t.Errorf("canonical values mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "RUL", v.Labels()["Location"])
}

func TestSchema_BuildDomain(t *testing.T) {
	s := noduleSchema(t)

	tests := []struct {
		name    string
		feature string
		value   float64
		wantErr bool
	}{
		{"age accepted", "Age", 64.0, false},
		{"age lower bound inclusive", "Age", 21, false},
		{"age upper bound inclusive", "Age", 100, false},
		{"negative age rejected", "Age", -5, true},
		{"age above max rejected", "Age", 100.5, true},
		{"nan rejected", "Size", math.NaN(), true},
		{"inf rejected", "Mean_CT_value", math.Inf(-1), true},
		{"location code accepted", "Location", 5, false},
		{"unmatched location code rejected", "Location", 6, true},
		{"fractional code rejected", "Location", 1.5, true},
		{"binary code rejected", "Sex", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := s.Defaults()
			raw[tt.feature] = tt.value

			_, err := s.Build(raw)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var domainErr *DomainError
			require.True(t, errors.As(err, &domainErr))
			assert.Equal(t, tt.feature, domainErr.Feature)
			assert.Contains(t, err.Error(), tt.feature)
		})
	}
}

func TestSchema_BuildMissingAndUnknown(t *testing.T) {
	s := noduleSchema(t)

	raw := s.Defaults()
	delete(raw, "Age")
	delete(raw, "ITH_score")
	raw["Tumor_volume"] = 3

	_, err := s.Build(raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	want := []Problem{
		{Feature: "ITH_score", Reason: "missing"},
		{Feature: "Age", Reason: "missing"},
		{Feature: "Tumor_volume", Reason: "unknown"},
	}
	if diff := cmp.Diff(want, Problems(err)); diff != "" {
		t.Errorf("problems mismatch (-want +got):\n%s", diff)
	}

	var missing *MissingFeatureError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ITH_score", missing.Feature)
}

func TestSchema_DomainErrorDetails(t *testing.T) {
	s := noduleSchema(t)

	raw := s.Defaults()
	raw["Age"] = -5
	_, err := s.Build(raw)

	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, -5.0, domainErr.Value)
	assert.Equal(t, "[21, 100]", domainErr.Domain)

	problems := Problems(err)
	require.Len(t, problems, 1)
	require.NotNil(t, problems[0].Value)
	assert.Equal(t, -5.0, *problems[0].Value)
}

func TestSchema_OrderInvariance(t *testing.T) {
	s := noduleSchema(t)
	defaults := s.Defaults()

	// Rebuild the map several times; Go randomizes iteration order on every range.
	var first []float64
	for i := 0; i < 20; i++ {
		raw := make(map[string]float64, len(defaults))
		for k, v := range defaults {
			raw[k] = v
		}
		v, err := s.Build(raw)
		require.NoError(t, err)
		if first == nil {
			first = v.Values()
			continue
		}
		assert.Equal(t, first, v.Values())
	}
}

func TestSchema_FromValues(t *testing.T) {
	s := noduleSchema(t)

	_, err := s.FromValues([]float64{0.4, 5})
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 13, shapeErr.Expected)
	assert.Equal(t, 2, shapeErr.Actual)

	row := []float64{0.2, 3, -600, 1, 50, 3, 1, 0, 1, 0, 1, 0, 1}
	v, err := s.FromValues(row)
	require.NoError(t, err)
	row[0] = 0.9
	got, ok := v.Get("ITH_score")
	require.True(t, ok)
	assert.Equal(t, 0.2, got, "vector must not alias the caller's slice")
}

func TestNewSchema_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		specs []Spec
	}{
		{"empty", nil},
		{"duplicate", []Spec{binary("Sex"), binary("Sex")}},
		{"inverted bounds", []Spec{{Name: "Age", Kind: KindContinuous, Min: 100, Max: 21, Default: 50}}},
		{"no codes", []Spec{{Name: "Shape", Kind: KindCategorical}}},
		{"default outside", []Spec{{Name: "Age", Kind: KindContinuous, Min: 21, Max: 100, Default: 5}}},
		{"unknown kind", []Spec{{Name: "Age", Kind: "ordinal"}}},
		{"label for undeclared code", []Spec{{Name: "Sex", Kind: KindCategorical, Codes: []int{0, 1}, Labels: map[int]string{2: "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.specs)
			assert.Error(t, err)
		})
	}
}
