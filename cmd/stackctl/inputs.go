package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"stacking-explainer/internal/api"
)

// inputFlags are shared by every command that takes a feature vector.
type inputFlags struct {
	pairs    []string
	file     string
	defaults bool
}

// collectFeatures merges, in increasing precedence, the declared defaults (when
// enabled), the JSON input file and the --feature pairs. Categorical values may be
// given by display label, e.g. Location=RUL.
func collectFeatures(in inputFlags, declared []api.FeatureInfo) (map[string]float64, error) {
	raw := make(map[string]float64, len(declared))
	if in.defaults {
		for _, f := range declared {
			raw[f.Name] = f.Default
		}
	}

	if in.file != "" {
		data, err := os.ReadFile(in.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		var fromFile map[string]float64
		var wrapped api.PredictRequest
		if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Features != nil {
			fromFile = wrapped.Features
		} else if err := json.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("input file %s: expected a JSON object of feature values: %w", in.file, err)
		}
		for k, v := range fromFile {
			raw[k] = v
		}
	}

	byName := make(map[string]api.FeatureInfo, len(declared))
	for _, f := range declared {
		byName[f.Name] = f
	}
	for _, pair := range in.pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("feature %q: expected name=value", pair)
		}
		v, err := parseValue(byName[name], value)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}
		raw[name] = v
	}
	return raw, nil
}

func parseValue(f api.FeatureInfo, s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	for code, label := range f.Labels {
		if strings.EqualFold(label, s) {
			return float64(code), nil
		}
	}
	return 0, fmt.Errorf("%q is neither a number nor a known label", s)
}
