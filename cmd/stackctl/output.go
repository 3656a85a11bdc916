package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"stacking-explainer/internal/api"
	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/features"
	"stacking-explainer/internal/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func float6(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func printPrediction(w io.Writer, p *api.PredictResponse) error {
	if jsonOutput {
		return printJSON(w, p)
	}
	fmt.Fprintln(w, titleStyle.Render("Model "+p.ModelVersion))
	fmt.Fprintf(w, "Final score: %s\n", float6(p.FinalScore))
	if len(p.Degraded) > 0 {
		fmt.Fprintln(w, warnStyle.Render("Degraded: "+strings.Join(p.Degraded, ", ")))
	}

	t := newTable("LEARNER", "KIND", "SCORE", "")
	for _, s := range p.PerLearner {
		mark := ""
		if s.Fallback {
			mark = "fallback"
		}
		t.Row(s.Name, s.Kind, float6(s.Score), mark)
	}
	_, err := fmt.Fprintln(w, t)
	return err
}

// sortedContributions orders a contribution's inputs by decreasing magnitude and keeps
// the first topN (all when topN <= 0).
func sortedContributions(c attribution.Contribution) []int {
	idx := make([]int, len(c.Values))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		x, y := math.Abs(c.Values[a]), math.Abs(c.Values[b])
		switch {
		case x > y:
			return -1
		case x < y:
			return 1
		}
		return 0
	})
	if topN > 0 && topN < len(idx) {
		idx = idx[:topN]
	}
	return idx
}

func printContribution(w io.Writer, c attribution.Contribution) error {
	head := fmt.Sprintf("%s  method=%s samples=%d", c.Model, c.Method, c.Samples)
	fmt.Fprintln(w, titleStyle.Render(head))
	if c.Truncated {
		fmt.Fprintln(w, warnStyle.Render("truncated by the time budget"))
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("baseline %s + contributions %s = output %s",
		float6(c.Baseline), float6(c.Sum()), float6(c.Output))))

	headers := []string{"INPUT", "PHI"}
	if len(c.StdErr) > 0 {
		headers = append(headers, "STDERR")
	}
	t := newTable(headers...)
	for _, i := range sortedContributions(c) {
		row := []string{c.Names[i], signed(c.Values[i], strconv.FormatFloat(c.Values[i], 'f', 6, 64))}
		if len(c.StdErr) > 0 {
			row = append(row, float6(c.StdErr[i]))
		}
		t.Row(row...)
	}
	_, err := fmt.Fprintln(w, t)
	return err
}

func printAttribution(w io.Writer, a *attribution.Attribution) error {
	if jsonOutput {
		return printJSON(w, a)
	}
	fmt.Fprintf(w, "Model %s, level %d (%s), %s\n\n", a.ModelVersion, a.Level, a.Level, a.Elapsed.Round(time.Microsecond))
	for _, c := range a.Contributions {
		if err := printContribution(w, c); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printExplanation(w io.Writer, ex *attribution.Explanation) error {
	if jsonOutput {
		return printJSON(w, ex)
	}
	for _, level := range attribution.Levels {
		if err := printAttribution(w, ex.Level(level)); err != nil {
			return err
		}
	}
	return nil
}

func printModel(w io.Writer, m *api.ModelResponse, feats []api.FeatureInfo) error {
	if jsonOutput {
		return printJSON(w, struct {
			Model    *api.ModelResponse `json:"model"`
			Features []api.FeatureInfo  `json:"features"`
		}{m, feats})
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Model %s (%s)", m.Version, m.Task)))
	fmt.Fprintf(w, "Trained: %s\n", m.TrainedAt.Format(time.DateOnly))
	if m.Source != "" {
		fmt.Fprintf(w, "Source: %s\n", m.Source)
	}
	fmt.Fprintf(w, "Failure policy: %s, expected value %s\n", m.FailurePolicy, float6(m.ExpectedValue))
	if len(m.Passthrough) > 0 {
		fmt.Fprintf(w, "Pass-through: %s\n", strings.Join(m.Passthrough, ", "))
	}

	layers := newTable("LAYER", "NAME", "KIND", "INPUTS")
	for _, l := range m.BaseLearners {
		layers.Row("base", l.Name, l.Kind, strconv.Itoa(l.Arity))
	}
	layers.Row("meta", m.MetaLearner.Name, m.MetaLearner.Kind, strconv.Itoa(m.MetaLearner.Arity))
	fmt.Fprintln(w, layers)

	feat := newTable("#", "FEATURE", "DOMAIN", "DEFAULT")
	for _, f := range feats {
		def := strconv.FormatFloat(f.Default, 'g', -1, 64)
		if label, ok := f.Labels[int(f.Default)]; ok && f.Kind == features.KindCategorical {
			def += " (" + label + ")"
		}
		feat.Row(strconv.Itoa(f.Index), f.Name, f.DomainText, def)
	}
	fmt.Fprintln(w, feat)

	if len(m.Versions) > 0 {
		versions := newTable("VERSION", "ADDED", "ACTIVE")
		for _, v := range m.Versions {
			versions.Row(v.Version, v.AddedAt.Format(time.RFC3339), strconv.FormatBool(v.IsActive))
		}
		fmt.Fprintln(w, versions)
	}
	return nil
}

func printPredictionHistory(w io.Writer, recs []storage.PredictionRecord) error {
	if jsonOutput {
		return printJSON(w, recs)
	}
	t := newTable("TIME", "REQUEST", "VERSION", "FINAL", "DEGRADED")
	for _, r := range recs {
		t.Row(r.Timestamp.Format(time.RFC3339), r.RequestID, r.ModelVersion, float6(r.Final), strings.Join(r.Degraded, ","))
	}
	_, err := fmt.Fprintln(w, t)
	return err
}

func printAttributionHistory(w io.Writer, recs []storage.AttributionRecord) error {
	if jsonOutput {
		return printJSON(w, recs)
	}
	t := newTable("TIME", "REQUEST", "VERSION", "LEVEL", "TRUNCATED", "ELAPSED")
	for _, r := range recs {
		t.Row(r.Timestamp.Format(time.RFC3339), r.RequestID, r.ModelVersion, r.Level.String(),
			strconv.FormatBool(r.Truncated), r.Elapsed.Round(time.Microsecond).String())
	}
	_, err := fmt.Fprintln(w, t)
	return err
}
