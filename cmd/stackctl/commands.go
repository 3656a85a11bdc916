package main

import (
	"context"
	"fmt"
	"time"

	"stacking-explainer/internal/api"
	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/storage"

	"github.com/spf13/cobra"
)

var (
	input       inputFlags
	levelFlag   string
	budgetFlags api.BudgetRequest
	budgetTime  time.Duration
	topN        int

	historyKind    string
	historyVersion string
	historySince   time.Duration
	historyLimit   int

	pruneOlderThan time.Duration
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score one feature vector",
	Long: `Runs the base learners and the meta learner on one feature vector.

Unspecified features take their documented defaults unless --defaults=false.

Example:
  stackctl predict --feature Age=64 --feature Location=RUL`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

var attributeCmd = &cobra.Command{
	Use:   "attribute",
	Short: "Explain one level of the stack",
	Long: `Decomposes one level of the stack into per-input Shapley contributions.

Levels:
  1, learners   each base learner over the raw features
  2, meta       the meta learner over the base-learner outputs
  3, pipeline   the whole stack over the raw features`,
	Args: cobra.NoArgs,
	RunE: runAttribute,
}

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain all three levels at once",
	Args:  cobra.NoArgs,
	RunE:  runExplain,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the model, its learners and the declared features",
	Args:  cobra.NoArgs,
	RunE:  runInspect,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List audited predictions or attributions",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audited records older than --older-than from the local store",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	for _, cmd := range []*cobra.Command{predictCmd, attributeCmd, explainCmd} {
		f := cmd.Flags()
		f.StringArrayVarP(&input.pairs, "feature", "f", nil, "feature value as name=value (repeatable)")
		f.StringVarP(&input.file, "input", "i", "", "JSON file with feature values")
		f.BoolVar(&input.defaults, "defaults", true, "fill unspecified features with their defaults")
	}
	for _, cmd := range []*cobra.Command{attributeCmd, explainCmd} {
		f := cmd.Flags()
		f.IntVar(&budgetFlags.Samples, "samples", 0, "permutations for sampled attribution")
		f.DurationVar(&budgetTime, "budget", 0, "time budget for sampled attribution")
		f.IntVar(&budgetFlags.Workers, "workers", 0, "sampling workers")
		f.Uint64Var(&budgetFlags.Seed, "seed", 0, "sampling seed")
		f.IntVar(&budgetFlags.ExactMaxInputs, "exact-max", 0, "largest input count solved exactly")
		f.IntVar(&topN, "top", 0, "show only the n largest contributions")
	}
	attributeCmd.Flags().StringVarP(&levelFlag, "level", "l", "3", "level to explain: 1, 2, 3 or learners, meta, pipeline")

	f := historyCmd.Flags()
	f.StringVar(&historyKind, "kind", "predictions", "predictions or attributions")
	f.StringVar(&historyVersion, "version", "", "model version (default: the current model)")
	f.DurationVar(&historySince, "since", 24*time.Hour, "how far back to look")
	f.IntVar(&historyLimit, "limit", 20, "maximum records")

	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "age of the records to delete")
}

func requestBudget() *api.BudgetRequest {
	b := budgetFlags
	b.TimeoutMs = budgetTime.Milliseconds()
	return &b
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	b, err := newBackend()
	if err != nil {
		return err
	}
	raw, err := featuresFor(ctx, b)
	if err != nil {
		return err
	}
	resp, err := b.Predict(ctx, raw)
	if err != nil {
		return err
	}
	return printPrediction(cmd.OutOrStdout(), resp)
}

func runAttribute(cmd *cobra.Command, args []string) error {
	level, err := attribution.ParseLevel(levelFlag)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	b, err := newBackend()
	if err != nil {
		return err
	}
	raw, err := featuresFor(ctx, b)
	if err != nil {
		return err
	}
	resp, err := b.Attribute(ctx, raw, level, requestBudget())
	if err != nil {
		return err
	}
	return printAttribution(cmd.OutOrStdout(), resp.Attribution)
}

func runExplain(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	b, err := newBackend()
	if err != nil {
		return err
	}
	raw, err := featuresFor(ctx, b)
	if err != nil {
		return err
	}
	resp, err := b.Explain(ctx, raw, requestBudget())
	if err != nil {
		return err
	}
	return printExplanation(cmd.OutOrStdout(), resp.Explanation)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	b, err := newBackend()
	if err != nil {
		return err
	}
	model, err := b.Model(ctx)
	if err != nil {
		return err
	}
	feats, err := b.Features(ctx)
	if err != nil {
		return err
	}
	return printModel(cmd.OutOrStdout(), model, feats)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyKind != "predictions" && historyKind != "attributions" {
		return fmt.Errorf("--kind must be predictions or attributions, got %q", historyKind)
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	q := api.HistoryQuery{
		Version: historyVersion,
		From:    time.Now().Add(-historySince),
		To:      time.Now(),
		Limit:   historyLimit,
	}
	out := cmd.OutOrStdout()

	if remote {
		c := api.NewClient(serverURL, timeout)
		if historyKind == "attributions" {
			recs, err := c.Attributions(ctx, q)
			if err != nil {
				return err
			}
			return printAttributionHistory(out, recs)
		}
		recs, err := c.Predictions(ctx, q)
		if err != nil {
			return err
		}
		return printPredictionHistory(out, recs)
	}

	if dataPath == "" {
		return fmt.Errorf("no audit store configured; set --data or DATA_PATH")
	}
	if q.Version == "" {
		b, err := newLocalBackend(artifactPath, settings.Budget())
		if err != nil {
			return err
		}
		q.Version = b.stack.Metadata().Version
	}
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyKind == "attributions" {
		recs, err := store.GetAttributions(q.Version, q.From, q.To, q.Limit)
		if err != nil {
			return err
		}
		return printAttributionHistory(out, recs)
	}
	recs, err := store.GetPredictions(q.Version, q.From, q.To, q.Limit)
	if err != nil {
		return err
	}
	return printPredictionHistory(out, recs)
}

func runPrune(cmd *cobra.Command, args []string) error {
	if dataPath == "" {
		return fmt.Errorf("no audit store configured; set --data or DATA_PATH")
	}
	if pruneOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Prune(time.Now().Add(-pruneOlderThan))
	if err != nil {
		return err
	}
	preds, attrs, err := store.Counts()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records, %d predictions and %d attributions remain\n", removed, preds, attrs)
	return nil
}

func featuresFor(ctx context.Context, b backend) (map[string]float64, error) {
	declared, err := b.Features(ctx)
	if err != nil {
		return nil, err
	}
	return collectFeatures(input, declared)
}
