// Command stackctl scores and explains feature vectors with a stacking model, either
// locally from an artifact file or against a running stackserve instance.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"stacking-explainer/internal/cfg"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	settings     cfg.Settings
	artifactPath string
	serverURL    string
	dataPath     string
	remote       bool
	jsonOutput   bool
	verbose      bool
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "stackctl",
	Short: "Score and explain feature vectors with a stacking model",
	Long: `stackctl runs the two-layer stacking model and its Shapley attribution.

By default the model is loaded from the local artifact. With --remote every
command is sent to a running stackserve instance instead.

Example:
  stackctl predict --feature Age=64 --feature Size=7.62
  stackctl attribute --level 3 --input patient.json
  stackctl explain --remote --server http://localhost:8080`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&artifactPath, "artifact", "", "model artifact for local mode (default from config)")
	flags.StringVar(&serverURL, "server", "", "stackserve base URL for remote mode (default from config)")
	flags.StringVar(&dataPath, "data", "", "audit store directory for local history (default from config)")
	flags.BoolVar(&remote, "remote", false, "send requests to a running server")
	flags.BoolVar(&jsonOutput, "json", false, "print raw JSON")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flags.DurationVar(&timeout, "timeout", 0, "request timeout (default from config)")

	rootCmd.AddCommand(predictCmd, attributeCmd, explainCmd, inspectCmd, historyCmd, pruneCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	settings, err = cfg.Load()
	if err != nil {
		return err
	}

	level := settings.ZerologLevel()
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if artifactPath == "" {
		artifactPath = settings.ArtifactPath
	}
	if serverURL == "" {
		serverURL = settings.ServerURL
	}
	if dataPath == "" {
		dataPath = settings.DataPath
	}
	if timeout <= 0 {
		timeout = settings.RequestTimeout
	}
	return nil
}

// commandContext bounds a command by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
