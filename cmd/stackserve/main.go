package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stacking-explainer/internal/api"
	"stacking-explainer/internal/cache"
	"stacking-explainer/internal/cfg"
	"stacking-explainer/internal/metrics"
	"stacking-explainer/internal/ml"
	"stacking-explainer/internal/panels"
	"stacking-explainer/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}
	results := initializeCache(ctx, c)
	defer results.Close()

	var opts []ml.StackOption
	if c.FailurePolicy != "" {
		policy, err := ml.ParsePolicy(c.FailurePolicy)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid failure policy")
		}
		opts = append(opts, ml.WithPolicy(policy))
	}

	srv, err := api.NewServer(api.Config{
		Port:             c.ListenPort,
		RequestTimeout:   c.RequestTimeout,
		EnableModelAdmin: c.EnableModelAdmin,
		ModelsDir:        c.ModelsDir,
		SummaryPath:      c.Attribution.SummaryPath,
		Budget:           c.Budget(),
		StackOptions:     opts,
	}, api.Deps{
		Metrics:  mw,
		Gatherer: m.Gatherer(),
		Cache:    results,
		Store:    store,
		Panels:   panels.NewCatalog(c.PanelsDir),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("server initialization failed")
	}

	// An incompatible artifact must never serve traffic.
	stack, err := srv.Registry().Bootstrap(c.ArtifactPath)
	if err != nil {
		var incompatible *ml.ArtifactIncompatibleError
		if errors.As(err, &incompatible) {
			log.Fatal().Err(err).Msg("model artifact is incompatible, refusing to start")
		}
		log.Fatal().Err(err).Msg("model load failed")
	}
	log.Info().
		Str("version", stack.Metadata().Version).
		Str("policy", string(stack.Policy())).
		Int("port", c.ListenPort).
		Msg("stack server ready")

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("stack server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, srv, c.ShutdownTimeout)
}

func setupLogging(c cfg.Settings) {
	zerolog.SetGlobalLevel(c.ZerologLevel())
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without audit log")
			return nil
		}
		if preds, attrs, err := store.Counts(); err == nil {
			log.Info().Str("path", c.DataPath).Int("predictions", preds).Int("attributions", attrs).Msg("Audit log opened")
		}
		return store
	}
	return nil
}

// initializeCache falls back to no caching when the configured backend is unreachable.
func initializeCache(ctx context.Context, c cfg.Settings) cache.Cache {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	results, err := cache.New(pingCtx, c.Cache)
	if err != nil {
		log.Warn().Err(err).Str("backend", c.Cache.Backend).Msg("cache initialization failed, continuing without cache")
		return cache.Nop{}
	}
	log.Info().Str("backend", results.Name()).Msg("attribution cache ready")
	return results
}

// waitForShutdown blocks until a signal arrives or the server dies, then drains requests.
func waitForShutdown(ctx context.Context, srv *api.Server, timeout time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
