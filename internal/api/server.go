// Package api exposes the stacking model over HTTP: prediction, the three attribution
// levels, model administration and the attribution panels.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"stacking-explainer/internal/attribution"
	"stacking-explainer/internal/cache"
	"stacking-explainer/internal/common"
	"stacking-explainer/internal/ml"
	"stacking-explainer/internal/panels"
	"stacking-explainer/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// MetricsInterface is everything the server and the components it wires report.
type MetricsInterface interface {
	ml.MetricsInterface
	attribution.MetricsInterface
	cache.MetricsInterface
	PredictionObserve(final float64, elapsed time.Duration)
	PredictionFailureInc(reason string)
	ValidationErrorInc(feature string)
	HTTPRequestObserve(route string, code int, elapsed time.Duration)
	ErrorRate() float64
}

// Config holds the server settings.
type Config struct {
	Port             int
	RequestTimeout   time.Duration
	EnableModelAdmin bool
	ModelsDir        string
	SummaryPath      string
	Budget           attribution.Budget
	StackOptions     []ml.StackOption
}

// Deps are the optional collaborators. Nil Cache, Store and Panels disable the feature;
// a nil Gatherer serves the default Prometheus registry.
type Deps struct {
	Metrics  MetricsInterface
	Gatherer prometheus.Gatherer
	Cache    cache.Cache
	Store    *storage.Store
	Panels   *panels.Catalog
}

// serving is everything derived from one Stack, swapped as a unit on activation.
type serving struct {
	stack   *ml.Stack
	engine  *attribution.Engine
	summary *attribution.Summary
}

// Server serves the currently active stack.
type Server struct {
	cfg      Config
	registry *ml.Registry
	state    atomic.Pointer[serving]
	results  *cache.Results
	store    *storage.Store
	panels   *panels.Catalog
	metrics  MetricsInterface
	gatherer prometheus.Gatherer
	started  time.Time
	server   *http.Server
}

// NewServer creates the server and its model registry. No model is served until the
// registry activates one (see Registry().Bootstrap).
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Metrics == nil {
		return nil, errors.New("metrics are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = common.DefaultRequestTimeout
	}
	s := &Server{
		cfg:      cfg,
		results:  cache.NewResults(deps.Cache, deps.Metrics),
		store:    deps.Store,
		panels:   deps.Panels,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		started:  time.Now(),
	}
	if s.panels == nil {
		s.panels = panels.NewCatalog("")
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	registry, err := ml.NewRegistry(ml.RegistryConfig{
		ModelsDir: cfg.ModelsDir,
		Options:   cfg.StackOptions,
		Prepare:   s.prepare,
		Metrics:   deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s.registry = registry

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Registry returns the model registry the server publishes from.
func (s *Server) Registry() *ml.Registry { return s.registry }

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/predict", s.handlePredict)
	mux.HandleFunc("POST /v1/attribute", s.handleAttribute)
	mux.HandleFunc("POST /v1/explain", s.handleExplain)
	mux.HandleFunc("GET /v1/model", s.handleModel)
	mux.HandleFunc("POST /v1/model/reload", s.handleReload)
	mux.HandleFunc("GET /v1/features", s.handleFeatures)
	mux.HandleFunc("GET /v1/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/panels", s.handlePanels)
	mux.HandleFunc("GET /v1/panels/{level}", s.handlePanel)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s.instrument(mux)
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting stack server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and persists the attribution summary.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if cur := s.state.Load(); cur != nil && cur.summary != nil {
		if serr := cur.summary.Save(); serr != nil {
			log.Warn().Err(serr).Msg("Failed to save attribution summary")
		}
	}
	return err
}

// prepare builds the engine for a freshly loaded stack before the registry publishes it.
// The summary carries over when the feature set is unchanged; otherwise the old one is
// archived next to SummaryPath under its model version and a new one starts empty.
func (s *Server) prepare(stack *ml.Stack) error {
	engine, err := attribution.NewEngine(stack,
		attribution.WithDefaultBudget(s.cfg.Budget),
		attribution.WithMetrics(s.metrics),
	)
	if err != nil {
		return err
	}

	names := stack.Schema().Names()
	prev := s.state.Load()
	var summary *attribution.Summary
	if prev != nil && slices.Equal(prev.stack.Schema().Names(), names) {
		summary = prev.summary
	} else {
		if prev != nil && s.cfg.SummaryPath != "" {
			archive := archivedSummaryPath(s.cfg.SummaryPath, prev.stack.Metadata().Version)
			if err := prev.summary.SaveTo(archive); err != nil {
				log.Warn().Err(err).Msg("Failed to archive attribution summary")
			} else {
				log.Info().Str("path", archive).Msg("Feature set changed, attribution summary archived")
			}
		}
		summary = attribution.NewSummary(names, attribution.SummaryConfig{Enabled: true, SavePath: s.cfg.SummaryPath})
	}

	s.state.Store(&serving{stack: stack, engine: engine, summary: summary})
	return nil
}

// archivedSummaryPath turns data/summary.json into data/summary.<version>.json.
func archivedSummaryPath(path, version string) string {
	ext := filepath.Ext(path)
	version = strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(version)
	return strings.TrimSuffix(path, ext) + "." + version + ext
}

var errNoModel = errors.New("no model loaded")

func (s *Server) current() (*serving, error) {
	cur := s.state.Load()
	if cur == nil {
		return nil, errNoModel
	}
	return cur, nil
}
