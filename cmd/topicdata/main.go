package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/roboto-ai/topicdata/internal/catalog"
	"github.com/roboto-ai/topicdata/internal/config"
	"github.com/roboto-ai/topicdata/internal/logger"
	"github.com/roboto-ai/topicdata/internal/metrics"
	"github.com/roboto-ai/topicdata/internal/shutdown"
	"github.com/roboto-ai/topicdata/internal/storage"
	"github.com/roboto-ai/topicdata/pkg/models"
	"github.com/roboto-ai/topicdata/pkg/topicdata"
)

// Version is set at build time
var Version = "dev"

const usage = `usage: topicdata <command> [flags]

commands:
  query     stream topic records as NDJSON
  topics    list catalogued topics
  register  catalog a parquet file as a topic and upload it to storage
  rewrite   rewrite a parquet file with prunable row groups
  sweep     remove stale files from the download cache
  version   print the version
`

// env carries everything a subcommand may need. Fields are opened lazily.
type env struct {
	cfg     *config.Config
	coord   *shutdown.Coordinator
	metrics *metrics.Metrics

	backend storage.Backend
	catalog *catalog.Catalog
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Println(Version)
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Debug().Str("version", Version).Str("command", cmd).Msg("Starting topicdata")

	// Decimal log times print as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{
		cfg:   cfg,
		coord: shutdown.New(30*time.Second, logger.Get("shutdown")),
	}

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		e.metrics = metrics.New(reg)
		serveMetrics(e, reg)
	}

	var runErr error
	switch cmd {
	case "query":
		runErr = runQuery(ctx, e, args)
	case "topics":
		runErr = runTopics(ctx, e, args)
	case "register":
		runErr = runRegister(ctx, e, args)
	case "rewrite":
		runErr = runRewrite(ctx, e, args)
	case "sweep":
		runErr = runSweep(ctx, e, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err := e.coord.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Shutdown completed with errors")
	}

	if runErr != nil {
		log.Error().
			Err(runErr).
			Str("command", cmd).
			Str("error_class", models.Classify(runErr)).
			Msg("Command failed")
		if errors.Is(runErr, models.ErrInvalidArgument) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func serveMetrics(e *env, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              e.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("Metrics server failed")
		}
	}()
	e.coord.RegisterHook("metrics-server", func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}, shutdown.PriorityJanitor)
	log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
}

// openBackend opens the configured storage location once.
func (e *env) openBackend(ctx context.Context) (storage.Backend, error) {
	if e.backend != nil {
		return e.backend, nil
	}
	be, err := storage.DefaultRegistry().Open(ctx, e.cfg.Storage.Location, e.cfg.BackendConfig(), logger.Get("storage"))
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", e.cfg.Storage.Location, err)
	}
	e.coord.Register("storage", be, shutdown.PriorityStorage)
	e.backend = be
	return be, nil
}

// openCatalog opens the topic catalog once.
func (e *env) openCatalog() (*catalog.Catalog, error) {
	if e.catalog != nil {
		return e.catalog, nil
	}
	if err := ensureParent(e.cfg.Catalog.Path); err != nil {
		return nil, err
	}
	c, err := catalog.Open(e.cfg.Catalog.Path, logger.Get("catalog"))
	if err != nil {
		return nil, err
	}
	e.coord.Register("catalog", c, shutdown.PriorityCatalog)
	e.catalog = c
	return c, nil
}

// openService wires the catalog and storage into a topicdata.Service.
func (e *env) openService(ctx context.Context) (*topicdata.Service, *catalog.Catalog, error) {
	c, err := e.openCatalog()
	if err != nil {
		return nil, nil, err
	}
	be, err := e.openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	fetcher := storage.NewRetryingFetcher(storage.BackendFetcher{Backend: be}, e.cfg.RetryConfig(), logger.Get("storage"))

	svc, err := topicdata.New(e.cfg.ServiceConfig(), c, fetcher,
		topicdata.WithLogger(logger.Get("topicdata")),
		topicdata.WithMetrics(e.metrics),
		topicdata.WithShutdown(e.coord),
	)
	if err != nil {
		return nil, nil, err
	}
	e.coord.Register("topicdata", svc, shutdown.PriorityJanitor)
	return svc, c, nil
}
