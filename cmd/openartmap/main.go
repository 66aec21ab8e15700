package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openartmap/openartmap/internal/api"
	"github.com/openartmap/openartmap/internal/catalog"
	"github.com/openartmap/openartmap/internal/config"
	"github.com/openartmap/openartmap/internal/database"
	"github.com/openartmap/openartmap/internal/dedupe"
	"github.com/openartmap/openartmap/internal/event"
	"github.com/openartmap/openartmap/internal/importer"
	"github.com/openartmap/openartmap/internal/logging"
	"github.com/openartmap/openartmap/internal/photos"
	"github.com/openartmap/openartmap/internal/resolve"
	"github.com/openartmap/openartmap/internal/similarity"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("OAM_CONFIG_PATH")
	if configPath == "" {
		configPath = "/data/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.FilePath = cfg.Logging.FilePath
	logManager, logger := logging.NewManager(logCfg)
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	catalogService := catalog.NewService(db)

	scorer := similarity.NewWeightedScorer()
	detector := dedupe.NewDetector(catalogService, scorer, dedupe.Options{
		SearchRadiusMeters: cfg.Import.SearchRadiusMeters,
		CandidateLimit:     cfg.Import.CandidateLimit,
	}, logger)
	resolver := resolve.NewResolver(catalogService, cfg.Import.SearchURLBase, logger)

	photoFetcher, err := photos.NewFetcher(photos.Config{
		Dir:          cfg.Photos.Dir,
		MaxBytes:     int64(cfg.Photos.MaxSizeMB) << 20,
		RatePerSec:   cfg.Photos.RatePerSecond,
		FetchTimeout: time.Duration(cfg.Photos.FetchTimeoutS) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("setting up photo pipeline: %w", err)
	}

	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	defer eventBus.Stop()
	subscribeEventLog(eventBus, logger)

	orchestrator := importer.NewOrchestrator(
		catalogService, detector, resolver, photoFetcher, eventBus, logger)

	router := api.NewRouter(api.RouterDeps{
		Orchestrator:   orchestrator,
		CatalogService: catalogService,
		Logger:         logger,
		BasePath:       cfg.Server.BasePath,
		ImportDefaults: importer.Config{
			DuplicateThreshold: cfg.Import.DuplicateThreshold,
			WarningThreshold:   cfg.Import.WarningThreshold,
			BatchSize:          cfg.Import.BatchSize,
			MaxWorkers:         cfg.Import.MaxWorkers,
		},
	})

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // import jobs run synchronously
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// subscribeEventLog mirrors import lifecycle events into the log so operators
// can follow bulk jobs without polling the API.
func subscribeEventLog(bus *event.Bus, logger *slog.Logger) {
	for _, t := range []event.Type{
		event.ImportStarted,
		event.ImportCompleted,
		event.ImportRejected,
		event.CreatorCreated,
		event.ReviewNeeded,
	} {
		bus.Subscribe(t, func(e event.Event) {
			logger.Info("event", slog.String("type", string(e.Type)), slog.Any("data", e.Data))
		})
	}
}
