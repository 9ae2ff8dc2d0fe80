package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vbonduro/travelbingo/internal/batch"
	"github.com/vbonduro/travelbingo/internal/config"
	"github.com/vbonduro/travelbingo/internal/db"
	"github.com/vbonduro/travelbingo/internal/generator"
	"github.com/vbonduro/travelbingo/internal/generator/claude"
	"github.com/vbonduro/travelbingo/internal/generator/openai"
	"github.com/vbonduro/travelbingo/internal/logging"
	"github.com/vbonduro/travelbingo/internal/metrics"
	"github.com/vbonduro/travelbingo/internal/photostore"
	"github.com/vbonduro/travelbingo/internal/photostore/local"
	photosqlite "github.com/vbonduro/travelbingo/internal/photostore/sqlite"
	"github.com/vbonduro/travelbingo/internal/seed"
	"github.com/vbonduro/travelbingo/internal/service"
	"github.com/vbonduro/travelbingo/internal/store"
	"github.com/vbonduro/travelbingo/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New("travelbingo", cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error("travelbingo exited with error", "error", err)
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	cityStore := store.NewCityStore(database)
	usageStore := store.NewUsageStore(database)

	cities, err := seed.Bundled()
	if err != nil {
		return err
	}
	if _, err := seed.Apply(ctx, cityStore, cities, logger); err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}

	photos := newPhotoOpener(cfg, database, logger)
	// Open eagerly so a broken backend shows up in the startup log; the
	// service keeps working without photos either way.
	if _, err := photos.Open(); err != nil {
		logger.Warn("photo storage unavailable, photos will not persist", "backend", cfg.PhotoBackend, "error", err)
	}

	svc := service.NewBingoService(
		cityStore,
		usageStore,
		photos,
		newImageGenerator(cfg, logger),
		newDescriptionWriter(cfg, logger),
		service.Options{
			Batch: batch.Options{
				Concurrency: cfg.BatchConcurrency,
				MaxRetries:  cfg.BatchMaxRetries,
				Backoff:     cfg.BatchBackoff,
				ItemDelay:   cfg.BatchItemDelay,
				GroupDelay:  cfg.BatchGroupDelay,
			},
			CacheTTL:       cfg.CityCacheTTL,
			ServerClientID: cfg.ServerClientID,
		},
		m,
		logger,
	)

	server := web.NewServer(svc, m, logger)
	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newPhotoOpener(cfg *config.Config, database *sql.DB, logger *slog.Logger) *photostore.Opener {
	switch cfg.PhotoBackend {
	case "local":
		logger.Info("using local photo storage", "path", cfg.PhotoPath)
		return local.NewOpener(cfg.PhotoPath, logger)
	default:
		logger.Info("using sqlite photo storage")
		return photosqlite.NewOpener(database, logger)
	}
}

// newImageGenerator returns nil when no API key is configured; generation
// requests then fail with a clear error instead of reaching the upstream.
func newImageGenerator(cfg *config.Config, logger *slog.Logger) generator.ImageGenerator {
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, image generation disabled")
		return nil
	}
	logger.Info("using OpenAI image generation", "model", cfg.OpenAIImageModel)
	return openai.New(openai.Config{
		APIKey:            cfg.OpenAIAPIKey,
		Model:             cfg.OpenAIImageModel,
		ImagesURL:         cfg.OpenAIImagesURL,
		RequestsPerSecond: cfg.GenerationRPS,
	}, logger)
}

func newDescriptionWriter(cfg *config.Config, logger *slog.Logger) generator.DescriptionWriter {
	if cfg.ClaudeAPIKey == "" {
		logger.Warn("CLAUDE_API_KEY not set, description generation disabled")
		return nil
	}
	logger.Info("using Claude description generation", "model", cfg.ClaudeModel)
	return claude.New(claude.Config{
		APIKey: cfg.ClaudeAPIKey,
		Model:  cfg.ClaudeModel,
	}, logger)
}
