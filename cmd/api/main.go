package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saturnino-fabrica-de-software/presenca/internal/api"
	"github.com/saturnino-fabrica-de-software/presenca/internal/config"
	"github.com/saturnino-fabrica-de-software/presenca/internal/database"
	"github.com/saturnino-fabrica-de-software/presenca/internal/face"
	"github.com/saturnino-fabrica-de-software/presenca/internal/index"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	logger.Info("starting Presença API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
	)

	location, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	faceProvider, err := face.NewFaceProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create face provider: %w", err)
	}

	imageStore, err := storage.NewImageStore(cfg.ImagesPath)
	if err != nil {
		return err
	}

	// snapshot corrompido não impede o boot: o índice é reconstruído a
	// partir dos embeddings do banco
	ix, err := index.Load(cfg.IndexPath, cfg.EmbeddingDimension)
	if err != nil {
		if !errors.Is(err, index.ErrCorruptIndex) {
			return fmt.Errorf("failed to load index: %w", err)
		}
		logger.Warn("index snapshot unusable, rebuilding from database", "error", err)
		if ix, err = index.New(cfg.EmbeddingDimension); err != nil {
			return err
		}
	}

	m := metrics.New()

	router := api.NewRouter(logger, &api.Dependencies{
		Config:       cfg,
		DB:           pool,
		FaceProvider: faceProvider,
		Index:        ix,
		ImageStore:   imageStore,
		Metrics:      m,
		Location:     location,
	})
	router.Setup()

	if ix.Count() == 0 {
		added, err := router.Enrollment().WarmIndex(ctx)
		if err != nil {
			return fmt.Errorf("failed to warm index: %w", err)
		}
		logger.Info("index rebuilt from database", slog.Int("vectors", added))
	} else {
		logger.Info("index loaded from snapshot", slog.Int("vectors", ix.Count()))
	}
	m.IndexVectors.Set(float64(ix.Count()))

	// nomes de sala para os snapshots de presença antes de qualquer evento
	rooms, err := repository.NewRoomRepository(pool).List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	for _, room := range rooms {
		router.Tracker().RegisterRoom(room.ID, room.Name)
	}

	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := router.Shutdown(); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out")
	}

	logger.Info("server stopped")
	return nil
}
