package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"imagemanip/internal/events"
	"imagemanip/internal/models"
	"imagemanip/internal/placer"
	"imagemanip/internal/server"
	"imagemanip/internal/storage"
	"imagemanip/internal/workflow"
)

func main() {
	log.Info().Msg("starting imagemanip...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage")
	}
	defer db.Close()

	files, err := newPlacer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to init file storage")
	}

	var (
		cleaner workflow.Cleaner = events.NewInlineCleaner(files)
		wg      sync.WaitGroup
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Kafka.Brokers...),
			Topic:                  cfg.Kafka.Topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
		defer producer.Close()
		cleaner = events.NewKafkaCleaner(producer)

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		})
		defer reader.Close()

		// Start cleanup consumer in background
		wg.Add(1)
		go func() {
			defer wg.Done()
			events.NewConsumer(reader, files).Run(ctx)
		}()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka cleanup enabled")
	}

	svc := workflow.New(db, files, cleaner, cfg.Workflow)
	srv := server.NewServer(cfg, svc, db.Ping)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	wg.Wait()
}

func newPlacer(ctx context.Context, cfg *models.Config) (placer.Placer, error) {
	sources := placer.SourceOptionsFrom(cfg.Source)
	if cfg.Storage.Driver == models.StorageDriverMinio {
		m, err := placer.NewMinio(ctx, cfg.Storage.Minio, sources)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	l, err := placer.NewLocal(cfg.Storage.Root, sources)
	if err != nil {
		return nil, err
	}
	return l, nil
}
