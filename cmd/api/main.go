package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"dealchain/auth"
	"dealchain/config"
	"dealchain/conversation"
	"dealchain/db"
	"dealchain/fraudscan"
	"dealchain/notify"
	"dealchain/signing"
	"dealchain/tracking"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	notifications := notify.NewRepository(pool)
	dispatcher := notify.NewDispatcher(
		notify.NewRedisChannel(redisClient),
		notifications,
		logger,
		cfg.NotifyWorkers,
		0,
	)
	defer dispatcher.Close()

	conversations := conversation.NewRepository(pool)
	recorder := tracking.NewRecorder(conversations)

	server := &Server{
		authService:    auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
		signingService: signing.NewService(pool, nil, conversations, recorder, dispatcher, logger),
		notifications:  notifications,
		logger:         logger,
	}

	processor := fraudscan.NewProcessor(
		fraudscan.NewHTTPScorer(cfg.ScorerURL),
		conversations,
		recorder,
		pool,
		dispatcher,
		cfg.FraudThreshold,
		logger,
	)

	reader, err := fraudscan.NewReader(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic)
	if err != nil {
		return err
	}
	defer reader.Close()

	consumer := fraudscan.NewConsumer(reader, processor, cfg.ScanBatchSize, cfg.ScanWorkers, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("dealchain up",
		"http_addr", cfg.HTTPAddr,
		"kafka_topic", cfg.KafkaTopic,
		"scan_workers", cfg.ScanWorkers,
		"notify_workers", cfg.NotifyWorkers,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
