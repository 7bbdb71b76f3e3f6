package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sungwon/newsletter/internal/config"
	"github.com/sungwon/newsletter/internal/delivery"
	"github.com/sungwon/newsletter/internal/email"
	"github.com/sungwon/newsletter/internal/idempotency"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/logger"
	"github.com/sungwon/newsletter/internal/storage"
	"github.com/sungwon/newsletter/internal/subscriber"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info().Msg("starting delivery worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	client, err := email.NewFromConfig(cfg.Email)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build email client")
	}
	log.Info().Str("transport", client.Name()).Msg("email transport configured")

	worker := delivery.NewWorker(
		delivery.NewQueue(db.Pool),
		issue.NewStore(db.Pool),
		subscriber.NewRepository(db.Pool),
		client,
		delivery.Config{
			MaxRetries:      cfg.Delivery.MaxRetries,
			RetryBackoff:    cfg.Delivery.RetryBackoff,
			EmptyQueueSleep: cfg.Delivery.EmptyQueueSleep,
			PostponedFloor:  cfg.Delivery.PostponedFloor,
			PostponedCap:    cfg.Delivery.PostponedCap,
			InfraErrorSleep: cfg.Delivery.InfraErrorSleep,
		},
		log,
	)

	sweeper := idempotency.NewSweeper(
		db.Pool,
		cfg.Idempotency.KeyLifetime,
		cfg.Idempotency.SweepInterval,
		log,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("delivery worker exited")
		}
	}()
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("idempotency sweeper exited")
		}
	}()

	wg.Wait()
	log.Info().Msg("delivery worker stopped")
}
