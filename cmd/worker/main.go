package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sparklean/bookings/internal/bootstrap"
	infraRedis "github.com/sparklean/bookings/internal/infrastructure/redis"
	"github.com/sparklean/bookings/internal/repository/postgres"
	"github.com/sparklean/bookings/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "bookings-payments-worker", "bookings_payments_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.TransitionStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group (may already exist)")
	}

	deliverer := worker.NewCallbackDeliverer(
		app.Config.Notifier.BookingCallbackURL,
		app.Config.Notifier.RequestTimeout,
		workerCfg.DeliveryRetries,
		app.Logger,
	)
	notifier := worker.NewNotifierWorker(
		consumer,
		infraRedis.NewStreamProducer(app.Redis),
		deliverer,
		app.Redis,
		app.Config.Payment.LockTTL,
		app.Metrics,
		app.Logger,
	)
	reservations := postgres.NewIdempotencyRepository(app.Pool)

	app.Logger.Info().
		Str("stream", infraRedis.TransitionStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Str("callback_url", app.Config.Notifier.BookingCallbackURL).
		Msg("Worker started, listening for transitions...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Transition notifier (reads from Redis Streams, POSTs to the booking
	// service).
	g.Go(func() error {
		return notifier.Run(gCtx)
	})

	// 2. Expired idempotency reservation cleanup.
	g.Go(func() error {
		return worker.RunReservationCleanup(gCtx, reservations, workerCfg.CleanupInterval, app.Logger)
	})

	// 3. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
