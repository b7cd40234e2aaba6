package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sparklean/bookings/internal/bootstrap"
	"github.com/sparklean/bookings/internal/controller"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/sparklean/bookings/internal/infrastructure/config"
	infraRedis "github.com/sparklean/bookings/internal/infrastructure/redis"
	"github.com/sparklean/bookings/internal/providers"
	"github.com/sparklean/bookings/internal/repository/postgres"
	"github.com/sparklean/bookings/internal/service"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "bookings-payments-api", "bookings_payments")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	transactionRepo := postgres.NewTransactionRepository(app.Pool)
	reservationRepo := postgres.NewIdempotencyRepository(app.Pool)
	ledgerRepo := postgres.NewWebhookLedgerRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Providers ---
	registry, err := buildRegistry(app.Config)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build provider registry")
	}
	app.Logger.Info().Strs("providers", registry.Names()).Msg("Payment providers configured")

	// --- Services ---
	producer := infraRedis.NewStreamProducer(app.Redis)
	notifier := service.NewStreamNotifier(producer, app.Logger)

	paymentManager := service.NewPaymentManager(
		transactionRepo,
		reservationRepo,
		txManager,
		registry,
		app.Metrics,
		app.Logger,
		app.Config.Payment.RedirectURL,
	)
	webhookProcessor := service.NewWebhookProcessor(
		registry,
		transactionRepo,
		ledgerRepo,
		notifier,
		app.Metrics,
		app.Logger,
		app.Config.Payment.TransitionRetries,
	)
	refundCoordinator := service.NewRefundCoordinator(
		registry,
		transactionRepo,
		notifier,
		app.Metrics,
		app.Logger,
	)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:             app.Pool,
		RedisClient:      app.Redis,
		PaymentManager:   paymentManager,
		RefundCoord:      refundCoordinator,
		WebhookProcessor: webhookProcessor,
		Metrics:          app.Metrics,
		CORSConfig:       app.Config.Server.CORS,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}

func buildRegistry(cfg *config.Config) (*providers.Registry, error) {
	var clients []providers.Client

	if cfg.Providers.Flutterwave.SecretKey != "" {
		clients = append(clients, providers.NewFlutterwave(
			cfg.Providers.Flutterwave.SecretKey,
			cfg.Providers.Flutterwave.WebhookSecretHash,
			cfg.Payment.ProviderTimeout,
		))
	}
	if cfg.Providers.Stripe.SecretKey != "" {
		clients = append(clients, providers.NewStripe(
			cfg.Providers.Stripe.SecretKey,
			cfg.Providers.Stripe.WebhookSecret,
			cfg.Payment.ProviderTimeout,
		))
	}
	if cfg.Providers.Test.Enabled {
		clients = append(clients, providers.NewTestProvider(
			cfg.Providers.Test.BaseURL,
			cfg.Providers.Test.WebhookSecret,
		))
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no payment providers configured")
	}
	return providers.NewRegistry(transaction.Provider(cfg.Providers.Default), clients...), nil
}
