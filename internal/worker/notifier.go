package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sparklean/bookings/internal/infrastructure/observability"
	infraRedis "github.com/sparklean/bookings/internal/infrastructure/redis"
	"github.com/sparklean/bookings/pkg/retry"
)

// errCallbackRejected marks a 4xx response. The booking service has seen the
// payload and rejected it, so retrying the same bytes cannot help.
var errCallbackRejected = errors.New("callback rejected by booking service")

// CallbackDeliverer POSTs transition payloads to the booking service.
type CallbackDeliverer struct {
	client      *http.Client
	callbackURL string
	retryCfg    retry.Config
	logger      zerolog.Logger
}

func NewCallbackDeliverer(callbackURL string, timeout time.Duration, maxAttempts int, logger zerolog.Logger) *CallbackDeliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &CallbackDeliverer{
		client:      &http.Client{Timeout: timeout},
		callbackURL: callbackURL,
		retryCfg: retry.Config{
			MaxAttempts:  uint(maxAttempts),
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			If: func(err error) bool {
				return !errors.Is(err, errCallbackRejected)
			},
		},
		logger: logger,
	}
}

// Deliver sends one transition to the booking service, retrying transient
// failures with backoff.
func (d *CallbackDeliverer) Deliver(ctx context.Context, msg infraRedis.TransitionMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	return retry.Do(ctx, d.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.callbackURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build callback request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("callback request: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			return fmt.Errorf("status %d: %w", resp.StatusCode, errCallbackRejected)
		default:
			return fmt.Errorf("callback returned status %d", resp.StatusCode)
		}
	})
}

// NotifierWorker consumes applied status transitions from the Redis stream and
// delivers them to the booking service. Deliveries for the same booking are
// serialized with a distributed lock so callbacks arrive in order.
type NotifierWorker struct {
	consumer *infraRedis.StreamConsumer
	producer *infraRedis.StreamProducer
	delivery *CallbackDeliverer
	redis    *goredis.Client
	lockTTL  time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewNotifierWorker(
	consumer *infraRedis.StreamConsumer,
	producer *infraRedis.StreamProducer,
	delivery *CallbackDeliverer,
	redisClient *goredis.Client,
	lockTTL time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *NotifierWorker {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &NotifierWorker{
		consumer: consumer,
		producer: producer,
		delivery: delivery,
		redis:    redisClient,
		lockTTL:  lockTTL,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run reads from the stream until ctx is cancelled.
func (w *NotifierWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		streams, err := w.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("Failed to read from stream")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.ProcessMessage(ctx, msg)
			}
		}
	}
}

// ProcessMessage handles one stream entry. Undeliverable transitions go to the
// DLQ; the entry is acked either way so the group does not redeliver forever.
func (w *NotifierWorker) ProcessMessage(ctx context.Context, msg goredis.XMessage) {
	start := time.Now()

	payload, _ := msg.Values["payload"].(string)
	var transition infraRedis.TransitionMessage
	if err := json.Unmarshal([]byte(payload), &transition); err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Malformed transition payload")
		w.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.TransitionStream, "malformed").Inc()
		w.ack(ctx, msg.ID)
		return
	}

	if transition.BookingID != "" {
		lock := infraRedis.NewDistributedLock(w.redis, "booking:"+transition.BookingID, w.lockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil || !acquired {
			// Leave the entry pending; the group redelivers it after the
			// current holder finishes.
			w.logger.Warn().Str("booking_id", transition.BookingID).Msg("Could not acquire booking lock, skipping")
			return
		}
		defer lock.Release(ctx)
	}

	if err := w.delivery.Deliver(ctx, transition); err != nil {
		w.logger.Error().Err(err).
			Str("transaction_id", transition.TransactionID).
			Str("to_status", transition.ToStatus).
			Msg("Callback delivery exhausted retries")
		w.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.TransitionStream, "dlq").Inc()

		original := map[string]any{"payload": payload}
		if err := w.producer.PublishToDLQ(ctx, transition.TransactionID, err.Error(), original); err != nil {
			w.logger.Error().Err(err).Str("transaction_id", transition.TransactionID).Msg("Failed to publish to DLQ")
		}
		w.ack(ctx, msg.ID)
		return
	}

	w.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.TransitionStream, "success").Inc()
	w.metrics.WorkerProcessingDuration.WithLabelValues(infraRedis.TransitionStream).Observe(time.Since(start).Seconds())
	w.logger.Info().
		Str("transaction_id", transition.TransactionID).
		Str("booking_id", transition.BookingID).
		Str("to_status", transition.ToStatus).
		Msg("Transition delivered")
	w.ack(ctx, msg.ID)
}

func (w *NotifierWorker) ack(ctx context.Context, messageID string) {
	if err := w.consumer.Ack(ctx, messageID); err != nil {
		w.logger.Error().Err(err).Str("message_id", messageID).Msg("Failed to ack message")
	}
}

// ReservationCleaner periodically deletes expired idempotency reservations.
type ReservationCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// RunReservationCleanup deletes expired reservations on every tick until ctx
// is cancelled.
func RunReservationCleanup(ctx context.Context, cleaner ReservationCleaner, interval time.Duration, logger zerolog.Logger) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		removed, err := cleaner.Cleanup(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Reservation cleanup failed")
			continue
		}
		if removed > 0 {
			logger.Info().Int64("removed", removed).Msg("Expired reservations cleaned up")
		}
	}
}
