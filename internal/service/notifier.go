package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/sparklean/bookings/internal/domain/transaction"
	infraRedis "github.com/sparklean/bookings/internal/infrastructure/redis"
)

// BookingNotifier publishes applied status transitions for asynchronous
// delivery to the booking service. Publishing is best-effort: a failure must
// never roll back the transition that triggered it.
type BookingNotifier interface {
	NotifyTransition(ctx context.Context, tx *transaction.Transaction, from, to transaction.Status) error
}

// StreamNotifier implements BookingNotifier on a Redis stream consumed by the
// notifier worker.
type StreamNotifier struct {
	producer *infraRedis.StreamProducer
	logger   zerolog.Logger
}

func NewStreamNotifier(producer *infraRedis.StreamProducer, logger zerolog.Logger) *StreamNotifier {
	return &StreamNotifier{producer: producer, logger: logger}
}

func (n *StreamNotifier) NotifyTransition(ctx context.Context, tx *transaction.Transaction, from, to transaction.Status) error {
	msg := infraRedis.TransitionMessage{
		TransactionID: tx.ID.String(),
		Reference:     tx.Reference,
		Provider:      string(tx.Provider),
		FromStatus:    string(from),
		ToStatus:      string(to),
		AmountMinor:   tx.AmountMinor,
		Currency:      tx.Currency,
	}
	if tx.BookingID != nil {
		msg.BookingID = *tx.BookingID
	}

	if err := n.producer.PublishTransition(ctx, msg); err != nil {
		n.logger.Error().Err(err).
			Str("reference", tx.Reference).
			Str("to_status", string(to)).
			Msg("Failed to publish transition")
		return err
	}
	return nil
}

// NopNotifier discards transitions. Used when no booking callback is
// configured.
type NopNotifier struct{}

func (NopNotifier) NotifyTransition(context.Context, *transaction.Transaction, transaction.Status, transaction.Status) error {
	return nil
}
