package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/sparklean/bookings/internal/infrastructure/observability"
	"github.com/sparklean/bookings/internal/providers"
)

// RefundCoordinator drives the only transition out of succeeded. The provider
// refund happens first; the local refunded state is recorded only after the
// provider accepted it.
type RefundCoordinator struct {
	registry *providers.Registry
	store    transaction.Store
	notifier BookingNotifier
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewRefundCoordinator creates a new RefundCoordinator.
func NewRefundCoordinator(
	registry *providers.Registry,
	store transaction.Store,
	notifier BookingNotifier,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *RefundCoordinator {
	return &RefundCoordinator{
		registry: registry,
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// Refund refunds the transaction, fully when amountMinor is nil.
func (c *RefundCoordinator) Refund(ctx context.Context, id uuid.UUID, amountMinor *int64) (*transaction.Transaction, error) {
	tx, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if tx.Status != transaction.StatusSucceeded {
		// Local state machine check. ErrRefundNotAllowed is reserved for the
		// provider declining a refund on its side.
		c.metrics.RefundsTotal.WithLabelValues(string(tx.Provider), "rejected").Inc()
		return nil, fmt.Errorf("cannot refund transaction %s in status %s: %w", tx.Reference, tx.Status, domainErrors.ErrInvalidTransition)
	}
	if amountMinor != nil {
		if *amountMinor <= 0 {
			return nil, domainErrors.NewValidationError("amount_minor", "must be greater than 0")
		}
		if *amountMinor > tx.AmountMinor {
			return nil, domainErrors.NewValidationError("amount_minor", "exceeds the transaction amount")
		}
	}

	client, breaker, err := c.registry.Get(tx.Provider)
	if err != nil {
		return nil, err
	}

	refund, err := providers.Execute(breaker, func() (*providers.RefundResult, error) {
		return client.Refund(ctx, providers.RefundRequest{
			Reference:   tx.Reference,
			AmountMinor: amountMinor,
		})
	})
	if err != nil {
		c.metrics.RefundsTotal.WithLabelValues(string(tx.Provider), "error").Inc()
		return nil, err
	}

	meta := map[string]any{
		transaction.MetaRefundedAmountMinor: refund.RefundedAmountMinor,
	}
	if refund.RefundID != "" {
		meta[transaction.MetaRefundID] = refund.RefundID
	}

	updated, err := c.store.CompareAndSetStatus(ctx, tx.Reference, transaction.StatusSucceeded, transaction.StatusRefunded, meta)
	if err != nil {
		if errors.Is(err, domainErrors.ErrConcurrentUpdate) {
			// Another writer settled the row while the provider call ran. The
			// provider refund stands, so surface the stored state.
			current, readErr := c.store.GetByID(ctx, id)
			if readErr == nil && current.Status == transaction.StatusRefunded {
				return current, nil
			}
			c.metrics.TransitionConflicts.WithLabelValues(string(tx.Provider)).Inc()
		}
		return nil, err
	}

	c.metrics.RefundsTotal.WithLabelValues(string(tx.Provider), "refunded").Inc()
	c.metrics.TransitionsTotal.WithLabelValues(string(tx.Provider), string(transaction.StatusSucceeded), string(transaction.StatusRefunded)).Inc()
	c.logger.Info().
		Str("reference", tx.Reference).
		Str("refund_id", refund.RefundID).
		Int64("refunded_amount_minor", refund.RefundedAmountMinor).
		Msg("Transaction refunded")

	if err := c.notifier.NotifyTransition(ctx, updated, transaction.StatusSucceeded, transaction.StatusRefunded); err != nil {
		c.logger.Error().Err(err).Str("reference", tx.Reference).Msg("Refund notification failed")
	}
	return updated, nil
}
