package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/sparklean/bookings/internal/infrastructure/observability"
	"github.com/sparklean/bookings/internal/providers"
	"github.com/sparklean/bookings/pkg/retry"
)

// Webhook outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeNoop      = "noop"
	OutcomeIgnored   = "ignored"
)

// WebhookProcessor turns verified provider webhooks into status transitions.
// Signature verification happens before any database access; everything after
// it is idempotent, so providers can redeliver freely.
type WebhookProcessor struct {
	registry *providers.Registry
	store    transaction.Store
	ledger   transaction.WebhookLedger
	notifier BookingNotifier
	metrics  *observability.Metrics
	logger   zerolog.Logger
	retryCfg retry.Config
}

// NewWebhookProcessor creates a new WebhookProcessor. transitionRetries
// bounds how often a lost optimistic write is retried.
func NewWebhookProcessor(
	registry *providers.Registry,
	store transaction.Store,
	ledger transaction.WebhookLedger,
	notifier BookingNotifier,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	transitionRetries int,
) *WebhookProcessor {
	if transitionRetries <= 0 {
		transitionRetries = 3
	}
	return &WebhookProcessor{
		registry: registry,
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		retryCfg: retry.Config{
			MaxAttempts:  uint(transitionRetries),
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			If: func(err error) bool {
				return errors.Is(err, domainErrors.ErrConcurrentUpdate)
			},
		},
	}
}

// WebhookResult describes how a delivery was handled.
type WebhookResult struct {
	Outcome     string
	Transaction *transaction.Transaction
	From        transaction.Status
	To          transaction.Status
}

// Handle processes one webhook delivery.
func (p *WebhookProcessor) Handle(ctx context.Context, providerName string, body []byte, headers http.Header) (*WebhookResult, error) {
	provider, err := p.registry.Resolve(providerName)
	if err != nil {
		return nil, err
	}
	client, _, err := p.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		p.metrics.WebhookDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	}()

	event, err := client.VerifyWebhook(body, headers)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSignatureInvalid) {
			p.metrics.SignatureFailures.WithLabelValues(string(provider)).Inc()
			p.logger.Warn().Str("provider", string(provider)).Msg("Webhook signature rejected")
		}
		p.metrics.WebhooksTotal.WithLabelValues(string(provider), "rejected").Inc()
		return nil, err
	}

	if event.Reference == "" {
		return nil, domainErrors.NewValidationError("reference", "webhook carries no transaction reference")
	}

	target := providers.Normalize(provider, event.RawStatus)
	result, err := p.applyTransition(ctx, provider, event, target)
	if err != nil {
		p.metrics.WebhooksTotal.WithLabelValues(string(provider), "error").Inc()
		return nil, err
	}

	// The event id is recorded only after the transition settled. A delivery
	// that fails mid-transition leaves no ledger row, so the provider's retry
	// is processed instead of short-circuiting as a duplicate.
	if event.EventID != "" {
		fresh, lerr := p.ledger.MarkProcessed(ctx, provider, event.EventID)
		if lerr != nil {
			// The transition stands; a redelivery is absorbed by the state
			// machine anyway.
			p.logger.Error().Err(lerr).
				Str("provider", string(provider)).
				Str("event_id", event.EventID).
				Msg("Recording webhook event failed")
		} else if !fresh && result.Outcome != OutcomeApplied {
			result.Outcome = OutcomeDuplicate
		}
	}

	p.metrics.WebhooksTotal.WithLabelValues(string(provider), result.Outcome).Inc()
	if result.Outcome == OutcomeApplied {
		p.metrics.TransitionsTotal.WithLabelValues(string(provider), string(result.From), string(result.To)).Inc()
		p.logger.Info().
			Str("provider", string(provider)).
			Str("reference", event.Reference).
			Str("from", string(result.From)).
			Str("to", string(result.To)).
			Msg("Webhook transition applied")

		if err := p.notifier.NotifyTransition(ctx, result.Transaction, result.From, result.To); err != nil {
			// Delivery is eventually consistent; the transition stands.
			p.logger.Error().Err(err).Str("reference", event.Reference).Msg("Transition notification failed")
		}
	}
	return result, nil
}

// applyTransition performs the compare-and-set with a bounded retry. Each
// attempt re-reads the row so the decision is always made against fresh state.
func (p *WebhookProcessor) applyTransition(
	ctx context.Context,
	provider transaction.Provider,
	event *providers.Event,
	target transaction.Status,
) (*WebhookResult, error) {
	return retry.DoWithResult(ctx, p.retryCfg, func() (*WebhookResult, error) {
		tx, err := p.store.GetByReference(ctx, event.Reference)
		if err != nil {
			return nil, err
		}
		if tx.Provider != provider {
			// A reference is only meaningful within its provider namespace.
			return nil, domainErrors.ErrTransactionNotFound
		}

		if tx.Status == target {
			return &WebhookResult{Outcome: OutcomeNoop, Transaction: tx}, nil
		}
		if !tx.CanTransitionTo(target) {
			// Late or out-of-order event against a settled transaction. Ack
			// it so the provider stops retrying.
			p.logger.Info().
				Str("reference", tx.Reference).
				Str("status", string(tx.Status)).
				Str("target", string(target)).
				Msg("Ignoring out-of-order webhook")
			return &WebhookResult{Outcome: OutcomeIgnored, Transaction: tx}, nil
		}

		meta := map[string]any{transaction.MetaRawStatus: event.RawStatus}
		if target == transaction.StatusFailed {
			meta[transaction.MetaFailureReason] = event.EventType
		}

		from := tx.Status
		updated, err := p.store.CompareAndSetStatus(ctx, tx.Reference, from, target, meta)
		if err != nil {
			if errors.Is(err, domainErrors.ErrConcurrentUpdate) {
				p.metrics.TransitionConflicts.WithLabelValues(string(provider)).Inc()
			}
			return nil, err
		}
		return &WebhookResult{Outcome: OutcomeApplied, Transaction: updated, From: from, To: target}, nil
	})
}
