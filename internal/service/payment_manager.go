package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/sparklean/bookings/internal/infrastructure/observability"
	"github.com/sparklean/bookings/internal/providers"
)

// TransactionManager abstracts database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PaymentManager owns intent creation and transaction reads. Creation is
// idempotent: a replayed idempotency key returns the original transaction
// without a second provider call.
type PaymentManager struct {
	store        transaction.Store
	reservations transaction.IdempotencyReservations
	txManager    TransactionManager
	registry     *providers.Registry
	metrics      *observability.Metrics
	logger       zerolog.Logger
	redirectURL  string
}

// NewPaymentManager creates a new PaymentManager.
func NewPaymentManager(
	store transaction.Store,
	reservations transaction.IdempotencyReservations,
	txManager TransactionManager,
	registry *providers.Registry,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	redirectURL string,
) *PaymentManager {
	return &PaymentManager{
		store:        store,
		reservations: reservations,
		txManager:    txManager,
		registry:     registry,
		metrics:      metrics,
		logger:       logger,
		redirectURL:  redirectURL,
	}
}

// CreateIntentRequest holds the input for creating a payment intent.
type CreateIntentRequest struct {
	IdempotencyKey string
	Provider       string
	AmountMinor    int64
	Currency       string
	OwnerID        string
	BookingID      *string
	CustomerEmail  string
	Metadata       map[string]any
}

// CreateIntentResponse holds the result of creating a payment intent.
// Replayed is true when the transaction was returned from an idempotency
// reservation instead of a fresh provider call.
type CreateIntentResponse struct {
	Transaction *transaction.Transaction
	Replayed    bool
}

// fingerprint identifies the logical request behind an idempotency key so a
// key reuse with different parameters can be rejected.
func (r CreateIntentRequest) fingerprint(provider transaction.Provider) string {
	bookingID := ""
	if r.BookingID != nil {
		bookingID = *r.BookingID
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s|%s|%s", provider, r.AmountMinor, r.Currency, r.OwnerID, bookingID))
	return hex.EncodeToString(sum[:])
}

// CreateIntent creates a payment intent at the resolved provider and persists
// the pending transaction.
func (m *PaymentManager) CreateIntent(ctx context.Context, req CreateIntentRequest) (*CreateIntentResponse, error) {
	if err := transaction.ValidateAmount(req.AmountMinor, req.Currency); err != nil {
		return nil, err
	}

	providerName, err := m.registry.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	client, breaker, err := m.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	fingerprint := req.fingerprint(providerName)
	if req.IdempotencyKey != "" {
		res, won, err := m.reservations.Reserve(ctx, req.IdempotencyKey, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if !won {
			return m.replay(ctx, req.IdempotencyKey, fingerprint, providerName, res)
		}
	}

	start := time.Now()
	reference := "bk-" + uuid.New().String()

	intent, err := providers.Execute(breaker, func() (*providers.IntentResult, error) {
		return client.CreateIntent(ctx, providers.IntentRequest{
			Reference:      reference,
			AmountMinor:    req.AmountMinor,
			Currency:       req.Currency,
			CustomerEmail:  req.CustomerEmail,
			IdempotencyKey: req.IdempotencyKey,
			RedirectURL:    m.redirectURL,
			Metadata:       req.Metadata,
		})
	})
	if err != nil {
		m.releaseReservation(ctx, req.IdempotencyKey)
		m.metrics.IntentsTotal.WithLabelValues(string(providerName), "error").Inc()
		return nil, err
	}

	// Some providers assign their own reference when none is usable.
	if intent.Reference != "" {
		reference = intent.Reference
	}

	tx, err := transaction.New(providerName, reference, req.AmountMinor, req.Currency)
	if err != nil {
		m.releaseReservation(ctx, req.IdempotencyKey)
		return nil, err
	}
	tx.OwnerID = req.OwnerID
	tx.BookingID = req.BookingID
	tx.IdempotencyKey = req.IdempotencyKey
	tx.CheckoutURL = intent.CheckoutURL
	for k, v := range req.Metadata {
		tx.Metadata[k] = v
	}
	if intent.RawStatus != "" {
		tx.Metadata[transaction.MetaRawStatus] = intent.RawStatus
	}

	// The row and its reservation binding commit together.
	err = m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := m.store.Create(txCtx, tx); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			return m.reservations.Bind(txCtx, req.IdempotencyKey, tx.ID)
		}
		return nil
	})
	if err != nil {
		m.releaseReservation(ctx, req.IdempotencyKey)
		return nil, err
	}

	m.metrics.IntentsTotal.WithLabelValues(string(providerName), "created").Inc()
	m.metrics.IntentDuration.WithLabelValues(string(providerName)).Observe(time.Since(start).Seconds())
	m.logger.Info().
		Str("reference", tx.Reference).
		Str("provider", string(providerName)).
		Int64("amount_minor", tx.AmountMinor).
		Str("currency", tx.Currency).
		Msg("Payment intent created")

	return &CreateIntentResponse{Transaction: tx}, nil
}

// replay resolves a lost idempotency reservation race: either return the
// already-created transaction or reject the key reuse.
func (m *PaymentManager) replay(
	ctx context.Context,
	key, fingerprint string,
	provider transaction.Provider,
	res *transaction.Reservation,
) (*CreateIntentResponse, error) {
	if res.Fingerprint != fingerprint {
		return nil, domainErrors.NewDomainError(
			"idempotency_key_reused",
			"idempotency key was already used with different parameters",
			domainErrors.ErrInvalidRequest,
		)
	}
	if res.TransactionID == nil {
		// The original request is still in flight.
		return nil, fmt.Errorf("intent creation for key %s in progress: %w", key, domainErrors.ErrIdempotencyConflict)
	}

	tx, err := m.store.GetByID(ctx, *res.TransactionID)
	if err != nil {
		return nil, err
	}

	m.metrics.IntentReplays.WithLabelValues(string(provider)).Inc()
	m.logger.Info().
		Str("reference", tx.Reference).
		Str("idempotency_key", key).
		Msg("Intent request replayed from reservation")
	return &CreateIntentResponse{Transaction: tx, Replayed: true}, nil
}

func (m *PaymentManager) releaseReservation(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := m.reservations.Release(ctx, key); err != nil {
		m.logger.Error().Err(err).Str("idempotency_key", key).Msg("Failed to release reservation")
	}
}

// GetByID retrieves a transaction by its internal ID.
func (m *PaymentManager) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return m.store.GetByID(ctx, id)
}

// GetByReference retrieves a transaction by its provider reference.
func (m *PaymentManager) GetByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	if reference == "" {
		return nil, domainErrors.NewValidationError("reference", "cannot be empty")
	}
	return m.store.GetByReference(ctx, reference)
}

// List lists transactions matching the filter.
func (m *PaymentManager) List(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	if filter.Limit < 0 || filter.Limit > 100 {
		return nil, domainErrors.NewValidationError("limit", "must be between 0 and 100")
	}
	return m.store.List(ctx, filter)
}
