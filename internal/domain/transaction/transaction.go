package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/sparklean/bookings/internal/domain/errors"
)

// Status represents the transaction status in the state machine
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Provider identifies an external payment provider
type Provider string

const (
	ProviderFlutterwave Provider = "flutterwave"
	ProviderStripe      Provider = "stripe"
	ProviderTest        Provider = "test"
)

// Metadata keys written by the refund and webhook paths.
const (
	MetaRefundedAmountMinor = "refunded_amount_minor"
	MetaRefundID            = "refund_id"
	MetaFailureReason       = "failure_reason"
	MetaRawStatus           = "raw_status"
)

// KnownProvider reports whether p is one of the supported providers.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderFlutterwave, ProviderStripe, ProviderTest:
		return true
	}
	return false
}

// Transaction is a payment transaction correlating a booking charge with a
// provider-side record. Reference is the provider-assigned identifier and is
// unique within a provider namespace.
type Transaction struct {
	ID             uuid.UUID
	Reference      string
	Provider       Provider
	OwnerID        string
	BookingID      *string
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
	Status         Status
	CheckoutURL    string
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New creates a pending transaction. Amount, currency and provider are
// immutable after creation.
func New(provider Provider, reference string, amountMinor int64, currency string) (*Transaction, error) {
	if !KnownProvider(provider) {
		return nil, errors.NewValidationError("provider", "unknown provider "+string(provider))
	}
	if reference == "" {
		return nil, errors.NewValidationError("reference", "cannot be empty")
	}
	if err := ValidateAmount(amountMinor, currency); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Transaction{
		ID:          uuid.New(),
		Reference:   reference,
		Provider:    provider,
		AmountMinor: amountMinor,
		Currency:    currency,
		Status:      StatusPending,
		Metadata:    make(map[string]any),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidateAmount checks an amount in minor units with its ISO currency code.
func ValidateAmount(amountMinor int64, currency string) error {
	if amountMinor <= 0 {
		return errors.NewValidationError("amount_minor", "must be greater than 0")
	}
	if len(currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// transitions is the full state machine. failed and refunded are terminal;
// the only way out of succeeded is the explicit refund path.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {StatusRefunded},
	StatusFailed:    {},
	StatusRefunded:  {},
}

// CanTransitionTo checks if the transaction can move to the given status.
func (t *Transaction) CanTransitionTo(next Status) bool {
	allowed, ok := transitions[t.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the transaction to a new status. UpdatedAt advances only
// on accepted transitions.
func (t *Transaction) TransitionTo(next Status) error {
	if !t.CanTransitionTo(next) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(t.Status)+" to "+string(next),
			errors.ErrInvalidTransition,
		)
	}
	t.Status = next
	t.UpdatedAt = time.Now()
	return nil
}

// MarkSucceeded transitions the transaction to succeeded.
func (t *Transaction) MarkSucceeded() error {
	return t.TransitionTo(StatusSucceeded)
}

// MarkFailed transitions the transaction to failed, recording the reason.
func (t *Transaction) MarkFailed(reason string) error {
	if err := t.TransitionTo(StatusFailed); err != nil {
		return err
	}
	if reason != "" {
		t.setMeta(MetaFailureReason, reason)
	}
	return nil
}

// MarkRefunded transitions the transaction to refunded, recording the
// refunded amount and the provider-supplied refund identifier.
func (t *Transaction) MarkRefunded(amountMinor int64, refundID string) error {
	if err := t.TransitionTo(StatusRefunded); err != nil {
		return err
	}
	t.setMeta(MetaRefundedAmountMinor, amountMinor)
	if refundID != "" {
		t.setMeta(MetaRefundID, refundID)
	}
	return nil
}

// IsTerminal checks if the transaction reached a state with no further
// transitions (refund from succeeded being the modeled exception).
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusFailed || t.Status == StatusRefunded
}

func (t *Transaction) setMeta(key string, value any) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[key] = value
}
