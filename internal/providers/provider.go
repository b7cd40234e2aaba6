package providers

import (
	"context"
	"fmt"
	"net/http"

	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

// Client is the uniform contract every payment gateway integration (real or
// test) must satisfy. Implementations are stateless configuration bound at
// startup; they hold no transaction data.
type Client interface {
	// Name returns the provider discriminator.
	Name() transaction.Provider

	// CreateIntent starts a payment at the provider and returns a checkout
	// reference. Passing the same idempotency token makes retries safe
	// against duplicate external charges.
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)

	// VerifyWebhook validates the provider signature over the raw body and
	// parses the event. It must fail with ErrSignatureInvalid before any
	// payload content is interpreted.
	VerifyWebhook(body []byte, headers http.Header) (*Event, error)

	// FetchTransaction queries the provider-side view of a reference.
	FetchTransaction(ctx context.Context, reference string) (*TransactionView, error)

	// Refund issues a partial or full refund for a reference.
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// IntentRequest holds the input for creating a payment intent.
type IntentRequest struct {
	Reference       string
	AmountMinor     int64
	Currency        string
	CustomerEmail   string
	IdempotencyKey  string
	RedirectURL     string
	Metadata        map[string]any
}

// IntentResult is the provider response to intent creation.
type IntentResult struct {
	Reference   string
	CheckoutURL string
	RawStatus   string
	Payload     map[string]any
}

// Event is a verified, parsed webhook event.
type Event struct {
	Provider  transaction.Provider
	EventID   string
	EventType string
	Reference string
	RawStatus string
	Payload   map[string]any
}

// TransactionView is the provider-side state of a transaction.
type TransactionView struct {
	Reference    string
	ProviderTxID string
	RawStatus    string
	AmountMinor  int64
	Currency     string
	Payload      map[string]any
}

// RefundRequest holds the input for a refund. A nil AmountMinor requests a
// full refund.
type RefundRequest struct {
	Reference   string
	AmountMinor *int64
}

// RefundResult is the provider response to a refund.
type RefundResult struct {
	RefundID            string
	RawStatus           string
	RefundedAmountMinor int64
	Payload             map[string]any
}

// mapHTTPStatus translates an upstream HTTP status into the domain error
// taxonomy. Unrecognized codes escalate as ErrProviderUnavailable since the
// fault is upstream.
func mapHTTPStatus(provider transaction.Provider, status int, detail string) error {
	var kind error
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = domainErrors.ErrInvalidRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = domainErrors.ErrProviderDenied
	case status == http.StatusNotFound:
		kind = domainErrors.ErrNotFound
	case status == http.StatusTooManyRequests:
		kind = domainErrors.ErrProviderRateLimited
	default:
		kind = domainErrors.ErrProviderUnavailable
	}
	return domainErrors.NewDomainError(
		"provider_error",
		fmt.Sprintf("%s returned HTTP %d: %s", provider, status, detail),
		kind,
	)
}

// transportError wraps a network-level failure talking to a provider.
func transportError(provider transaction.Provider, err error) error {
	return domainErrors.NewDomainError(
		"provider_unreachable",
		fmt.Sprintf("%s request failed", provider),
		fmt.Errorf("%w: %w", domainErrors.ErrProviderUnavailable, err),
	)
}
