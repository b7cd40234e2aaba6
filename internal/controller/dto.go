package controller

import (
	"time"

	"github.com/sparklean/bookings/internal/domain/transaction"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (string for IDs, validation tags).
// Controllers convert these to service layer DTOs before calling business logic.

// CreateIntentRequest holds the input for creating a payment intent.
// Amounts travel as integer minor units; floats never touch money.
type CreateIntentRequest struct {
	AmountMinor   int64          `json:"amount_minor" validate:"required,gt=0"`
	Currency      string         `json:"currency" validate:"required,len=3"`
	Provider      string         `json:"provider,omitempty" validate:"omitempty,oneof=flutterwave stripe test"`
	OwnerID       string         `json:"owner_id,omitempty"`
	BookingID     *string        `json:"booking_id,omitempty"`
	CustomerEmail string         `json:"customer_email,omitempty" validate:"omitempty,email"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// RefundRequest holds the input for refunding a transaction. A nil
// AmountMinor requests a full refund.
type RefundRequest struct {
	AmountMinor *int64 `json:"amount_minor,omitempty" validate:"omitempty,gt=0"`
}

// --- Response DTOs ---

// TransactionResponse represents a payment transaction in API responses.
type TransactionResponse struct {
	ID          string         `json:"id"`
	Reference   string         `json:"reference"`
	Provider    string         `json:"provider"`
	OwnerID     string         `json:"owner_id,omitempty"`
	BookingID   *string        `json:"booking_id,omitempty"`
	AmountMinor int64          `json:"amount_minor"`
	Currency    string         `json:"currency"`
	Status      string         `json:"status"`
	CheckoutURL string         `json:"checkout_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromTransaction converts a domain transaction to API response.
func FromTransaction(t *transaction.Transaction) *TransactionResponse {
	return &TransactionResponse{
		ID:          t.ID.String(),
		Reference:   t.Reference,
		Provider:    string(t.Provider),
		OwnerID:     t.OwnerID,
		BookingID:   t.BookingID,
		AmountMinor: t.AmountMinor,
		Currency:    t.Currency,
		Status:      string(t.Status),
		CheckoutURL: t.CheckoutURL,
		Metadata:    t.Metadata,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
