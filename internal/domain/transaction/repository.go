package transaction

import (
	"context"

	"github.com/google/uuid"
)

// Store defines the interface for transaction persistence. The store
// exclusively owns persisted records; all mutation goes through
// CompareAndSetStatus so concurrent writers cannot lose updates.
type Store interface {
	// Create inserts a new transaction
	Create(ctx context.Context, tx *Transaction) error

	// GetByID retrieves a transaction by its internal ID
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetByReference retrieves a transaction by provider reference
	GetByReference(ctx context.Context, reference string) (*Transaction, error)

	// CompareAndSetStatus atomically transitions the transaction identified
	// by reference from expected to next, merging meta into its metadata.
	// Returns ErrConcurrentUpdate when the stored status no longer matches
	// expected, ErrTransactionNotFound when the reference is unknown.
	CompareAndSetStatus(ctx context.Context, reference string, expected, next Status, meta map[string]any) (*Transaction, error)

	// List lists transactions with filters
	List(ctx context.Context, filter ListFilter) ([]*Transaction, error)
}

// ListFilter defines filters for listing transactions
type ListFilter struct {
	OwnerID   *string
	BookingID *string
	Status    *Status
	Provider  *Provider
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// IdempotencyReservations is the atomic reserve-then-create step behind
// idempotent intent creation. A key is reserved together with a fingerprint
// of the logical request; replaying the key yields the original reservation.
type IdempotencyReservations interface {
	// Reserve claims key for fingerprint. When the key is already reserved
	// the stored reservation is returned with won=false.
	Reserve(ctx context.Context, key, fingerprint string) (res *Reservation, won bool, err error)

	// Bind attaches the created transaction to an owned reservation.
	Bind(ctx context.Context, key string, txID uuid.UUID) error

	// Release frees a reservation after a failed creation so the caller can
	// retry with the same key.
	Release(ctx context.Context, key string) error

	// Cleanup removes expired reservations, returning the number removed.
	Cleanup(ctx context.Context) (int64, error)
}

// Reservation is a stored idempotency claim. Reservations are retained for
// 24 hours; a replay after expiry is treated as a fresh request.
type Reservation struct {
	Key           string
	Fingerprint   string
	TransactionID *uuid.UUID
}

// WebhookLedger records processed webhook event ids so replayed deliveries
// are acknowledged without being re-applied.
type WebhookLedger interface {
	// MarkProcessed records (provider, eventID), returning false when the
	// pair was already present.
	MarkProcessed(ctx context.Context, provider Provider, eventID string) (bool, error)
}
