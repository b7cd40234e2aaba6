package testutil

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/sparklean/bookings/internal/providers"
)

// --- Transaction Store Mock ---

// MockStore is an in-memory implementation of transaction.Store with the same
// compare-and-set semantics as the PostgreSQL store.
type MockStore struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]*transaction.Transaction
	byReference map[string]*transaction.Transaction

	CreateFunc              func(ctx context.Context, tx *transaction.Transaction) error
	GetByIDFunc             func(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
	GetByReferenceFunc      func(ctx context.Context, reference string) (*transaction.Transaction, error)
	CompareAndSetStatusFunc func(ctx context.Context, reference string, expected, next transaction.Status, meta map[string]any) (*transaction.Transaction, error)
	ListFunc                func(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, error)
}

func NewMockStore() *MockStore {
	return &MockStore{
		byID:        make(map[uuid.UUID]*transaction.Transaction),
		byReference: make(map[string]*transaction.Transaction),
	}
}

func (m *MockStore) Create(ctx context.Context, tx *transaction.Transaction) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byReference[tx.Reference]; exists {
		return domainErrors.ErrIdempotencyConflict
	}
	cp := copyTransaction(tx)
	m.byID[tx.ID] = cp
	m.byReference[tx.Reference] = cp
	return nil
}

func (m *MockStore) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

func (m *MockStore) GetByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	if m.GetByReferenceFunc != nil {
		return m.GetByReferenceFunc(ctx, reference)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byReference[reference]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

func (m *MockStore) CompareAndSetStatus(
	ctx context.Context,
	reference string,
	expected, next transaction.Status,
	meta map[string]any,
) (*transaction.Transaction, error) {
	if m.CompareAndSetStatusFunc != nil {
		return m.CompareAndSetStatusFunc(ctx, reference, expected, next, meta)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byReference[reference]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	if tx.Status != expected {
		return nil, domainErrors.ErrConcurrentUpdate
	}
	if err := tx.TransitionTo(next); err != nil {
		return nil, err
	}
	if tx.Metadata == nil {
		tx.Metadata = make(map[string]any)
	}
	for k, v := range meta {
		tx.Metadata[k] = v
	}
	return copyTransaction(tx), nil
}

func (m *MockStore) List(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*transaction.Transaction, 0, len(m.byID))
	for _, tx := range m.byID {
		if filter.Status != nil && tx.Status != *filter.Status {
			continue
		}
		if filter.Provider != nil && tx.Provider != *filter.Provider {
			continue
		}
		if filter.OwnerID != nil && tx.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.BookingID != nil && (tx.BookingID == nil || *tx.BookingID != *filter.BookingID) {
			continue
		}
		result = append(result, copyTransaction(tx))
	}
	return result, nil
}

func copyTransaction(tx *transaction.Transaction) *transaction.Transaction {
	cp := *tx
	cp.Metadata = make(map[string]any, len(tx.Metadata))
	for k, v := range tx.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// --- Idempotency Reservations Mock ---

type MockReservations struct {
	mu           sync.Mutex
	reservations map[string]*transaction.Reservation

	ReserveFunc func(ctx context.Context, key, fingerprint string) (*transaction.Reservation, bool, error)
	BindFunc    func(ctx context.Context, key string, txID uuid.UUID) error
	ReleaseFunc func(ctx context.Context, key string) error
	CleanupFunc func(ctx context.Context) (int64, error)
}

func NewMockReservations() *MockReservations {
	return &MockReservations{reservations: make(map[string]*transaction.Reservation)}
}

func (m *MockReservations) Reserve(ctx context.Context, key, fingerprint string) (*transaction.Reservation, bool, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, key, fingerprint)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.reservations[key]; ok {
		return existing, false, nil
	}
	res := &transaction.Reservation{Key: key, Fingerprint: fingerprint}
	m.reservations[key] = res
	return res, true, nil
}

func (m *MockReservations) Bind(ctx context.Context, key string, txID uuid.UUID) error {
	if m.BindFunc != nil {
		return m.BindFunc(ctx, key, txID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.reservations[key]; ok {
		res.TransactionID = &txID
	}
	return nil
}

func (m *MockReservations) Release(ctx context.Context, key string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.reservations[key]; ok && res.TransactionID == nil {
		delete(m.reservations, key)
	}
	return nil
}

func (m *MockReservations) Cleanup(ctx context.Context) (int64, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx)
	}
	return 0, nil
}

// --- Webhook Ledger Mock ---

type MockLedger struct {
	mu   sync.Mutex
	seen map[string]bool

	MarkProcessedFunc func(ctx context.Context, provider transaction.Provider, eventID string) (bool, error)
}

func NewMockLedger() *MockLedger {
	return &MockLedger{seen: make(map[string]bool)}
}

func (m *MockLedger) MarkProcessed(ctx context.Context, provider transaction.Provider, eventID string) (bool, error) {
	if m.MarkProcessedFunc != nil {
		return m.MarkProcessedFunc(ctx, provider, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(provider) + ":" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

// --- Provider Client Mock ---

// MockClient is a mock provider client.
type MockClient struct {
	NameValue transaction.Provider

	CreateIntentFunc     func(ctx context.Context, req providers.IntentRequest) (*providers.IntentResult, error)
	VerifyWebhookFunc    func(body []byte, headers http.Header) (*providers.Event, error)
	FetchTransactionFunc func(ctx context.Context, reference string) (*providers.TransactionView, error)
	RefundFunc           func(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error)
}

func (m *MockClient) Name() transaction.Provider {
	if m.NameValue != "" {
		return m.NameValue
	}
	return transaction.ProviderTest
}

func (m *MockClient) CreateIntent(ctx context.Context, req providers.IntentRequest) (*providers.IntentResult, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, req)
	}
	return &providers.IntentResult{
		Reference:   req.Reference,
		CheckoutURL: "https://pay.example.com/" + req.Reference,
		RawStatus:   "pending",
	}, nil
}

func (m *MockClient) VerifyWebhook(body []byte, headers http.Header) (*providers.Event, error) {
	if m.VerifyWebhookFunc != nil {
		return m.VerifyWebhookFunc(body, headers)
	}
	return nil, domainErrors.ErrSignatureInvalid
}

func (m *MockClient) FetchTransaction(ctx context.Context, reference string) (*providers.TransactionView, error) {
	if m.FetchTransactionFunc != nil {
		return m.FetchTransactionFunc(ctx, reference)
	}
	return nil, domainErrors.ErrNotFound
}

func (m *MockClient) Refund(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, req)
	}
	return &providers.RefundResult{RefundID: "rf_mock", RawStatus: "refunded"}, nil
}

// --- Booking Notifier Mock ---

type MockNotifier struct {
	mu          sync.Mutex
	Transitions []NotifiedTransition

	NotifyTransitionFunc func(ctx context.Context, tx *transaction.Transaction, from, to transaction.Status) error
}

type NotifiedTransition struct {
	Reference string
	From      transaction.Status
	To        transaction.Status
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) NotifyTransition(ctx context.Context, tx *transaction.Transaction, from, to transaction.Status) error {
	if m.NotifyTransitionFunc != nil {
		return m.NotifyTransitionFunc(ctx, tx, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transitions = append(m.Transitions, NotifiedTransition{Reference: tx.Reference, From: from, To: to})
	return nil
}

// Notified returns a snapshot of recorded transitions.
func (m *MockNotifier) Notified() []NotifiedTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NotifiedTransition, len(m.Transitions))
	copy(out, m.Transitions)
	return out
}

// --- Transaction Manager Mock ---

// MockTxManager runs the function directly without a database transaction.
type MockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}
