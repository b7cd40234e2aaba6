package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/sparklean/bookings/internal/providers"
	"github.com/sparklean/bookings/internal/service"
	"github.com/sparklean/bookings/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerDeps struct {
	store  *testutil.MockStore
	ledger *testutil.MockLedger
	client *testutil.MockClient
}

func newTestRouter(t *testing.T) (*chi.Mux, *handlerDeps) {
	t.Helper()

	deps := &handlerDeps{
		store:  testutil.NewMockStore(),
		ledger: testutil.NewMockLedger(),
		client: &testutil.MockClient{},
	}

	registry := providers.NewRegistry(transaction.ProviderTest, deps.client)
	metrics := testutil.NewTestMetrics()
	logger := testutil.NewTestLogger()
	notifier := service.NopNotifier{}

	manager := service.NewPaymentManager(
		deps.store,
		testutil.NewMockReservations(),
		&testutil.MockTxManager{},
		registry,
		metrics,
		logger,
		"https://bookings.example.com/payments/return",
	)
	processor := service.NewWebhookProcessor(registry, deps.store, deps.ledger, notifier, metrics, logger, 3)
	refunds := service.NewRefundCoordinator(registry, deps.store, notifier, metrics, logger)

	paymentH := NewPaymentController(manager, refunds)
	webhookH := NewWebhookController(processor)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments", paymentH.CreateIntent)
		r.Get("/payments", paymentH.List)
		r.Get("/payments/{id}", paymentH.Get)
		r.Get("/payments/reference/{reference}", paymentH.GetByReference)
		r.Post("/payments/{id}/refund", paymentH.Refund)
	})
	r.Post("/webhooks/{provider}", webhookH.Receive)

	return r, deps
}

func TestCreateIntent_Created(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"amount_minor": 500000, "currency": "NGN", "owner_id": "usr-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, int64(500000), resp.AmountMinor)
	assert.Equal(t, "usr-1", resp.OwnerID)
	assert.NotEmpty(t, resp.Reference)
	assert.NotEmpty(t, resp.CheckoutURL)
}

func TestCreateIntent_IdempotentReplayReturnsOK(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"amount_minor": 500000, "currency": "NGN"}`
	first := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	first.Header.Set("Idempotency-Key", "key-1")
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, first)
	require.Equal(t, http.StatusCreated, w1.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	second.Header.Set("Idempotency-Key", "key-1")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, second)
	require.Equal(t, http.StatusOK, w2.Code)

	var r1, r2 TransactionResponse
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &r1))
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &r2))
	assert.Equal(t, r1.ID, r2.ID)
	assert.Equal(t, r1.Reference, r2.Reference)
}

func TestCreateIntent_KeyReuseWithDifferentAmount(t *testing.T) {
	router, _ := newTestRouter(t)

	first := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount_minor": 500000, "currency": "NGN"}`))
	first.Header.Set("Idempotency-Key", "key-1")
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, first)
	require.Equal(t, http.StatusCreated, w1.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount_minor": 999999, "currency": "NGN"}`))
	second.Header.Set("Idempotency-Key", "key-1")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, second)

	assert.Equal(t, http.StatusBadRequest, w2.Code)
}

func TestCreateIntent_ValidationFailure(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount_minor": 0, "currency": "NGN"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Code)
}

func TestGetPayment(t *testing.T) {
	router, deps := newTestRouter(t)
	tx := testutil.NewTestTransaction(transaction.ProviderTest, "bk-1")
	require.NoError(t, deps.store.Create(context.Background(), tx))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+tx.ID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, tx.ID.String(), resp.ID)
	assert.Equal(t, "bk-1", resp.Reference)
}

func TestGetPayment_InvalidID(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPayment_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/6d5a4f3e-2b1c-4d5e-8f7a-9b8c7d6e5f4a", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPaymentByReference(t *testing.T) {
	router, deps := newTestRouter(t)
	tx := testutil.NewTestTransaction(transaction.ProviderTest, "bk-1")
	require.NoError(t, deps.store.Create(context.Background(), tx))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/reference/bk-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bk-1", resp.Reference)
}

func TestListPayments_FiltersByStatus(t *testing.T) {
	router, deps := newTestRouter(t)

	pending := testutil.NewTestTransaction(transaction.ProviderTest, "bk-1")
	require.NoError(t, deps.store.Create(context.Background(), pending))

	succeeded := testutil.NewTestTransaction(transaction.ProviderTest, "bk-2")
	require.NoError(t, succeeded.MarkSucceeded())
	require.NoError(t, deps.store.Create(context.Background(), succeeded))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments?status=succeeded", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp []*TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "bk-2", resp[0].Reference)
}

func TestListPayments_LimitTooLarge(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments?limit=500", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefund_FullRefund(t *testing.T) {
	router, deps := newTestRouter(t)

	tx := testutil.NewTestTransaction(transaction.ProviderTest, "bk-1")
	require.NoError(t, tx.MarkSucceeded())
	require.NoError(t, deps.store.Create(context.Background(), tx))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+tx.ID.String()+"/refund", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "refunded", resp.Status)
}

func TestRefund_PendingTransactionConflicts(t *testing.T) {
	router, deps := newTestRouter(t)

	tx := testutil.NewTestTransaction(transaction.ProviderTest, "bk-1")
	require.NoError(t, deps.store.Create(context.Background(), tx))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+tx.ID.String()+"/refund", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_transition", resp.Code)
}

func TestRefund_PartialAmountBody(t *testing.T) {
	router, deps := newTestRouter(t)

	tx := testutil.NewTestTransaction(transaction.ProviderTest, "bk-1")
	require.NoError(t, tx.MarkSucceeded())
	require.NoError(t, deps.store.Create(context.Background(), tx))

	body := `{"amount_minor": 100000}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+tx.ID.String()+"/refund", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 100000, resp.Metadata[transaction.MetaRefundedAmountMinor])
}

func TestWebhook_AppliedTransition(t *testing.T) {
	router, deps := newTestRouter(t)

	tx := testutil.NewTestTransaction(transaction.ProviderTest, "bk-1")
	require.NoError(t, deps.store.Create(context.Background(), tx))

	deps.client.VerifyWebhookFunc = func(body []byte, headers http.Header) (*providers.Event, error) {
		return &providers.Event{
			Provider:  transaction.ProviderTest,
			EventID:   "evt-1",
			Reference: "bk-1",
			RawStatus: "succeeded",
		}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/test", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, service.OutcomeApplied, resp.Status)

	current, err := deps.store.GetByReference(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSucceeded, current.Status)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	router, _ := newTestRouter(t)

	// MockClient rejects webhook signatures by default.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/test", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhook_UnknownProvider(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
