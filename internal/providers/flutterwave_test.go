package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlutterwave_VerifyWebhook_ValidHash(t *testing.T) {
	f := NewFlutterwave("sk_test", "hash-secret", 0)

	body := []byte(`{"id":77,"event":"charge.completed","data":{"tx_ref":"bk-123","status":"successful"}}`)
	headers := http.Header{}
	headers.Set("verif-hash", "hash-secret")

	event, err := f.VerifyWebhook(body, headers)
	require.NoError(t, err)

	assert.Equal(t, transaction.ProviderFlutterwave, event.Provider)
	assert.Equal(t, "77", event.EventID)
	assert.Equal(t, "charge.completed", event.EventType)
	assert.Equal(t, "bk-123", event.Reference)
	assert.Equal(t, "successful", event.RawStatus)
}

func TestFlutterwave_VerifyWebhook_WrongHash(t *testing.T) {
	f := NewFlutterwave("sk_test", "hash-secret", 0)

	headers := http.Header{}
	headers.Set("verif-hash", "wrong")

	_, err := f.VerifyWebhook([]byte(`{}`), headers)
	assert.ErrorIs(t, err, domainErrors.ErrSignatureInvalid)
}

func TestFlutterwave_VerifyWebhook_MissingHash(t *testing.T) {
	f := NewFlutterwave("sk_test", "hash-secret", 0)

	_, err := f.VerifyWebhook([]byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domainErrors.ErrSignatureInvalid)
}

func TestFlutterwave_VerifyWebhook_NoConfiguredSecret(t *testing.T) {
	f := NewFlutterwave("sk_test", "", 0)

	headers := http.Header{}
	headers.Set("verif-hash", "")

	_, err := f.VerifyWebhook([]byte(`{}`), headers)
	assert.ErrorIs(t, err, domainErrors.ErrSignatureInvalid)
}

func TestFlutterwave_CreateIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"status":"success","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/abc"}}`)
	}))
	defer server.Close()

	f := NewFlutterwave("sk_test", "hash", 0, WithFlutterwaveBaseURL(server.URL))
	res, err := f.CreateIntent(context.Background(), IntentRequest{
		Reference:   "bk-123",
		AmountMinor: 500000,
		Currency:    "NGN",
	})
	require.NoError(t, err)

	assert.Equal(t, "bk-123", res.Reference)
	assert.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/abc", res.CheckoutURL)
	assert.Equal(t, "pending", res.RawStatus)
}

func TestFlutterwave_CreateIntent_MissingLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{}}`)
	}))
	defer server.Close()

	f := NewFlutterwave("sk_test", "hash", 0, WithFlutterwaveBaseURL(server.URL))
	_, err := f.CreateIntent(context.Background(), IntentRequest{Reference: "bk-1", AmountMinor: 1000, Currency: "NGN"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestFlutterwave_CreateIntent_ProviderRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","message":"invalid currency"}`)
	}))
	defer server.Close()

	f := NewFlutterwave("sk_test", "hash", 0, WithFlutterwaveBaseURL(server.URL))
	_, err := f.CreateIntent(context.Background(), IntentRequest{Reference: "bk-1", AmountMinor: 1000, Currency: "XXX"})
	assert.ErrorIs(t, err, domainErrors.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "invalid currency")
}

func TestFlutterwave_FetchTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/verify_by_reference", r.URL.Path)
		assert.Equal(t, "bk-123", r.URL.Query().Get("tx_ref"))

		fmt.Fprint(w, `{"status":"success","data":{"id":12345,"status":"successful","amount":5000,"currency":"NGN"}}`)
	}))
	defer server.Close()

	f := NewFlutterwave("sk_test", "hash", 0, WithFlutterwaveBaseURL(server.URL))
	view, err := f.FetchTransaction(context.Background(), "bk-123")
	require.NoError(t, err)

	assert.Equal(t, "12345", view.ProviderTxID)
	assert.Equal(t, "successful", view.RawStatus)
	assert.Equal(t, int64(500000), view.AmountMinor)
	assert.Equal(t, "NGN", view.Currency)
}

func TestFlutterwave_FetchTransaction_Unknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status":"error","message":"No transaction was found for this id"}`)
	}))
	defer server.Close()

	f := NewFlutterwave("sk_test", "hash", 0, WithFlutterwaveBaseURL(server.URL))
	_, err := f.FetchTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)
}

func TestFlutterwave_Refund_SucceededTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transactions/verify_by_reference":
			fmt.Fprint(w, `{"status":"success","data":{"id":12345,"status":"successful","amount":5000,"currency":"NGN"}}`)
		case "/transactions/12345/refund":
			fmt.Fprint(w, `{"status":"success","data":{"id":999,"status":"completed"}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	f := NewFlutterwave("sk_test", "hash", 0, WithFlutterwaveBaseURL(server.URL))
	res, err := f.Refund(context.Background(), RefundRequest{Reference: "bk-123"})
	require.NoError(t, err)

	assert.Equal(t, "999", res.RefundID)
	assert.Equal(t, int64(500000), res.RefundedAmountMinor)
}

func TestMajorToMinor_RoundsDecimalArtifacts(t *testing.T) {
	// Major amounts arrive as JSON floats; values like 0.29 decode slightly
	// below the exact decimal and must not truncate to the unit below.
	cases := []struct {
		major any
		want  int64
	}{
		{0.29, int64(29)},
		{1.13, int64(113)},
		{72.29, int64(7229)},
		{5000.0, int64(500000)},
		{nil, int64(0)},
		{"5000", int64(0)},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, majorToMinor(c.major), "major %v", c.major)
	}
}

func TestFlutterwave_Refund_PendingTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"id":12345,"status":"pending","amount":5000,"currency":"NGN"}}`)
	}))
	defer server.Close()

	f := NewFlutterwave("sk_test", "hash", 0, WithFlutterwaveBaseURL(server.URL))
	_, err := f.Refund(context.Background(), RefundRequest{Reference: "bk-123"})
	assert.ErrorIs(t, err, domainErrors.ErrRefundNotAllowed)
}
