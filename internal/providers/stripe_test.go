package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeSign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func stripeSignatureHeader(secret string, ts int64, body []byte) http.Header {
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, stripeSign(secret, ts, body)))
	return headers
}

func TestStripe_VerifyWebhook_ValidSignature(t *testing.T) {
	now := time.Now()
	s := NewStripe("sk_test", "whsec_test", 0, WithStripeClock(func() time.Time { return now }))

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"status":"succeeded","metadata":{"reference":"bk-123"}}}}`)
	event, err := s.VerifyWebhook(body, stripeSignatureHeader("whsec_test", now.Unix(), body))
	require.NoError(t, err)

	assert.Equal(t, transaction.ProviderStripe, event.Provider)
	assert.Equal(t, "evt_1", event.EventID)
	assert.Equal(t, "payment_intent.succeeded", event.EventType)
	assert.Equal(t, "bk-123", event.Reference)
	assert.Equal(t, "succeeded", event.RawStatus)
}

func TestStripe_VerifyWebhook_FailureEventType(t *testing.T) {
	now := time.Now()
	s := NewStripe("sk_test", "whsec_test", 0, WithStripeClock(func() time.Time { return now }))

	body := []byte(`{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"status":"requires_payment_method","metadata":{"reference":"bk-123"}}}}`)
	event, err := s.VerifyWebhook(body, stripeSignatureHeader("whsec_test", now.Unix(), body))
	require.NoError(t, err)

	assert.Equal(t, "payment_failed", event.RawStatus)
	assert.Equal(t, transaction.StatusFailed, Normalize(transaction.ProviderStripe, event.RawStatus))
}

func TestStripe_VerifyWebhook_WrongSecret(t *testing.T) {
	now := time.Now()
	s := NewStripe("sk_test", "whsec_test", 0, WithStripeClock(func() time.Time { return now }))

	body := []byte(`{"id":"evt_1"}`)
	_, err := s.VerifyWebhook(body, stripeSignatureHeader("whsec_other", now.Unix(), body))
	assert.ErrorIs(t, err, domainErrors.ErrSignatureInvalid)
}

func TestStripe_VerifyWebhook_MissingHeader(t *testing.T) {
	s := NewStripe("sk_test", "whsec_test", 0)

	_, err := s.VerifyWebhook([]byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domainErrors.ErrSignatureInvalid)
}

func TestStripe_VerifyWebhook_StaleTimestamp(t *testing.T) {
	now := time.Now()
	s := NewStripe("sk_test", "whsec_test", 0, WithStripeClock(func() time.Time { return now }))

	body := []byte(`{"id":"evt_1"}`)
	stale := now.Add(-10 * time.Minute).Unix()
	_, err := s.VerifyWebhook(body, stripeSignatureHeader("whsec_test", stale, body))
	assert.ErrorIs(t, err, domainErrors.ErrSignatureInvalid)
}

func TestStripe_VerifyWebhook_TamperedBody(t *testing.T) {
	now := time.Now()
	s := NewStripe("sk_test", "whsec_test", 0, WithStripeClock(func() time.Time { return now }))

	body := []byte(`{"id":"evt_1"}`)
	headers := stripeSignatureHeader("whsec_test", now.Unix(), body)
	_, err := s.VerifyWebhook([]byte(`{"id":"evt_tampered"}`), headers)
	assert.ErrorIs(t, err, domainErrors.ErrSignatureInvalid)
}

func TestStripe_CreateIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "500000", r.PostForm.Get("amount"))
		assert.Equal(t, "ngn", r.PostForm.Get("currency"))
		assert.Equal(t, "bk-123", r.PostForm.Get("metadata[reference]"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method"}`)
	}))
	defer server.Close()

	s := NewStripe("sk_test", "whsec_test", 0, WithStripeBaseURL(server.URL))
	res, err := s.CreateIntent(context.Background(), IntentRequest{
		Reference:      "bk-123",
		AmountMinor:    500000,
		Currency:       "NGN",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "bk-123", res.Reference)
	assert.Empty(t, res.CheckoutURL)
	assert.Equal(t, "requires_payment_method", res.RawStatus)
	assert.Equal(t, "pi_1_secret", res.Payload["client_secret"])
}

func TestStripe_CreateIntent_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"too many requests"}}`)
	}))
	defer server.Close()

	s := NewStripe("sk_test", "whsec_test", 0, WithStripeBaseURL(server.URL))
	_, err := s.CreateIntent(context.Background(), IntentRequest{Reference: "bk-1", AmountMinor: 1000, Currency: "USD"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderRateLimited)
}

func TestStripe_FetchTransaction_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer server.Close()

	s := NewStripe("sk_test", "whsec_test", 0, WithStripeBaseURL(server.URL))
	_, err := s.FetchTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)
}

func TestStripe_Refund_SucceededIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payment_intents/search":
			fmt.Fprint(w, `{"data":[{"id":"pi_1","status":"succeeded","amount":500000,"currency":"ngn"}]}`)
		case "/v1/refunds":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "pi_1", r.PostForm.Get("payment_intent"))
			fmt.Fprint(w, `{"id":"re_1","status":"succeeded"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	s := NewStripe("sk_test", "whsec_test", 0, WithStripeBaseURL(server.URL))
	res, err := s.Refund(context.Background(), RefundRequest{Reference: "bk-1"})
	require.NoError(t, err)

	assert.Equal(t, "re_1", res.RefundID)
	assert.Equal(t, int64(500000), res.RefundedAmountMinor)
}

func TestStripe_Refund_PendingIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"pi_1","status":"processing","amount":1000,"currency":"usd"}]}`)
	}))
	defer server.Close()

	s := NewStripe("sk_test", "whsec_test", 0, WithStripeBaseURL(server.URL))
	_, err := s.Refund(context.Background(), RefundRequest{Reference: "bk-1"})
	assert.ErrorIs(t, err, domainErrors.ErrRefundNotAllowed)
}
