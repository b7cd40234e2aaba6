package providers

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

const flutterwaveBaseURL = "https://api.flutterwave.com/v3"

// Flutterwave integrates the Flutterwave v3 REST API. Webhooks carry a
// merchant-configured secret hash in the verif-hash header rather than an
// HMAC over the body.
type Flutterwave struct {
	secretKey         string
	webhookSecretHash string
	baseURL           string
	httpClient        *http.Client
}

type FlutterwaveOption func(*Flutterwave)

// WithFlutterwaveBaseURL overrides the API base URL (tests).
func WithFlutterwaveBaseURL(u string) FlutterwaveOption {
	return func(f *Flutterwave) { f.baseURL = u }
}

// WithFlutterwaveHTTPClient overrides the HTTP client.
func WithFlutterwaveHTTPClient(c *http.Client) FlutterwaveOption {
	return func(f *Flutterwave) { f.httpClient = c }
}

func NewFlutterwave(secretKey, webhookSecretHash string, timeout time.Duration, opts ...FlutterwaveOption) *Flutterwave {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	f := &Flutterwave{
		secretKey:         secretKey,
		webhookSecretHash: webhookSecretHash,
		baseURL:           flutterwaveBaseURL,
		httpClient:        &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Flutterwave) Name() transaction.Provider {
	return transaction.ProviderFlutterwave
}

func (f *Flutterwave) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	body := map[string]any{
		"tx_ref":   req.Reference,
		"amount":   minorToMajor(req.AmountMinor),
		"currency": req.Currency,
		"meta":     req.Metadata,
	}
	if req.RedirectURL != "" {
		body["redirect_url"] = req.RedirectURL
	}
	if req.CustomerEmail != "" {
		body["customer"] = map[string]any{"email": req.CustomerEmail}
	}

	payload, err := f.post(ctx, "/payments", req.IdempotencyKey, body)
	if err != nil {
		return nil, err
	}

	data := nestedMap(payload, "data")
	checkoutURL := stringField(data, "link")
	if checkoutURL == "" {
		return nil, domainErrors.NewDomainError(
			"provider_error",
			"flutterwave response missing checkout link",
			domainErrors.ErrProviderUnavailable,
		)
	}

	return &IntentResult{
		Reference:   req.Reference,
		CheckoutURL: checkoutURL,
		RawStatus:   "pending",
		Payload:     payload,
	}, nil
}

func (f *Flutterwave) VerifyWebhook(body []byte, headers http.Header) (*Event, error) {
	provided := headers.Get("verif-hash")
	if f.webhookSecretHash == "" || provided == "" ||
		subtle.ConstantTimeCompare([]byte(provided), []byte(f.webhookSecretHash)) != 1 {
		return nil, domainErrors.ErrSignatureInvalid
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domainErrors.NewValidationError("body", "invalid webhook payload: "+err.Error())
	}

	data := nestedMap(payload, "data")
	reference := firstString(data, "tx_ref", "reference")
	if reference == "" {
		reference = firstString(payload, "tx_ref", "reference")
	}
	eventID := firstString(payload, "id", "event_id")
	if eventID == "" {
		eventID = reference
	}

	return &Event{
		Provider:  transaction.ProviderFlutterwave,
		EventID:   eventID,
		EventType: firstString(payload, "event", "event.type"),
		Reference: reference,
		RawStatus: firstString(data, "status"),
		Payload:   payload,
	}, nil
}

func (f *Flutterwave) FetchTransaction(ctx context.Context, reference string) (*TransactionView, error) {
	payload, err := f.get(ctx, "/transactions/verify_by_reference?tx_ref="+url.QueryEscape(reference))
	if err != nil {
		return nil, err
	}

	data := nestedMap(payload, "data")
	return &TransactionView{
		Reference:    reference,
		ProviderTxID: stringField(data, "id"),
		RawStatus:    stringField(data, "status"),
		AmountMinor:  majorToMinor(data["amount"]),
		Currency:     stringField(data, "currency"),
		Payload:      payload,
	}, nil
}

func (f *Flutterwave) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	view, err := f.FetchTransaction(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	if view.ProviderTxID == "" {
		return nil, domainErrors.NewDomainError(
			"refund_target_missing",
			"flutterwave transaction not found for refund",
			domainErrors.ErrNotFound,
		)
	}
	if Normalize(transaction.ProviderFlutterwave, view.RawStatus) != transaction.StatusSucceeded {
		return nil, fmt.Errorf("transaction %s not refundable: %w", req.Reference, domainErrors.ErrRefundNotAllowed)
	}

	body := map[string]any{}
	refunded := view.AmountMinor
	if req.AmountMinor != nil {
		body["amount"] = minorToMajor(*req.AmountMinor)
		refunded = *req.AmountMinor
	}

	payload, err := f.post(ctx, "/transactions/"+view.ProviderTxID+"/refund", "", body)
	if err != nil {
		return nil, err
	}

	data := nestedMap(payload, "data")
	return &RefundResult{
		RefundID:            stringField(data, "id"),
		RawStatus:           "refunded",
		RefundedAmountMinor: refunded,
		Payload:             payload,
	}, nil
}

func (f *Flutterwave) post(ctx context.Context, path, idempotencyKey string, body map[string]any) (map[string]any, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return f.do(req)
}

func (f *Flutterwave) get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return f.do(req)
}

func (f *Flutterwave) do(req *http.Request) (map[string]any, error) {
	req.Header.Set("Authorization", "Bearer "+f.secretKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, transportError(transaction.ProviderFlutterwave, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, transportError(transaction.ProviderFlutterwave, err)
	}

	if resp.StatusCode >= 400 || stringField(payload, "status") != "success" {
		status := resp.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		return nil, mapHTTPStatus(transaction.ProviderFlutterwave, status, stringField(payload, "message"))
	}
	return payload, nil
}

// Flutterwave amounts are major units; internal amounts are minor units.

func minorToMajor(minor int64) float64 {
	return float64(minor) / 100.0
}

func majorToMinor(v any) int64 {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	// Rounded, not truncated: 0.29 decodes as 0.28999... and would
	// otherwise lose a unit.
	return int64(math.Round(f * 100))
}

func nestedMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}
