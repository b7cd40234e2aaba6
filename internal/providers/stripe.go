package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

const (
	stripeBaseURL = "https://api.stripe.com"

	// Webhook timestamps older than this are rejected to limit replay.
	stripeSignatureTolerance = 5 * time.Minute
)

// Stripe integrates the PaymentIntents API. The local reference travels in
// metadata[reference]; Stripe's own intent id is kept in the payload.
type Stripe struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	now           func() time.Time
}

type StripeOption func(*Stripe)

// WithStripeBaseURL overrides the API base URL (tests).
func WithStripeBaseURL(u string) StripeOption {
	return func(s *Stripe) { s.baseURL = u }
}

// WithStripeHTTPClient overrides the HTTP client.
func WithStripeHTTPClient(c *http.Client) StripeOption {
	return func(s *Stripe) { s.httpClient = c }
}

// WithStripeClock overrides the clock used for signature tolerance (tests).
func WithStripeClock(now func() time.Time) StripeOption {
	return func(s *Stripe) { s.now = now }
}

func NewStripe(secretKey, webhookSecret string, timeout time.Duration, opts ...StripeOption) *Stripe {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &Stripe{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       stripeBaseURL,
		httpClient:    &http.Client{Timeout: timeout},
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Stripe) Name() transaction.Provider {
	return transaction.ProviderStripe
}

func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[reference]", req.Reference)
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.CustomerEmail != "" {
		form.Set("receipt_email", req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		if str, ok := v.(string); ok && k != "reference" {
			form.Set("metadata["+k+"]", str)
		}
	}

	payload, err := s.post(ctx, "/v1/payment_intents", req.IdempotencyKey, form)
	if err != nil {
		return nil, err
	}

	return &IntentResult{
		Reference: req.Reference,
		// Stripe intents are confirmed client-side with the client_secret;
		// there is no hosted checkout URL for this flow.
		CheckoutURL: "",
		RawStatus:   stringField(payload, "status"),
		Payload: map[string]any{
			"id":            stringField(payload, "id"),
			"client_secret": stringField(payload, "client_secret"),
			"status":        stringField(payload, "status"),
		},
	}, nil
}

// VerifyWebhook implements the Stripe-Signature scheme: the header carries
// t=<unix> and one or more v1=<hex hmac-sha256 over "t.body"> pairs.
func (s *Stripe) VerifyWebhook(body []byte, headers http.Header) (*Event, error) {
	header := headers.Get("Stripe-Signature")
	if header == "" || s.webhookSecret == "" {
		return nil, domainErrors.ErrSignatureInvalid
	}

	var ts int64 = -1
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, domainErrors.ErrSignatureInvalid
			}
			ts = parsed
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts < 0 || len(candidates) == 0 {
		return nil, domainErrors.ErrSignatureInvalid
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return nil, domainErrors.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	valid := false
	for _, c := range candidates {
		if hmac.Equal([]byte(c), []byte(expected)) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, domainErrors.ErrSignatureInvalid
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domainErrors.NewValidationError("body", "invalid webhook payload: "+err.Error())
	}

	object := nestedMap(nestedMap(payload, "data"), "object")
	reference := firstString(nestedMap(object, "metadata"), "reference")
	eventType := stringField(payload, "type")

	rawStatus := stringField(object, "status")
	// Event types like payment_intent.payment_failed carry the outcome in
	// the type suffix rather than the object status.
	if suffix, ok := strings.CutPrefix(eventType, "payment_intent."); ok {
		if _, mapped := stripeStatuses[suffix]; mapped {
			rawStatus = suffix
		}
	}
	if eventType == "charge.refunded" {
		rawStatus = "refunded"
	}

	return &Event{
		Provider:  transaction.ProviderStripe,
		EventID:   stringField(payload, "id"),
		EventType: eventType,
		Reference: reference,
		RawStatus: rawStatus,
		Payload:   payload,
	}, nil
}

func (s *Stripe) FetchTransaction(ctx context.Context, reference string) (*TransactionView, error) {
	query := url.Values{}
	query.Set("query", fmt.Sprintf("metadata['reference']:'%s'", reference))
	query.Set("limit", "1")

	payload, err := s.get(ctx, "/v1/payment_intents/search?"+query.Encode())
	if err != nil {
		return nil, err
	}

	items, _ := payload["data"].([]any)
	if len(items) == 0 {
		return nil, fmt.Errorf("stripe intent for reference %s: %w", reference, domainErrors.ErrNotFound)
	}
	intent, _ := items[0].(map[string]any)

	return &TransactionView{
		Reference:    reference,
		ProviderTxID: stringField(intent, "id"),
		RawStatus:    stringField(intent, "status"),
		AmountMinor:  int64Field(intent, "amount"),
		Currency:     strings.ToUpper(stringField(intent, "currency")),
		Payload:      intent,
	}, nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	view, err := s.FetchTransaction(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	if Normalize(transaction.ProviderStripe, view.RawStatus) != transaction.StatusSucceeded {
		return nil, fmt.Errorf("transaction %s not refundable: %w", req.Reference, domainErrors.ErrRefundNotAllowed)
	}

	form := url.Values{}
	form.Set("payment_intent", view.ProviderTxID)
	refunded := view.AmountMinor
	if req.AmountMinor != nil {
		form.Set("amount", strconv.FormatInt(*req.AmountMinor, 10))
		refunded = *req.AmountMinor
	}

	payload, err := s.post(ctx, "/v1/refunds", "", form)
	if err != nil {
		return nil, err
	}

	return &RefundResult{
		RefundID:            stringField(payload, "id"),
		RawStatus:           "refunded",
		RefundedAmountMinor: refunded,
		Payload:             payload,
	}, nil
}

func (s *Stripe) post(ctx context.Context, path, idempotencyKey string, form url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return s.do(req)
}

func (s *Stripe) get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return s.do(req)
}

func (s *Stripe) do(req *http.Request) (map[string]any, error) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(transaction.ProviderStripe, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, transportError(transaction.ProviderStripe, err)
	}

	if resp.StatusCode >= 400 {
		detail := stringField(nestedMap(payload, "error"), "message")
		return nil, mapHTTPStatus(transaction.ProviderStripe, resp.StatusCode, detail)
	}
	return payload, nil
}

func int64Field(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	f, ok := m[key].(float64)
	if !ok {
		return 0
	}
	return int64(f)
}
