package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

// DefaultTestSecret signs test-provider webhooks when no secret is
// configured. Development only.
const DefaultTestSecret = "sparklean-test-payments"

// TestProvider satisfies the full provider contract using only local state:
// no network calls, synthetic references, and an HMAC-SHA256 signature over
// the webhook body. It lets the whole payment flow run in integration tests
// with externally observable transitions identical to the real gateways.
type TestProvider struct {
	baseURL string
	secret  string

	mu      sync.Mutex
	intents map[string]*testIntent
}

type testIntent struct {
	reference   string
	amountMinor int64
	currency    string
	rawStatus   string
	metadata    map[string]any
	createdAt   time.Time
	updatedAt   time.Time
}

func NewTestProvider(baseURL, secret string) *TestProvider {
	if secret == "" {
		secret = DefaultTestSecret
	}
	return &TestProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		intents: make(map[string]*testIntent),
	}
}

func (p *TestProvider) Name() transaction.Provider {
	return transaction.ProviderTest
}

func (p *TestProvider) CreateIntent(_ context.Context, req IntentRequest) (*IntentResult, error) {
	if err := transaction.ValidateAmount(req.AmountMinor, req.Currency); err != nil {
		return nil, err
	}

	reference := req.Reference
	if reference == "" {
		reference = "test_" + uuid.New().String()[:8]
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	existing, ok := p.intents[reference]
	if ok {
		// Retried creation for the same reference updates metadata only.
		existing.updatedAt = now
		if req.Metadata != nil {
			existing.metadata = req.Metadata
		}
	} else {
		p.intents[reference] = &testIntent{
			reference:   reference,
			amountMinor: req.AmountMinor,
			currency:    strings.ToUpper(req.Currency),
			rawStatus:   "pending",
			metadata:    req.Metadata,
			createdAt:   now,
			updatedAt:   now,
		}
	}

	checkoutURL := p.baseURL + "/web/payments/link/" + reference
	return &IntentResult{
		Reference:   reference,
		CheckoutURL: checkoutURL,
		RawStatus:   "pending",
		Payload: map[string]any{
			"reference":    reference,
			"amount_minor": req.AmountMinor,
			"currency":     strings.ToUpper(req.Currency),
			"checkout_url": checkoutURL,
			"provider":     string(transaction.ProviderTest),
		},
	}, nil
}

func (p *TestProvider) VerifyWebhook(body []byte, headers http.Header) (*Event, error) {
	provided := headers.Get("verif-hash")
	if provided == "" || !hmac.Equal([]byte(provided), []byte(p.Sign(body))) {
		return nil, domainErrors.ErrSignatureInvalid
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domainErrors.NewValidationError("body", "invalid webhook payload: "+err.Error())
	}

	data := nestedMap(payload, "data")
	reference := firstString(payload, "reference", "tx_ref")
	if reference == "" {
		reference = firstString(data, "reference", "tx_ref")
	}
	eventID := firstString(payload, "id", "event_id")
	if eventID == "" {
		eventID = reference
	}

	rawStatus := firstString(payload, "status")
	if rawStatus == "" {
		rawStatus = firstString(data, "status")
	}

	// A verified event is the provider's own statement of state; the stored
	// intent follows it so fetches and refunds observe the reported status.
	if reference != "" && rawStatus != "" {
		p.mu.Lock()
		if intent, ok := p.intents[reference]; ok {
			intent.rawStatus = rawStatus
			intent.updatedAt = time.Now()
		}
		p.mu.Unlock()
	}

	return &Event{
		Provider:  transaction.ProviderTest,
		EventID:   eventID,
		EventType: firstString(payload, "event", "type", "status"),
		Reference: reference,
		RawStatus: rawStatus,
		Payload:   payload,
	}, nil
}

func (p *TestProvider) FetchTransaction(_ context.Context, reference string) (*TransactionView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	intent, ok := p.intents[reference]
	if !ok {
		return nil, fmt.Errorf("test intent %s: %w", reference, domainErrors.ErrNotFound)
	}

	return &TransactionView{
		Reference:    reference,
		ProviderTxID: reference,
		RawStatus:    intent.rawStatus,
		AmountMinor:  intent.amountMinor,
		Currency:     intent.currency,
		Payload: map[string]any{
			"reference":    reference,
			"status":       intent.rawStatus,
			"amount_minor": intent.amountMinor,
			"currency":     intent.currency,
			"metadata":     intent.metadata,
		},
	}, nil
}

func (p *TestProvider) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	intent, ok := p.intents[req.Reference]
	if !ok {
		return nil, fmt.Errorf("test intent %s: %w", req.Reference, domainErrors.ErrNotFound)
	}
	if Normalize(transaction.ProviderTest, intent.rawStatus) != transaction.StatusSucceeded {
		return nil, fmt.Errorf("transaction %s not refundable: %w", req.Reference, domainErrors.ErrRefundNotAllowed)
	}

	refunded := intent.amountMinor
	if req.AmountMinor != nil {
		refunded = *req.AmountMinor
	}
	intent.rawStatus = "refunded"
	intent.updatedAt = time.Now()

	return &RefundResult{
		RefundID:            "test_rf_" + uuid.New().String()[:8],
		RawStatus:           "refunded",
		RefundedAmountMinor: refunded,
		Payload: map[string]any{
			"reference":             req.Reference,
			"status":                "refunded",
			"refunded_amount_minor": refunded,
		},
	}, nil
}

// Sign computes the webhook signature for body, the value the provider would
// send in verif-hash. Exposed for the local checkout page and tests.
func (p *TestProvider) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SetRawStatus simulates a provider-side status change (e.g. the shopper
// completing checkout) so webhooks and refunds can be exercised locally.
func (p *TestProvider) SetRawStatus(reference, rawStatus string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	intent, ok := p.intents[reference]
	if !ok {
		return fmt.Errorf("test intent %s: %w", reference, domainErrors.ErrNotFound)
	}
	intent.rawStatus = rawStatus
	intent.updatedAt = time.Now()
	return nil
}
