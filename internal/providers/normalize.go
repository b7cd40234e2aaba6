package providers

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

// Per-provider raw status vocabularies. Providers occasionally ship
// undocumented statuses; anything unmapped degrades to failed so the webhook
// is absorbed and the transaction flagged for manual review instead of being
// rejected.

var flutterwaveStatuses = map[string]transaction.Status{
	"successful": transaction.StatusSucceeded,
	"success":    transaction.StatusSucceeded,
	"completed":  transaction.StatusSucceeded,
	"failed":     transaction.StatusFailed,
	"error":      transaction.StatusFailed,
	"cancelled":  transaction.StatusFailed,
	"pending":    transaction.StatusPending,
	"processing": transaction.StatusPending,
	"refunded":   transaction.StatusRefunded,
	"reversed":   transaction.StatusRefunded,
}

var stripeStatuses = map[string]transaction.Status{
	"succeeded":               transaction.StatusSucceeded,
	"canceled":                transaction.StatusFailed,
	"payment_failed":          transaction.StatusFailed,
	"requires_payment_method": transaction.StatusPending,
	"requires_confirmation":   transaction.StatusPending,
	"requires_action":         transaction.StatusPending,
	"requires_capture":        transaction.StatusPending,
	"processing":              transaction.StatusPending,
	"refunded":                transaction.StatusRefunded,
}

var testStatuses = map[string]transaction.Status{
	"successful": transaction.StatusSucceeded,
	"success":    transaction.StatusSucceeded,
	"succeeded":  transaction.StatusSucceeded,
	"failed":     transaction.StatusFailed,
	"pending":    transaction.StatusPending,
	"refunded":   transaction.StatusRefunded,
}

var statusTables = map[transaction.Provider]map[string]transaction.Status{
	transaction.ProviderFlutterwave: flutterwaveStatuses,
	transaction.ProviderStripe:      stripeStatuses,
	transaction.ProviderTest:        testStatuses,
}

// Normalize maps a provider's raw status to the canonical status. Unmapped
// values normalize to failed with a warning.
func Normalize(provider transaction.Provider, raw string) transaction.Status {
	value := strings.ToLower(strings.TrimSpace(raw))
	if table, ok := statusTables[provider]; ok {
		if status, ok := table[value]; ok {
			return status
		}
	}
	log.Warn().
		Str("provider", string(provider)).
		Str("raw_status", raw).
		Msg("Unmapped provider status, normalizing to failed")
	return transaction.StatusFailed
}
