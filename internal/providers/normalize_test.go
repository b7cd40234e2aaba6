package providers

import (
	"testing"

	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
)

func TestNormalize_Flutterwave(t *testing.T) {
	assert.Equal(t, transaction.StatusSucceeded, Normalize(transaction.ProviderFlutterwave, "successful"))
	assert.Equal(t, transaction.StatusSucceeded, Normalize(transaction.ProviderFlutterwave, "SUCCESSFUL"))
	assert.Equal(t, transaction.StatusFailed, Normalize(transaction.ProviderFlutterwave, "cancelled"))
	assert.Equal(t, transaction.StatusPending, Normalize(transaction.ProviderFlutterwave, "processing"))
	assert.Equal(t, transaction.StatusRefunded, Normalize(transaction.ProviderFlutterwave, "reversed"))
}

func TestNormalize_Stripe(t *testing.T) {
	assert.Equal(t, transaction.StatusSucceeded, Normalize(transaction.ProviderStripe, "succeeded"))
	assert.Equal(t, transaction.StatusPending, Normalize(transaction.ProviderStripe, "requires_action"))
	assert.Equal(t, transaction.StatusFailed, Normalize(transaction.ProviderStripe, "canceled"))
	assert.Equal(t, transaction.StatusRefunded, Normalize(transaction.ProviderStripe, "refunded"))
}

func TestNormalize_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, transaction.StatusSucceeded, Normalize(transaction.ProviderTest, "  succeeded "))
}

func TestNormalize_UnmappedStatus_FallsBackToFailed(t *testing.T) {
	assert.Equal(t, transaction.StatusFailed, Normalize(transaction.ProviderFlutterwave, "something-new"))
	assert.Equal(t, transaction.StatusFailed, Normalize(transaction.ProviderStripe, ""))
}

func TestNormalize_UnknownProvider_FallsBackToFailed(t *testing.T) {
	assert.Equal(t, transaction.StatusFailed, Normalize(transaction.Provider("paypal"), "succeeded"))
}
