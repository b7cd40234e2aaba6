package transaction

import (
	"testing"
	"time"

	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tx, err := New(ProviderFlutterwave, "bk-1", 500000, "NGN")
	require.NoError(t, err)

	assert.NotEqual(t, tx.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, int64(500000), tx.AmountMinor)
	assert.Equal(t, "NGN", tx.Currency)
	assert.NotNil(t, tx.Metadata)
	assert.Equal(t, tx.CreatedAt, tx.UpdatedAt)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Provider("paypal"), "bk-1", 1000, "NGN")
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
}

func TestNew_EmptyReference(t *testing.T) {
	_, err := New(ProviderTest, "", 1000, "NGN")
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(1, "NGN"))
	assert.Error(t, ValidateAmount(0, "NGN"))
	assert.Error(t, ValidateAmount(-100, "NGN"))
	assert.Error(t, ValidateAmount(1000, "NAIRA"))
	assert.Error(t, ValidateAmount(1000, ""))
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusSucceeded, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusRefunded, false},
		{StatusSucceeded, StatusRefunded, true},
		{StatusSucceeded, StatusFailed, false},
		{StatusSucceeded, StatusPending, false},
		{StatusFailed, StatusSucceeded, false},
		{StatusFailed, StatusPending, false},
		{StatusRefunded, StatusSucceeded, false},
		{StatusRefunded, StatusPending, false},
	}

	for _, tc := range tests {
		tx := &Transaction{Status: tc.from}
		assert.Equal(t, tc.allowed, tx.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionTo_Rejected(t *testing.T) {
	tx, err := New(ProviderTest, "bk-1", 1000, "NGN")
	require.NoError(t, err)
	before := tx.UpdatedAt

	err = tx.TransitionTo(StatusRefunded)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidTransition)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, before, tx.UpdatedAt, "rejected transitions must not advance UpdatedAt")
}

func TestTransitionTo_AdvancesUpdatedAt(t *testing.T) {
	tx, err := New(ProviderTest, "bk-1", 1000, "NGN")
	require.NoError(t, err)
	before := tx.UpdatedAt

	time.Sleep(time.Millisecond)
	require.NoError(t, tx.TransitionTo(StatusSucceeded))
	assert.True(t, tx.UpdatedAt.After(before))
}

func TestMarkFailed_RecordsReason(t *testing.T) {
	tx, err := New(ProviderTest, "bk-1", 1000, "NGN")
	require.NoError(t, err)

	require.NoError(t, tx.MarkFailed("card declined"))
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, "card declined", tx.Metadata[MetaFailureReason])
}

func TestMarkRefunded_RecordsAmountAndID(t *testing.T) {
	tx, err := New(ProviderTest, "bk-1", 1000, "NGN")
	require.NoError(t, err)
	require.NoError(t, tx.MarkSucceeded())

	require.NoError(t, tx.MarkRefunded(1000, "rf-1"))
	assert.Equal(t, StatusRefunded, tx.Status)
	assert.Equal(t, int64(1000), tx.Metadata[MetaRefundedAmountMinor])
	assert.Equal(t, "rf-1", tx.Metadata[MetaRefundID])
}

func TestMarkRefunded_FromPending(t *testing.T) {
	tx, err := New(ProviderTest, "bk-1", 1000, "NGN")
	require.NoError(t, err)

	assert.ErrorIs(t, tx.MarkRefunded(1000, "rf-1"), domainErrors.ErrInvalidTransition)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, (&Transaction{Status: StatusPending}).IsTerminal())
	assert.False(t, (&Transaction{Status: StatusSucceeded}).IsTerminal())
	assert.True(t, (&Transaction{Status: StatusFailed}).IsTerminal())
	assert.True(t, (&Transaction{Status: StatusRefunded}).IsTerminal())
}

func TestKnownProvider(t *testing.T) {
	assert.True(t, KnownProvider(ProviderFlutterwave))
	assert.True(t, KnownProvider(ProviderStripe))
	assert.True(t, KnownProvider(ProviderTest))
	assert.False(t, KnownProvider(Provider("paypal")))
}
