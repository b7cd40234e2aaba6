package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sparklean/bookings/internal/domain/transaction"
	"github.com/sparklean/bookings/internal/infrastructure/observability"
)

// NewTestMetrics returns metrics bound to a fresh registry so parallel tests
// never collide on collector registration.
func NewTestMetrics() *observability.Metrics {
	return observability.NewMetrics("bookings_test", prometheus.NewRegistry())
}

// NewTestLogger returns a silent logger for tests.
func NewTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

// NewTestTransaction creates a pending transaction with sensible defaults.
func NewTestTransaction(provider transaction.Provider, reference string) *transaction.Transaction {
	tx, err := transaction.New(provider, reference, 500000, "NGN")
	if err != nil {
		panic(err)
	}
	return tx
}
